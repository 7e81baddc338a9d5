package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/velzox/apimon/core"
)

// WebhookSink POSTs the alert as JSON to an operator-supplied URL. Any 2xx
// response counts as delivered.
type WebhookSink struct {
	url    string
	client *http.Client
	logger core.Logger
}

// NewWebhookSink builds a generic HTTP webhook sink.
func NewWebhookSink(cfg core.WebhookConfig, client *http.Client, logger core.Logger) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WebhookSink{url: cfg.URL, client: client, logger: logger}
}

// Channel implements core.Sink.
func (s *WebhookSink) Channel() core.AlertChannel {
	return core.ChannelWebhook
}

// Deliver implements core.Sink.
func (s *WebhookSink) Deliver(ctx context.Context, a *core.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded with status %d: %w", resp.StatusCode, core.ErrDeliveryFailed)
	}
	s.logger.Debug("Webhook alert delivered", map[string]interface{}{
		"alert_id": a.ID,
	})
	return nil
}
