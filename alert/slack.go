package alert

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/velzox/apimon/core"
)

// SlackSink posts alerts to a Slack incoming webhook as a single colored
// attachment.
type SlackSink struct {
	webhookURL string
	logger     core.Logger

	// post is swapped out by tests.
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackSink builds a Slack webhook sink.
func NewSlackSink(cfg core.SlackConfig, logger core.Logger) *SlackSink {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &SlackSink{
		webhookURL: cfg.WebhookURL,
		logger:     logger,
		post:       slack.PostWebhookContext,
	}
}

// Channel implements core.Sink.
func (s *SlackSink) Channel() core.AlertChannel {
	return core.ChannelSlack
}

// Deliver implements core.Sink.
func (s *SlackSink) Deliver(ctx context.Context, a *core.Alert) error {
	msg := &slack.WebhookMessage{
		Attachments: []slack.Attachment{{
			Color: severityColor(a.Severity),
			Title: a.Title,
			Text:  a.Message,
			Footer: fmt.Sprintf("endpoint %d | severity %s",
				a.EndpointID, a.Severity),
		}},
	}
	if err := s.post(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	s.logger.Debug("Slack alert delivered", map[string]interface{}{
		"alert_id": a.ID,
	})
	return nil
}

func severityColor(sev core.Severity) string {
	switch sev {
	case core.SeverityInfo:
		return "good"
	case core.SeverityWarning:
		return "warning"
	default:
		return "danger"
	}
}
