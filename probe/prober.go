// Package probe executes HTTP health checks against monitored endpoints.
//
// Purpose:
// - Builds the probe request from an endpoint's stored configuration
// - Projects decrypted credentials into the right request header
// - Measures wall-clock latency under a total per-check deadline
// - Classifies the outcome into a CheckResult
//
// A probe never returns an error to its caller. Every execution, however it
// ends, produces exactly one CheckResult; transport failures are folded into
// the result with status code 0.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/secrets"
)

// CredentialSource resolves credential IDs to their sealed records. The
// state store satisfies this.
type CredentialSource interface {
	GetCredential(ctx context.Context, id int64) (*core.Credential, error)
}

// Prober runs checks over a shared HTTP client. Connection pooling is per
// prober, not per check, so steady-state probing reuses keep-alive
// connections to frequently checked hosts.
type Prober struct {
	client      *http.Client
	box         *secrets.Box
	credentials CredentialSource
	userAgent   string
	maxBody     int64
	logger      core.Logger
	telemetry   core.Telemetry
}

// ProberOptions configures a Prober.
type ProberOptions struct {
	Config      core.MonitoringConfig
	Box         *secrets.Box
	Credentials CredentialSource
	Logger      core.Logger
	Telemetry   core.Telemetry

	// Transport overrides the HTTP transport. Tests use this.
	Transport http.RoundTripper
}

// NewProber builds a prober with a pooled, instrumented transport.
func NewProber(opts ProberOptions) *Prober {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}

	transport := opts.Transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.MaxIdleConnsPerHost = 4
		transport = base
	}

	userAgent := opts.Config.UserAgent
	if userAgent == "" {
		userAgent = "apimon/1.0"
	}
	maxBody := opts.Config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	return &Prober{
		// The per-check deadline comes from the request context, not from
		// http.Client.Timeout, so each endpoint keeps its own budget.
		client:      &http.Client{Transport: otelhttp.NewTransport(transport)},
		box:         opts.Box,
		credentials: opts.Credentials,
		userAgent:   userAgent,
		maxBody:     maxBody,
		logger:      opts.Logger,
		telemetry:   opts.Telemetry,
	}
}

// Check probes one endpoint and returns the classified result.
func (p *Prober) Check(ctx context.Context, e *core.Endpoint) core.CheckResult {
	ctx, span := p.telemetry.StartSpan(ctx, "probe.check")
	defer span.End()
	span.SetAttribute("endpoint.id", e.ID)
	span.SetAttribute("endpoint.url", e.URL)

	ctx, cancel := context.WithTimeout(ctx, e.Timeout())
	defer cancel()

	req, err := p.buildRequest(ctx, e)
	if err != nil {
		// Covers credential resolution and decryption failures. The sealed
		// value itself never reaches the log.
		p.logger.Error("Probe setup failed", map[string]interface{}{
			"endpoint_id": e.ID,
			"error":       err.Error(),
		})
		return core.NewFailureResult(e.ID, core.ResultUnknownError, 0, 0,
			fmt.Sprintf("check could not be prepared: %v", err))
	}

	start := time.Now()
	resp, doErr := p.client.Do(req)
	latencyMs := time.Since(start).Milliseconds()

	statusCode := 0
	if doErr == nil {
		statusCode = resp.StatusCode
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, p.maxBody))
		_ = resp.Body.Close()
	}

	kind := core.Classify(e.ExpectedStatus, statusCode, latencyMs, e.MaxLatencyMs, doErr)
	p.telemetry.RecordMetric("apimon.probe.latency_ms", float64(latencyMs), map[string]string{
		"kind": string(kind),
	})
	if kind == core.ResultSuccess {
		return core.NewSuccessResult(e.ID, statusCode, latencyMs)
	}
	return core.NewFailureResult(e.ID, kind, statusCode, latencyMs,
		failureMessage(kind, e, statusCode, latencyMs, doErr))
}

func (p *Prober) buildRequest(ctx context.Context, e *core.Endpoint) (*http.Request, error) {
	var body io.Reader
	if e.Method.HasBody() && e.RequestBody != "" {
		body = strings.NewReader(e.RequestBody)
	}

	req, err := http.NewRequestWithContext(ctx, string(e.Method), e.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Custom headers are stored as a JSON object. A malformed value is
	// ignored rather than failing the check.
	if e.Headers != "" {
		var custom map[string]string
		if err := json.Unmarshal([]byte(e.Headers), &custom); err != nil {
			p.logger.Warn("Ignoring malformed custom headers", map[string]interface{}{
				"endpoint_id": e.ID,
			})
		} else {
			for name, value := range custom {
				req.Header.Set(name, value)
			}
		}
	}

	if e.CredentialID != nil {
		cred, err := p.credentials.GetCredential(ctx, *e.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("resolve credential %d: %w", *e.CredentialID, err)
		}
		decrypted, err := secrets.OpenCredential(p.box, cred)
		if err != nil {
			return nil, fmt.Errorf("open credential %d: %w", *e.CredentialID, err)
		}
		name, value := decrypted.Header()
		req.Header.Set(name, value)
	}

	return req, nil
}

// failureMessage renders the operator-facing error text for a failed check.
func failureMessage(kind core.ResultKind, e *core.Endpoint, statusCode int, latencyMs int64, transportErr error) string {
	switch kind {
	case core.ResultTimeout:
		return fmt.Sprintf("request timed out after %d ms", e.TimeoutMs)
	case core.ResultConnectionError:
		return fmt.Sprintf("connection failed: %v", transportErr)
	case core.ResultSSLError:
		return fmt.Sprintf("SSL error: %v", transportErr)
	case core.ResultAuthFailure:
		return fmt.Sprintf("authentication failed with status %d", statusCode)
	case core.ResultServerError:
		return fmt.Sprintf("server error: status %d", statusCode)
	case core.ResultStatusMismatch:
		return fmt.Sprintf("expected status %d, got %d", e.ExpectedStatus, statusCode)
	case core.ResultLatencyBreach:
		return fmt.Sprintf("latency %d ms exceeded threshold %d ms", latencyMs, *e.MaxLatencyMs)
	default:
		if transportErr != nil {
			return transportErr.Error()
		}
		return fmt.Sprintf("check failed with status %d", statusCode)
	}
}
