// Package monitor drives the check lifecycle: the scheduler decides when an
// endpoint is probed, the incident engine turns raw check results into
// endpoint status and incident transitions, and the sweeper enforces data
// retention.
package monitor

import (
	"context"
	"time"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/store"
)

// Notifier receives lifecycle events from the incident engine. The alert
// engine implements this; a nil notifier is replaced with a no-op.
type Notifier interface {
	// NotifyFailure is called after every failed check, once the result and
	// incident bookkeeping have been persisted. consecutiveFailures is the
	// streak including this check.
	NotifyFailure(ctx context.Context, e *core.Endpoint, r *core.CheckResult, incident *core.Incident, consecutiveFailures int)

	// NotifyRecovery is called only when a successful check actually resolved
	// an open incident. One resolution, one event.
	NotifyRecovery(ctx context.Context, e *core.Endpoint, r *core.CheckResult)
}

type noopNotifier struct{}

func (noopNotifier) NotifyFailure(context.Context, *core.Endpoint, *core.CheckResult, *core.Incident, int) {
}
func (noopNotifier) NotifyRecovery(context.Context, *core.Endpoint, *core.CheckResult) {}

// Engine applies one check result to the endpoint's runtime state. It is the
// only writer of endpoint status, failure streaks, and incident records.
type Engine struct {
	store     store.Store
	notifier  Notifier
	logger    core.Logger
	telemetry core.Telemetry
}

// EngineOptions configures the incident engine.
type EngineOptions struct {
	Store     store.Store
	Notifier  Notifier
	Logger    core.Logger
	Telemetry core.Telemetry
}

// NewEngine builds an incident engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}
	return &Engine{
		store:     opts.Store,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
	}
}

// ProcessResult records one check outcome and advances the endpoint's
// incident state. The scheduler guarantees results for one endpoint arrive
// serially, so reads and writes here do not race per endpoint.
func (en *Engine) ProcessResult(ctx context.Context, e *core.Endpoint, r *core.CheckResult, now time.Time) error {
	ctx, span := en.telemetry.StartSpan(ctx, "monitor.process_result")
	defer span.End()
	span.SetAttribute("endpoint.id", e.ID)
	span.SetAttribute("result.kind", string(r.Kind))

	if err := en.store.AppendCheckResult(ctx, r); err != nil {
		span.RecordError(err)
		return err
	}
	en.telemetry.RecordMetric("apimon.checks.total", 1, map[string]string{
		"kind": string(r.Kind),
	})

	if r.Success {
		return en.processSuccess(ctx, e, r, now)
	}
	return en.processFailure(ctx, e, r, now)
}

func (en *Engine) processSuccess(ctx context.Context, e *core.Endpoint, r *core.CheckResult, now time.Time) error {
	resolved, err := en.store.ResolveOpenIncident(ctx, e.ID, now)
	if err != nil {
		return err
	}

	if err := en.store.UpdateEndpointCheckStatus(ctx, e.ID, core.StatusUp,
		now, now.Add(e.Interval()), 0); err != nil {
		return err
	}

	if resolved {
		en.logger.Info("Endpoint recovered", map[string]interface{}{
			"endpoint_id":  e.ID,
			"endpoint":     e.Name,
			"latency_ms":   r.LatencyMs,
			"prior_status": string(e.Status),
		})
		en.notifier.NotifyRecovery(ctx, e, r)
	}

	e.Status = core.StatusUp
	e.ConsecutiveFailures = 0
	return nil
}

func (en *Engine) processFailure(ctx context.Context, e *core.Endpoint, r *core.CheckResult, now time.Time) error {
	streak := e.ConsecutiveFailures + 1

	// A latency breach means the endpoint answers, just slowly.
	status := core.StatusDown
	if r.Kind == core.ResultLatencyBreach {
		status = core.StatusDegraded
	}

	incident, err := en.store.FindOpenIncident(ctx, e.ID)
	if err != nil {
		return err
	}
	if incident == nil {
		incident, err = en.store.OpenIncident(ctx, e.ID, r.Kind, r.ErrorMessage)
		if err != nil {
			return err
		}
		en.logger.Warn("Incident opened", map[string]interface{}{
			"endpoint_id": e.ID,
			"endpoint":    e.Name,
			"incident_id": incident.ID,
			"kind":        string(r.Kind),
		})
	} else {
		if err := en.store.IncrementIncidentFailures(ctx, incident.ID, r.ErrorMessage); err != nil {
			return err
		}
		incident.FailedCheckCount++
		incident.LastErrorMessage = r.ErrorMessage
	}

	if err := en.store.UpdateEndpointCheckStatus(ctx, e.ID, status,
		now, now.Add(e.Interval()), streak); err != nil {
		return err
	}

	en.logger.Debug("Check failed", map[string]interface{}{
		"endpoint_id": e.ID,
		"kind":        string(r.Kind),
		"streak":      streak,
		"status":      string(status),
	})

	e.Status = status
	e.ConsecutiveFailures = streak
	en.notifier.NotifyFailure(ctx, e, r, incident, streak)
	return nil
}
