package alert

import (
	"context"
	"sync"
	"time"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/resilience"
	"github.com/velzox/apimon/store"
)

// Engine consumes incident lifecycle events and produces delivered alerts.
// It implements monitor.Notifier.
type Engine struct {
	store     store.Store
	sinks     []core.Sink
	cfg       core.AlertingConfig
	logger    core.Logger
	telemetry core.Telemetry

	retry    *resilience.RetryConfig
	breakers map[core.AlertChannel]*resilience.Breaker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	jobs    chan deliveryJob
	wg      sync.WaitGroup
}

type deliveryJob struct {
	alert *core.Alert
	sink  core.Sink
}

// EngineOptions configures the alert engine.
type EngineOptions struct {
	Store     store.Store
	Sinks     []core.Sink
	Config    core.AlertingConfig
	Logger    core.Logger
	Telemetry core.Telemetry

	// Retry overrides the delivery retry policy. Tests use this.
	Retry *resilience.RetryConfig
}

// NewEngine builds a stopped alert engine. Each sink gets its own circuit
// breaker so one broken channel cannot block the others.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	breakers := make(map[core.AlertChannel]*resilience.Breaker, len(opts.Sinks))
	for _, sink := range opts.Sinks {
		breakers[sink.Channel()] = resilience.NewBreaker(
			"sink:"+string(sink.Channel()), resilience.DefaultBreakerConfig(), opts.Logger)
	}

	return &Engine{
		store:     opts.Store,
		sinks:     opts.Sinks,
		cfg:       opts.Config,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		retry:     opts.Retry,
		breakers:  breakers,
	}
}

// Start launches the delivery worker pool.
func (en *Engine) Start(ctx context.Context) error {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.running {
		return core.ErrAlreadyStarted
	}

	ctx, en.cancel = context.WithCancel(ctx)
	en.jobs = make(chan deliveryJob, en.cfg.DeliveryWorkers*16)
	en.running = true

	for i := 0; i < en.cfg.DeliveryWorkers; i++ {
		en.wg.Add(1)
		go en.deliveryWorker(ctx)
	}

	en.logger.Info("Alert engine started", map[string]interface{}{
		"sinks":             len(en.sinks),
		"delivery_workers":  en.cfg.DeliveryWorkers,
		"failure_threshold": en.cfg.FailureThreshold,
		"dedup_window":      en.cfg.DedupWindow.String(),
	})
	return nil
}

// Stop closes the queue and waits for in-flight deliveries.
func (en *Engine) Stop() error {
	en.mu.Lock()
	if !en.running {
		en.mu.Unlock()
		return core.ErrNotStarted
	}
	en.running = false
	close(en.jobs)
	cancel := en.cancel
	en.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		en.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(en.cfg.DeliveryGrace):
		en.logger.Warn("Alert engine stopped with deliveries still in flight", nil)
	}
	cancel()
	en.logger.Info("Alert engine stopped", nil)
	return nil
}

// NotifyFailure fires an alert when the failure streak has reached the
// threshold and no alert of the same kind was raised for this endpoint
// inside the dedup window.
func (en *Engine) NotifyFailure(ctx context.Context, e *core.Endpoint, r *core.CheckResult, incident *core.Incident, streak int) {
	if streak < en.cfg.FailureThreshold {
		return
	}

	kind := core.AlertKindForResult(r.Kind)
	recent, err := en.store.RecentAlertExists(ctx, e.ID, kind, time.Now().Add(-en.cfg.DedupWindow))
	if err != nil {
		en.logger.Error("Alert dedup check failed", map[string]interface{}{
			"endpoint_id": e.ID,
			"error":       err.Error(),
		})
		return
	}
	if recent {
		en.logger.Debug("Alert suppressed by dedup window", map[string]interface{}{
			"endpoint_id": e.ID,
			"kind":        string(kind),
		})
		return
	}

	var incidentID *int64
	if incident != nil {
		incidentID = &incident.ID
	}
	en.raise(ctx, &core.Alert{
		EndpointID: e.ID,
		IncidentID: incidentID,
		Kind:       kind,
		Severity:   core.SeverityFor(kind),
		Title:      Title(kind, e.Name),
		Message:    FailureMessage(e, r, streak),
	})
}

// NotifyRecovery always fires: the threshold and dedup gates apply to
// failures only.
func (en *Engine) NotifyRecovery(ctx context.Context, e *core.Endpoint, r *core.CheckResult) {
	downFor := time.Duration(0)
	if incidents, err := en.store.ListIncidents(ctx, e.ID, 1); err == nil && len(incidents) > 0 {
		downFor = incidents[0].Duration(time.Now())
	}

	kind := core.AlertEndpointRecovered
	en.raise(ctx, &core.Alert{
		EndpointID: e.ID,
		Kind:       kind,
		Severity:   core.SeverityFor(kind),
		Title:      Title(kind, e.Name),
		Message:    RecoveryMessage(e, r, downFor),
	})
}

// raise persists one alert per sink, then queues the deliveries. An alert
// row exists even when every delivery attempt later fails.
func (en *Engine) raise(ctx context.Context, template *core.Alert) {
	for _, sink := range en.sinks {
		a := *template
		a.Channel = sink.Channel()
		if err := en.store.CreateAlert(ctx, &a); err != nil {
			en.logger.Error("Alert persistence failed", map[string]interface{}{
				"endpoint_id": a.EndpointID,
				"channel":     string(a.Channel),
				"error":       err.Error(),
			})
			continue
		}
		en.telemetry.RecordMetric("apimon.alerts.raised", 1, map[string]string{
			"kind":    string(a.Kind),
			"channel": string(a.Channel),
		})
		en.enqueue(deliveryJob{alert: &a, sink: sink})
	}
}

func (en *Engine) enqueue(job deliveryJob) {
	en.mu.Lock()
	defer en.mu.Unlock()
	if !en.running {
		en.logger.Warn("Alert engine not running, delivery skipped", map[string]interface{}{
			"alert_id": job.alert.ID,
		})
		return
	}
	select {
	case en.jobs <- job:
	default:
		en.logger.Warn("Delivery queue full, alert left undelivered", map[string]interface{}{
			"alert_id": job.alert.ID,
			"channel":  string(job.alert.Channel),
		})
	}
}

func (en *Engine) deliveryWorker(ctx context.Context) {
	defer en.wg.Done()
	for job := range en.jobs {
		en.deliver(ctx, job)
	}
}

func (en *Engine) deliver(ctx context.Context, job deliveryJob) {
	defer func() {
		if r := recover(); r != nil {
			en.logger.Error("Sink panicked", map[string]interface{}{
				"alert_id": job.alert.ID,
				"channel":  string(job.alert.Channel),
				"panic":    r,
			})
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, en.cfg.DeliveryGrace)
	defer cancel()

	err := resilience.RetryWithBreaker(ctx, en.retry, en.breakers[job.sink.Channel()], func() error {
		return job.sink.Deliver(ctx, job.alert)
	})

	deliveryError := ""
	if err != nil {
		deliveryError = err.Error()
		en.logger.Error("Alert delivery failed", map[string]interface{}{
			"alert_id": job.alert.ID,
			"channel":  string(job.alert.Channel),
			"error":    deliveryError,
		})
	}
	en.telemetry.RecordMetric("apimon.alerts.delivered", 1, map[string]string{
		"channel": string(job.alert.Channel),
		"ok":      boolLabel(err == nil),
	})

	markCtx, markCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer markCancel()
	if markErr := en.store.MarkAlertDelivery(markCtx, job.alert.ID, err == nil, deliveryError); markErr != nil {
		en.logger.Error("Delivery status update failed", map[string]interface{}{
			"alert_id": job.alert.ID,
			"error":    markErr.Error(),
		})
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
