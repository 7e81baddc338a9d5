package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/store"
)

// drainProcessTimeout bounds result processing once the tick context is
// cancelled, so shutdown cannot hang on a stuck store.
const drainProcessTimeout = 5 * time.Second

// Checker executes one probe. Satisfied by probe.Prober.
type Checker interface {
	Check(ctx context.Context, e *core.Endpoint) core.CheckResult
}

// Scheduler polls the store for due endpoints on a fixed tick and fans each
// one out to a bounded worker pool.
//
// Two rules keep results per endpoint serial and the pool bounded:
//   - an endpoint already being checked is skipped, however overdue it is
//   - a tick never launches more checks than the remaining pool capacity;
//     the overflow waits for the next tick
type Scheduler struct {
	store     store.Store
	checker   Checker
	engine    *Engine
	logger    core.Logger
	telemetry core.Telemetry

	tick    time.Duration
	maxConc int
	grace   time.Duration

	mu       sync.Mutex
	inFlight map[int64]struct{}
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}

	sem chan struct{}
	wg  sync.WaitGroup
}

// SchedulerOptions configures the scheduler.
type SchedulerOptions struct {
	Store     store.Store
	Checker   Checker
	Engine    *Engine
	Config    core.MonitoringConfig
	Logger    core.Logger
	Telemetry core.Telemetry
}

// NewScheduler builds a stopped scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = &core.NoOpTelemetry{}
	}
	return &Scheduler{
		store:     opts.Store,
		checker:   opts.Checker,
		engine:    opts.Engine,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		tick:      opts.Config.TickInterval,
		maxConc:   opts.Config.MaxConcurrentChecks,
		grace:     opts.Config.ProbeGracePeriod,
		inFlight:  make(map[int64]struct{}),
		sem:       make(chan struct{}, opts.Config.MaxConcurrentChecks),
	}
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return core.ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	s.logger.Info("Scheduler started", map[string]interface{}{
		"tick":                  s.tick.String(),
		"max_concurrent_checks": s.maxConc,
	})

	go s.loop(ctx)
	return nil
}

// Stop cancels the tick loop and waits up to the configured grace period for
// in-flight checks to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return core.ErrNotStarted
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		s.logger.Info("Scheduler stopped", nil)
	case <-time.After(s.grace):
		s.logger.Warn("Scheduler stopped with checks still in flight", map[string]interface{}{
			"grace": s.grace.String(),
		})
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Run once at startup so a fresh process does not wait a full tick.
	s.runDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	runID := uuid.NewString()
	now := time.Now()
	due, err := s.store.DueEndpoints(ctx, now)
	if err != nil {
		// Transient store trouble; the next tick retries.
		s.logger.Error("Due-endpoint query failed", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		return
	}
	if len(due) == 0 {
		return
	}

	launched := 0
	for i := range due {
		e := due[i]
		if !s.tryAcquire(e.ID) {
			continue
		}
		select {
		case s.sem <- struct{}{}:
		default:
			s.release(e.ID)
			s.logger.Warn("Check pool saturated, deferring remaining endpoints", map[string]interface{}{
				"run_id":   runID,
				"due":      len(due),
				"deferred": len(due) - launched,
			})
			s.telemetry.RecordMetric("apimon.scheduler.deferred", float64(len(due)-launched), nil)
			return
		}

		launched++
		s.wg.Add(1)
		go s.runCheck(ctx, e)
	}

	s.logger.Debug("Tick dispatched", map[string]interface{}{
		"run_id":   runID,
		"due":      len(due),
		"launched": launched,
	})
}

func (s *Scheduler) runCheck(ctx context.Context, e core.Endpoint) {
	defer s.wg.Done()
	defer func() { <-s.sem }()
	defer s.release(e.ID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Check panicked", map[string]interface{}{
				"endpoint_id": e.ID,
				"panic":       r,
			})
		}
	}()

	result := s.checker.Check(ctx, &e)
	if ctx.Err() != nil && !result.Success {
		// A failure produced under a cancelled context is the shutdown
		// aborting the probe, not the endpoint misbehaving.
		s.logger.Debug("Discarding check aborted by shutdown", map[string]interface{}{
			"endpoint_id": e.ID,
		})
		return
	}

	// A check that completed before cancellation is still persisted while
	// Stop drains, so processing runs detached from the tick context.
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainProcessTimeout)
	defer cancel()
	if err := s.engine.ProcessResult(procCtx, &e, &result, time.Now()); err != nil {
		s.logger.Error("Result processing failed", map[string]interface{}{
			"endpoint_id": e.ID,
			"error":       err.Error(),
		})
	}
}

func (s *Scheduler) tryAcquire(endpointID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[endpointID]; busy {
		return false
	}
	s.inFlight[endpointID] = struct{}{}
	return true
}

func (s *Scheduler) release(endpointID int64) {
	s.mu.Lock()
	delete(s.inFlight, endpointID)
	s.mu.Unlock()
}
