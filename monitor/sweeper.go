package monitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/store"
)

// Sweeper deletes aged monitoring data on cron schedules: a nightly global
// sweep of check results, a nightly sweep of alerts, and a per-plan sweep
// enforcing each plan's shorter result retention. An endpoint covered by both
// the global and a per-plan horizon ends up with the stricter one, because
// deletes only ever remove rows.
type Sweeper struct {
	store  store.Store
	cfg    core.RetentionConfig
	logger core.Logger
	cron   *cron.Cron
}

// NewSweeper builds a stopped sweeper.
func NewSweeper(s store.Store, cfg core.RetentionConfig, logger core.Logger) *Sweeper {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Sweeper{store: s, cfg: cfg, logger: logger}
}

// Start registers the cron entries and launches the scheduler goroutine.
func (sw *Sweeper) Start() error {
	if sw.cron != nil {
		return core.ErrAlreadyStarted
	}
	c := cron.New()

	if _, err := c.AddFunc(sw.cfg.ResultsCron, sw.sweepResults); err != nil {
		return core.NewMonitorError("sweeper.Start", "config", err)
	}
	if _, err := c.AddFunc(sw.cfg.AlertsCron, sw.sweepAlerts); err != nil {
		return core.NewMonitorError("sweeper.Start", "config", err)
	}
	if _, err := c.AddFunc(sw.cfg.PlanCron, sw.sweepPlans); err != nil {
		return core.NewMonitorError("sweeper.Start", "config", err)
	}

	c.Start()
	sw.cron = c
	sw.logger.Info("Retention sweeper started", map[string]interface{}{
		"results_cron": sw.cfg.ResultsCron,
		"alerts_cron":  sw.cfg.AlertsCron,
		"plan_cron":    sw.cfg.PlanCron,
	})
	return nil
}

// Stop halts the cron scheduler, waiting for a running sweep to finish.
func (sw *Sweeper) Stop() error {
	if sw.cron == nil {
		return core.ErrNotStarted
	}
	<-sw.cron.Stop().Done()
	sw.cron = nil
	sw.logger.Info("Retention sweeper stopped", nil)
	return nil
}

func (sw *Sweeper) sweepResults() {
	ctx := context.Background()
	cutoff := time.Now().Add(-sw.cfg.ResultsMaxAge)
	n, err := sw.store.DeleteResultsBefore(ctx, cutoff)
	if err != nil {
		sw.logger.Error("Result sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	sw.logger.Info("Result sweep completed", map[string]interface{}{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	})
}

func (sw *Sweeper) sweepAlerts() {
	ctx := context.Background()
	cutoff := time.Now().Add(-sw.cfg.AlertsMaxAge)
	n, err := sw.store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		sw.logger.Error("Alert sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	sw.logger.Info("Alert sweep completed", map[string]interface{}{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	})
}

func (sw *Sweeper) sweepPlans() {
	ctx := context.Background()
	now := time.Now()
	for _, plan := range []core.Plan{core.PlanFree, core.PlanStarter, core.PlanPro} {
		cutoff := now.Add(-plan.ResultRetention())
		n, err := sw.store.DeleteResultsForPlanBefore(ctx, plan, cutoff)
		if err != nil {
			sw.logger.Error("Plan sweep failed", map[string]interface{}{
				"plan":  string(plan),
				"error": err.Error(),
			})
			continue
		}
		if n > 0 {
			sw.logger.Info("Plan sweep completed", map[string]interface{}{
				"plan":    string(plan),
				"deleted": n,
			})
		}
	}
}
