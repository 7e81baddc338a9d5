// Command apimon runs the monitoring core: the scheduler and prober, the
// incident and alert engines, the retention sweeper, and the admin API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/velzox/apimon/alert"
	"github.com/velzox/apimon/core"
	"github.com/velzox/apimon/logging"
	"github.com/velzox/apimon/monitor"
	"github.com/velzox/apimon/probe"
	"github.com/velzox/apimon/secrets"
	"github.com/velzox/apimon/server"
	"github.com/velzox/apimon/store"
	"github.com/velzox/apimon/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "apimon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := core.NewConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	var tel core.Telemetry = &core.NoOpTelemetry{}
	if cfg.Telemetry.Enabled {
		tel = telemetry.New(cfg.Telemetry.ServiceName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	box, err := secrets.NewBox(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("build secret store: %w", err)
	}

	pg, err := store.NewPostgres(ctx, store.PostgresOptions{
		Config: cfg.Database,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	defer pg.Close()

	stats, err := store.NewStatsCache(store.StatsCacheOptions{
		Store:  pg,
		Config: cfg.Cache,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("connect stats cache: %w", err)
	}

	var sinks []core.Sink
	if cfg.Alerting.Email.Enabled {
		sinks = append(sinks, alert.NewEmailSink(cfg.Alerting.Email, logger))
	}
	if cfg.Alerting.Slack.Enabled {
		sinks = append(sinks, alert.NewSlackSink(cfg.Alerting.Slack, logger))
	}
	if cfg.Alerting.Webhook.Enabled {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Alerting.Webhook, nil, logger))
	}
	if len(sinks) == 0 {
		logger.Warn("No alert sinks configured, incidents will not notify", nil)
	}

	alerter := alert.NewEngine(alert.EngineOptions{
		Store:     pg,
		Sinks:     sinks,
		Config:    cfg.Alerting,
		Logger:    logger,
		Telemetry: tel,
	})
	engine := monitor.NewEngine(monitor.EngineOptions{
		Store:     pg,
		Notifier:  alerter,
		Logger:    logger,
		Telemetry: tel,
	})
	prober := probe.NewProber(probe.ProberOptions{
		Config:      cfg.Monitoring,
		Box:         box,
		Credentials: pg,
		Logger:      logger,
		Telemetry:   tel,
	})
	scheduler := monitor.NewScheduler(monitor.SchedulerOptions{
		Store:     pg,
		Checker:   prober,
		Engine:    engine,
		Config:    cfg.Monitoring,
		Logger:    logger,
		Telemetry: tel,
	})
	sweeper := monitor.NewSweeper(pg, cfg.Retention, logger)

	if err := alerter.Start(ctx); err != nil {
		return fmt.Errorf("start alert engine: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var api *server.Server
	if cfg.Server.Enabled {
		api = server.New(server.Options{
			Store:  pg,
			Stats:  stats,
			Box:    box,
			Config: cfg.Server,
			Logger: logger,
		})
		g.Go(api.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", nil)

		if api != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				logger.Error("Admin API shutdown failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
		// Stop the producers before the alert engine so no check result
		// arrives after the delivery queue closes.
		if err := scheduler.Stop(); err != nil {
			logger.Error("Scheduler stop failed", map[string]interface{}{"error": err.Error()})
		}
		if err := sweeper.Stop(); err != nil {
			logger.Error("Sweeper stop failed", map[string]interface{}{"error": err.Error()})
		}
		if err := alerter.Stop(); err != nil {
			logger.Error("Alert engine stop failed", map[string]interface{}{"error": err.Error()})
		}
		return nil
	})

	logger.Info("apimon running", map[string]interface{}{
		"name": cfg.Name,
	})
	return g.Wait()
}
