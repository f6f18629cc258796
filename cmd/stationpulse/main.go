package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bizi-lab/stationpulse/internal/analytics"
	"github.com/bizi-lab/stationpulse/internal/api"
	"github.com/bizi-lab/stationpulse/internal/collector"
	corecfg "github.com/bizi-lab/stationpulse/internal/core/config"
	"github.com/bizi-lab/stationpulse/internal/core/storage/postgres"
	"github.com/bizi-lab/stationpulse/internal/migrations"
	"github.com/bizi-lab/stationpulse/internal/server"
)

func main() {
	configPath := flag.String("config", "stationpulse.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "addr", cfg.Server.Addr(), "collector_enabled", cfg.Collector.Enabled, "analytics_enabled", cfg.Analytics.Enabled)

	// Storage
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.ValidateSchema(); err != nil {
		slog.Error("Schema validation failed", "error", err)
		os.Exit(1)
	}

	// Analytics pipeline
	thresholds, err := analytics.LoadThresholdRules(cfg.Analytics.ThresholdRuleDir)
	if err != nil {
		slog.Error("Failed to load threshold rules", "error", err)
		os.Exit(1)
	}

	pipelineCfg := analytics.Config{
		HourlyDelay:         cfg.Analytics.HourlyDelayDuration(),
		DailyDelay:          cfg.Analytics.DailyDelayDuration(),
		RankingDays:         cfg.Analytics.RankingDays,
		AlertWindowHours:    cfg.Analytics.AlertWindowHours,
		LockTTL:             cfg.Analytics.LockTTLDuration(),
		Thresholds:          thresholds,
		RawRetentionDays:    cfg.Analytics.Retention.RawDays,
		HourlyRetentionDays: cfg.Analytics.Retention.HourlyDays,
		AlertRetentionDays:  cfg.Analytics.Retention.AlertDays,
		VacuumIntervalDays:  cfg.Analytics.Retention.VacuumIntervalDays,
	}

	db := dbAdapter.DB()
	pipeline := analytics.NewPipeline(
		postgres.NewJobLockAdapter(db),
		postgres.NewWatermarkAdapter(db),
		postgres.NewRollupAdapter(db),
		pipelineCfg,
	)
	scheduler := analytics.NewScheduler(cfg.Analytics.CronIntervalDuration(), pipeline)

	// Collector
	feedClient := collector.NewClient(cfg.Collector.DiscoveryURL, cfg.Collector.HTTPTimeoutDuration())
	collectorSvc := collector.NewService(feedClient, postgres.NewSampleAdapter(db), cfg.Collector.IntervalDuration())

	// API
	handler := api.NewHandler(
		postgres.NewReadAdapter(db),
		pipeline,
		collectorSvc,
		pipeline.State(),
		collectorSvc.State(),
		api.SchedulerFlags{
			AggregationScheduled: cfg.Analytics.Enabled,
			CollectionScheduled:  cfg.Collector.Enabled,
		},
	)

	srv := server.New(cfg.Server.Addr(), dbAdapter, cfg.Server.Mode)
	handler.RegisterRoutes(srv.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Analytics.Enabled {
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				slog.Error("Analytics scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Analytics scheduler disabled by config")
	}

	if cfg.Collector.Enabled {
		go func() {
			if err := collectorSvc.Start(ctx); err != nil {
				slog.Error("Collector stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Collector disabled by config")
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}
