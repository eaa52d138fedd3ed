package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/imagery-acquisition/internal/config"
	"github.com/kirillkom/imagery-acquisition/internal/core/ports"
	"github.com/kirillkom/imagery-acquisition/internal/core/usecase"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/imagery/planet"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/queue/nats"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/report/xlsx"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/resilience"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/imagery-acquisition/internal/observability/metrics"
)

// Overrides carries the per-run parameters that come from the command line.
type Overrides struct {
	// MaxCloudCover is a pointer so an explicit 0 (cloud-free only) survives.
	MaxCloudCover *float64
	LatResolution float64
	LonResolution float64
	OutputDir     string
}

type App struct {
	Config config.Config

	Runner  ports.AcquisitionRunner
	Metrics *metrics.PipelineMetrics
	// Report and Ledger are nil when REPORT_DIR / POSTGRES_DSN are unset.
	Report *xlsx.Report
	Ledger *postgres.OrderLedger

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, overrides Overrides) (*App, error) {
	pipelineMetrics := metrics.NewPipelineMetrics("acquire")
	recorders := usecase.Recorders{pipelineMetrics}
	var closers []func()

	app := &App{Config: cfg, Metrics: pipelineMetrics}
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("open postgres: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		ledger := postgres.NewOrderLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return fail(fmt.Errorf("ensure schema: %w", err))
		}
		app.Ledger = ledger
		recorders = append(recorders, ledger)
	}

	if cfg.NATSURL != "" {
		publisher, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
		})
		if err != nil {
			return fail(fmt.Errorf("init event publisher: %w", err))
		}
		closers = append(closers, publisher.Close)
		recorders = append(recorders, publisher)
	}

	if cfg.ReportDir != "" {
		app.Report = xlsx.New()
		recorders = append(recorders, app.Report)
	}

	outputDir := cfg.OutputDir
	if overrides.OutputDir != "" {
		outputDir = overrides.OutputDir
	}
	storage, err := localfs.New(outputDir)
	if err != nil {
		return fail(fmt.Errorf("init output storage: %w", err))
	}

	retry := resilience.DefaultConfig()
	retry.RetryInitialBackoff = cfg.RateLimitInitialBackoff
	retry.RetryMaxBackoff = cfg.RateLimitMaxBackoff
	client := planet.New(planet.Options{
		APIKey:        cfg.PlanetAPIKey,
		SearchURL:     cfg.PlanetSearchURL,
		OrdersURL:     cfg.PlanetOrdersURL,
		ItemType:      cfg.ItemType,
		ProductBundle: cfg.ProductBundle,
		Timeout:       cfg.PlanetTimeout,
		RateLimit:     cfg.PlanetRateLimit,
		RateBurst:     cfg.PlanetRateBurst,
		Retry:         retry,
		Observer:      pipelineMetrics,
	})

	sleeper := resilience.TimerSleeper{}

	placementCfg := placementConfig(cfg, overrides)
	fulfillmentCfg := usecase.FulfillmentConfig{
		PollInterval: cfg.PollInterval,
		MaxPolls:     cfg.MaxPolls,
		PollAttempts: cfg.PollAttempts,
		PollBackoff:  cfg.StageRetryBackoff,
		AssetPause:   cfg.AssetPause,
	}

	placement := usecase.NewOrderPlacement(client, sleeper, placementCfg)
	batch := usecase.NewBatchOrchestrator(placement, recorders, sleeper, usecase.BatchConfig{
		UnitPause: cfg.UnitPause,
		Workers:   cfg.Workers,
	})
	fulfillment := usecase.NewOrderFulfillment(client, storage, sleeper, fulfillmentCfg)
	downloads := usecase.NewDownloadOrchestrator(fulfillment, recorders, usecase.DownloadConfig{Workers: cfg.Workers})
	app.Runner = usecase.NewPipeline(batch, downloads, cfg.BatchSize)

	slog.Info("bootstrap_complete",
		"output_dir", storage.BasePath(),
		"ledger", app.Ledger != nil,
		"events", cfg.NATSURL != "",
		"report", app.Report != nil,
		"workers", cfg.Workers,
		"batch_size", cfg.BatchSize,
	)

	app.closeFn = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return app, nil
}

func placementConfig(cfg config.Config, overrides Overrides) usecase.PlacementConfig {
	placementCfg := usecase.DefaultPlacementConfig()
	placementCfg.ItemType = cfg.ItemType
	placementCfg.Attempts = cfg.PlacementAttempts
	placementCfg.RetryBackoff = cfg.StageRetryBackoff
	placementCfg.SearchPause = cfg.SearchPause
	if overrides.MaxCloudCover != nil {
		placementCfg.MaxCloudCover = *overrides.MaxCloudCover
	}
	if overrides.LatResolution > 0 {
		placementCfg.LatResolution = overrides.LatResolution
	}
	if overrides.LonResolution > 0 {
		placementCfg.LonResolution = overrides.LonResolution
	}
	return placementCfg
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
