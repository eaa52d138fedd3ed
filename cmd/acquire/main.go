package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/imagery-acquisition/internal/bootstrap"
	"github.com/kirillkom/imagery-acquisition/internal/config"
	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/core/usecase"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/sites"
	"github.com/kirillkom/imagery-acquisition/internal/observability/logging"
	"github.com/kirillkom/imagery-acquisition/internal/observability/metrics"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInvalidArgs = 2
	exitInterrupted = 130

	flagDateLayout = "20060102"
)

type options struct {
	MaxCloudCover float64
	LatResolution float64
	LonResolution float64
	Start         time.Time
	End           time.Time
	SitesPath     string
	OutputDir     string
	ResubmitRun   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitInvalidArgs
	}
	slog.SetDefault(logging.NewJSONLogger("acquire", cfg.LogLevel))

	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		slog.Error("invalid_arguments", "error", err)
		return exitInvalidArgs
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid_config", "error", err)
		return exitInvalidArgs
	}

	app, err := bootstrap.New(ctx, cfg, bootstrap.Overrides{
		MaxCloudCover: &opts.MaxCloudCover,
		LatResolution: opts.LatResolution,
		LonResolution: opts.LonResolution,
		OutputDir:     opts.OutputDir,
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		return exitFailure
	}
	defer app.Close()

	if cfg.MetricsAddr != "" {
		go func(ctx context.Context) {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, app.Metrics.Handler()); err != nil {
				slog.Error("metrics_server_failed", "error", err)
			}
		}(ctx)
	}

	runID := uuid.NewString()
	ctx = usecase.WithRunID(ctx, runID)

	units, err := planUnits(ctx, app, cfg, opts, runID)
	if err != nil {
		slog.Error("planning_failed", "run_id", runID, "error", err)
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return exitInvalidArgs
		}
		return exitFailure
	}

	summary, runErr := app.Runner.Run(ctx, units)
	if app.Report != nil {
		app.Report.SetSummary(summary)
		path := filepath.Join(cfg.ReportDir, "acquisition_"+runID+".xlsx")
		if err := app.Report.Save(path); err != nil {
			slog.Error("report_save_failed", "run_id", runID, "path", path, "error", err)
		} else {
			slog.Info("report_saved", "run_id", runID, "path", path)
		}
	}

	if runErr != nil {
		if ctx.Err() != nil {
			slog.Warn("run_interrupted", "run_id", runID, "placed", summary.Placed, "error", runErr)
			return exitInterrupted
		}
		slog.Error("run_failed", "run_id", runID, "error", runErr)
		return exitFailure
	}
	return exitOK
}

// planUnits enumerates the units of a fresh run, or reloads the unfinished
// units of an earlier run from the ledger.
func planUnits(ctx context.Context, app *bootstrap.App, cfg config.Config, opts options, runID string) ([]domain.WorkUnit, error) {
	if opts.ResubmitRun != "" {
		if app.Ledger == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "resubmit", errors.New("POSTGRES_DSN is required to resubmit a run"))
		}
		pending, err := app.Ledger.PendingUnits(ctx, opts.ResubmitRun)
		if err != nil {
			return nil, err
		}
		units := make([]domain.WorkUnit, 0, len(pending))
		for _, p := range pending {
			units = append(units, p.Unit)
		}
		slog.Info("resubmitting_units", "run_id", runID, "source_run_id", opts.ResubmitRun, "units", len(units))
		return units, nil
	}

	sitesPath := cfg.SitesPath
	if opts.SitesPath != "" {
		sitesPath = opts.SitesPath
	}
	siteList, err := sites.Load(sitesPath)
	if err != nil {
		return nil, err
	}
	units, err := domain.BuildWorkUnits(siteList, opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	if cfg.PlannedDir != "" {
		planned := filepath.Join(cfg.PlannedDir, "planned_orders_"+runID+".txt")
		if err := sites.WritePlanned(planned, units); err != nil {
			slog.Warn("planned_units_not_written", "run_id", runID, "path", planned, "error", err)
		}
	}
	slog.Info("units_planned",
		"run_id", runID,
		"sites", len(siteList),
		"units", len(units),
		"start", opts.Start.Format(domain.DateLayout),
		"end", opts.End.Format(domain.DateLayout),
	)
	return units, nil
}

func parseArgs(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("acquire", flag.ContinueOnError)
	fs.SetOutput(output)

	var opts options
	var start, end string
	fs.Float64Var(&opts.MaxCloudCover, "max-cloud-coverage", 0.4, "maximum scene cloud cover fraction")
	fs.Float64Var(&opts.MaxCloudCover, "cc", 0.4, "shorthand for -max-cloud-coverage")
	fs.Float64Var(&opts.LatResolution, "res-lat", 0.005, "half-height of the clip polygon in degrees")
	fs.Float64Var(&opts.LonResolution, "res-lon", 0.005, "half-width of the clip polygon in degrees at the equator")
	fs.StringVar(&start, "start-date", "20210101", "first window start (YYYYMMDD)")
	fs.StringVar(&end, "end-date", "20210101", "last window start (YYYYMMDD)")
	fs.StringVar(&opts.SitesPath, "sites", "", "tab-separated site list (overrides SITES_PATH)")
	fs.StringVar(&opts.OutputDir, "output", "", "output root (overrides OUTPUT_DIR)")
	fs.StringVar(&opts.ResubmitRun, "resubmit-run", "", "re-run the unfinished units of an earlier run id from the ledger")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	var errs []error
	var err error
	if opts.Start, err = time.Parse(flagDateLayout, start); err != nil {
		errs = append(errs, fmt.Errorf("invalid -start-date %q: want YYYYMMDD", start))
	}
	if opts.End, err = time.Parse(flagDateLayout, end); err != nil {
		errs = append(errs, fmt.Errorf("invalid -end-date %q: want YYYYMMDD", end))
	}
	if opts.MaxCloudCover < 0 || opts.MaxCloudCover > 1 {
		errs = append(errs, fmt.Errorf("cloud coverage %v outside [0, 1]", opts.MaxCloudCover))
	}
	if opts.LatResolution <= 0 || opts.LonResolution <= 0 {
		errs = append(errs, errors.New("polygon resolutions must be positive"))
	}
	if len(errs) == 0 && opts.End.Before(opts.Start) {
		errs = append(errs, fmt.Errorf("end date %s is before start date %s", end, start))
	}
	if len(errs) > 0 {
		return options{}, domain.WrapError(domain.ErrInvalidInput, "parse arguments", errors.Join(errs...))
	}
	return opts, nil
}
