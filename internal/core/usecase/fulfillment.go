package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/core/ports"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/resilience"
)

type FulfillmentConfig struct {
	// PollInterval is slept after every queued/running observation.
	PollInterval time.Duration
	// MaxPolls caps status observations per order; 0 polls until terminal.
	MaxPolls int
	// PollAttempts bounds retries of a single failing status request or asset download.
	PollAttempts int
	PollBackoff  time.Duration
	// AssetPause is slept between consecutive asset downloads.
	AssetPause time.Duration
}

func DefaultFulfillmentConfig() FulfillmentConfig {
	return FulfillmentConfig{
		PollInterval: 60 * time.Second,
		MaxPolls:     120,
		PollAttempts: 3,
		AssetPause:   2 * time.Second,
	}
}

// OrderFulfillment polls one order until it is terminal and stores its assets.
type OrderFulfillment struct {
	service  ports.ImageryService
	store    ports.AssetStore
	sleeper  ports.Sleeper
	executor *resilience.Executor
	cfg      FulfillmentConfig
	now      func() time.Time
}

func NewOrderFulfillment(service ports.ImageryService, store ports.AssetStore, sleeper ports.Sleeper, cfg FulfillmentConfig) *OrderFulfillment {
	if sleeper == nil {
		sleeper = resilience.TimerSleeper{}
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultFulfillmentConfig().PollAttempts
	}
	return &OrderFulfillment{
		service:  service,
		store:    store,
		sleeper:  sleeper,
		executor: newStageExecutor(cfg.PollAttempts, cfg.PollBackoff, sleeper),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Fulfill runs the POLL -> WAIT -> POLL loop. A successful order downloads every
// listed asset; a failing asset is logged and skipped so the rest still land.
// The returned error is nil for complete and partial outcomes.
func (f *OrderFulfillment) Fulfill(ctx context.Context, order domain.PlacedOrder) (domain.FulfillmentOutcome, error) {
	outcome := domain.FulfillmentOutcome{Order: order}
	finish := func(status domain.FulfillmentStatus, err error) (domain.FulfillmentOutcome, error) {
		outcome.Status = status
		outcome.FinishedAt = f.now().UTC()
		if err != nil {
			outcome.Error = err.Error()
		}
		return outcome, err
	}

	for {
		outcome.Polls++
		state, err := f.poll(ctx, order.OrderID)
		if err != nil {
			if isCanceled(ctx, err) {
				return finish(domain.FulfillmentAbandoned, err)
			}
			return finish(domain.FulfillmentAbandoned, fmt.Errorf("poll order %s: %w", order.OrderID, err))
		}
		outcome.OrderStatus = state.RawStatus

		switch state.Status {
		case domain.OrderSuccess:
			slog.Info("order_ready", append(order.LogAttrs(),
				"run_id", RunIDFromContext(ctx),
				"assets", len(state.Assets),
				"polls", outcome.Polls,
			)...)
			if err := f.downloadAll(ctx, order, state.Assets, &outcome); err != nil {
				return finish(domain.FulfillmentAbandoned, err)
			}
			switch {
			case len(outcome.FailedAssets) == 0:
				return finish(domain.FulfillmentComplete, nil)
			case len(outcome.Downloaded) == 0:
				return finish(domain.FulfillmentFailed,
					fmt.Errorf("order %s: all %d assets failed to download", order.OrderID, len(outcome.FailedAssets)))
			default:
				return finish(domain.FulfillmentPartial, nil)
			}

		case domain.OrderQueued, domain.OrderRunning:
			if f.cfg.MaxPolls > 0 && outcome.Polls >= f.cfg.MaxPolls {
				return finish(domain.FulfillmentAbandoned, domain.WrapError(domain.ErrPollBudgetExhausted,
					"poll order "+order.OrderID, fmt.Errorf("still %s after %d polls", state.RawStatus, outcome.Polls)))
			}
			slog.Info("order_processing", append(order.LogAttrs(),
				"run_id", RunIDFromContext(ctx),
				"state", state.RawStatus,
				"wait_s", f.cfg.PollInterval.Seconds(),
			)...)
			outcome.Waits++
			if err := f.sleeper.Sleep(ctx, f.cfg.PollInterval); err != nil {
				return finish(domain.FulfillmentAbandoned, err)
			}

		default:
			return finish(domain.FulfillmentFailed, domain.WrapError(domain.ErrOrderFailed,
				"poll order "+order.OrderID, fmt.Errorf("unexpected order state %q", state.RawStatus)))
		}
	}
}

func (f *OrderFulfillment) poll(ctx context.Context, orderID string) (domain.OrderState, error) {
	var state domain.OrderState
	err := f.executor.Execute(ctx, "poll_order", func(ctx context.Context) error {
		s, err := f.service.GetOrderStatus(ctx, orderID)
		if err != nil {
			return err
		}
		state = s
		return nil
	}, classifyStageError)
	return state, err
}

// downloadAll only fails on cancellation; per-asset errors land in outcome.
func (f *OrderFulfillment) downloadAll(ctx context.Context, order domain.PlacedOrder, assets []domain.AssetDescriptor, outcome *domain.FulfillmentOutcome) error {
	folder := order.FolderName()
	for i, asset := range assets {
		if i > 0 {
			if err := f.sleeper.Sleep(ctx, f.cfg.AssetPause); err != nil {
				return err
			}
		}

		filename := asset.OutputFilename(order.SceneID)
		err := f.downloadOne(ctx, folder, filename, asset)
		if err == nil {
			outcome.Downloaded = append(outcome.Downloaded, filename)
			slog.Info("asset_downloaded", append(order.LogAttrs(),
				"run_id", RunIDFromContext(ctx),
				"folder", folder,
				"file", filename,
			)...)
			continue
		}
		if isCanceled(ctx, err) {
			return err
		}
		outcome.FailedAssets = append(outcome.FailedAssets, filename)
		slog.Error("asset_download_failed", append(order.LogAttrs(),
			"run_id", RunIDFromContext(ctx),
			"asset", asset.Name,
			"url", asset.DownloadURL,
			"error", err,
		)...)
	}
	return nil
}

// downloadOne retries the fetch under the stage policy; the store write is not retried.
func (f *OrderFulfillment) downloadOne(ctx context.Context, folder, filename string, asset domain.AssetDescriptor) error {
	var data []byte
	attempts, err := f.executor.ExecuteAttempts(ctx, "download_asset", func(ctx context.Context) error {
		body, err := f.service.DownloadAsset(ctx, asset.DownloadURL)
		if err != nil {
			return err
		}
		data = body
		return nil
	}, classifyStageError)
	if err != nil {
		return fmt.Errorf("download %s after %d attempts: %w", asset.Name, attempts, err)
	}
	if err := f.store.Save(ctx, folder, filename, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store %s/%s: %w", folder, filename, err)
	}
	return nil
}

type DownloadConfig struct {
	Workers int
}

// DownloadOrchestrator fulfills every order of a batch, isolating each order's failure.
type DownloadOrchestrator struct {
	fulfiller ports.OrderFulfiller
	recorder  ports.RunRecorder
	cfg       DownloadConfig
}

func NewDownloadOrchestrator(fulfiller ports.OrderFulfiller, recorder ports.RunRecorder, cfg DownloadConfig) *DownloadOrchestrator {
	return &DownloadOrchestrator{
		fulfiller: fulfiller,
		recorder:  recorder,
		cfg:       cfg,
	}
}

func (d *DownloadOrchestrator) FulfillBatch(ctx context.Context, orders []domain.PlacedOrder) ([]domain.FulfillmentOutcome, error) {
	runID := RunIDFromContext(ctx)
	slog.Info("downloading_orders", "run_id", runID, "orders", len(orders))

	outcomes := make([]domain.FulfillmentOutcome, len(orders))
	var mu sync.Mutex
	err := forEach(ctx, d.cfg.Workers, len(orders), func(ctx context.Context, i int) error {
		outcome, err := d.fulfiller.Fulfill(ctx, orders[i])
		if err != nil && isCanceled(ctx, err) {
			return errors.Join(ctx.Err(), err)
		}
		if err != nil {
			slog.Error("order_fulfillment_failed", append(orders[i].LogAttrs(),
				"run_id", runID,
				"status", string(outcome.Status),
				"order_state", outcome.OrderStatus,
				"error", err,
			)...)
		} else {
			slog.Info("order_fulfilled", append(orders[i].LogAttrs(),
				"run_id", runID,
				"status", string(outcome.Status),
				"downloaded", len(outcome.Downloaded),
				"failed_assets", len(outcome.FailedAssets),
			)...)
		}

		if d.recorder != nil {
			if recErr := d.recorder.RecordFulfillment(ctx, runID, outcome); recErr != nil {
				slog.Error("record_fulfillment_failed", append(orders[i].LogAttrs(), "run_id", runID, "error", recErr)...)
			}
		}
		mu.Lock()
		outcomes[i] = outcome
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}
