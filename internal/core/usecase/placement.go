package usecase

import (
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

type PlacementConfig struct {
	LatResolution float64
	LonResolution float64
	MaxCloudCover float64
	ItemType      string

	// Attempts bounds how many times the search+order sequence runs per unit.
	Attempts     int
	RetryBackoff time.Duration
	// SearchPause is slept between a successful search and the order request.
	SearchPause time.Duration
}

func DefaultPlacementConfig() PlacementConfig {
	return PlacementConfig{
		LatResolution: 0.005,
		LonResolution: 0.005,
		MaxCloudCover: 0.4,
		ItemType:      "PSScene",
		Attempts:      3,
		SearchPause:   time.Second,
	}
}

// OrderPlacement searches the catalog for one unit and orders the first scene found.
type OrderPlacement struct {
	service  ports.ImageryService
	sleeper  ports.Sleeper
	executor *resilience.Executor
	cfg      PlacementConfig
	now      func() time.Time
}

func NewOrderPlacement(service ports.ImageryService, sleeper ports.Sleeper, cfg PlacementConfig) *OrderPlacement {
	if sleeper == nil {
		sleeper = resilience.TimerSleeper{}
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultPlacementConfig().Attempts
	}
	return &OrderPlacement{
		service:  service,
		sleeper:  sleeper,
		executor: newStageExecutor(cfg.Attempts, cfg.RetryBackoff, sleeper),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Place returns the placed order and how many search+order attempts it took.
// An empty catalog result fails with domain.ErrNoImagery after one attempt.
func (p *OrderPlacement) Place(ctx context.Context, unit domain.WorkUnit) (domain.PlacedOrder, int, error) {
	polygon := domain.NewBoundingPolygon(unit.Latitude, unit.Longitude, p.cfg.LatResolution, p.cfg.LonResolution)

	var order domain.PlacedOrder
	attempts, err := p.executor.ExecuteAttempts(ctx, "place_order", func(ctx context.Context) error {
		placed, err := p.placeOnce(ctx, unit, polygon)
		if err != nil {
			return err
		}
		order = placed
		return nil
	}, classifyStageError)
	if err != nil {
		return domain.PlacedOrder{}, attempts, err
	}
	return order, attempts, nil
}

func (p *OrderPlacement) placeOnce(ctx context.Context, unit domain.WorkUnit, polygon domain.BoundingPolygon) (domain.PlacedOrder, error) {
	slog.Debug("search_scenes", append(unit.LogAttrs(), "run_id", RunIDFromContext(ctx))...)

	scenes, err := p.service.Search(ctx, domain.SearchCriteria{
		Polygon:       polygon,
		WindowStart:   unit.WindowStart,
		WindowEnd:     unit.WindowEnd,
		MaxCloudCover: p.cfg.MaxCloudCover,
		ItemType:      p.cfg.ItemType,
	})
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("search scenes: %w", err)
	}

	if err := p.sleeper.Sleep(ctx, p.cfg.SearchPause); err != nil {
		return domain.PlacedOrder{}, err
	}

	if len(scenes) == 0 {
		return domain.PlacedOrder{}, fmt.Errorf("search %s: %w", unit.Key(), domain.ErrNoImagery)
	}

	// The catalog order is the ranking: the first hit wins.
	scene := scenes[0]
	slog.Info("scenes_available", append(unit.LogAttrs(),
		"run_id", RunIDFromContext(ctx),
		"count", len(scenes),
		"scene_id", scene.ID,
	)...)

	orderID, err := p.service.PlaceOrder(ctx, scene.ID, polygon, unit.LabelSuffix())
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order for scene %s: %w", scene.ID, err)
	}

	return domain.PlacedOrder{
		OrderID:  orderID,
		SceneID:  scene.ID,
		Unit:     unit,
		PlacedAt: p.now().UTC(),
	}, nil
}

type BatchConfig struct {
	// UnitPause is slept after every unit regardless of its outcome.
	UnitPause time.Duration
	Workers   int
}

// BatchOrchestrator places orders for a chunk of units, isolating each unit's failure.
type BatchOrchestrator struct {
	placer   ports.OrderPlacer
	recorder ports.RunRecorder
	sleeper  ports.Sleeper
	cfg      BatchConfig
}

func NewBatchOrchestrator(placer ports.OrderPlacer, recorder ports.RunRecorder, sleeper ports.Sleeper, cfg BatchConfig) *BatchOrchestrator {
	if sleeper == nil {
		sleeper = resilience.TimerSleeper{}
	}
	return &BatchOrchestrator{
		placer:   placer,
		recorder: recorder,
		sleeper:  sleeper,
		cfg:      cfg,
	}
}

// PlaceBatch returns placed orders in input order. Skips never abort the batch;
// only cancellation of ctx does.
func (b *BatchOrchestrator) PlaceBatch(ctx context.Context, units []domain.WorkUnit) (domain.BatchResult, error) {
	runID := RunIDFromContext(ctx)
	slog.Info("placing_orders", "run_id", runID, "units", len(units))

	outcomes := make([]domain.PlacementOutcome, len(units))
	var mu sync.Mutex
	err := forEach(ctx, b.cfg.Workers, len(units), func(ctx context.Context, i int) error {
		outcome, err := b.placeUnit(ctx, units[i])
		if err != nil {
			return err
		}
		mu.Lock()
		outcomes[i] = outcome
		mu.Unlock()
		return b.sleeper.Sleep(ctx, b.cfg.UnitPause)
	})
	if err != nil {
		return domain.BatchResult{}, err
	}

	var result domain.BatchResult
	for _, outcome := range outcomes {
		switch {
		case outcome.Order != nil:
			result.Placed = append(result.Placed, *outcome.Order)
		case outcome.Skip != nil:
			result.Skipped = append(result.Skipped, *outcome.Skip)
		}
	}
	slog.Info("placement_batch_complete",
		"run_id", runID,
		"placed", len(result.Placed),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

func (b *BatchOrchestrator) placeUnit(ctx context.Context, unit domain.WorkUnit) (domain.PlacementOutcome, error) {
	runID := RunIDFromContext(ctx)
	order, attempts, err := b.placer.Place(ctx, unit)
	if err != nil && isCanceled(ctx, err) {
		return domain.PlacementOutcome{}, errors.Join(ctx.Err(), err)
	}

	outcome := domain.PlacementOutcome{Unit: unit, Attempts: attempts}
	if err == nil {
		outcome.Order = &order
		slog.Info("order_placed", append(order.LogAttrs(),
			"run_id", runID,
			"composite_image_id", order.CompositeImageID(),
			"attempts", attempts,
		)...)
	} else {
		reason := domain.SkipPermanentError
		if domain.IsKind(err, domain.ErrNoImagery) {
			reason = domain.SkipNoImagery
		}
		outcome.Skip = &domain.Skip{Unit: unit, Reason: reason, Error: err.Error(), Attempts: attempts}
		slog.Warn("unit_skipped", append(unit.LogAttrs(),
			"run_id", runID,
			"reason", string(reason),
			"attempts", attempts,
			"error", err,
		)...)
	}

	if b.recorder != nil {
		if recErr := b.recorder.RecordPlacement(ctx, runID, outcome); recErr != nil {
			slog.Error("record_placement_failed", append(unit.LogAttrs(), "run_id", runID, "error", recErr)...)
		}
	}
	return outcome, nil
}
