package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/core/ports"
)

const DefaultChunkSize = 100

// Pipeline runs placement then fulfillment chunk by chunk, so that one chunk's
// downloads finish before the next chunk's orders go out.
type Pipeline struct {
	placer    ports.BatchPlacer
	fulfiller ports.BatchFulfiller
	chunkSize int
	now       func() time.Time
}

func NewPipeline(placer ports.BatchPlacer, fulfiller ports.BatchFulfiller, chunkSize int) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Pipeline{
		placer:    placer,
		fulfiller: fulfiller,
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

// Run processes units in chunks. The returned summary is filled in for the
// chunks that finished even when ctx is canceled part way through.
func (p *Pipeline) Run(ctx context.Context, units []domain.WorkUnit) (domain.RunSummary, error) {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = WithRunID(ctx, runID)
	}

	chunks := Chunk(units, p.chunkSize)
	summary := domain.RunSummary{
		RunID:     runID,
		Units:     len(units),
		Chunks:    len(chunks),
		StartedAt: p.now().UTC(),
	}
	slog.Info("run_started", "run_id", runID, "units", len(units), "chunks", len(chunks), "chunk_size", p.chunkSize)

	for i, chunk := range chunks {
		slog.Info("chunk_started", "run_id", runID, "chunk", i+1, "of", len(chunks), "units", len(chunk))

		batch, err := p.placer.PlaceBatch(ctx, chunk)
		if err != nil {
			return p.finish(summary), err
		}
		summary.Placed += len(batch.Placed)
		summary.Skipped += len(batch.Skipped)
		for _, skip := range batch.Skipped {
			if skip.Reason == domain.SkipNoImagery {
				summary.NoImagery++
			}
		}

		if len(batch.Placed) > 0 {
			outcomes, err := p.fulfiller.FulfillBatch(ctx, batch.Placed)
			if err != nil {
				return p.finish(summary), err
			}
			for _, outcome := range outcomes {
				summary.Assets += len(outcome.Downloaded)
				switch outcome.Status {
				case domain.FulfillmentComplete:
					summary.Fulfilled++
				case domain.FulfillmentPartial:
					summary.Partial++
				default:
					summary.FailedOrders++
				}
			}
		}
		slog.Info("chunk_complete", "run_id", runID, "chunk", i+1, "placed", len(batch.Placed), "skipped", len(batch.Skipped))
	}

	summary = p.finish(summary)
	slog.Info("run_complete",
		"run_id", runID,
		"placed", summary.Placed,
		"skipped", summary.Skipped,
		"fulfilled", summary.Fulfilled,
		"partial", summary.Partial,
		"failed_orders", summary.FailedOrders,
		"assets", summary.Assets,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)
	return summary, nil
}

func (p *Pipeline) finish(summary domain.RunSummary) domain.RunSummary {
	summary.FinishedAt = p.now().UTC()
	return summary
}

// Chunk splits units into consecutive slices of at most size elements.
func Chunk(units []domain.WorkUnit, size int) [][]domain.WorkUnit {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]domain.WorkUnit, 0, (len(units)+size-1)/size)
	for start := 0; start < len(units); start += size {
		end := min(start+size, len(units))
		chunks = append(chunks, units[start:end])
	}
	return chunks
}
