package ports

import (
	"context"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

// OrderPlacer turns one work unit into at most one placed order.
type OrderPlacer interface {
	Place(ctx context.Context, unit domain.WorkUnit) (domain.PlacedOrder, int, error)
}

// OrderFulfiller drives one placed order to a terminal state and stores its assets.
type OrderFulfiller interface {
	Fulfill(ctx context.Context, order domain.PlacedOrder) (domain.FulfillmentOutcome, error)
}

// AcquisitionRunner is the inbound contract for a full acquisition run.
type AcquisitionRunner interface {
	Run(ctx context.Context, units []domain.WorkUnit) (domain.RunSummary, error)
}

// BatchPlacer places orders for one chunk of work units.
type BatchPlacer interface {
	PlaceBatch(ctx context.Context, units []domain.WorkUnit) (domain.BatchResult, error)
}

// BatchFulfiller fulfills the orders placed for one chunk.
type BatchFulfiller interface {
	FulfillBatch(ctx context.Context, orders []domain.PlacedOrder) ([]domain.FulfillmentOutcome, error)
}
