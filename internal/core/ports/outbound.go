package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

// ImageryService is the remote catalog/ordering API.
type ImageryService interface {
	Search(ctx context.Context, criteria domain.SearchCriteria) ([]domain.SceneCandidate, error)
	PlaceOrder(ctx context.Context, sceneID string, polygon domain.BoundingPolygon, labelSuffix string) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (domain.OrderState, error)
	DownloadAsset(ctx context.Context, url string) ([]byte, error)
}

// AssetStore persists downloaded order files under the output root.
type AssetStore interface {
	Save(ctx context.Context, folder, filename string, data io.Reader) error
}

// RunRecorder receives per-unit and per-order outcomes (ledger, events, report, metrics).
type RunRecorder interface {
	RecordPlacement(ctx context.Context, runID string, outcome domain.PlacementOutcome) error
	RecordFulfillment(ctx context.Context, runID string, outcome domain.FulfillmentOutcome) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
