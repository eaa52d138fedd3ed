package domain

import "time"

type SkipReason string

const (
	SkipNoImagery      SkipReason = "no_imagery_available"
	SkipPermanentError SkipReason = "permanent_error"
)

// Skip records a unit that produced no order.
type Skip struct {
	Unit     WorkUnit   `json:"unit"`
	Reason   SkipReason `json:"reason"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts"`
}

// BatchResult is the placement stage output for one chunk of units.
type BatchResult struct {
	Placed  []PlacedOrder
	Skipped []Skip
}

// PlacementOutcome is reported once per unit: exactly one of Order or Skip is set.
type PlacementOutcome struct {
	Unit     WorkUnit
	Order    *PlacedOrder
	Skip     *Skip
	Attempts int
}

type FulfillmentStatus string

const (
	FulfillmentComplete  FulfillmentStatus = "complete"
	FulfillmentPartial   FulfillmentStatus = "partial"
	FulfillmentFailed    FulfillmentStatus = "failed"
	FulfillmentAbandoned FulfillmentStatus = "abandoned"
)

// FulfillmentOutcome summarizes what happened to one placed order.
type FulfillmentOutcome struct {
	Order        PlacedOrder
	Status       FulfillmentStatus
	OrderStatus  string
	Polls        int
	Waits        int
	Downloaded   []string
	FailedAssets []string
	Error        string
	FinishedAt   time.Time
}

// RunSummary aggregates one pipeline run.
type RunSummary struct {
	RunID        string
	Units        int
	Chunks       int
	Placed       int
	Skipped      int
	NoImagery    int
	Fulfilled    int
	Partial      int
	FailedOrders int
	Assets       int
	StartedAt    time.Time
	FinishedAt   time.Time
}
