package usecase

import (
	"context"
	"errors"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/core/ports"
)

type runIDContextKey struct{}

// WithRunID tags ctx with the identifier of the current acquisition run.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDContextKey{}, runID)
}

func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	runID, _ := ctx.Value(runIDContextKey{}).(string)
	return runID
}

// Recorders fans every outcome out to each recorder and joins their errors.
type Recorders []ports.RunRecorder

func (r Recorders) RecordPlacement(ctx context.Context, runID string, outcome domain.PlacementOutcome) error {
	var errs []error
	for _, rec := range r {
		if rec == nil {
			continue
		}
		if err := rec.RecordPlacement(ctx, runID, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r Recorders) RecordFulfillment(ctx context.Context, runID string, outcome domain.FulfillmentOutcome) error {
	var errs []error
	for _, rec := range r {
		if rec == nil {
			continue
		}
		if err := rec.RecordFulfillment(ctx, runID, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
