package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/core/ports"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/resilience"
)

// stagePolicies decides, per failure kind, whether a whole placement attempt or
// an order poll is repeated. 429s are absorbed by the imagery client first.
var stagePolicies = map[domain.ErrorKind]resilience.ErrorClassification{
	domain.KindRateLimited:         {Retryable: true, RecordFailure: false},
	domain.KindTemporary:           {Retryable: true, RecordFailure: true},
	domain.KindUnknown:             {Retryable: true, RecordFailure: true},
	domain.KindNoImagery:           {Retryable: false, RecordFailure: false},
	domain.KindOrderFailed:         {Retryable: false, RecordFailure: true},
	domain.KindPollBudgetExhausted: {Retryable: false, RecordFailure: true},
	domain.KindInvalidInput:        {Retryable: false, RecordFailure: false},
	domain.KindCanceled:            {Retryable: false, RecordFailure: false},
}

func classifyStageError(err error) resilience.ErrorClassification {
	return stagePolicies[domain.KindOf(err)]
}

func newStageExecutor(attempts int, backoff time.Duration, sleeper ports.Sleeper) *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: backoff,
		RetryMaxBackoff:     backoff,
		RetryMultiplier:     1,
		BreakerEnabled:      false,
		Sleep:               sleeper.Sleep,
	})
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || domain.KindOf(err) == domain.KindCanceled
}

// forEach runs fn for indexes [0, n) on up to workers goroutines. With one
// worker the calls happen in order on the caller's goroutine.
func forEach(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) error {
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
