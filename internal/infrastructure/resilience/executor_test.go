package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	n, err := exec.ExecuteAttempts(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 || n != 3 {
		t.Fatalf("expected 3 attempts, got %d (reported %d)", attempts, n)
	}
}

func TestExecuteStopsAtMaxAttempts(t *testing.T) {
	rec := &sleepRecorder{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     time.Second,
		Sleep:               rec.sleep,
	})

	errTemp := errors.New("temporary")
	calls := 0
	n, err := exec.ExecuteAttempts(context.Background(), "op", func(context.Context) error {
		calls++
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if calls != 3 || n != 3 {
		t.Fatalf("expected 3 calls, got %d (reported %d)", calls, n)
	}
	if len(rec.waits) != 2 {
		t.Fatalf("expected 2 waits between 3 attempts, got %d", len(rec.waits))
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteUnboundedRetryUsesCappedExponentialBackoff(t *testing.T) {
	rec := &sleepRecorder{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     10 * time.Second,
		RetryMultiplier:     2,
		Sleep:               rec.sleep,
	})

	errLimited := errors.New("429")
	calls := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		calls++
		if calls <= 7 {
			return errLimited
		}
		return nil
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, Unbounded: true}
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 8 {
		t.Fatalf("expected 8 calls past the attempt limit, got %d", calls)
	}

	want := []time.Duration{1, 2, 4, 8, 10, 10, 10}
	if len(rec.waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), rec.waits)
	}
	for i, w := range want {
		if rec.waits[i] != w*time.Second {
			t.Fatalf("wait %d: expected %v, got %v", i, w*time.Second, rec.waits[i])
		}
	}
}

func TestExecuteStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := NewExecutor(Config{
		RetryInitialBackoff: time.Millisecond,
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	})

	errLimited := errors.New("429")
	calls := 0
	err := exec.Execute(ctx, "op", func(context.Context) error {
		calls++
		return errLimited
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, Unbounded: true}
	})
	if !errors.Is(err, errLimited) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatal("expected IsCircuitOpen to report true")
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := (TimerSleeper{}).Sleep(context.Background(), 0); err != nil {
		t.Fatalf("expected nil for zero wait, got %v", err)
	}
}
