package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrTemporary           = errors.New("temporary failure")
	ErrNoImagery           = errors.New("no imagery available")
	ErrOrderFailed         = errors.New("order failed")
	ErrPollBudgetExhausted = errors.New("poll budget exhausted")
)

// ErrorKind names a failure class that retry policies are keyed on.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindRateLimited         ErrorKind = "rate_limited"
	KindTemporary           ErrorKind = "temporary"
	KindNoImagery           ErrorKind = "no_imagery"
	KindOrderFailed         ErrorKind = "order_failed"
	KindPollBudgetExhausted ErrorKind = "poll_budget_exhausted"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindCanceled            ErrorKind = "canceled"
	KindUnknown             ErrorKind = "unknown"
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindOf maps err onto the failure class it belongs to. Explicit domain kinds
// win over context errors so that an HTTP client timeout wrapped as a temporary
// failure is retried, while a bare cancellation is not.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrNoImagery):
		return KindNoImagery
	case errors.Is(err, ErrOrderFailed):
		return KindOrderFailed
	case errors.Is(err, ErrPollBudgetExhausted):
		return KindPollBudgetExhausted
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTemporary):
		return KindTemporary
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}
