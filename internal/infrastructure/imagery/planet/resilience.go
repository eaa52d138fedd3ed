package planet

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
	"github.com/kirillkom/imagery-acquisition/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "planet status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("planet %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("planet %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// newHTTPStatusError wraps a non-2xx response: 429 as rate limited, anything
// else as a temporary failure the stages may retry.
func newHTTPStatusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	statusErr := &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.WrapError(domain.ErrRateLimited, "planet "+operation, statusErr)
	}
	return domain.WrapError(domain.ErrTemporary, "planet "+operation, statusErr)
}

// vendorPolicies is the per-call retry table. Only rate limiting is retried
// here; every other kind is surfaced for the calling stage to decide.
var vendorPolicies = map[domain.ErrorKind]resilience.ErrorClassification{
	domain.KindRateLimited: {Retryable: true, Unbounded: true, RecordFailure: false},
	domain.KindTemporary:   {Retryable: false, RecordFailure: true},
	domain.KindCanceled:    {Retryable: false, RecordFailure: false},
}

func classifyVendorError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if isClientError(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if class, ok := vendorPolicies[domain.KindOf(err)]; ok {
		return class
	}
	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// isClientError reports a 4xx other than 429. Those describe one request (an
// expired asset link, a rejected order) and must not trip the shared breaker.
func isClientError(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	code := statusErr.StatusCode
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if resilience.IsCircuitOpen(err) && !domain.IsKind(err, domain.ErrTemporary) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
