package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// StatusError is returned when the embedding endpoint answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding: API returned status %d: %s", e.Code, e.Body)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// withRetry runs op with exponential backoff. Retrying is the provider's
// job; callers of a Provider see only the final error.
func withRetry(ctx context.Context, attempts int, delayMS int, op func() error) error {
	if attempts <= 1 {
		return op()
	}
	delay := time.Duration(delayMS) * time.Millisecond
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(delay),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
	)
}
