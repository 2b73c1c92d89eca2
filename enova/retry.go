package enova

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy controls how API calls are retried on 429 and 5xx
// responses. Backoff is linear: attempt n sleeps n * Backoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy matches the Enova API rate-limit guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
}

// retryable reports whether the status code warrants another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Do runs fn up to MaxAttempts times, retrying only when fn reports a
// retryable status. fn returns the response status (0 on transport
// error) and an error; a nil error ends the loop.
func (p RetryPolicy) Do(logger *zap.Logger, fn func() (int, error)) error {
	var err error
	var status int
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		status, err = fn()
		if err == nil {
			return nil
		}
		if status != 0 && !retryable(status) {
			return err
		}
		if attempt < p.MaxAttempts {
			wait := time.Duration(attempt) * p.Backoff
			logger.Warn("retrying API call",
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Duration("wait", wait),
				zap.Error(err))
			time.Sleep(wait)
		}
	}
	return err
}
