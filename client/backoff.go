package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryWithExponentialBackoff keeps calling fn with exponentially
// growing pauses until it succeeds or the overall timeout elapses.
func RetryWithExponentialBackoff(fn func() error, timeout time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	return backoff.Retry(fn, policy)
}
