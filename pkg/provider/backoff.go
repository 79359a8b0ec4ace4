package provider

import (
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultBaseBackoff = time.Second
	defaultMaxJitter   = time.Second
	defaultMaxRetries  = 3
)

// jitteredExponential doubles from base on every retry, adds a uniform jitter
// in [0, maxJitter) and stops after maxRetries retries.
func jitteredExponential(base, maxJitter time.Duration, maxRetries uint64) retry.Backoff {
	if base <= 0 {
		base = defaultBaseBackoff
	}
	return retry.WithMaxRetries(maxRetries, withPositiveJitter(maxJitter, retry.NewExponential(base)))
}

func withPositiveJitter(maxJitter time.Duration, next retry.Backoff) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		val, stop := next.Next()
		if stop {
			return 0, true
		}
		if maxJitter > 0 {
			val += rand.N(maxJitter)
		}
		return val, false
	})
}
