package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the exponential retry schedule: the interval
// doubles each attempt from BaseInterval up to MaxInterval, with a
// random jitter factor spread across agents so retries from parallel CI
// jobs do not align.
type BackoffConfig struct {
	// BaseInterval is the delay before the first retry.
	// Default is DefaultRetryInterval (5 minutes).
	BaseInterval time.Duration

	// MaxInterval caps the delay between retries. Default is 48 hours.
	MaxInterval time.Duration

	// Jitter scales each interval by a random factor in
	// [1-Jitter, 1+Jitter]. 0 disables it. Default is 0.1.
	Jitter float64
}

// DefaultBackoffConfig returns the default schedule: 5m base doubling
// to a 48h cap with 10% jitter.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		BaseInterval: DefaultRetryInterval,
		MaxInterval:  48 * time.Hour,
		Jitter:       0.1,
	}
}

// NextRetry returns when the given attempt should run, counted from now.
func (c *BackoffConfig) NextRetry(attempts int) time.Time {
	return time.Now().Add(c.interval(attempts))
}

func (c *BackoffConfig) interval(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	d := time.Duration(float64(c.BaseInterval) * math.Pow(2, float64(attempts-1)))
	if c.MaxInterval > 0 && d > c.MaxInterval {
		d = c.MaxInterval
	}

	if c.Jitter > 0 {
		j := min(c.Jitter, 1)
		d = time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*j))
	}
	return d
}

// RetrySchedule returns the jitter-free intervals for maxAttempts
// attempts, for logging the expected schedule.
func (c *BackoffConfig) RetrySchedule(maxAttempts int) []time.Duration {
	if maxAttempts <= 0 {
		return nil
	}
	preview := *c
	preview.Jitter = 0

	schedule := make([]time.Duration, maxAttempts)
	for i := range schedule {
		schedule[i] = preview.interval(i + 1)
	}
	return schedule
}
