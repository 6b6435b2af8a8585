package resilience

import (
	"cmp"
	"time"
)

// Config tunes retries and the per-operation circuit breakers.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 200 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Second,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = cmp.Or(max(out.RetryMaxAttempts, 0), def.RetryMaxAttempts)
	out.RetryInitialBackoff = cmp.Or(max(out.RetryInitialBackoff, 0), def.RetryInitialBackoff)
	out.RetryMaxBackoff = max(cmp.Or(max(out.RetryMaxBackoff, 0), def.RetryMaxBackoff), out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	out.BreakerMinRequests = cmp.Or(out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = cmp.Or(max(out.BreakerOpenTimeout, 0), def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = cmp.Or(out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)

	return out
}
