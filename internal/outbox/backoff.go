package outbox

import (
	"math"
	"time"
)

// Backoff computes retry delays: min(InitialDelay × Multiplier^retryCount, MaxDelay)
// spread by ±JitterFactor.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultBackoff returns the default retry policy.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
}

// Delay returns the delay before attempt retryCount+1. r is a uniform random
// number in [0, 1); 0.5 yields the un-jittered delay.
func (b Backoff) Delay(retryCount int, r float64) time.Duration {
	base := float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(retryCount))
	if base > float64(b.MaxDelay) || math.IsInf(base, 1) {
		base = float64(b.MaxDelay)
	}
	d := base * (1 + b.JitterFactor*(2*r-1))
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}
