package worker

import (
	"math"
	"math/rand"
	"time"
)

type RetryPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Base:   2 * time.Second,
	Max:    5 * time.Minute,
	Jitter: 250 * time.Millisecond,
}

// Backoff is the delay before attempt+1, given that attempt (1-based) failed.
// attempt=1 => Base, attempt=2 => 2*Base, ... capped at Max, plus jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Max
	if f := float64(p.Base) * math.Pow(2, float64(attempt-1)); f < float64(p.Max) {
		delay = time.Duration(f)
	}

	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return delay
}
