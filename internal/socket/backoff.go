package socket

import (
	"math"
	"math/rand"
	"time"
)

// stableConnection is how long a connection must live before the attempt
// counter resets, so a flapping link still walks up the backoff curve.
const stableConnection = 60 * time.Second

// reconnector computes capped exponential backoff with jitter for
// reconnect attempts. Not goroutine safe; owned by the manager's connect
// loop.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(base, max time.Duration, maxAttempts int) *reconnector {
	return &reconnector{
		baseDelay:   base,
		maxDelay:    max,
		maxAttempts: maxAttempts,
	}
}

// shouldReconnect reports whether another attempt is allowed.
// maxAttempts <= 0 means unbounded.
func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts <= 0 || r.attempt < r.maxAttempts
}

// markConnected records a successful connection.
func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay returns the delay before the next attempt and advances the
// attempt counter.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > stableConnection {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
