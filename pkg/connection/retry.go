package connection

import (
	"math"
	"math/rand"
	"time"

	"github.com/voltstream/voltstream.go/pkg/constants"
)

// Retryer decides how long to wait between reconnect attempts.
type Retryer interface {
	// NextDelay returns the delay before the next attempt. attempt is
	// 0-based. The second return value is false when no further attempt
	// should be made.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset clears any retry state. Called after a successful connect.
	Reset()
}

// ExponentialBackoffRetryer implements exponential backoff with jitter.
type ExponentialBackoffRetryer struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// MaxRetries bounds the number of attempts (0 for infinite).
	MaxRetries int

	// Jitter adds randomness to the delay to avoid thundering herd.
	Jitter bool

	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

// NewExponentialBackoffRetryer creates an exponential backoff retryer with
// defaults suitable for the realtime connection.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 1 * time.Second,
		MaxDelay:     constants.MaxReconnectInterval,
		Multiplier:   2.0,
		MaxRetries:   0, // reconnect forever
		Jitter:       true,
		JitterFactor: 0.3,
	}
}

// NextDelay implements Retryer
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.Jitter && r.JitterFactor > 0 {
		//nolint:gosec // math/rand is fine for jitter, not security-critical
		jitter := delay * r.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

// Reset implements Retryer
func (r *ExponentialBackoffRetryer) Reset() {
	// No state to reset for exponential backoff
}

// FixedDelayRetryer retries on a constant interval.
type FixedDelayRetryer struct {
	// Delay is the fixed delay between retries.
	Delay time.Duration

	// MaxRetries bounds the number of attempts (0 for infinite).
	MaxRetries int
}

// NewFixedDelayRetryer creates a fixed delay retryer.
func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// NextDelay implements Retryer
func (r *FixedDelayRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Reset implements Retryer
func (r *FixedDelayRetryer) Reset() {
	// No state to reset for fixed delay
}
