package control

import (
	"math/rand"
	"time"
)

// Defaults for retry spacing of requester-role transactions.
const (
	// InitialRetryDelay is the first retransmission delay.
	InitialRetryDelay = 2 * time.Second

	// MaxRetryDelay caps the retransmission delay.
	MaxRetryDelay = 30 * time.Second

	// RetryMultiplier is the factor by which the delay grows.
	RetryMultiplier = 2.0

	// RetryJitterFactor is the maximum jitter as a fraction of the delay.
	RetryJitterFactor = 0.25
)

// Backoff produces exponentially growing retransmission delays with
// jitter. It is used by the transaction tracker to space retries of
// commands such as Discovery Notify.
type Backoff struct {
	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	rng        *rand.Rand
}

// NewBackoff creates a backoff starting at initial and capped at max.
// Non-positive arguments select the defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = InitialRetryDelay
	}
	if max <= 0 {
		max = MaxRetryDelay
	}
	return &Backoff{
		current:    initial,
		initial:    initial,
		max:        max,
		multiplier: RetryMultiplier,
		jitter:     RetryJitterFactor,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay to wait before the next attempt and advances
// the backoff.
func (b *Backoff) Next() time.Duration {
	delay := b.addJitter(b.current)

	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns the backoff to its initial delay, called after a
// successful exchange.
func (b *Backoff) Reset() {
	b.current = b.initial
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
