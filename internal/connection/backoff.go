package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
)

// reconnectPolicy yields doubling delays capped at a ceiling, without jitter,
// so consecutive delays never decrease until Reset.
type reconnectPolicy struct {
	b *backoff.ExponentialBackOff
}

func newReconnectPolicy(initial, ceiling time.Duration) *reconnectPolicy {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if ceiling < initial {
		ceiling = initial
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnectPolicy{b: b}
}

// Next returns the delay before the next attempt and advances the policy.
func (p *reconnectPolicy) Next() time.Duration {
	// MaxElapsedTime is zero, so backoff.Stop is never returned.
	return p.b.NextBackOff()
}

// Reset rewinds to the initial delay.
func (p *reconnectPolicy) Reset() {
	p.b.Reset()
}
