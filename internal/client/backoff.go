package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectPolicy yields min(base*2^(attempt-1), max) for attempts 1..maxAttempts.
// maxAttempts <= 0 means unbounded.
type reconnectPolicy struct {
	maxAttempts int
	attempt     int
	b           *backoff.ExponentialBackOff
}

func newReconnectPolicy(base, max time.Duration, maxAttempts int) *reconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnectPolicy{maxAttempts: maxAttempts, b: b}
}

// next consumes one attempt. ok is false once the bound is reached.
func (p *reconnectPolicy) next() (delay time.Duration, attempt int, ok bool) {
	if p.maxAttempts > 0 && p.attempt >= p.maxAttempts {
		return 0, p.attempt, false
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, p.attempt, false
	}
	p.attempt++
	return d, p.attempt, true
}

func (p *reconnectPolicy) reset() {
	p.attempt = 0
	p.b.Reset()
}
