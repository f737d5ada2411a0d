// Package backoff implements the exponential delay schedule used by token
// renewal loops: a configurable initial delay grows by a multiplier up to a
// cap, and resets after a success.
package backoff

import "time"

type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration

	current time.Duration
}

// New returns a schedule with the renewal-loop defaults: 1s initial delay,
// ×1.5 growth, capped at 60s.
func New() *Backoff {
	return &Backoff{Initial: time.Second, Multiplier: 1.5, Max: 60 * time.Second}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	} else {
		b.current = time.Duration(float64(b.current) * b.Multiplier)
	}
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Reset rewinds the schedule to its initial delay.
func (b *Backoff) Reset() {
	b.current = 0
}
