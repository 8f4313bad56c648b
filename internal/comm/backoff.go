package comm

import (
	"math/rand"
	"time"
)

const (
	backoffInitial    = 250 * time.Millisecond
	backoffMax        = 5 * time.Second
	backoffMultiplier = 2.0
)

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the wait before the next dial attempt and doubles the base.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter so peers started together do not dial in lockstep.
	d += time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}
