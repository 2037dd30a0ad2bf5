package spanlock

import (
	"math/rand/v2"
	"time"
)

const (
	waitBackoffMultiplier = 1.5
	// waitBackoffMaxFactor caps the grown interval at a multiple of the
	// configured base, so a long contention spell never sleeps unbounded.
	waitBackoffMaxFactor = 20
)

// waitBackoff produces the WAITING sleep intervals: multiplicative growth
// with additive random jitter. The jitter desynchronises clients that all
// observed a fresh claim at the same instant, so their next claim attempts
// do not land in one thundering herd.
type waitBackoff struct {
	next   time.Duration
	max    time.Duration
	unit   time.Duration
	jitter func(max time.Duration) time.Duration
}

func newWaitBackoff(interval time.Duration) *waitBackoff {
	return &waitBackoff{
		next:   interval,
		max:    waitBackoffMaxFactor * interval,
		unit:   interval / 5,
		jitter: randomJitter,
	}
}

// Next returns the duration to sleep before the next scheduler pass and
// advances the growth state.
func (b *waitBackoff) Next() time.Duration {
	sleep := b.next + b.jitter(b.unit)
	grown := time.Duration(float64(b.next) * waitBackoffMultiplier)
	if grown > b.max {
		grown = b.max
	}
	b.next = grown
	return sleep
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
