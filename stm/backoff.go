package stm

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// backoffer yields base*2^n for the n-th consecutive failed attempt, clamped to max. A zero max means
// unbounded, in which case the delay saturates at the largest time.Duration.
type backoffer struct {
	exp *backoff.ExponentialBackOff
	n   int
}

func newBackoff(base, max time.Duration) *backoffer {
	if max <= 0 {
		max = time.Duration(math.MaxInt64)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = max
	// Attempts are never abandoned on elapsed time.
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &backoffer{exp: exp}
}

func (b *backoffer) next() time.Duration {
	b.n++
	d := b.exp.NextBackOff()
	if d < 0 {
		return 0
	}
	return d
}

func (b *backoffer) reset() {
	b.exp.Reset()
	b.n = 0
}

// attempts is the number of delays handed out since the last reset.
func (b *backoffer) attempts() int {
	return b.n
}
