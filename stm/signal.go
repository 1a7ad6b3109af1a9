package stm

import (
	"context"
	"sync"
	"time"
)

// signal is fired once when an attempt of a context ends, committed or rolled back. Other contexts
// park on it instead of spinning.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) fire() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// waitResult tells why a wait returned.
type waitResult int

const (
	waitTimeout waitResult = iota
	waitWoken
	waitCanceled
)

// wait parks until other's current attempt ends, timeout passes or ctx is done. A nil other only
// sleeps.
func wait(ctx context.Context, other *Txn, timeout time.Duration) waitResult {
	if ctx.Err() != nil {
		return waitCanceled
	}
	var done <-chan struct{}
	if other != nil {
		if s := other.done.Load(); s != nil {
			done = s.ch
		}
	}
	if timeout <= 0 {
		return waitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return waitWoken
	case <-timer.C:
		return waitTimeout
	case <-ctx.Done():
		return waitCanceled
	}
}
