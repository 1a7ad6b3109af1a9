package stm

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transfer(a, b *Cell[int64], amount int64) Block {
	return func(tx *Txn) error {
		x, err := a.Read(tx)
		if err != nil {
			return err
		}
		if x < amount {
			return nil
		}
		y, err := b.Read(tx)
		if err != nil {
			return err
		}
		if err := a.Write(tx, x-amount); err != nil {
			return err
		}
		return b.Write(tx, y+amount)
	}
}

func TestTransfer(t *testing.T) {
	e := newTestEngine()
	a := MustNewCell(e, int64(1000))
	b := MustNewCell(e, int64(0))
	tx := e.NewTxn()

	require.Nil(t, tx.Atomic(transfer(a, b, 100)))
	assert.Equal(t, int64(900), a.Load())
	assert.Equal(t, int64(100), b.Load())
	assert.Equal(t, 1, tx.Attempt())
	assertUnregistered(t, a)
	assertUnregistered(t, b)
}

func TestTransferInsufficient(t *testing.T) {
	e := newTestEngine()
	a := MustNewCell(e, int64(1000))
	b := MustNewCell(e, int64(0))

	require.Nil(t, e.Atomic(transfer(a, b, 2000)))
	assert.Equal(t, int64(1000), a.Load())
	assert.Equal(t, int64(0), b.Load())
	assertUnregistered(t, a)
}

func TestRetryOutsideBlock(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, ErrNoActiveTransaction, e.NewTxn().Retry())
	var tx *Txn
	assert.Equal(t, ErrNoActiveTransaction, tx.Retry())
}

func TestOrElseDiscardsWrites(t *testing.T) {
	e := newTestEngine()
	a := MustNewCell(e, 0)
	b := MustNewCell(e, 0)
	tx := e.NewTxn()

	var branches []int
	err := tx.Atomic(func(tx *Txn) error {
		branches = append(branches, 1)
		if _, err := a.Read(tx); err != nil {
			return err
		}
		if err := b.Write(tx, 1); err != nil {
			return err
		}
		return tx.Retry()
	}, OrAtomic(func(tx *Txn) error {
		branches = append(branches, 2)
		// The first branch's write is gone, its read is still tracked.
		v, err := b.Read(tx)
		if err != nil {
			return err
		}
		assert.Equal(t, 0, v)
		assert.Equal(t, 0, b.writers.len())
		ra := tx.lookup(a.key)
		require.NotNil(t, ra)
		assert.True(t, ra.read)
		return tx.Retry()
	}, func(tx *Txn) error {
		branches = append(branches, 3)
		return a.Write(tx, 3)
	})...)
	require.Nil(t, err)
	assert.Equal(t, []int{1, 2, 3}, branches)
	assert.Equal(t, 3, a.Load())
	assert.Equal(t, 0, b.Load())
	assert.Equal(t, 1, tx.Attempt())
	assertUnregistered(t, a)
	assertUnregistered(t, b)
}

func TestRetryWaitsForWriter(t *testing.T) {
	e := newTestEngine()
	ready := MustNewCell(e, false)
	out := MustNewCell(e, 0)

	done := make(chan error, 1)
	go func() {
		done <- e.Atomic(func(tx *Txn) error {
			ok, err := ready.Read(tx)
			if err != nil {
				return err
			}
			if !ok {
				return tx.Retry()
			}
			return out.Write(tx, 1)
		})
	}()

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, out.Load())
	require.Nil(t, e.Atomic(func(tx *Txn) error {
		return ready.Write(tx, true)
	}))

	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("retrying transaction never finished")
	}
	assert.Equal(t, 1, out.Load())
	assertUnregistered(t, ready)
}

// collideWith commits v into c from another context while the caller's block is running.
func collideWith(t *testing.T, e *Engine, c *Cell[int], v int) {
	require.Nil(t, e.Atomic(func(tx *Txn) error {
		return c.Write(tx, v)
	}))
}

func TestCollisionReruns(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 0)
	tx := e.NewTxn()

	err := tx.Atomic(func(tx *Txn) error {
		v, err := c.Read(tx)
		if err != nil {
			return err
		}
		if tx.Attempt() == 1 {
			collideWith(t, e, c, 10)
		}
		return c.Write(tx, v+1)
	})
	require.Nil(t, err)
	assert.Equal(t, 2, tx.Attempt())
	// The update of the other context is not lost.
	assert.Equal(t, 11, c.Load())
	assertUnregistered(t, c)
}

func TestCollisionBeatsRetry(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 0)
	tx := e.NewTxn()

	alternatives := 0
	err := tx.Atomic(func(tx *Txn) error {
		if _, err := c.Read(tx); err != nil {
			return err
		}
		if tx.Attempt() == 1 {
			collideWith(t, e, c, 5)
			return tx.Retry()
		}
		return nil
	}, func(tx *Txn) error {
		alternatives++
		return nil
	})
	require.Nil(t, err)
	assert.Equal(t, 0, alternatives)
	assert.Equal(t, 2, tx.Attempt())
	assert.Equal(t, 5, c.Load())
}

func TestBlockError(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 1)
	errBoom := errors.New("boom")

	before := metricValue(txnCounter.WithLabelValues("error"))
	runs := 0
	err := e.Atomic(func(tx *Txn) error {
		runs++
		if err := c.Write(tx, 2); err != nil {
			return err
		}
		return errBoom
	})
	assert.Equal(t, errBoom, errors.Cause(err))
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, c.Load())
	assert.Equal(t, before+1, metricValue(txnCounter.WithLabelValues("error")))
	assertUnregistered(t, c)
}

func TestBlockPanic(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 1)
	tx := e.NewTxn()

	before := metricValue(txnCounter.WithLabelValues("panic"))
	assert.PanicsWithValue(t, "boom", func() {
		_ = tx.Atomic(func(tx *Txn) error {
			if _, err := c.Read(tx); err != nil {
				return err
			}
			if err := c.Write(tx, 2); err != nil {
				return err
			}
			panic("boom")
		})
	})
	assert.Equal(t, 1, c.Load())
	assert.Equal(t, before+1, metricValue(txnCounter.WithLabelValues("panic")))
	assertUnregistered(t, c)

	// The context is usable again.
	require.Nil(t, tx.Atomic(func(tx *Txn) error {
		return c.Write(tx, 3)
	}))
	assert.Equal(t, 3, c.Load())
}

func TestCollidedPanicReruns(t *testing.T) {
	e := newTestEngine()
	// Every commit keeps len(items) == n.
	n := MustNewCell(e, 1)
	items := MustNewCell(e, []int{7})
	tx := e.NewTxn()

	before := metricValue(txnCounter.WithLabelValues("panic"))
	var got int
	assert.NotPanics(t, func() {
		err := tx.Atomic(func(tx *Txn) error {
			xs, err := items.Read(tx)
			if err != nil {
				return err
			}
			if tx.Attempt() == 1 {
				require.Nil(t, e.Atomic(func(tx *Txn) error {
					if err := n.Write(tx, 2); err != nil {
						return err
					}
					return items.Write(tx, []int{7, 8})
				}))
			}
			k, err := n.Read(tx)
			if err != nil {
				return err
			}
			// Out of range on the first attempt, which mixes two commits.
			got = xs[k-1]
			return nil
		})
		require.Nil(t, err)
	})
	assert.Equal(t, 8, got)
	assert.Equal(t, 2, tx.Attempt())
	assert.Equal(t, before, metricValue(txnCounter.WithLabelValues("panic")))
	assertUnregistered(t, n)
	assertUnregistered(t, items)
}

func TestGoexitInBlock(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 1)
	tx := e.NewTxn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tx.Atomic(func(tx *Txn) error {
			if _, err := c.Read(tx); err != nil {
				return err
			}
			if err := c.Write(tx, 2); err != nil {
				return err
			}
			runtime.Goexit()
			return nil
		})
	}()
	<-done

	assert.Equal(t, stateIdle, tx.state)
	assert.False(t, tx.busy.Load())
	assert.Equal(t, 1, c.Load())
	assertUnregistered(t, c)

	require.Nil(t, tx.Atomic(func(tx *Txn) error {
		return c.Write(tx, 3)
	}))
	assert.Equal(t, 3, c.Load())
}

func TestTxnInUse(t *testing.T) {
	e := newTestEngine()
	tx := e.NewTxn()

	err := tx.Atomic(func(inner *Txn) error {
		return tx.Atomic(func(*Txn) error {
			return nil
		})
	})
	assert.Equal(t, ErrTxnInUse, errors.Cause(err))
}

func TestAtomicContextCanceled(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, false)

	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	err := e.AtomicContext(ctx, func(tx *Txn) error {
		runs++
		if runs == 3 {
			cancel()
		}
		ok, err := c.Read(tx)
		if err != nil {
			return err
		}
		if !ok {
			return tx.Retry()
		}
		return nil
	})
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, 3, runs)
	assertUnregistered(t, c)
}
