package stm

import (
	"context"
	"time"

	"github.com/google/btree"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Block is the body of an atomic block. Cells are read and written through tx. Returning tx.Retry()
// abandons the attempt; returning any other error aborts the transaction and hands the error to the
// caller of Atomic.
type Block func(tx *Txn) error

// OrAtomic lists alternatives for Atomic: tx.Atomic(first, OrAtomic(second, third)...).
func OrAtomic(blocks ...Block) []Block {
	return blocks
}

type txnState int

const (
	stateIdle txnState = iota
	stateRunning
	stateValidating
	stateLocking
	stateCommitting
	stateAborting
)

type outcome int

const (
	committed outcome = iota
	aborted
	failed
)

// access is what a context knows about one cell during an attempt.
type access struct {
	key     *AccessorKey
	read    bool // registered as a reader
	written bool // registered as a writer, pending holds the value
	pending interface{}
}

func accessLess(a, b *access) bool {
	return a.key.Less(b.key)
}

// Txn is a transaction context. It is owned by one goroutine at a time and reused for all atomic
// blocks that goroutine runs. Everything but the collision flag and the completion signal is only
// touched by the owner.
type Txn struct {
	id     uint64
	engine *Engine
	logger *zap.Logger

	busy  atomic.Bool
	state txnState
	// attempt counts attempts of the current Atomic call, starting at 1.
	attempt int
	// retried is set by Retry in the running branch.
	retried bool
	// collided is set by other contexts committing a cell this one touched.
	collided atomic.Bool
	// done fires when the current attempt ends.
	done atomic.Pointer[signal]

	// access is the union of the read set and the write buffer, ordered by key id which is the lock
	// order.
	access  *btree.BTreeG[*access]
	probe   access
	locked  []*AccessorKey
	dropped []*access

	bo *backoffer
}

func newTxn(e *Engine) *Txn {
	id := e.txnIDs.Inc()
	return &Txn{
		id:     id,
		engine: e,
		logger: e.logger.With(zap.Uint64("txn", id)),
		access: btree.NewG(8, accessLess),
		bo:     newBackoff(e.cfg.BackoffBase.Duration, e.cfg.BackoffMax.Duration),
	}
}

func (tx *Txn) ID() uint64 {
	return tx.id
}

// Attempt returns the number of the running attempt, starting at 1.
func (tx *Txn) Attempt() int {
	return tx.attempt
}

// Retry abandons the running branch. The block must return the result:
//
//	if balance < amount {
//		return tx.Retry()
//	}
//
// The next alternative passed to Atomic runs in its place. When there is none left the whole block
// is run again after a backoff delay, or earlier if a context writing one of the cells read by the
// block finishes its attempt.
func (tx *Txn) Retry() error {
	if tx == nil || tx.state != stateRunning {
		return ErrNoActiveTransaction
	}
	tx.retried = true
	return ErrRetry
}

// Atomic runs block as one transaction and returns once it has committed. orElse are alternatives
// tried in order when the previous one calls Retry.
func (tx *Txn) Atomic(block Block, orElse ...Block) error {
	return tx.AtomicContext(context.Background(), block, orElse...)
}

// AtomicContext is Atomic whose waits between attempts end when ctx is done.
func (tx *Txn) AtomicContext(ctx context.Context, block Block, orElse ...Block) error {
	if !tx.busy.CompareAndSwap(false, true) {
		return ErrTxnInUse
	}
	defer tx.busy.Store(false)

	branches := make([]Block, 0, 1+len(orElse))
	branches = append(branches, block)
	branches = append(branches, orElse...)

	tx.bo.reset()
	tx.attempt = 0
	for {
		tx.attempt++
		res, waitFor, err := tx.attemptOnce(branches)
		switch res {
		case committed:
			txnCounter.WithLabelValues("commit").Inc()
			attemptHistogram.Observe(float64(tx.attempt))
			return nil
		case failed:
			txnCounter.WithLabelValues("error").Inc()
			return err
		}

		delay := tx.bo.next()
		if n := tx.engine.cfg.StarvingAttempts; n > 0 && tx.attempt%n == 0 {
			tx.logger.Warn("transaction keeps failing",
				zap.Int("attempts", tx.attempt), zap.Duration("backoff", delay))
		}
		start := time.Now()
		r := wait(ctx, waitFor, delay)
		backoffHistogram.Observe(time.Since(start).Seconds())
		if r == waitCanceled {
			txnCounter.WithLabelValues("canceled").Inc()
			return errors.Trace(ctx.Err())
		}
	}
}

// attemptOnce runs one attempt and leaves the context idle however the block exits. A panic from an
// attempt that has already collided is dropped and the attempt counts as a collision: the block was
// looking at values from different commits. Any other panic is passed on.
func (tx *Txn) attemptOnce(branches []Block) (res outcome, waitFor *Txn, err error) {
	completed := false
	defer func() {
		if completed {
			return
		}
		r := recover()
		if r != nil && tx.collided.Load() {
			tx.debug("collided attempt panicked", zap.Any("panic", r))
			abortCounter.WithLabelValues("collision").Inc()
			tx.abort()
			res, waitFor, err = aborted, nil, nil
			return
		}
		// Also reached by runtime.Goexit, where r is nil and the goroutine keeps unwinding.
		tx.abort()
		if r != nil {
			txnCounter.WithLabelValues("panic").Inc()
			panic(r)
		}
	}()
	res, waitFor, err = tx.run(branches)
	completed = true
	return
}

// run executes one attempt of the branch chain. For an aborted attempt ended by Retry it also returns
// a context worth waiting for.
func (tx *Txn) run(branches []Block) (outcome, *Txn, error) {
	tx.begin()
	for i, branch := range branches {
		tx.retried = false
		err := branch(tx)
		// A collision always reruns the whole chain, whatever the branch returned.
		if tx.collided.Load() {
			tx.debug("collision while running", zap.Int("branch", i))
			abortCounter.WithLabelValues("collision").Inc()
			tx.abort()
			return aborted, nil, nil
		}
		if tx.retried {
			if i < len(branches)-1 {
				tx.debug("branch retried, trying alternative", zap.Int("branch", i))
				tx.discardWrites()
				continue
			}
			tx.debug("all branches retried", zap.Int("branches", len(branches)))
			abortCounter.WithLabelValues("retry").Inc()
			waitFor := tx.writerOfReads()
			tx.abort()
			return aborted, waitFor, nil
		}
		if err != nil {
			tx.abort()
			return failed, nil, errors.Trace(err)
		}
		return tx.commit(), nil, nil
	}
	panic("unreachable")
}

func (tx *Txn) begin() {
	tx.collided.Store(false)
	tx.access.Clear(true)
	tx.done.Store(newSignal())
	tx.state = stateRunning
}

// commit validates, locks every touched cell in key order, validates again, applies the write
// buffer and unlocks.
func (tx *Txn) commit() outcome {
	tx.state = stateValidating
	if tx.collided.Load() {
		tx.debug("collision before locking")
		abortCounter.WithLabelValues("collision").Inc()
		tx.abort()
		return aborted
	}

	start := time.Now()
	tx.state = stateLocking
	tx.access.Ascend(func(a *access) bool {
		a.key.cell.lock(tx)
		tx.locked = append(tx.locked, a.key)
		return true
	})
	// A committer may have slipped in between the check above and taking the locks.
	if tx.collided.Load() {
		tx.debug("collision while locking")
		abortCounter.WithLabelValues("collision").Inc()
		tx.abort()
		return aborted
	}

	tx.state = stateCommitting
	tx.access.Ascend(func(a *access) bool {
		if a.written {
			a.key.cell.commit(tx, a.pending)
		} else {
			a.key.cell.rollback(tx)
		}
		return true
	})
	tx.unlockAll()
	commitHistogram.Observe(time.Since(start).Seconds())
	tx.finish()
	return committed
}

// abort releases held locks, forgets every registration and ends the attempt.
func (tx *Txn) abort() {
	if tx.state == stateIdle {
		return
	}
	tx.state = stateAborting
	tx.unlockAll()
	tx.access.Ascend(func(a *access) bool {
		a.key.cell.rollback(tx)
		return true
	})
	tx.finish()
}

func (tx *Txn) finish() {
	tx.access.Clear(true)
	tx.state = stateIdle
	if s := tx.done.Load(); s != nil {
		s.fire()
	}
}

func (tx *Txn) unlockAll() {
	for i := len(tx.locked) - 1; i >= 0; i-- {
		tx.locked[i].cell.unlock()
		tx.locked[i] = nil
	}
	tx.locked = tx.locked[:0]
}

// discardWrites drops the write buffer of a retried branch. Reads stay registered, so a change to
// anything the branch saw still makes the chain rerun.
func (tx *Txn) discardWrites() {
	tx.access.Ascend(func(a *access) bool {
		if a.written {
			a.key.cell.discard(tx)
			a.written = false
			a.pending = nil
			if !a.read {
				tx.dropped = append(tx.dropped, a)
			}
		}
		return true
	})
	for i, a := range tx.dropped {
		tx.access.Delete(a)
		tx.dropped[i] = nil
	}
	tx.dropped = tx.dropped[:0]
}

// writerOfReads returns another context about to write a cell this one read.
func (tx *Txn) writerOfReads() (other *Txn) {
	tx.access.Ascend(func(a *access) bool {
		if a.read {
			other = a.key.cell.writer(tx)
		}
		return other == nil
	})
	return
}

func (tx *Txn) collide() {
	tx.collided.Store(true)
}

func (tx *Txn) check(key *AccessorKey) error {
	if tx == nil || tx.state != stateRunning {
		return ErrNoActiveTransaction
	}
	if key.engine != tx.engine {
		return ErrForeignCell
	}
	return nil
}

func (tx *Txn) lookup(key *AccessorKey) *access {
	tx.probe.key = key
	a, ok := tx.access.Get(&tx.probe)
	tx.probe.key = nil
	if !ok {
		return nil
	}
	return a
}

func (tx *Txn) track(key *AccessorKey) *access {
	a := &access{key: key}
	tx.access.ReplaceOrInsert(a)
	return a
}

func (tx *Txn) debug(msg string, fields ...zap.Field) {
	if ce := tx.logger.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(append(fields, zap.Int("attempt", tx.attempt))...)
	}
}
