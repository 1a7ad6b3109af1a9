package stm

import (
	"runtime"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Cell is a transactional cell holding a committed value of type V.
//
// The committed value changes only inside the commit phase of a transaction, while that transaction
// holds the cell's commit lock. Reads and writes inside a block never take the lock.
type Cell[V any] struct {
	key *AccessorKey

	value atomic.Pointer[V]

	mu    sync.Mutex
	owner atomic.Pointer[Txn]

	readers registry
	writers registry
}

// NewCell creates a cell of engine e holding v. It fails only with ErrIdentifierOverflow.
func NewCell[V any](e *Engine, v V) (*Cell[V], error) {
	id, err := e.alloc.Alloc()
	if err != nil {
		return nil, errors.Annotate(err, "new cell")
	}
	c := &Cell[V]{}
	c.value.Store(&v)
	c.key = &AccessorKey{id: id, engine: e, cell: c}
	return c, nil
}

// MustNewCell is like NewCell but panics on error.
func MustNewCell[V any](e *Engine, v V) *Cell[V] {
	c, err := NewCell(e, v)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Cell[V]) Key() *AccessorKey {
	return c.key
}

// Read returns tx's pending write for the cell if there is one, otherwise the committed value.
func (c *Cell[V]) Read(tx *Txn) (V, error) {
	var zero V
	if err := tx.check(c.key); err != nil {
		return zero, err
	}
	a := tx.lookup(c.key)
	if a != nil && a.written {
		return mustValue[V](a.pending), nil
	}
	if a == nil {
		c.readers.insert(tx)
		a = tx.track(c.key)
		a.read = true
	}
	return c.load(tx), nil
}

// Write buffers v in tx. The committed value is untouched until tx commits.
func (c *Cell[V]) Write(tx *Txn, v V) error {
	if err := tx.check(c.key); err != nil {
		return err
	}
	a := tx.lookup(c.key)
	if a == nil {
		a = tx.track(c.key)
	}
	if !a.written {
		c.writers.insert(tx)
		a.written = true
	}
	a.pending = v
	return nil
}

// Load returns the committed value outside of any transaction. Two Loads are not atomic together.
func (c *Cell[V]) Load() V {
	return c.load(nil)
}

// load waits out a commit in progress by another context, so that a value is never read between
// the application of two cells of the same commit. tx must be registered before calling it.
func (c *Cell[V]) load(tx *Txn) V {
	for {
		owner := c.owner.Load()
		if owner == nil || owner == tx {
			break
		}
		runtime.Gosched()
	}
	return *c.value.Load()
}

func (c *Cell[V]) lock(tx *Txn) {
	c.mu.Lock()
	c.owner.Store(tx)
	if a := tx.lookup(c.key); a == nil || !a.written {
		return
	}
	collide := func(other *Txn) {
		other.collide()
	}
	c.readers.forEachOther(tx, collide)
	c.writers.forEachOther(tx, collide)
}

func (c *Cell[V]) unlock() {
	c.owner.Store(nil)
	c.mu.Unlock()
}

func (c *Cell[V]) commit(tx *Txn, pending interface{}) {
	v := mustValue[V](pending)
	c.value.Store(&v)
	c.rollback(tx)
}

func (c *Cell[V]) rollback(tx *Txn) {
	c.readers.remove(tx)
	c.writers.remove(tx)
}

func (c *Cell[V]) discard(tx *Txn) {
	c.writers.remove(tx)
}

func (c *Cell[V]) writer(excluding *Txn) *Txn {
	return c.writers.findOther(excluding)
}

// mustValue unboxes a buffered value. Values are boxed by Write of the same cell, so a mismatch is a
// broken invariant.
func mustValue[V any](pending interface{}) V {
	var zero V
	if pending == nil {
		// A nil interface value written to a cell of interface type.
		return zero
	}
	v, ok := pending.(V)
	if !ok {
		panic(errors.Errorf("stm: buffered value has type %T, cell holds %T", pending, zero))
	}
	return v
}
