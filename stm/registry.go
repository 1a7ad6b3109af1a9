package stm

import (
	"go.uber.org/atomic"
)

// registry is a lock-free set of transaction contexts interested in one cell.
//
// It is a singly linked list of slots that only ever grows at the head. A removed context leaves
// its slot empty and the next insert claims the first empty slot it finds, so the list length is
// bounded by the peak number of contexts interested in the cell at the same time.
//
// Many goroutines may insert concurrently. A context is removed only by itself, so there are no
// competing removals of the same entry.
type registry struct {
	head atomic.Pointer[slot]
}

type slot struct {
	txn  atomic.Pointer[Txn]
	next atomic.Pointer[slot]
}

func (r *registry) insert(tx *Txn) {
	for s := r.head.Load(); s != nil; s = s.next.Load() {
		if s.txn.Load() == nil && s.txn.CompareAndSwap(nil, tx) {
			return
		}
	}
	n := new(slot)
	n.txn.Store(tx)
	for {
		head := r.head.Load()
		n.next.Store(head)
		if r.head.CompareAndSwap(head, n) {
			return
		}
	}
}

// remove clears the slot holding tx, if any.
func (r *registry) remove(tx *Txn) {
	for s := r.head.Load(); s != nil; s = s.next.Load() {
		if s.txn.Load() == tx {
			s.txn.CompareAndSwap(tx, nil)
			return
		}
	}
}

// findOther returns any registered context other than excluding, or nil.
func (r *registry) findOther(excluding *Txn) *Txn {
	for s := r.head.Load(); s != nil; s = s.next.Load() {
		if tx := s.txn.Load(); tx != nil && tx != excluding {
			return tx
		}
	}
	return nil
}

func (r *registry) forEachOther(excluding *Txn, fn func(tx *Txn)) {
	for s := r.head.Load(); s != nil; s = s.next.Load() {
		if tx := s.txn.Load(); tx != nil && tx != excluding {
			fn(tx)
		}
	}
}

func (r *registry) len() int {
	n := 0
	for s := r.head.Load(); s != nil; s = s.next.Load() {
		if s.txn.Load() != nil {
			n++
		}
	}
	return n
}

func (r *registry) slots() int {
	n := 0
	for s := r.head.Load(); s != nil; s = s.next.Load() {
		n++
	}
	return n
}
