package stm

// committer is the value-type agnostic side of a cell, used by the commit protocol which only knows
// accessor keys.
type committer interface {
	// lock takes the commit lock. If tx writes the cell, every other interested context collides.
	lock(tx *Txn)
	unlock()
	// commit applies tx's buffered value and forgets tx.
	commit(tx *Txn, pending interface{})
	// rollback forgets tx without touching the committed value.
	rollback(tx *Txn)
	// discard forgets tx as a writer only.
	discard(tx *Txn)
	// writer returns some other context that intends to write the cell.
	writer(excluding *Txn) *Txn
}

// AccessorKey identifies one cell. Its id fixes the cell's position in the global lock order.
type AccessorKey struct {
	id     uint64
	engine *Engine
	cell   committer
}

func (k *AccessorKey) ID() uint64 {
	return k.id
}

// Less reports whether k's lock is taken before other's.
func (k *AccessorKey) Less(other *AccessorKey) bool {
	return k.id < other.id
}
