package stm

// NewTxn returns a context for the calling goroutine. It may be used for any number of atomic blocks
// but by one goroutine at a time; a second concurrent Atomic on it fails with ErrTxnInUse.
func (e *Engine) NewTxn() *Txn {
	return newTxn(e)
}

// get binds a pooled context to the caller until put.
func (e *Engine) get() *Txn {
	return e.pool.Get().(*Txn)
}

// put returns tx to the pool. It runs on every exit path of Atomic, a panic included; by then tx
// holds no locks and no registrations.
func (e *Engine) put(tx *Txn) {
	if tx.busy.Load() || tx.state != stateIdle {
		// Still in use by a caller that leaked it into another goroutine.
		return
	}
	e.pool.Put(tx)
}
