/*
Package stm implements software transactional memory over typed cells.

A Cell holds a committed value. It is read and written only through a Txn, the transaction context of one goroutine,
inside a Block run by Atomic:

	e := stm.NewEngine()
	a := stm.MustNewCell(e, int64(1000))
	b := stm.MustNewCell(e, int64(0))

	err := e.Atomic(func(tx *stm.Txn) error {
		x, err := a.Read(tx)
		if err != nil {
			return err
		}
		if x < 100 {
			return nil
		}
		if err := a.Write(tx, x-100); err != nil {
			return err
		}
		y, err := b.Read(tx)
		if err != nil {
			return err
		}
		return b.Write(tx, y+100)
	})

Reads register the context with the cell and writes are buffered in the context. Committing takes the commit lock of
every touched cell in ascending key order, applies the buffered values and releases the locks. While holding the lock
of a cell it writes, a committer marks every other context registered with that cell as collided; a collided context
rolls back at its next validation point and runs the block again after a backoff delay. Two contexts that only read a
cell never collide with each other.

A block may give up by returning tx.Retry(). Alternatives passed to Atomic then run in order within the same attempt;
when the last one retries too, the context waits for a writer of something it read, or for the backoff delay, and runs
the chain again. Any other error returned by a block rolls the transaction back and is returned by Atomic.

Blocks may run several times and must not have side effects outside cells.
*/
package stm
