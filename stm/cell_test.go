package stm

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellNoActiveTransaction(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 7)

	_, err := c.Read(nil)
	assert.Equal(t, ErrNoActiveTransaction, err)
	assert.Equal(t, ErrNoActiveTransaction, c.Write(nil, 1))

	// An idle context is not running a block either.
	tx := e.NewTxn()
	_, err = c.Read(tx)
	assert.Equal(t, ErrNoActiveTransaction, err)
	assert.Equal(t, ErrNoActiveTransaction, c.Write(tx, 1))
	assert.Equal(t, 7, c.Load())
}

func TestCellForeignEngine(t *testing.T) {
	e1, e2 := newTestEngine(), newTestEngine()
	c := MustNewCell(e1, 1)

	err := e2.Atomic(func(tx *Txn) error {
		return c.Write(tx, 2)
	})
	assert.Equal(t, ErrForeignCell, errors.Cause(err))
	assert.Equal(t, 1, c.Load())
}

func TestCellReadYourOwnWrite(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, "a")

	err := e.Atomic(func(tx *Txn) error {
		if err := c.Write(tx, "b"); err != nil {
			return err
		}
		v, err := c.Read(tx)
		if err != nil {
			return err
		}
		assert.Equal(t, "b", v)
		// Nothing is visible outside before commit.
		assert.Equal(t, "a", c.Load())

		if err := c.Write(tx, "c"); err != nil {
			return err
		}
		v, err = c.Read(tx)
		assert.Equal(t, "c", v)
		return err
	})
	require.Nil(t, err)
	assert.Equal(t, "c", c.Load())
	assertUnregistered(t, c)
}

func TestCellInterfaceNil(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell[error](e, errors.New("boom"))

	require.Nil(t, e.Atomic(func(tx *Txn) error {
		return c.Write(tx, nil)
	}))
	assert.Nil(t, c.Load())
}

func TestCellBroadcastOnlyOnWrite(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 0)
	reader1, reader2, writer := e.NewTxn(), e.NewTxn(), e.NewTxn()

	reader1.begin()
	_, err := c.Read(reader1)
	require.Nil(t, err)
	reader2.begin()
	_, err = c.Read(reader2)
	require.Nil(t, err)
	assert.Equal(t, 2, c.readers.len())

	// A read-only commit leaves other readers alone.
	assert.Equal(t, committed, reader2.commit())
	assert.False(t, reader1.collided.Load())
	assert.Equal(t, 1, c.readers.len())

	writer.begin()
	require.Nil(t, c.Write(writer, 42))
	assert.Equal(t, 1, c.writers.len())
	assert.Equal(t, writer, c.writer(reader1))
	assert.Equal(t, committed, writer.commit())
	assert.True(t, reader1.collided.Load())
	assert.Equal(t, 42, c.Load())

	// The collided reader rolls back at its own validation.
	assert.Equal(t, aborted, reader1.commit())
	assertUnregistered(t, c)
}

func TestCellLoadWaitsForCommit(t *testing.T) {
	e := newTestEngine()
	c := MustNewCell(e, 1)
	writer := e.NewTxn()

	writer.begin()
	require.Nil(t, c.Write(writer, 2))
	c.lock(writer)

	loaded := make(chan int)
	go func() {
		loaded <- c.Load()
	}()
	a := writer.lookup(c.key)
	c.commit(writer, a.pending)
	c.unlock()
	writer.finish()

	// The load spun until the lock was released, so it sees the new value.
	assert.Equal(t, 2, <-loaded)
}
