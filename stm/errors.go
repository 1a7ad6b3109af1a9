package stm

import "github.com/pingcap/errors"

var (
	// ErrNoActiveTransaction is returned when a cell is read or written through a context that is not
	// running a block.
	ErrNoActiveTransaction = errors.New("stm: no active transaction")
	// ErrIdentifierOverflow is returned once an Allocator has handed out its last id. It is permanent.
	ErrIdentifierOverflow = errors.New("stm: identifier space exhausted")
	// ErrForeignCell is returned when a cell is accessed through a context of another engine. Ids of
	// different engines are not ordered against each other, so mixing them would break lock ordering.
	ErrForeignCell = errors.New("stm: cell belongs to another engine")
	// ErrTxnInUse is returned when Atomic is called on a context that is already running a block.
	ErrTxnInUse = errors.New("stm: transaction context is already running a block")
	// ErrRetry is the value returned by Txn.Retry. It never escapes Atomic.
	ErrRetry = errors.New("stm: retry")
)
