package stm

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/tinystm/config"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Engine owns a family of cells and the contexts that access them. Cells of one engine must only be
// accessed through contexts of the same engine.
type Engine struct {
	cfg    config.Engine
	logger *zap.Logger
	alloc  *Allocator

	txnIDs atomic.Uint64
	pool   sync.Pool
}

type Option func(e *Engine)

func WithConfig(cfg config.Engine) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithAllocator makes the engine draw cell ids from a.
func WithAllocator(a *Allocator) Option {
	return func(e *Engine) {
		e.alloc = a
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		cfg:    config.NewDefaultConfig().Engine,
		logger: log.L(),
		alloc:  NewAllocator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "stm"))
	e.pool.New = func() interface{} {
		return newTxn(e)
	}
	return e
}

func (e *Engine) Config() config.Engine {
	return e.cfg
}

// Atomic runs block on a context borrowed for the duration of the call. Goroutines running many
// blocks should hold their own context from NewTxn instead.
//
// Blocks run by Atomic must not call Atomic again: the nested call borrows a separate context and
// its commit is not part of the outer transaction.
func (e *Engine) Atomic(block Block, orElse ...Block) error {
	return e.AtomicContext(context.Background(), block, orElse...)
}

func (e *Engine) AtomicContext(ctx context.Context, block Block, orElse ...Block) error {
	tx := e.get()
	defer e.put(tx)
	return tx.AtomicContext(ctx, block, orElse...)
}
