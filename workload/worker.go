package workload

import (
	"context"
	"sync"

	"github.com/pingcap-incubator/tinystm/stm"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type Task interface{}

// TaskHandler runs one task on the transaction context of the worker that received it.
type TaskHandler interface {
	Handle(tx *stm.Txn, t Task)
}

// Worker is a goroutine owning one transaction context. Tasks run one at a time, in the order they
// were sent.
type Worker struct {
	name   string
	engine *stm.Engine
	tasks  chan Task
	wg     *sync.WaitGroup
}

const defaultWorkerCapacity = 128

func NewWorker(name string, e *stm.Engine, wg *sync.WaitGroup) *Worker {
	return &Worker{
		name:   name,
		engine: e,
		tasks:  make(chan Task, defaultWorkerCapacity),
		wg:     wg,
	}
}

// Start creates the worker's context on its own goroutine and hands it every task until Stop.
func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		tx := w.engine.NewTxn()
		log.Debug("worker started", zap.String("worker", w.name), zap.Uint64("txn", tx.ID()))
		for t := range w.tasks {
			handler.Handle(tx, t)
		}
	}()
}

func (w *Worker) Name() string {
	return w.name
}

// Send queues t, giving up when ctx is done first.
func (w *Worker) Send(ctx context.Context, t Task) bool {
	select {
	case w.tasks <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop lets the worker finish the queued tasks and exit. Nothing may be sent afterwards.
func (w *Worker) Stop() {
	close(w.tasks)
}
