package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinystm/config"
	"github.com/pingcap-incubator/tinystm/stm"
	"github.com/pingcap/errors"
	"golang.org/x/time/rate"
)

// txnFunc runs one task as a transaction on tx. applied is false when the transaction committed
// without changing anything.
type txnFunc func(tx *stm.Txn, t Task) (applied bool, err error)

// txnHandler runs tasks as transactions and keeps the numbers of one worker.
type txnHandler struct {
	name    string
	ctx     context.Context
	limiter *rate.Limiter
	run     txnFunc

	committed int
	skipped   int
	latencies []float64
	err       error
}

func (h *txnHandler) Handle(tx *stm.Txn, t Task) {
	if h.err != nil || h.ctx.Err() != nil {
		return
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(h.ctx); err != nil {
			return
		}
	}
	start := time.Now()
	applied, err := h.run(tx, t)
	if err != nil {
		if errors.Cause(err) != context.Canceled {
			h.err = errors.Annotatef(err, "worker %s", h.name)
		}
		return
	}
	h.latencies = append(h.latencies, time.Since(start).Seconds())
	if applied {
		h.committed++
	} else {
		h.skipped++
	}
}

// drive feeds cfg.Transfers tasks from next to each of cfg.Workers workers and waits for them.
func drive(ctx context.Context, e *stm.Engine, cfg config.BenchConfig, name string, run txnFunc,
	next func(r *rand.Rand) Task) (*Report, error) {
	var wg sync.WaitGroup
	workers := make([]*Worker, cfg.Workers)
	handlers := make([]*txnHandler, cfg.Workers)
	for i := range workers {
		workers[i] = NewWorker(fmt.Sprintf("%s-%d", name, i), e, &wg)
		handlers[i] = &txnHandler{
			name: workers[i].Name(),
			ctx:  ctx,
			run:  run,
		}
		if cfg.RateLimit > 0 {
			handlers[i].limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
		}
	}

	start := time.Now()
	for i, w := range workers {
		w.Start(handlers[i])
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
feed:
	for j := 0; j < cfg.Transfers; j++ {
		for _, w := range workers {
			if !w.Send(ctx, next(r)) {
				break feed
			}
		}
	}
	for _, w := range workers {
		w.Stop()
	}
	wg.Wait()

	report := &Report{
		Workload: name,
		Workers:  cfg.Workers,
		Elapsed:  time.Since(start),
	}
	var err error
	for _, h := range handlers {
		report.Committed += h.committed
		report.Skipped += h.skipped
		report.Latencies = append(report.Latencies, h.latencies...)
		if err == nil && h.err != nil {
			err = h.err
		}
	}
	if err == nil && ctx.Err() != nil {
		err = errors.Trace(ctx.Err())
	}
	return report, err
}
