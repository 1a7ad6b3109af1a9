package workload

import (
	"context"
	"math/rand"

	"github.com/pingcap-incubator/tinystm/config"
	"github.com/pingcap-incubator/tinystm/stm"
	"github.com/pingcap/errors"
)

type incrementTask struct{}

// Increment adds one to c in one transaction on tx.
func Increment(tx *stm.Txn, c *stm.Cell[int64]) error {
	return tx.Atomic(func(tx *stm.Txn) error {
		v, err := c.Read(tx)
		if err != nil {
			return err
		}
		return c.Write(tx, v+1)
	})
}

// RunCounter has every worker increment one shared cell cfg.Transfers times. The final value must
// equal the number of committed increments.
func RunCounter(ctx context.Context, e *stm.Engine, cfg config.BenchConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	c, err := stm.NewCell(e, int64(0))
	if err != nil {
		return nil, errors.Trace(err)
	}
	run := func(tx *stm.Txn, _ Task) (bool, error) {
		return true, Increment(tx, c)
	}
	next := func(*rand.Rand) Task {
		return incrementTask{}
	}
	report, runErr := drive(ctx, e, cfg, "counter", run, next)

	if got := c.Load(); got != int64(report.Committed) {
		return report, errors.Errorf("counter is %d after %d increments", got, report.Committed)
	}
	return report, runErr
}
