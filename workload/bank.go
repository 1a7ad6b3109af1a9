package workload

import (
	"context"
	"math/rand"

	"github.com/pingcap-incubator/tinystm/config"
	"github.com/pingcap-incubator/tinystm/stm"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Bank is a set of accounts whose total balance is constant under Transfer.
type Bank struct {
	engine   *stm.Engine
	accounts []*stm.Cell[int64]
}

func NewBank(e *stm.Engine, accounts int, initial int64) (*Bank, error) {
	b := &Bank{
		engine:   e,
		accounts: make([]*stm.Cell[int64], accounts),
	}
	for i := range b.accounts {
		c, err := stm.NewCell(e, initial)
		if err != nil {
			return nil, errors.Annotatef(err, "account %d", i)
		}
		b.accounts[i] = c
	}
	return b, nil
}

func (b *Bank) Len() int {
	return len(b.accounts)
}

func (b *Bank) Balance(i int) int64 {
	return b.accounts[i].Load()
}

// Transfer moves amount from one account to another in one transaction on tx. It reports false,
// writing nothing, when the source balance is short.
func (b *Bank) Transfer(tx *stm.Txn, from, to int, amount int64) (bool, error) {
	if amount < 0 {
		return false, errors.Errorf("negative amount %d", amount)
	}
	src, dst := b.accounts[from], b.accounts[to]
	var moved bool
	err := tx.Atomic(func(tx *stm.Txn) error {
		moved = false
		x, err := src.Read(tx)
		if err != nil {
			return err
		}
		if x < amount {
			return nil
		}
		if err := src.Write(tx, x-amount); err != nil {
			return err
		}
		// Reads src's pending value when from == to.
		y, err := dst.Read(tx)
		if err != nil {
			return err
		}
		if err := dst.Write(tx, y+amount); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

// Total sums every balance in one transaction.
func (b *Bank) Total() (int64, error) {
	var total int64
	err := b.engine.Atomic(func(tx *stm.Txn) error {
		total = 0
		for _, c := range b.accounts {
			v, err := c.Read(tx)
			if err != nil {
				return err
			}
			total += v
		}
		return nil
	})
	return total, errors.Trace(err)
}

type transferTask struct {
	from, to int
	amount   int64
}

// RunBank runs random transfers between cfg.Accounts accounts and checks the total afterwards.
func RunBank(ctx context.Context, e *stm.Engine, cfg config.BenchConfig) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	bank, err := NewBank(e, cfg.Accounts, cfg.InitialBalance)
	if err != nil {
		return nil, errors.Trace(err)
	}
	want := int64(cfg.Accounts) * cfg.InitialBalance

	run := func(tx *stm.Txn, t Task) (bool, error) {
		task := t.(transferTask)
		return bank.Transfer(tx, task.from, task.to, task.amount)
	}
	next := func(r *rand.Rand) Task {
		return transferTask{
			from:   r.Intn(cfg.Accounts),
			to:     r.Intn(cfg.Accounts),
			amount: r.Int63n(cfg.InitialBalance/5 + 1),
		}
	}
	report, runErr := drive(ctx, e, cfg, "bank", run, next)

	total, err := bank.Total()
	if err != nil {
		return report, errors.Trace(err)
	}
	if total != want {
		log.Error("bank total changed", zap.Int64("want", want), zap.Int64("got", total))
		return report, errors.Errorf("bank total is %d, want %d", total, want)
	}
	return report, runErr
}
