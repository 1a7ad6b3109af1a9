package main

import (
	"context"
	"fmt"

	"github.com/pingcap-incubator/tinystm/config"
	"github.com/pingcap-incubator/tinystm/stm"
	"github.com/pingcap-incubator/tinystm/workload"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workersArg   int
	accountsArg  int
	transfersArg int
	balanceArg   int64
	rateArg      float64
)

type runFunc func(ctx context.Context, e *stm.Engine, cfg config.BenchConfig) (*workload.Report, error)

func initWorkloadFlags(m *cobra.Command) {
	m.Flags().IntVarP(&workersArg, "workers", "w", 16, "Number of workers, each with its own transaction context")
	m.Flags().IntVarP(&transfersArg, "transfers", "n", 10000, "Transactions per worker")
	m.Flags().Float64Var(&rateArg, "rate", 0, "Transactions per second per worker, 0 is unlimited")
}

func applyWorkloadFlags(cmd *cobra.Command, b *config.BenchConfig) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		b.Workers = workersArg
	}
	if flags.Changed("transfers") {
		b.Transfers = transfersArg
	}
	if flags.Changed("rate") {
		b.RateLimit = rateArg
	}
	if flags.Changed("accounts") {
		b.Accounts = accountsArg
	}
	if flags.Changed("balance") {
		b.InitialBalance = balanceArg
	}
}

func runWorkload(cmd *cobra.Command, run runFunc) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogger(cfg.LogLevel); err != nil {
		return err
	}
	serveMetrics(cfg.Bench.MetricsAddr)

	e := stm.NewEngine(stm.WithConfig(cfg.Engine))
	log.Info("running workload",
		zap.String("workload", cmd.Name()),
		zap.Int("workers", cfg.Bench.Workers),
		zap.Int("transfers", cfg.Bench.Transfers),
		zap.Duration("backoff-base", cfg.Engine.BackoffBase.Duration),
		zap.Duration("backoff-max", cfg.Engine.BackoffMax.Duration))

	report, err := run(globalContext, e, cfg.Bench)
	if report != nil {
		fmt.Println(report)
	}
	return errors.Trace(err)
}

func newBankCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "bank",
		Short: "Random transfers between accounts, checks that the total is unchanged",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkload(cmd, workload.RunBank)
		},
	}
	initWorkloadFlags(m)
	m.Flags().IntVarP(&accountsArg, "accounts", "a", 20, "Number of accounts")
	m.Flags().Int64Var(&balanceArg, "balance", 1000, "Initial balance of every account")
	return m
}

func newCounterCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "counter",
		Short: "Concurrent increments of one cell, checks that none is lost",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkload(cmd, workload.RunCounter)
		},
	}
	initWorkloadFlags(m)
	return m
}
