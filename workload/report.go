package workload

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/montanaflynn/stats"
)

// Report summarizes one workload run. Latencies are in seconds, one per finished transaction.
type Report struct {
	Workload  string
	Workers   int
	Committed int
	Skipped   int
	Elapsed   time.Duration
	Latencies []float64
}

// Percentile returns the p-th percentile transaction latency, 0 without samples.
func (r *Report) Percentile(p float64) time.Duration {
	v, err := stats.Percentile(r.Latencies, p)
	if err != nil {
		return 0
	}
	return seconds(v)
}

func (r *Report) Mean() time.Duration {
	v, err := stats.Mean(r.Latencies)
	if err != nil {
		return 0
	}
	return seconds(v)
}

// Throughput is finished transactions per second.
func (r *Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Committed+r.Skipped) / r.Elapsed.Seconds()
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: workers %d, committed %d, skipped %d, took %v (%s), %.0f txn/s, "+
		"latency mean %v p50 %v p99 %v",
		r.Workload, r.Workers, r.Committed, r.Skipped, r.Elapsed, units.HumanDuration(r.Elapsed),
		r.Throughput(), r.Mean(), r.Percentile(50), r.Percentile(99))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
