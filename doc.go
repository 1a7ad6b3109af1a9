package tinystm

/*
TinySTM is an in-process software transactional memory engine for Go. Shared state lives in transactional cells and
is only read and written inside atomic blocks; the engine runs every block as if no other goroutine were touching the
same cells at the same time.

Blocks run optimistically. Writes are buffered in the transaction context and applied during commit, after the context
has taken the commit locks of every cell it touched in ascending id order. A committer invalidates every other context
interested in a cell it writes, so those contexts roll back and run again after a backoff delay. Contexts that only read
a cell never disturb each other.

The `tinystm` module is organized into the following packages:

* `stm`: the engine itself: cells, transaction contexts, the commit protocol and the atomic/orElse/retry entry points.
* `config`: TOML configuration of the engine and of the benchmark workloads.
* `workload`: bank transfer and counter workloads driving the engine from a pool of workers.
* `cmd/stm-bench`: a command line driver for the workloads that serves prometheus metrics.
*/
