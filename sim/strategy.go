package sim

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PhaseResult summarises one barrier-delimited phase execution.
type PhaseResult struct {
	Tasks    int
	Failures int
	Stop     bool // at least one finish-condition task voted to stop
}

// Strategy executes the tasks of one phase and returns only after every
// task has completed (the barrier). Implementations must start tasks in the
// order given; completion order is unconstrained.
type Strategy interface {
	RunPhase(ctx context.Context, phase Phase, step int64, tasks []*Task) PhaseResult
}

// NewStrategy picks the execution strategy for a worker count:
// workers <= 1 runs sequentially, otherwise a bounded pool is used.
func NewStrategy(workers int) Strategy {
	if workers <= 1 {
		return SequentialStrategy{}
	}
	return NewPooledStrategy(workers)
}

// SequentialStrategy runs every task of a phase in order on the calling
// goroutine. Intended for deterministic debugging and small runs.
type SequentialStrategy struct{}

// RunPhase implements Strategy.
func (SequentialStrategy) RunPhase(ctx context.Context, phase Phase, step int64, tasks []*Task) PhaseResult {
	res := PhaseResult{Tasks: len(tasks)}
	for _, t := range tasks {
		vote, ok := runTask(ctx, phase, step, t)
		if !ok {
			res.Failures++
		}
		res.Stop = res.Stop || vote
	}
	return res
}

// PooledStrategy dispatches each task to a bounded worker pool and blocks on
// the pool's completion before returning.
type PooledStrategy struct {
	workers int
}

// NewPooledStrategy creates a pool of the given size. Panics if workers < 1.
func NewPooledStrategy(workers int) *PooledStrategy {
	if workers < 1 {
		panic("NewPooledStrategy: workers must be >= 1")
	}
	return &PooledStrategy{workers: workers}
}

// Workers returns the pool size.
func (p *PooledStrategy) Workers() int { return p.workers }

// RunPhase implements Strategy. Tasks are handed to the pool in priority
// order; g.Go blocks while the pool is full, so start order is preserved.
func (p *PooledStrategy) RunPhase(ctx context.Context, phase Phase, step int64, tasks []*Task) PhaseResult {
	var (
		g        errgroup.Group
		stop     atomic.Bool
		failures atomic.Int64
	)
	g.SetLimit(p.workers)
	for _, t := range tasks {
		g.Go(func() error {
			vote, ok := runTask(ctx, phase, step, t)
			if !ok {
				failures.Add(1)
			}
			if vote {
				stop.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors to the group
	return PhaseResult{Tasks: len(tasks), Failures: int(failures.Load()), Stop: stop.Load()}
}

// runTask invokes t, logging a failure instead of propagating it.
// A failed task never votes to stop.
func runTask(ctx context.Context, phase Phase, step int64, t *Task) (vote, ok bool) {
	vote, err := t.invoke(ctx, step)
	if err != nil {
		logrus.WithFields(logrus.Fields{"phase": phase, "step": step, "task": t.Name}).
			Warnf("task failed: %v", err)
		return false, false
	}
	return vote, true
}

// sortTasks orders tasks by ascending nice, then registration order.
func sortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Nice != tasks[j].Nice {
			return tasks[i].Nice < tasks[j].Nice
		}
		return tasks[i].seq < tasks[j].seq
	})
}
