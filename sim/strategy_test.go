package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTask(t *testing.T, kind TaskKind, name string, nice int, fn any) *Task {
	t.Helper()
	task, err := newFuncTask(kind, name, nice, fn)
	require.NoError(t, err)
	return task
}

func TestNewStrategy_ByWorkers(t *testing.T) {
	assert.IsType(t, SequentialStrategy{}, NewStrategy(0))
	assert.IsType(t, SequentialStrategy{}, NewStrategy(1))
	pooled, ok := NewStrategy(6).(*PooledStrategy)
	require.True(t, ok)
	assert.Equal(t, 6, pooled.Workers())
	assert.Panics(t, func() { NewPooledStrategy(0) })
}

func TestPooledStrategy_BoundsConcurrency(t *testing.T) {
	// GIVEN 20 slow tasks and a pool of 3
	var running, peak atomic.Int64
	tasks := make([]*Task, 20)
	for i := range tasks {
		tasks[i] = mustTask(t, KindStep, "slow", 0, func() {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
		})
	}

	// WHEN the phase runs
	res := NewPooledStrategy(3).RunPhase(context.Background(), PhaseStep, 0, tasks)

	// THEN at most 3 ran at once and all completed before RunPhase returned
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Zero(t, running.Load())
	assert.Equal(t, PhaseResult{Tasks: 20}, res)
}

func TestPooledStrategy_VotesAndFailures(t *testing.T) {
	tasks := []*Task{
		mustTask(t, KindFinishCondition, "no", 0, func() bool { return false }),
		mustTask(t, KindFinishCondition, "yes", 0, func() bool { return true }),
		mustTask(t, KindFinishCondition, "panics", 0, func() bool { panic("x") }),
	}
	for _, st := range []Strategy{SequentialStrategy{}, NewPooledStrategy(2)} {
		res := st.RunPhase(context.Background(), PhasePostStep, 1, tasks)
		assert.Equal(t, PhaseResult{Tasks: 3, Failures: 1, Stop: true}, res, "%T", st)
	}
}

func TestPooledStrategy_StartOrderFollowsInputWithSingleWorker(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var tasks []*Task
	for _, name := range []string{"a", "b", "c", "d"} {
		tasks = append(tasks, mustTask(t, KindStep, name, 0, func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}))
	}
	NewPooledStrategy(1).RunPhase(context.Background(), PhaseStep, 0, tasks)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestSortTasks_NiceThenSeq(t *testing.T) {
	tasks := []*Task{
		{Name: "c", Nice: 1, seq: 0},
		{Name: "a", Nice: -1, seq: 3},
		{Name: "b2", Nice: 0, seq: 2},
		{Name: "b1", Nice: 0, seq: 1},
	}
	sortTasks(tasks)
	var names []string
	for _, task := range tasks {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, names)
}
