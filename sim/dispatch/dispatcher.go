package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/agentsim/sim"
	"github.com/inference-sim/agentsim/sim/trace"
)

// DefaultPollInterval is how often executors are polled for spare capacity.
const DefaultPollInterval = time.Second

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval sets the capacity-check period. Non-positive values keep
// the default.
func WithPollInterval(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.pollInterval = d
		}
	}
}

// WithTrace records every assignment and retry into st.
func WithTrace(st *trace.SimulationTrace) Option {
	return func(dp *Dispatcher) { dp.trace = st }
}

// WithStateHook is called with READY when a run is queued and with ERROR
// when its submission fails for a reason other than resource shortage.
func WithStateHook(fn func(runID int64, state sim.RunState)) Option {
	return func(dp *Dispatcher) { dp.onState = fn }
}

// Dispatcher hands queued runs to executors, one run to one executor.
//
// Lifecycle: NewDispatcher, Enqueue any number of run IDs (before or after
// Start), Enqueue(EndOfInput), then Shutdown. A dispatcher is single-use.
type Dispatcher struct {
	executors    []Executor
	queue        *runQueue
	pollInterval time.Duration
	trace        *trace.SimulationTrace
	onState      func(int64, sim.RunState)

	available   chan struct{} // buffered(1): capacity watcher -> loop
	stop        chan struct{} // closed to abort the loop
	stopOnce    sync.Once
	loopDone    chan struct{}
	watcherDone chan struct{}

	startMu sync.Mutex
	started bool
}

// NewDispatcher creates a dispatcher over a fixed executor set.
// Panics if executors is empty.
func NewDispatcher(executors []Executor, opts ...Option) *Dispatcher {
	if len(executors) == 0 {
		panic("NewDispatcher: at least one executor is required")
	}
	d := &Dispatcher{
		executors:    executors,
		queue:        newRunQueue(),
		pollInterval: DefaultPollInterval,
		available:    make(chan struct{}, 1),
		stop:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		watcherDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue appends runID to the queue. Duplicate plain run IDs that are still
// queued are ignored. Enqueue(EndOfInput) marks the end of input.
// The READY hook fires before the run can be dispatched.
func (d *Dispatcher) Enqueue(runID int64) {
	if runID == EndOfInput {
		d.queue.push(runID)
		return
	}
	if d.queue.pushThen(runID, func() { d.setState(runID, sim.RunReady) }) {
		logrus.Debugf("dispatcher: queued run %d", runID)
	}
}

// Queued returns the number of queue entries, sentinel included.
func (d *Dispatcher) Queued() int { return d.queue.Len() }

// Start launches the dispatch loop and the capacity watcher.
// Panics if called more than once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		panic("Dispatcher.Start() called more than once")
	}
	d.started = true
	logrus.Infof("dispatcher: starting with %d executors, poll interval %s", len(d.executors), d.pollInterval)
	go d.loop(ctx)
	go d.watch()
}

// Shutdown waits for the loop to consume EndOfInput and then for every
// executor to report zero load. If ctx ends first, the loop is aborted and
// ctx.Err() is returned; runs already submitted keep running.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.startMu.Lock()
	started := d.started
	d.startMu.Unlock()
	if !started {
		panic("Dispatcher.Shutdown() called before Start()")
	}

	select {
	case <-d.loopDone:
	case <-ctx.Done():
		d.abort()
		<-d.loopDone
		<-d.watcherDone
		return ctx.Err()
	}
	<-d.watcherDone

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for !d.idle() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logrus.Infof("dispatcher: all executors idle")
	return nil
}

func (d *Dispatcher) abort() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.loopDone)
	for {
		id, ok := d.queue.pop(d.stop)
		if !ok {
			return
		}
		if id == EndOfInput {
			if d.queue.Len() == 0 {
				logrus.Infof("dispatcher: end of input")
				return
			}
			d.queue.push(EndOfInput)
			continue
		}
		if !d.dispatch(ctx, id) {
			return
		}
	}
}

// dispatch submits one run. Returns false only when the loop was aborted.
func (d *Dispatcher) dispatch(ctx context.Context, runID int64) bool {
	ex, reason, ok := d.waitForExecutor()
	if !ok {
		return false
	}
	candidates := d.candidates()
	err := ex.Submit(ctx, runID)
	switch {
	case err == nil:
		logrus.WithFields(logrus.Fields{"run": runID, "executor": ex.Name()}).Infof("dispatcher: submitted (%s)", reason)
		if d.trace != nil {
			d.trace.RecordDispatch(trace.DispatchRecord{RunID: runID, Executor: ex.Name(), Reason: reason, Candidates: candidates})
		}
	case errors.Is(err, ErrInsufficientResources):
		logrus.WithFields(logrus.Fields{"run": runID, "executor": ex.Name()}).Debugf("dispatcher: retrying: %v", err)
		if d.trace != nil {
			d.trace.RecordRetry(trace.RetryRecord{RunID: runID, Executor: ex.Name(), Reason: err.Error()})
		}
		d.queue.push(runID)
		// Wait for the next capacity check instead of spinning on a failing executor.
		select {
		case <-d.available:
		case <-d.stop:
			return false
		}
	default:
		logrus.WithFields(logrus.Fields{"run": runID, "executor": ex.Name()}).Errorf("dispatcher: submit failed: %v", err)
		d.setState(runID, sim.RunError)
	}
	return true
}

// waitForExecutor blocks until selectExecutor finds a candidate.
func (d *Dispatcher) waitForExecutor() (Executor, string, bool) {
	for {
		if ex, reason := d.selectExecutor(); ex != nil {
			return ex, reason, true
		}
		select {
		case <-d.available:
		case <-d.stop:
			return nil, "", false
		}
	}
}

// selectExecutor returns the first idle executor with nonzero capacity, else
// the least-loaded executor with spare capacity. Ties are broken by lowest
// index. Returns nil when every executor is full.
func (d *Dispatcher) selectExecutor() (Executor, string) {
	var best Executor
	bestLoad := 0
	for _, ex := range d.executors {
		load := ex.Load()
		if load >= ex.Capacity() {
			continue
		}
		if load == 0 {
			return ex, "idle"
		}
		if best == nil || load < bestLoad {
			best, bestLoad = ex, load
		}
	}
	if best == nil {
		return nil, ""
	}
	return best, fmt.Sprintf("least-loaded (load=%d)", bestLoad)
}

func (d *Dispatcher) candidates() []trace.CandidateLoad {
	if d.trace == nil || !d.trace.Config.Detailed() {
		return nil
	}
	out := make([]trace.CandidateLoad, len(d.executors))
	for i, ex := range d.executors {
		out[i] = trace.CandidateLoad{Executor: ex.Name(), Load: ex.Load(), Capacity: ex.Capacity()}
	}
	return out
}

// watch signals available on every tick at which some executor has spare
// capacity. It exits with the loop.
func (d *Dispatcher) watch() {
	defer close(d.watcherDone)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.loopDone:
			return
		case <-ticker.C:
			if !d.hasSpareCapacity() {
				continue
			}
			select {
			case d.available <- struct{}{}:
			default:
			}
		}
	}
}

func (d *Dispatcher) hasSpareCapacity() bool {
	for _, ex := range d.executors {
		if ex.Load() < ex.Capacity() {
			return true
		}
	}
	return false
}

func (d *Dispatcher) idle() bool {
	for _, ex := range d.executors {
		if ex.Load() != 0 {
			return false
		}
	}
	return true
}

func (d *Dispatcher) setState(runID int64, state sim.RunState) {
	if d.onState != nil {
		d.onState(runID, state)
	}
}
