package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// SchedulerState is the lifecycle state of a Scheduler.
type SchedulerState int

const (
	StateInitialising SchedulerState = iota
	StateRunning
	StateFinishing
	StateTerminated
)

func (s SchedulerState) String() string {
	switch s {
	case StateInitialising:
		return "INITIALISING"
	case StateRunning:
		return "RUNNING"
	case StateFinishing:
		return "FINISHING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("SchedulerState(%d)", int(s))
	}
}

// Committer makes the pending changes of a step visible. The state store and
// the message substrate are both committers.
type Committer interface {
	Commit() error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func() error

// Commit implements Committer.
func (f CommitFunc) Commit() error { return f() }

// StepSummary describes one completed step cycle.
type StepSummary struct {
	Step        int64
	Initialised PhaseResult // initialisers of objects added during the previous step
	PreStep     PhaseResult
	Main        PhaseResult
	Finish      PhaseResult
	CommitErr   error // joined errors reported by committers, nil when clean
}

// StepObserver is called after the finish conditions of each step.
// A returned error is logged and does not stop the run.
type StepObserver func(ctx context.Context, summary StepSummary) error

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithStrategy overrides the strategy chosen from Config.Workers.
func WithStrategy(st Strategy) SchedulerOption {
	return func(s *Scheduler) { s.strategy = st }
}

// WithCommitter appends a committer. Committers run in the order added.
func WithCommitter(name string, c Committer) SchedulerOption {
	return func(s *Scheduler) {
		s.committers = append(s.committers, namedCommitter{name: name, c: c})
	}
}

// WithStepObserver appends a step observer.
func WithStepObserver(o StepObserver) SchedulerOption {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

type namedCommitter struct {
	name string
	c    Committer
}

// Scheduler drives one simulation through discrete steps. Each step runs the
// PRE_STEP, STEP and POST_STEP phases with a full barrier between them and
// commits every committer between STEP and POST_STEP.
//
// Add and AddFunc are safe to call from tasks while Run is executing; such
// objects join the live task sets at the start of the next step.
type Scheduler struct {
	cfg        Config
	strategy   Strategy
	committers []namedCommitter
	observers  []StepObserver
	done       chan struct{}

	mu      sync.Mutex
	hasRun  bool
	state   SchedulerState
	step    int64
	seq     int
	pending []*Task
	tasks   map[TaskKind][]*Task
}

// NewScheduler creates a Scheduler with the reference TimeFinishCondition
// already registered.
func NewScheduler(cfg Config, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cfg:   cfg,
		done:  make(chan struct{}),
		tasks: make(map[TaskKind][]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.strategy == nil {
		s.strategy = NewStrategy(cfg.Workers)
	}
	if err := s.Add(TimeFinishCondition{FinishTime: cfg.FinishTime}); err != nil {
		panic(fmt.Sprintf("NewScheduler: %v", err))
	}
	return s
}

// Add scans obj for capability interfaces and queues the resulting tasks.
// A scan failure is returned immediately and nothing is queued.
// Tasks join at the start of the next step; objects added during the final
// step never run, not even their finalisers.
func (s *Scheduler) Add(obj any) error {
	tasks, err := scanObject(obj)
	if err != nil {
		return err
	}
	s.enqueue(tasks...)
	return nil
}

// AddFunc registers a single function as a task of the given kind.
// See newFuncTask for the accepted signatures.
func (s *Scheduler) AddFunc(kind TaskKind, name string, nice int, fn any) error {
	t, err := newFuncTask(kind, name, nice, fn)
	if err != nil {
		return err
	}
	s.enqueue(t)
	return nil
}

func (s *Scheduler) enqueue(tasks ...*Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		t.seq = s.seq
		s.seq++
		s.pending = append(s.pending, t)
	}
}

// merge moves pending tasks into the live sets and returns the initialisers
// among them, which run once and are never kept.
func (s *Scheduler) merge() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	var inits []*Task
	touched := make(map[TaskKind]bool)
	for _, t := range s.pending {
		if t.Kind == KindInitialiser {
			inits = append(inits, t)
			continue
		}
		s.tasks[t.Kind] = append(s.tasks[t.Kind], t)
		touched[t.Kind] = true
	}
	s.pending = nil
	for kind := range touched {
		sortTasks(s.tasks[kind])
	}
	sortTasks(inits)
	return inits
}

// live returns the current task list of a kind. merge mutates these slices
// only on the Run goroutine between phases, so Run may iterate the result.
func (s *Scheduler) live(kind TaskKind) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[kind]
}

// TaskNames returns the names of the merged tasks of a kind in start order.
// Safe to call from a running task.
func (s *Scheduler) TaskNames(kind TaskKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.tasks[kind]
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}

// State returns the current lifecycle state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Step returns the index of the step currently executing, or the number of
// completed steps once the scheduler has terminated.
func (s *Scheduler) Step() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Done is closed once the scheduler has terminated.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) setState(st SchedulerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	logrus.Debugf("scheduler: state %s", st)
}

// Run drives the simulation until a finish condition votes to stop, then runs
// the finalisers. ctx is handed to every task; the loop itself does not stop
// on cancellation. Returns an error only for invalid configuration.
// Panics if called more than once.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.hasRun {
		s.mu.Unlock()
		panic("Scheduler.Run() called more than once")
	}
	s.hasRun = true
	s.mu.Unlock()
	defer func() {
		s.setState(StateTerminated)
		close(s.done)
	}()

	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	logrus.Infof("scheduler: starting, finish time %d, strategy %T", s.cfg.FinishTime, s.strategy)

	// INITIALISING ends with the first commit.
	s.setState(StateInitialising)
	if inits := s.merge(); len(inits) > 0 {
		s.strategy.RunPhase(ctx, PhasePreStep, 0, inits)
	}
	if err := s.commit(); err != nil {
		logrus.Warnf("scheduler: initial commit: %v", err)
	}

	s.setState(StateRunning)
	for {
		summary := s.cycle(ctx)
		s.observe(ctx, summary)

		s.mu.Lock()
		s.step++
		s.mu.Unlock()
		if summary.Finish.Stop {
			logrus.Infof("scheduler: finish condition met at step %d", summary.Step)
			break
		}
	}

	s.setState(StateFinishing)
	s.mu.Lock()
	last, dropped := s.step, len(s.pending)
	s.mu.Unlock()
	if dropped > 0 {
		logrus.Warnf("scheduler: %d tasks added during the last step never ran; their finalisers are skipped", dropped)
	}
	s.strategy.RunPhase(ctx, PhasePostStep, last, s.live(KindFinaliser))
	return nil
}

// cycle runs one step: merge, PRE_STEP, STEP, commit, POST_STEP.
func (s *Scheduler) cycle(ctx context.Context) StepSummary {
	step := s.Step()
	summary := StepSummary{Step: step}

	if inits := s.merge(); len(inits) > 0 {
		summary.Initialised = s.strategy.RunPhase(ctx, PhasePreStep, step, inits)
	}
	summary.PreStep = s.strategy.RunPhase(ctx, PhasePreStep, step, s.live(KindPreStep))
	summary.Main = s.strategy.RunPhase(ctx, PhaseStep, step, s.live(KindStep))

	summary.CommitErr = s.commit()
	if summary.CommitErr != nil {
		logrus.WithField("step", step).Warnf("scheduler: commit: %v", summary.CommitErr)
	}

	summary.Finish = s.strategy.RunPhase(ctx, PhasePostStep, step, s.live(KindFinishCondition))
	logrus.Debugf("scheduler: step %d done (%d pre-step, %d step, %d failures)",
		step, summary.PreStep.Tasks, summary.Main.Tasks,
		summary.Initialised.Failures+summary.PreStep.Failures+summary.Main.Failures+summary.Finish.Failures)
	return summary
}

// commit runs every committer in order. All committers run even if an
// earlier one reports an error.
func (s *Scheduler) commit() error {
	var errs []error
	for _, nc := range s.committers {
		if err := nc.c.Commit(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) observe(ctx context.Context, summary StepSummary) {
	for _, o := range s.observers {
		if err := o(ctx, summary); err != nil {
			logrus.WithField("step", summary.Step).Warnf("scheduler: step observer: %v", err)
		}
	}
}
