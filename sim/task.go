package sim

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidTask is returned when an object or function cannot be turned
// into a phase task. It is raised at registration, never during a step.
var ErrInvalidTask = errors.New("invalid task")

// Phase is one barrier-separated stage of a step.
type Phase string

const (
	PhasePreStep  Phase = "PRE_STEP"
	PhaseStep     Phase = "STEP"
	PhasePostStep Phase = "POST_STEP"
)

// TaskKind is the role a unit of work plays in the step cycle.
type TaskKind string

const (
	KindInitialiser     TaskKind = "initialiser"
	KindPreStep         TaskKind = "pre-step"
	KindStep            TaskKind = "step"
	KindFinishCondition TaskKind = "finish-condition"
	KindFinaliser       TaskKind = "finaliser"
)

// kindPhases maps each kind to the phase it executes in.
var kindPhases = map[TaskKind]Phase{
	KindInitialiser:     PhasePreStep,
	KindPreStep:         PhasePreStep,
	KindStep:            PhaseStep,
	KindFinishCondition: PhasePostStep,
	KindFinaliser:       PhasePostStep,
}

// Phase returns the phase tasks of this kind run in.
func (k TaskKind) Phase() Phase { return kindPhases[k] }

// Valid reports whether k is a recognised task kind.
func (k TaskKind) Valid() bool {
	_, ok := kindPhases[k]
	return ok
}

// The capability interfaces below are how participants and plugins register
// work with the scheduler. An object may implement any subset; each
// implemented method becomes one task.

// Initialiser runs once, before the first step (or, for objects added while
// running, at the start of the next step).
type Initialiser interface {
	Initialise(ctx context.Context) error
}

// PreStepper runs in the PRE_STEP phase of every step.
type PreStepper interface {
	PreStep(ctx context.Context, step int64) error
}

// Stepper runs in the STEP phase of every step.
type Stepper interface {
	Step(ctx context.Context, step int64) error
}

// FinishCondition runs in the POST_STEP phase after the commit. Returning
// true votes to stop the simulation. An error counts as a "no" vote.
type FinishCondition interface {
	Finished(ctx context.Context, step int64) (bool, error)
}

// Finaliser runs once, after the last step.
type Finaliser interface {
	Finalise(ctx context.Context) error
}

// Prioritised optionally sets the nice value of all tasks of an object.
// Lower nice values start first within a phase.
type Prioritised interface {
	Nice() int
}

// Named optionally gives an object a name for logs.
type Named interface {
	Name() string
}

// Task is one unit of phase work. Tasks are built once at scan time.
type Task struct {
	Name string
	Kind TaskKind
	Nice int

	seq int // registration order, the tie-breaker after Nice
	run func(ctx context.Context, step int64) (bool, error)
}

// Phase returns the phase this task runs in.
func (t *Task) Phase() Phase { return t.Kind.Phase() }

// invoke runs the task, converting a panic into an error.
func (t *Task) invoke(ctx context.Context, step int64) (vote bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			vote, err = false, fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()
	return t.run(ctx, step)
}

// scanObject builds every task obj contributes. Returns ErrInvalidTask when
// obj implements none of the capability interfaces.
func scanObject(obj any) ([]*Task, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil object", ErrInvalidTask)
	}
	name := fmt.Sprintf("%T", obj)
	if n, ok := obj.(Named); ok && n.Name() != "" {
		name = n.Name()
	}
	nice := 0
	if p, ok := obj.(Prioritised); ok {
		nice = p.Nice()
	}

	var tasks []*Task
	add := func(kind TaskKind, run func(context.Context, int64) (bool, error)) {
		tasks = append(tasks, &Task{Name: name + "." + string(kind), Kind: kind, Nice: nice, run: run})
	}
	if o, ok := obj.(Initialiser); ok {
		add(KindInitialiser, func(ctx context.Context, _ int64) (bool, error) { return false, o.Initialise(ctx) })
	}
	if o, ok := obj.(PreStepper); ok {
		add(KindPreStep, func(ctx context.Context, step int64) (bool, error) { return false, o.PreStep(ctx, step) })
	}
	if o, ok := obj.(Stepper); ok {
		add(KindStep, func(ctx context.Context, step int64) (bool, error) { return false, o.Step(ctx, step) })
	}
	if o, ok := obj.(FinishCondition); ok {
		add(KindFinishCondition, o.Finished)
	}
	if o, ok := obj.(Finaliser); ok {
		add(KindFinaliser, func(ctx context.Context, _ int64) (bool, error) { return false, o.Finalise(ctx) })
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: %s implements no step-function capability", ErrInvalidTask, name)
	}
	return tasks, nil
}

// newFuncTask adapts a plain function to a task of the given kind.
//
// Accepted signatures per kind:
//   - initialiser, finaliser: func(), func() error
//   - pre-step, step:         func(), func() error, func(int64), func(int64) error
//   - finish-condition:       func() bool, func(int64) bool
func newFuncTask(kind TaskKind, name string, nice int, fn any) (*Task, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, kind)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s: nil function", ErrInvalidTask, name)
	}
	var run func(context.Context, int64) (bool, error)
	switch kind {
	case KindFinishCondition:
		switch f := fn.(type) {
		case func() bool:
			run = func(context.Context, int64) (bool, error) { return f(), nil }
		case func(int64) bool:
			run = func(_ context.Context, step int64) (bool, error) { return f(step), nil }
		}
	case KindPreStep, KindStep:
		switch f := fn.(type) {
		case func():
			run = func(context.Context, int64) (bool, error) { f(); return false, nil }
		case func() error:
			run = func(context.Context, int64) (bool, error) { return false, f() }
		case func(int64):
			run = func(_ context.Context, step int64) (bool, error) { f(step); return false, nil }
		case func(int64) error:
			run = func(_ context.Context, step int64) (bool, error) { return false, f(step) }
		}
	default:
		switch f := fn.(type) {
		case func():
			run = func(context.Context, int64) (bool, error) { f(); return false, nil }
		case func() error:
			run = func(context.Context, int64) (bool, error) { return false, f() }
		}
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s: signature %T not accepted for %s", ErrInvalidTask, name, fn, kind)
	}
	return &Task{Name: name, Kind: kind, Nice: nice, run: run}, nil
}
