package scenario

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/agentsim/sim"
	"github.com/inference-sim/agentsim/sim/state"
)

// CounterKey is the global the counter participants accumulate into.
const CounterKey = "counter"

// StepsKey is the per-participant count of completed steps.
const StepsKey = "steps"

// NewCounter wires a scenario where every participant adds "increment" to a
// shared global counter each step.
//
// Parameters: participants (default 2), increment (default 1),
// target (default 0; when positive the run stops once counter >= target).
func NewCounter(env *sim.Environment) error {
	params := env.Params()
	n, err := params.Int("participants", 2)
	if err != nil {
		return err
	}
	inc, err := params.Int("increment", 1)
	if err != nil {
		return err
	}
	target, err := params.Int("target", 0)
	if err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("participants must be >= 1, got %d", n)
	}

	if err := env.State.CreateGlobal(CounterKey, int64(0)); err != nil {
		return err
	}
	for i := int64(0); i < n; i++ {
		p := &counterParticipant{id: fmt.Sprintf("p%d", i), inc: inc, store: env.State}
		if err := env.Scheduler.Add(p); err != nil {
			return err
		}
	}
	return env.Scheduler.Add(&counterMonitor{store: env.State, target: target})
}

type counterParticipant struct {
	id    string
	inc   int64
	store *state.Store
}

func (p *counterParticipant) Name() string { return p.id }

func (p *counterParticipant) Initialise(context.Context) error {
	return p.store.Create(StepsKey, p.id, int64(0))
}

func (p *counterParticipant) Step(context.Context, int64) error {
	if err := p.store.ChangeGlobal(CounterKey, state.Increment(p.inc)); err != nil {
		return err
	}
	return p.store.Change(StepsKey, p.id, state.Increment(1))
}

// counterMonitor is the scenario plugin: optional target finish condition
// and a final report.
type counterMonitor struct {
	store  *state.Store
	target int64
}

func (m *counterMonitor) Name() string { return "counter-monitor" }

// Nice runs the monitor after participants within a phase.
func (m *counterMonitor) Nice() int { return 10 }

func (m *counterMonitor) Finished(context.Context, int64) (bool, error) {
	if m.target <= 0 {
		return false, nil
	}
	v, err := state.ReadGlobalAs[int64](m.store, CounterKey)
	if err != nil {
		return false, err
	}
	return v >= m.target, nil
}

func (m *counterMonitor) Finalise(context.Context) error {
	v, err := state.ReadGlobalAs[int64](m.store, CounterKey)
	if err != nil {
		return err
	}
	logrus.Infof("counter: final value %d", v)
	return nil
}
