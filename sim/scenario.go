package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/inference-sim/agentsim/sim/network"
	"github.com/inference-sim/agentsim/sim/state"
)

// Environment is the resolved set of collaborators a scenario wires its
// participants and plugins into. It replaces any process-wide accessors:
// tasks receive what they need through the objects a scenario builds.
type Environment struct {
	Run       Run
	Scheduler *Scheduler
	State     *state.Store
	Network   *network.Substrate
	RNG       *PartitionedRNG
}

// NewEnvironment builds the store, substrate and scheduler for a run.
// Commit order at the step boundary is: network delivery, then state commit,
// so inbox writes made during delivery become visible in the same commit.
func NewEnvironment(run Run, cfg Config, opts ...SchedulerOption) *Environment {
	store := state.NewStore()
	sub := network.NewSubstrate()
	opts = append([]SchedulerOption{
		WithCommitter("network", CommitFunc(sub.DeliverPending)),
		WithCommitter("state", store),
	}, opts...)
	return &Environment{
		Run:       run,
		Scheduler: NewScheduler(cfg, opts...),
		State:     store,
		Network:   sub,
		RNG:       NewPartitionedRNG(NewSimulationKey(cfg.Seed)),
	}
}

// Params returns the run's parameter set, never nil.
func (e *Environment) Params() Parameters {
	if e.Run.Parameters == nil {
		return Parameters{}
	}
	return e.Run.Parameters
}

// ScenarioFactory registers a scenario's participants and plugins into env.
type ScenarioFactory func(env *Environment) error

var (
	scenariosMu sync.RWMutex
	scenarios   = map[string]ScenarioFactory{}
)

// RegisterScenario makes a scenario available by name. Intended to be called
// from init() in scenario packages. Panics on an empty name, nil factory or
// duplicate registration.
func RegisterScenario(name string, factory ScenarioFactory) {
	if name == "" || factory == nil {
		panic("RegisterScenario: name and factory are required")
	}
	scenariosMu.Lock()
	defer scenariosMu.Unlock()
	if _, dup := scenarios[name]; dup {
		panic(fmt.Sprintf("RegisterScenario: %q registered twice", name))
	}
	scenarios[name] = factory
}

// LookupScenario returns the factory registered under name.
func LookupScenario(name string) (ScenarioFactory, error) {
	scenariosMu.RLock()
	defer scenariosMu.RUnlock()
	f, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q; valid options: %v", name, scenarioNamesLocked())
	}
	return f, nil
}

// ScenarioNames returns the registered scenario names, sorted.
func ScenarioNames() []string {
	scenariosMu.RLock()
	defer scenariosMu.RUnlock()
	return scenarioNamesLocked()
}

func scenarioNamesLocked() []string {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BuildEnvironment creates an environment for run and applies its scenario.
func BuildEnvironment(run Run, cfg Config, opts ...SchedulerOption) (*Environment, error) {
	factory, err := LookupScenario(run.Scenario)
	if err != nil {
		return nil, err
	}
	env := NewEnvironment(run, cfg, opts...)
	if err := factory(env); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", run.Scenario, err)
	}
	return env, nil
}
