// Package sim provides the discrete-time step engine for multi-agent runs.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - task.go: capability interfaces and how objects become phase tasks
//   - strategy.go: sequential and pooled phase execution with a barrier
//   - scheduler.go: the step cycle (merge, PRE_STEP, STEP, commit, POST_STEP)
//   - run.go: the Run record and its lifecycle states
//
// # Architecture
//
// The sim package defines the run model, the scheduler and the scenario
// registry; the collaborators live in sub-packages:
//   - sim/state/: deferred-commit shared state store
//   - sim/network/: time-stepped message delivery substrate
//   - sim/dispatch/: job dispatcher and capacity-bounded executors
//   - sim/storage/: persistence of runs and per-step properties
//   - sim/trace/: dispatch and step decision traces
//   - sim/scenario/: built-in scenarios
//
// Scenario packages register their factories via init() functions that call
// RegisterScenario; the cmd package imports them for side effects.
//
// # Key Interfaces
//
//   - Initialiser, PreStepper, Stepper, FinishCondition, Finaliser: the
//     step-function contract participants and plugins implement
//   - Strategy: run the tasks of one phase and wait for all of them
//   - Committer: make a step's pending changes visible
package sim
