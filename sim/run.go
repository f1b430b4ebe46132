// Defines the Run struct that models one end-to-end simulation run,
// its lifecycle states and its string parameter set.

package sim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RunState represents the lifecycle state of a simulation run.
type RunState string

const (
	RunNotStarted RunState = "NOT_STARTED"
	RunReady      RunState = "READY"
	RunRunning    RunState = "RUNNING"
	RunFinished   RunState = "FINISHED"
	RunError      RunState = "ERROR"
)

// validRunStates maps accepted run state strings.
var validRunStates = map[RunState]bool{
	RunNotStarted: true,
	RunReady:      true,
	RunRunning:    true,
	RunFinished:   true,
	RunError:      true,
}

// Valid reports whether s is a recognised run state.
func (s RunState) Valid() bool { return validRunStates[s] }

// Terminal reports whether s is FINISHED or ERROR. Runs are never deleted,
// only moved into a terminal state.
func (s RunState) Terminal() bool { return s == RunFinished || s == RunError }

// Run models a single simulation run.
// Created by a client; state transitions are made by the dispatcher and by
// the process that drives the scheduler.
type Run struct {
	ID          int64
	Scenario    string // registered scenario name (see RegisterScenario)
	Parameters  Parameters
	State       RunState
	FinishTime  int64 // last step index; see TimeFinishCondition
	CurrentStep int64
}

// Parameters is the name -> string value parameter set of a run.
type Parameters map[string]string

// ParseParameters parses "name=value" pairs. Later duplicates win.
func ParseParameters(pairs []string) (Parameters, error) {
	params := make(Parameters, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected name=value", pair)
		}
		params[name] = strings.TrimSpace(value)
	}
	return params, nil
}

// String returns the named value or def when absent.
func (p Parameters) String(name, def string) string {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Int returns the named value parsed as int64, or def when absent.
func (p Parameters) Int(name string, def int64) (int64, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return n, nil
}

// Float returns the named value parsed as float64, or def when absent.
func (p Parameters) Float(name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return f, nil
}

// Bool returns the named value parsed as bool, or def when absent.
func (p Parameters) Bool(name string, def bool) (bool, error) {
	v, ok := p[name]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parameter %s: %w", name, err)
	}
	return b, nil
}

// Pairs returns the parameters as sorted "name=value" strings.
func (p Parameters) Pairs() []string {
	out := make([]string, 0, len(p))
	for k, v := range p {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
