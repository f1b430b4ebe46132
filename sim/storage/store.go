// Package storage is the persistence boundary for simulation runs and the
// properties they produce. The engine only calls it at run creation, on
// run-state changes and for per-step property writes.
package storage

import (
	"context"
	"errors"

	"github.com/inference-sim/agentsim/sim"
)

// ErrRunNotFound is returned when a run ID has never been created.
var ErrRunNotFound = errors.New("run not found")

// Property is one stored value keyed by (run, key[, step][, participant]).
// A nil Step or Participant means the property is not step- or
// participant-scoped.
type Property struct {
	RunID       int64
	Key         string
	Step        *int64
	Participant *string
	Value       string
}

// PropertyFilter narrows Properties results. Zero fields match everything.
type PropertyFilter struct {
	Key         string
	Step        *int64
	Participant *string
}

func (f PropertyFilter) matches(p Property) bool {
	if f.Key != "" && f.Key != p.Key {
		return false
	}
	if f.Step != nil && (p.Step == nil || *p.Step != *f.Step) {
		return false
	}
	if f.Participant != nil && (p.Participant == nil || *p.Participant != *f.Participant) {
		return false
	}
	return true
}

// Store persists runs and their properties. Implementations are safe for
// concurrent use.
type Store interface {
	// CreateRun assigns a positive ID to run, stores it as NOT_STARTED and
	// returns the ID.
	CreateRun(ctx context.Context, run sim.Run) (int64, error)
	GetRun(ctx context.Context, id int64) (sim.Run, error)
	UpdateRunState(ctx context.Context, id int64, state sim.RunState) error
	UpdateRunProgress(ctx context.Context, id int64, step int64) error
	// PutProperty inserts or replaces the property with the same key tuple.
	PutProperty(ctx context.Context, p Property) error
	// Properties returns matching properties of a run ordered by key, step
	// and participant.
	Properties(ctx context.Context, runID int64, filter PropertyFilter) ([]Property, error)
	Close() error
}

// StepOf returns a pointer to step, for building step-scoped properties.
func StepOf(step int64) *int64 { return &step }

// ParticipantOf returns a pointer to id, for building participant-scoped properties.
func ParticipantOf(id string) *string { return &id }

// Open returns a SQLite store for a non-empty path and a memory store
// otherwise.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemoryStore(), nil
	}
	return OpenSQLite(path)
}
