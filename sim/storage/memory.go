package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/inference-sim/agentsim/sim"
)

// MemoryStore is a Store held entirely in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	runs   map[int64]sim.Run
	props  map[int64]map[propertyKey]Property
}

type propertyKey struct {
	key         string
	step        int64  // -1 when unscoped
	participant string // "" when unscoped
}

func keyOf(p Property) propertyKey {
	k := propertyKey{key: p.Key, step: -1}
	if p.Step != nil {
		k.step = *p.Step
	}
	if p.Participant != nil {
		k.participant = *p.Participant
	}
	return k
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[int64]sim.Run),
		props: make(map[int64]map[propertyKey]Property),
	}
}

// CreateRun implements Store.
func (m *MemoryStore) CreateRun(_ context.Context, run sim.Run) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run.ID = m.nextID
	run.State = sim.RunNotStarted
	run.Parameters = copyParams(run.Parameters)
	m.runs[run.ID] = run
	return run.ID, nil
}

// GetRun implements Store.
func (m *MemoryStore) GetRun(_ context.Context, id int64) (sim.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return sim.Run{}, fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	run.Parameters = copyParams(run.Parameters)
	return run, nil
}

// UpdateRunState implements Store.
func (m *MemoryStore) UpdateRunState(_ context.Context, id int64, state sim.RunState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid run state %q", state)
	}
	return m.update(id, func(r *sim.Run) { r.State = state })
}

// UpdateRunProgress implements Store.
func (m *MemoryStore) UpdateRunProgress(_ context.Context, id int64, step int64) error {
	return m.update(id, func(r *sim.Run) { r.CurrentStep = step })
}

func (m *MemoryStore) update(id int64, fn func(*sim.Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}
	fn(&run)
	m.runs[id] = run
	return nil
}

// PutProperty implements Store.
func (m *MemoryStore) PutProperty(_ context.Context, p Property) error {
	if p.Key == "" {
		return fmt.Errorf("property key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[p.RunID]; !ok {
		return fmt.Errorf("%w: %d", ErrRunNotFound, p.RunID)
	}
	if m.props[p.RunID] == nil {
		m.props[p.RunID] = make(map[propertyKey]Property)
	}
	m.props[p.RunID][keyOf(p)] = p
	return nil
}

// Properties implements Store.
func (m *MemoryStore) Properties(_ context.Context, runID int64, filter PropertyFilter) ([]Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	out := make([]Property, 0, len(m.props[runID]))
	for _, p := range m.props[runID] {
		if filter.matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := keyOf(out[i]), keyOf(out[j])
		if a.key != b.key {
			return a.key < b.key
		}
		if a.step != b.step {
			return a.step < b.step
		}
		return a.participant < b.participant
	})
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

func copyParams(p sim.Parameters) sim.Parameters {
	out := make(sim.Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
