// Package state implements the shared-state store that mediates all
// cross-task state access inside one simulation.
//
// Values are keyed by (name, owner). The owner is either the global scope or
// a participant ID. Creates take effect immediately; changes are queued as
// transformers and only become visible after Commit, which the step scheduler
// invokes once per step between the STEP and POST_STEP phases.
//
// This package has no dependencies on sim/ so that sim/ can own the wiring.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// GlobalOwner is the owner used for global (non-participant) keys.
const GlobalOwner = ""

// Key identifies one shared-state value.
type Key struct {
	Name  string
	Owner string // GlobalOwner or a participant ID
}

// IsGlobal reports whether the key belongs to the global scope.
func (k Key) IsGlobal() bool { return k.Owner == GlobalOwner }

func (k Key) String() string {
	if k.IsGlobal() {
		return fmt.Sprintf("global/%s", k.Name)
	}
	return fmt.Sprintf("%s/%s", k.Owner, k.Name)
}

type pendingChange struct {
	key         Key
	transformer Transformer
}

// Store holds committed values and the ordered list of pending changes.
//
// Thread-safety: all methods are safe for concurrent use. Readers never
// observe a partially applied commit.
type Store struct {
	mu     sync.RWMutex
	values map[Key]any

	pendingMu sync.Mutex
	pending   []pendingChange

	commits int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		values: make(map[Key]any),
	}
}

// ReadGlobal returns the committed value of a global key.
func (s *Store) ReadGlobal(name string) (any, error) {
	return s.read(Key{Name: name, Owner: GlobalOwner})
}

// Read returns the committed value of a participant key.
func (s *Store) Read(name, participant string) (any, error) {
	if participant == GlobalOwner {
		return nil, &AccessError{Op: "read", Key: Key{Name: name}, Err: ErrInvalidParticipant}
	}
	return s.read(Key{Name: name, Owner: participant})
}

func (s *Store) read(k Key) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[k]
	if !ok {
		return nil, &AccessError{Op: "read", Key: k, Err: ErrKeyNotFound}
	}
	return v, nil
}

// CreateGlobal installs a global value immediately. Fails if the key exists.
func (s *Store) CreateGlobal(name string, value any) error {
	return s.create(Key{Name: name, Owner: GlobalOwner}, value)
}

// Create installs a participant value immediately. Fails if the key exists.
func (s *Store) Create(name, participant string, value any) error {
	if participant == GlobalOwner {
		return &AccessError{Op: "create", Key: Key{Name: name}, Err: ErrInvalidParticipant}
	}
	return s.create(Key{Name: name, Owner: participant}, value)
}

func (s *Store) create(k Key, value any) error {
	if k.Name == "" {
		return &AccessError{Op: "create", Key: k, Err: ErrInvalidName}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[k]; exists {
		return &AccessError{Op: "create", Key: k, Err: ErrKeyExists}
	}
	s.values[k] = value
	return nil
}

// ChangeGlobal queues a change to a global key. It has no visible effect
// until the next Commit.
func (s *Store) ChangeGlobal(name string, t Transformer) error {
	return s.change(Key{Name: name, Owner: GlobalOwner}, t)
}

// Change queues a change to a participant key. It has no visible effect
// until the next Commit.
func (s *Store) Change(name, participant string, t Transformer) error {
	if participant == GlobalOwner {
		return &AccessError{Op: "change", Key: Key{Name: name}, Err: ErrInvalidParticipant}
	}
	return s.change(Key{Name: name, Owner: participant}, t)
}

func (s *Store) change(k Key, t Transformer) error {
	if k.Name == "" {
		return &AccessError{Op: "change", Key: k, Err: ErrInvalidName}
	}
	if !t.valid() {
		return &AccessError{Op: "change", Key: k, Err: ErrInvalidTransformer}
	}
	s.pendingMu.Lock()
	s.pending = append(s.pending, pendingChange{key: k, transformer: t})
	s.pendingMu.Unlock()
	return nil
}

// Pending returns the number of queued, uncommitted changes.
func (s *Store) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Commit applies every pending change in enqueue order and clears the queue.
// A change to a key that was never created receives a nil pre-commit value.
// Changes queued while a commit is in progress belong to the next commit.
//
// A transformer that panics is skipped; the remaining changes still apply
// and the failures are returned joined.
func (s *Store) Commit() error {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++

	var errs []error
	for _, pc := range batch {
		old := s.values[pc.key]
		next, err := pc.transformer.transform(old)
		if err != nil {
			errs = append(errs, &AccessError{Op: "commit", Key: pc.key, Err: err})
			continue
		}
		s.values[pc.key] = next
	}
	return errors.Join(errs...)
}

// Commits returns how many times Commit has run.
func (s *Store) Commits() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Keys returns a sorted snapshot of all committed keys.
// Global keys sort before participant keys.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Owner != keys[j].Owner {
			return keys[i].Owner < keys[j].Owner
		}
		return keys[i].Name < keys[j].Name
	})
	return keys
}

// Snapshot returns a copy of all committed values at one instant.
func (s *Store) Snapshot() map[Key]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// ReadGlobalAs reads a global value and asserts its type.
func ReadGlobalAs[T any](s *Store, name string) (T, error) {
	var zero T
	v, err := s.ReadGlobal(name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &AccessError{Op: "read", Key: Key{Name: name}, Err: fmt.Errorf("%w: have %T, want %T", ErrTypeMismatch, v, zero)}
	}
	return typed, nil
}

// ReadAs reads a participant value and asserts its type.
func ReadAs[T any](s *Store, name, participant string) (T, error) {
	var zero T
	v, err := s.Read(name, participant)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &AccessError{Op: "read", Key: Key{Name: name, Owner: participant}, Err: fmt.Errorf("%w: have %T, want %T", ErrTypeMismatch, v, zero)}
	}
	return typed, nil
}
