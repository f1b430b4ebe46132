package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
)

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same key and identical configuration produce identical
// committed state, as long as participants draw randomness only from their
// own subsystem.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// SubsystemNetwork seeds probabilistic delivery constraints.
	SubsystemNetwork = "network"

	// SubsystemScenario is used by scenario factories while wiring a run.
	SubsystemScenario = "scenario"
)

// SubsystemParticipant returns the subsystem name for a participant.
func SubsystemParticipant(id string) string {
	return fmt.Sprintf("participant_%s", id)
}

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
// Each subsystem is seeded with masterSeed XOR fnv1a64(subsystemName).
//
// ForSubsystem is safe for concurrent use; the returned *rand.Rand is not,
// so each subsystem must be owned by a single task.
type PartitionedRNG struct {
	key SimulationKey

	mu         sync.Mutex
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same name always returns the same cached instance. Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
