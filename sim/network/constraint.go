package network

import (
	"math/rand"
	"sync"
)

// Constraint is consulted once per (message, recipient) pair at delivery.
// It returns the message to deliver, possibly rewritten, and whether delivery
// to this recipient may proceed.
type Constraint interface {
	Constrain(msg Message, recipient Address) (Message, bool)
}

// ConstraintFunc adapts a function to Constraint.
type ConstraintFunc func(msg Message, recipient Address) (Message, bool)

// Constrain implements Constraint.
func (f ConstraintFunc) Constrain(msg Message, recipient Address) (Message, bool) {
	return f(msg, recipient)
}

// BlockConstraint vetoes delivery to a fixed set of addresses.
type BlockConstraint struct {
	blocked map[Address]bool
}

// NewBlockConstraint creates a BlockConstraint for the given recipients.
func NewBlockConstraint(blocked ...Address) *BlockConstraint {
	b := &BlockConstraint{blocked: make(map[Address]bool, len(blocked))}
	for _, a := range blocked {
		b.blocked[a] = true
	}
	return b
}

// Constrain implements Constraint.
func (b *BlockConstraint) Constrain(msg Message, recipient Address) (Message, bool) {
	return msg, !b.blocked[recipient]
}

// DropConstraint drops each delivery independently with probability P.
// Seeded from the simulation RNG so runs are reproducible.
type DropConstraint struct {
	mu  sync.Mutex
	rng *rand.Rand
	p   float64
}

// NewDropConstraint creates a DropConstraint. p is clamped to [0,1].
func NewDropConstraint(rng *rand.Rand, p float64) *DropConstraint {
	if rng == nil {
		panic("NewDropConstraint: rng must not be nil")
	}
	p = max(0, min(1, p))
	return &DropConstraint{rng: rng, p: p}
}

// Constrain implements Constraint.
func (d *DropConstraint) Constrain(msg Message, _ Address) (Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return msg, d.rng.Float64() >= d.p
}
