package network

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DeliveryStats summarises one DeliverPending call.
type DeliveryStats struct {
	Messages    int // pending messages processed
	Deliveries  int // (message, recipient) pairs handed to an inbox
	Vetoed      int // pairs dropped by a constraint
	Unreachable int // addresses that could not be resolved
}

// Substrate routes messages between registered addresses at step boundaries.
//
// Thread-safety: Send, Register and AddConstraint are safe for concurrent
// use from phase tasks. DeliverPending is called by the step scheduler at the
// commit point, when no STEP task is running.
type Substrate struct {
	mu          sync.RWMutex
	inboxes     map[Address]Inbox
	order       []Address // registration order, for deterministic broadcast
	constraints []Constraint

	pendingMu sync.Mutex
	pending   []Message

	last DeliveryStats
}

// NewSubstrate creates a substrate with no registered addresses.
func NewSubstrate() *Substrate {
	return &Substrate{inboxes: make(map[Address]Inbox)}
}

// Register binds addr to inbox for the lifetime of the run.
// An address may be registered only once.
func (s *Substrate) Register(addr Address, inbox Inbox) error {
	if addr == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if inbox == nil {
		return fmt.Errorf("%w: nil inbox for %s", ErrInvalidInbox, addr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inboxes[addr]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
	}
	s.inboxes[addr] = inbox
	s.order = append(s.order, addr)
	return nil
}

// Registered reports whether addr has an inbox.
func (s *Substrate) Registered(addr Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inboxes[addr]
	return ok
}

// Addresses returns registered addresses in registration order.
func (s *Substrate) Addresses() []Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Address(nil), s.order...)
}

// AddConstraint appends a delivery constraint. Constraints run in the order
// they were added; the first veto wins.
func (s *Substrate) AddConstraint(c Constraint) error {
	if c == nil {
		return errors.New("network: nil constraint")
	}
	s.mu.Lock()
	s.constraints = append(s.constraints, c)
	s.mu.Unlock()
	return nil
}

// Send validates msg and queues it for the next delivery point.
// It never delivers synchronously.
func (s *Substrate) Send(msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.pendingMu.Lock()
	s.pending = append(s.pending, msg)
	s.pendingMu.Unlock()
	return nil
}

// Pending returns the number of queued, undelivered messages.
func (s *Substrate) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// LastDelivery returns statistics of the most recent DeliverPending call.
func (s *Substrate) LastDelivery() DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// DeliverPending routes every pending message, in send order, to its
// recipients' inboxes. Unresolvable recipients are reported as
// UnreachableRecipientError values joined into the returned error;
// resolvable recipients of the same message still receive it.
func (s *Substrate) DeliverPending() error {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := DeliveryStats{Messages: len(batch)}
	var errs []error
	for _, msg := range batch {
		recipients, missing := s.resolveLocked(msg)
		if len(missing) > 0 {
			stats.Unreachable += len(missing)
			errs = append(errs, &UnreachableRecipientError{Message: msg, Addresses: missing})
		}
		for _, to := range recipients {
			out, ok := s.constrainLocked(msg, to)
			if !ok {
				stats.Vetoed++
				logrus.Debugf("network: delivery of %s to %s vetoed", msg.ID, to)
				continue
			}
			if err := s.inboxes[to].Deliver(out); err != nil {
				errs = append(errs, fmt.Errorf("deliver %s to %s: %w", msg.ID, to, err))
				continue
			}
			stats.Deliveries++
		}
	}
	s.last = stats
	return errors.Join(errs...)
}

func (s *Substrate) resolveLocked(msg Message) (recipients, missing []Address) {
	switch msg.Mode {
	case Broadcast:
		for _, a := range s.order {
			if a != msg.From {
				recipients = append(recipients, a)
			}
		}
	default:
		seen := make(map[Address]bool, len(msg.To))
		for _, a := range msg.To {
			if seen[a] {
				continue
			}
			seen[a] = true
			if _, ok := s.inboxes[a]; ok {
				recipients = append(recipients, a)
			} else {
				missing = append(missing, a)
			}
		}
	}
	return recipients, missing
}

func (s *Substrate) constrainLocked(msg Message, to Address) (Message, bool) {
	for _, c := range s.constraints {
		var ok bool
		msg, ok = c.Constrain(msg, to)
		if !ok {
			return msg, false
		}
	}
	return msg, true
}
