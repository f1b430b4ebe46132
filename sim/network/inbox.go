package network

import (
	"errors"
	"sync"

	"github.com/inference-sim/agentsim/sim/state"
)

// InboxKey is the shared-state name under which StateInbox stores messages.
const InboxKey = "network.inbox"

// Inbox receives messages at the delivery point.
type Inbox interface {
	Deliver(msg Message) error
}

// StateInbox is a participant inbox backed by the shared-state store.
// Deliveries are queued store changes, so messages delivered at the commit
// point of step t become readable once the store commits, i.e. from step t+1.
//
// Messages delivered before a commit are staged and appended to the log by
// a single store change, which grows the log in place.
type StateInbox struct {
	store *state.Store
	owner string

	mu     sync.Mutex
	staged []Message
}

// NewStateInbox creates an inbox for participant owner in store.
func NewStateInbox(store *state.Store, owner string) *StateInbox {
	if store == nil {
		panic("NewStateInbox: store must not be nil")
	}
	return &StateInbox{store: store, owner: owner}
}

// Deliver implements Inbox. The first delivery since the last commit queues
// the change that flushes the whole batch.
func (i *StateInbox) Deliver(msg Message) error {
	i.mu.Lock()
	first := len(i.staged) == 0
	i.staged = append(i.staged, msg)
	i.mu.Unlock()
	if !first {
		return nil
	}
	if err := i.store.Change(InboxKey, i.owner, state.Apply(i.flush)); err != nil {
		i.mu.Lock()
		i.staged = nil
		i.mu.Unlock()
		return err
	}
	return nil
}

// flush runs inside the store commit. Earlier reads only ever see a prefix of
// the log, so appending past their length is safe.
func (i *StateInbox) flush(old any) any {
	i.mu.Lock()
	batch := i.staged
	i.staged = nil
	i.mu.Unlock()
	prev, _ := old.([]Message)
	return append(prev, batch...)
}

// Messages returns every committed message, oldest first. The result must
// not be modified.
func (i *StateInbox) Messages() ([]Message, error) {
	msgs, err := state.ReadAs[[]Message](i.store, InboxKey, i.owner)
	if errors.Is(err, state.ErrKeyNotFound) {
		return nil, nil
	}
	return msgs[:len(msgs):len(msgs)], err
}

// InboxReader yields only messages committed since its previous read.
// Not safe for concurrent use; each participant owns its reader.
type InboxReader struct {
	inbox *StateInbox
	seen  int
}

// NewInboxReader creates a reader positioned at the start of the inbox.
func NewInboxReader(inbox *StateInbox) *InboxReader {
	return &InboxReader{inbox: inbox}
}

// Next returns unread messages and advances the cursor.
func (r *InboxReader) Next() ([]Message, error) {
	msgs, err := r.inbox.Messages()
	if err != nil {
		return nil, err
	}
	if r.seen >= len(msgs) {
		return nil, nil
	}
	fresh := msgs[r.seen:]
	r.seen = len(msgs)
	return fresh, nil
}

// QueueInbox is a direct in-memory inbox drained by its owner.
// Only the substrate appends to it, at the commit point.
type QueueInbox struct {
	mu   sync.Mutex
	msgs []Message
}

// NewQueueInbox creates an empty QueueInbox.
func NewQueueInbox() *QueueInbox {
	return &QueueInbox{}
}

// Deliver implements Inbox.
func (q *QueueInbox) Deliver(msg Message) error {
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
	return nil
}

// Drain removes and returns all queued messages.
func (q *QueueInbox) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.msgs
	q.msgs = nil
	return out
}

// Len returns the number of queued messages.
func (q *QueueInbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
