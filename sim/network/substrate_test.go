package network

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/agentsim/sim/state"
)

// newTestNetwork registers addrs with state-backed inboxes in one store.
func newTestNetwork(t *testing.T, addrs ...Address) (*Substrate, *state.Store, map[Address]*StateInbox) {
	t.Helper()
	store := state.NewStore()
	sub := NewSubstrate()
	inboxes := make(map[Address]*StateInbox, len(addrs))
	for _, a := range addrs {
		in := NewStateInbox(store, string(a))
		require.NoError(t, sub.Register(a, in))
		inboxes[a] = in
	}
	return sub, store, inboxes
}

// commit mirrors the scheduler's commit point: deliver, then commit state.
func commit(t *testing.T, sub *Substrate, store *state.Store) error {
	t.Helper()
	err := sub.DeliverPending()
	require.NoError(t, store.Commit())
	return err
}

func mustMessages(t *testing.T, in *StateInbox) []Message {
	t.Helper()
	msgs, err := in.Messages()
	require.NoError(t, err)
	return msgs
}

func TestSubstrate_Register_Validation(t *testing.T) {
	sub := NewSubstrate()
	assert.True(t, errors.Is(sub.Register("", NewQueueInbox()), ErrInvalidAddress))
	assert.True(t, errors.Is(sub.Register("a", nil), ErrInvalidInbox))
	require.NoError(t, sub.Register("a", NewQueueInbox()))
	assert.True(t, errors.Is(sub.Register("a", NewQueueInbox()), ErrAlreadyRegistered))
	assert.True(t, sub.Registered("a"))
	assert.False(t, sub.Registered("b"))
}

func TestSubstrate_Send_RejectsMalformedMessages(t *testing.T) {
	sub := NewSubstrate()
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"no sender", NewBroadcast(Inform, "", 0, nil), ErrInvalidAddress},
		{"unicast empty to", NewUnicast(Inform, "a", "", 0, nil), ErrInvalidAddress},
		{"multicast empty list", NewMulticast(Inform, "a", nil, 0, nil), ErrInvalidAddress},
		{"zero addressing", Message{From: "a"}, ErrUnknownMessageType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, errors.Is(sub.Send(tc.msg), tc.want))
		})
	}
	assert.Equal(t, 0, sub.Pending())
}

// TestSubstrate_MessageCausality verifies a message sent during step t is
// invisible in step t and visible from step t+1.
func TestSubstrate_MessageCausality(t *testing.T) {
	sub, store, inboxes := newTestNetwork(t, "a", "b")

	require.NoError(t, sub.Send(NewUnicast(Request, "a", "b", 0, "ping")))
	assert.Empty(t, mustMessages(t, inboxes["b"]), "message must not be visible before the commit point")

	require.NoError(t, sub.DeliverPending())
	assert.Empty(t, mustMessages(t, inboxes["b"]), "delivery is queued until the store commits")

	require.NoError(t, store.Commit())
	got := mustMessages(t, inboxes["b"])
	require.Len(t, got, 1)
	assert.Equal(t, "ping", got[0].Payload)
	assert.Empty(t, mustMessages(t, inboxes["a"]))
}

func TestSubstrate_NoMessages_LeavesInboxesUnchanged(t *testing.T) {
	sub, store, inboxes := newTestNetwork(t, "a", "b")
	require.NoError(t, sub.Send(NewUnicast(Inform, "a", "b", 0, 1)))
	require.NoError(t, commit(t, sub, store))
	before := mustMessages(t, inboxes["b"])

	require.NoError(t, commit(t, sub, store))
	if diff := cmp.Diff(before, mustMessages(t, inboxes["b"])); diff != "" {
		t.Errorf("empty step changed inbox (-before +after):\n%s", diff)
	}
	assert.Equal(t, 0, sub.LastDelivery().Messages)
}

// TestSubstrate_Broadcast_WithBlockConstraint covers scenario C:
// broadcast from A with B blocked reaches only C.
func TestSubstrate_Broadcast_WithBlockConstraint(t *testing.T) {
	sub, store, inboxes := newTestNetwork(t, "A", "B", "C")
	require.NoError(t, sub.AddConstraint(NewBlockConstraint("B")))

	require.NoError(t, sub.Send(NewBroadcast(Inform, "A", 3, "hello")))
	require.NoError(t, commit(t, sub, store))

	assert.Len(t, mustMessages(t, inboxes["C"]), 1)
	assert.Empty(t, mustMessages(t, inboxes["B"]))
	assert.Empty(t, mustMessages(t, inboxes["A"]))

	stats := sub.LastDelivery()
	assert.Equal(t, DeliveryStats{Messages: 1, Deliveries: 1, Vetoed: 1}, stats)
}

func TestSubstrate_Multicast_PartialUnreachable(t *testing.T) {
	sub, store, inboxes := newTestNetwork(t, "a", "b", "c")

	require.NoError(t, sub.Send(NewMulticast(Query, "a", []Address{"b", "x", "c", "y"}, 0, nil)))
	err := commit(t, sub, store)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachableRecipient))
	var ure *UnreachableRecipientError
	require.True(t, errors.As(err, &ure))
	assert.Equal(t, []Address{"x", "y"}, ure.Addresses)

	assert.Len(t, mustMessages(t, inboxes["b"]), 1)
	assert.Len(t, mustMessages(t, inboxes["c"]), 1)
}

func TestSubstrate_Unicast_UnknownRecipient(t *testing.T) {
	sub, store, _ := newTestNetwork(t, "a")
	require.NoError(t, sub.Send(NewUnicast(Inform, "a", "ghost", 0, nil)))
	err := commit(t, sub, store)
	assert.True(t, errors.Is(err, ErrUnreachableRecipient))
}

func TestSubstrate_ConstraintMayRewrite(t *testing.T) {
	sub := NewSubstrate()
	q := NewQueueInbox()
	require.NoError(t, sub.Register("a", NewQueueInbox()))
	require.NoError(t, sub.Register("b", q))
	require.NoError(t, sub.AddConstraint(ConstraintFunc(func(m Message, _ Address) (Message, bool) {
		m.Payload = "redacted"
		return m, true
	})))

	require.NoError(t, sub.Send(NewUnicast(Inform, "a", "b", 0, "secret")))
	require.NoError(t, sub.DeliverPending())

	got := q.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "redacted", got[0].Payload)
	assert.Equal(t, 0, q.Len())
}

func TestInboxReader_ReturnsOnlyNewMessages(t *testing.T) {
	sub, store, inboxes := newTestNetwork(t, "a", "b")
	reader := NewInboxReader(inboxes["b"])

	require.NoError(t, sub.Send(NewUnicast(Inform, "a", "b", 0, 1)))
	require.NoError(t, commit(t, sub, store))
	first, err := reader.Next()
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := reader.Next()
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, sub.Send(NewUnicast(Inform, "a", "b", 1, 2)))
	require.NoError(t, sub.Send(NewUnicast(Inform, "a", "b", 1, 3)))
	require.NoError(t, commit(t, sub, store))
	second, err := reader.Next()
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 2, second[0].Payload)
	assert.Equal(t, 3, second[1].Payload)
}

func TestDropConstraint_Extremes(t *testing.T) {
	never := NewDropConstraint(rand.New(rand.NewSource(1)), 0)
	always := NewDropConstraint(rand.New(rand.NewSource(1)), 1.5)
	msg := NewBroadcast(Inform, "a", 0, nil)
	for i := 0; i < 100; i++ {
		_, ok := never.Constrain(msg, "b")
		assert.True(t, ok)
		_, ok = always.Constrain(msg, "b")
		assert.False(t, ok)
	}
}

// TestStateInbox_BatchesDeliveriesPerCommit checks that one commit appends
// a step's deliveries with a single store change per recipient.
func TestStateInbox_BatchesDeliveriesPerCommit(t *testing.T) {
	sub, store, inboxes := newTestNetwork(t, "a", "b", "c")

	for i := 0; i < 3; i++ {
		require.NoError(t, sub.Send(NewBroadcast(Inform, "a", 0, i)))
	}
	require.NoError(t, sub.DeliverPending())
	assert.Equal(t, 2, store.Pending(), "one change each for b and c")
	require.NoError(t, store.Commit())

	first := mustMessages(t, inboxes["b"])
	require.Len(t, first, 3)
	for i, m := range first {
		assert.Equal(t, i, m.Payload)
	}

	require.NoError(t, sub.Send(NewUnicast(Inform, "a", "b", 1, 3)))
	require.NoError(t, commit(t, sub, store))

	got := mustMessages(t, inboxes["b"])
	require.Len(t, got, 4)
	assert.Equal(t, 3, got[3].Payload)
	assert.Len(t, first, 3, "earlier reads keep their length")
	assert.Len(t, mustMessages(t, inboxes["c"]), 3)
	assert.Equal(t, cap(got), len(got), "callers cannot append into the log")
}
