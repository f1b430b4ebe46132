// Package network provides the time-stepped message delivery substrate.
//
// Messages sent during step t are held in a pending list and only routed to
// recipient inboxes at the step's commit point, so no recipient can observe a
// message before step t+1.
package network

import (
	"fmt"

	"github.com/google/uuid"
)

// Address identifies a registered device or participant.
type Address string

// Performative is the speech-act tag carried by a message.
type Performative string

const (
	Inform         Performative = "inform"
	Request        Performative = "request"
	Query          Performative = "query"
	Propose        Performative = "propose"
	AcceptProposal Performative = "accept-proposal"
	RejectProposal Performative = "reject-proposal"
	Agree          Performative = "agree"
	Refuse         Performative = "refuse"
	Failure        Performative = "failure"
)

// Addressing selects how recipients are resolved. The zero value is invalid.
type Addressing int

const (
	Unicast Addressing = iota + 1
	Multicast
	Broadcast
)

func (a Addressing) String() string {
	switch a {
	case Unicast:
		return "unicast"
	case Multicast:
		return "multicast"
	case Broadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("addressing(%d)", int(a))
	}
}

// Message is a single communication between addresses.
// For Unicast, To holds exactly one address; for Multicast, the explicit
// recipient list; for Broadcast, To is empty and every registered address
// except From receives the message.
type Message struct {
	ID           uuid.UUID
	Performative Performative
	From         Address
	Timestamp    int64 // step in which the message was sent
	Payload      any
	Mode         Addressing
	To           []Address
}

// NewUnicast builds a message for a single recipient.
func NewUnicast(p Performative, from, to Address, timestamp int64, payload any) Message {
	return Message{ID: uuid.New(), Performative: p, From: from, Timestamp: timestamp,
		Payload: payload, Mode: Unicast, To: []Address{to}}
}

// NewMulticast builds a message for an explicit recipient list.
func NewMulticast(p Performative, from Address, to []Address, timestamp int64, payload any) Message {
	return Message{ID: uuid.New(), Performative: p, From: from, Timestamp: timestamp,
		Payload: payload, Mode: Multicast, To: append([]Address(nil), to...)}
}

// NewBroadcast builds a message for every registered address except the sender.
func NewBroadcast(p Performative, from Address, timestamp int64, payload any) Message {
	return Message{ID: uuid.New(), Performative: p, From: from, Timestamp: timestamp,
		Payload: payload, Mode: Broadcast}
}

// validate checks addressing invariants before a message is accepted.
func (m Message) validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: message has no sender", ErrInvalidAddress)
	}
	switch m.Mode {
	case Unicast:
		if len(m.To) != 1 || m.To[0] == "" {
			return fmt.Errorf("%w: unicast needs exactly one recipient, got %v", ErrInvalidAddress, m.To)
		}
	case Multicast:
		if len(m.To) == 0 {
			return fmt.Errorf("%w: multicast with empty recipient list", ErrInvalidAddress)
		}
		for _, a := range m.To {
			if a == "" {
				return fmt.Errorf("%w: multicast recipient list contains empty address", ErrInvalidAddress)
			}
		}
	case Broadcast:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMessageType, m.Mode)
	}
	return nil
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s from=%s t=%d to=%v", m.Mode, m.Performative, m.From, m.Timestamp, m.To)
}
