package network

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAddress       = errors.New("invalid address")
	ErrInvalidInbox         = errors.New("invalid inbox")
	ErrAlreadyRegistered    = errors.New("address already registered")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrUnreachableRecipient = errors.New("unreachable recipient")
)

// UnreachableRecipientError lists every address of one message that could
// not be resolved to a registered inbox.
type UnreachableRecipientError struct {
	Message   Message
	Addresses []Address
}

func (e *UnreachableRecipientError) Error() string {
	return fmt.Sprintf("unreachable recipient(s) %v for %s", e.Addresses, e.Message)
}

// Is lets errors.Is(err, ErrUnreachableRecipient) match.
func (e *UnreachableRecipientError) Is(target error) bool { return target == ErrUnreachableRecipient }
