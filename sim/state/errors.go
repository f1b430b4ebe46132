package state

import (
	"errors"
	"fmt"
)

// ErrSharedStateAccess matches every error returned by Store operations.
var ErrSharedStateAccess = errors.New("shared state access")

var (
	ErrKeyNotFound        = errors.New("key has never been created")
	ErrKeyExists          = errors.New("key already exists")
	ErrInvalidName        = errors.New("empty state name")
	ErrInvalidParticipant = errors.New("empty participant id")
	ErrInvalidTransformer = errors.New("zero-value transformer")
	ErrTransformerPanic   = errors.New("transformer panicked")
	ErrTypeMismatch       = errors.New("unexpected value type")
)

// AccessError describes a failed store operation on one key.
type AccessError struct {
	Op  string
	Key Key
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("shared state %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes the specific cause (ErrKeyNotFound, ErrKeyExists, ...).
func (e *AccessError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSharedStateAccess) match any AccessError.
func (e *AccessError) Is(target error) bool { return target == ErrSharedStateAccess }
