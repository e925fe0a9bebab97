package statestore

import "fmt"

// StoreError is a typed error for shared-state-store failures, so
// callers can branch on Kind without string matching.
type StoreError struct {
	Kind    ErrorKind
	Key     string
	Message string
	Cause   error
}

// ErrorKind categorizes a StoreError.
type ErrorKind int

const (
	ErrKindNotFound ErrorKind = iota
	ErrKindLockHeld
	ErrKindInvalidValue
	ErrKindConnection
)

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newNotFoundError(key string) *StoreError {
	return &StoreError{Kind: ErrKindNotFound, Key: key, Message: fmt.Sprintf("statestore: key not found: %s", key)}
}

func newLockHeldError(key string) *StoreError {
	return &StoreError{Kind: ErrKindLockHeld, Key: key, Message: fmt.Sprintf("statestore: lock held: %s", key)}
}

func newConnectionError(key string, cause error) *StoreError {
	return &StoreError{Kind: ErrKindConnection, Key: key, Message: "statestore: connection error", Cause: cause}
}

func newInvalidValueError(key string, cause error) *StoreError {
	return &StoreError{Kind: ErrKindInvalidValue, Key: key, Message: fmt.Sprintf("statestore: invalid value for %s", key), Cause: cause}
}

// IsNotFound reports whether err is a StoreError with Kind ErrKindNotFound.
func IsNotFound(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Kind == ErrKindNotFound
}

// IsLockHeld reports whether err is a StoreError with Kind ErrKindLockHeld.
func IsLockHeld(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Kind == ErrKindLockHeld
}
