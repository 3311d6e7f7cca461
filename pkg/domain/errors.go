package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when starting a session under an ID that is already taken.
var ErrSessionExists = errors.New("session already exists")

// ErrInvalidChange is returned by forward helpers when the requested edit cannot be applied.
// The document is left untouched.
var ErrInvalidChange = errors.New("invalid change")

// ErrDecode is the sentinel wrapped by DecodeError.
var ErrDecode = errors.New("payload cannot be decoded")

// ErrInconsistentLog is the sentinel wrapped by ConsistencyError.
var ErrInconsistentLog = errors.New("inconsistent change log")

// ErrUnsupportedType is the sentinel wrapped by UnsupportedTypeError.
var ErrUnsupportedType = errors.New("unsupported change type")

// DecodeError reports a payload that could not be rebuilt into an element or attribute.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("decode %s: %s", describePayload(e.Payload), ErrDecode)
	}
	return fmt.Sprintf("decode %s: %v", describePayload(e.Payload), e.Err)
}

func (e *DecodeError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

// ConsistencyError reports that the marker for a step is missing or duplicated.
type ConsistencyError struct {
	Step   int
	Found  int
	Reason string
}

func (e *ConsistencyError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: step %d: %s", ErrInconsistentLog, e.Step, e.Reason)
	}
	return fmt.Sprintf("%s: step %d: expected exactly one marker, found %d", ErrInconsistentLog, e.Step, e.Found)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrInconsistentLog
}

// UnsupportedTypeError reports a marker whose type suffix has no inverse.
type UnsupportedTypeError struct {
	Type ChangeType
}

func (e *UnsupportedTypeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %q", ErrUnsupportedType, string(e.Type))
}

func (e *UnsupportedTypeError) Unwrap() error {
	return ErrUnsupportedType
}

// IsFatal reports whether err corrupts the edit session.
// Fatal errors are never retried; the session restarts from its clean document.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrInconsistentLog) ||
		errors.Is(err, ErrUnsupportedType)
}

func describePayload(p string) string {
	const limit = 48
	if p == "" {
		return "payload=<empty>"
	}
	if len(p) > limit {
		p = p[:limit] + "..."
	}
	return fmt.Sprintf("payload=%q", p)
}
