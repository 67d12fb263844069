package storage

import "errors"

var (
	// ErrValidation matches every ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound matches every NotFoundError via errors.Is.
	ErrNotFound = errors.New("not found")
	// ErrNoSnapshot is returned by a Persister when nothing has been stored yet.
	ErrNoSnapshot = errors.New("snapshot not found")
)

var (
	ErrDuplicateIdentity  = &ValidationError{Message: "email already registered"}
	ErrSelfRequest        = &ValidationError{Message: "cannot send a friend request to yourself"}
	ErrInvalidMedia       = &ValidationError{Message: "media payload is malformed"}
	ErrInvalidCredentials = &ValidationError{Message: "invalid credentials"}

	ErrIdentityNotFound = &NotFoundError{Message: "identity not found"}
	ErrRecordNotFound   = &NotFoundError{Message: "media record not found"}
)

// ValidationError reports input that was rejected without mutating state. The
// message is safe to surface to the originating session.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(message string) error {
	return &ValidationError{Message: message}
}

// NotFoundError reports a reference to something that does not exist. Callers
// on the realtime path treat it as a silent no-op.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
