package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrBatchFailed = errors.New("no task could be created")

	// ErrValidation is wrapped by every input error the host should reject as a bad request.
	ErrValidation   = errors.New("invalid input")
	ErrEmptyMessage = fmt.Errorf("%w: message text is empty", ErrValidation)
	ErrEmptyTitle   = fmt.Errorf("%w: task title is empty", ErrValidation)
	ErrInvalidOrder = fmt.Errorf("%w: order must list every task of the project once", ErrValidation)
	ErrMissingOwner = fmt.Errorf("%w: owner email is required", ErrValidation)
	ErrNoProject    = fmt.Errorf("%w: tasks need a project", ErrValidation)
)

// NetworkError wraps a failure of a collaborator: unreachable or non-success.
type NetworkError struct {
	Service string
	Op      string
	Err     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NewNetworkError returns nil when err is nil. ErrNotFound passes through unwrapped.
func NewNetworkError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &NetworkError{Service: service, Op: op, Err: err}
}

// IsNetwork reports whether err came from an unreachable collaborator.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ReferenceError is an @TaskN reference that does not resolve.
type ReferenceError struct {
	Ref string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("reference %s does not match any task", e.Ref)
}
