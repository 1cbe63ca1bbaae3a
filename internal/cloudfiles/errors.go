package cloudfiles

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrAlreadyInit  = errors.New("already initialized")
	ErrInvalidInput = errors.New("invalid input")
	ErrQueueStopped = errors.New("work queue stopped")
)

// RegistrationError reports a failed sync root registration.
type RegistrationError struct {
	Path string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register sync root %s: %v", e.Path, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ConnectionError reports a failed sync root connection.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect sync root %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PlaceholderCreateError reports a rejected placeholder creation.
type PlaceholderCreateError struct {
	Path string
	Err  error
}

func (e *PlaceholderCreateError) Error() string {
	return fmt.Sprintf("create placeholder %s: %v", e.Path, e.Err)
}

func (e *PlaceholderCreateError) Unwrap() error { return e.Err }

// TransferError reports a failed hydration transfer.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// StateChangeError reports a failed in-sync or pin state command.
type StateChangeError struct {
	Path string
	Op   string
	Err  error
}

func (e *StateChangeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StateChangeError) Unwrap() error { return e.Err }

// HostStatus extracts the host status code from an error chain, if present.
func HostStatus(err error) (Status, bool) {
	var hostErr *HostError
	if errors.As(err, &hostErr) {
		return hostErr.Status, true
	}
	return StatusOK, false
}
