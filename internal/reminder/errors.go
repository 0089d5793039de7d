package reminder

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when an ID does not exist.
var ErrNotFound = errors.New("reminder not found")

// ValidationError describes a malformed record.
type ValidationError struct {
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid reminder: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid reminder %s: %s %s", e.ID, e.Field, e.Reason)
}

// StorageError wraps a persistence failure with the store operation name.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage " + e.Op + ": " + errString(e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// TransportError wraps a failed outbound send.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + errString(e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ConnectivityError is a startup failure reaching a required dependency.
type ConnectivityError struct {
	Component string
	Err       error
}

func (e *ConnectivityError) Error() string {
	return e.Component + " unreachable: " + errString(e.Err)
}
func (e *ConnectivityError) Unwrap() error { return e.Err }

// Storage wraps err as a *StorageError unless it is nil or already one.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}
