package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal is returned when an operation targets a
	// completed, failed or cancelled session.
	ErrSessionTerminal = errors.New("session already terminal")

	// ErrUnknownEntityType is returned for entity types the engine does
	// not track.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrPlanning marks planner failures such as dependency cycles.
	ErrPlanning = errors.New("planning error")
)

// ValidationError rejects malformed configuration or input before any
// work begins.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// ComparisonError marks a single entity whose data is unprocessable.
// It never fails the batch it occurred in.
type ComparisonError struct {
	EntityID string
	Reason   string
}

func (e *ComparisonError) Error() string {
	return fmt.Sprintf("cannot compare entity %q: %s", e.EntityID, e.Reason)
}

// StorageError wraps a ledger read or write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
