package task

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed task write (missing id/item_id/name, bad schedule).
	ErrValidation = errors.New("invalid task")
	// ErrNotFound is returned for operations on an unknown task id.
	ErrNotFound = errors.New("task not found")
	// ErrAlreadyRunning is the routine single-flight rejection; it is not a failure.
	ErrAlreadyRunning = errors.New("task already running")
	// ErrOrphanedAssociation is only ever reported by the validator, never returned.
	ErrOrphanedAssociation = errors.New("task references a missing item")
	// ErrExecution wraps a failed task action; it ends up in LastRunError.
	ErrExecution = errors.New("task action failed")
	// ErrPersistence wraps store I/O failures.
	ErrPersistence = errors.New("task store failure")
)

// Validation returns an ErrValidation-wrapped error for field.
func Validation(field, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, msg)
}

// Persistence wraps a store error for op. Nil stays nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// NotFound returns an ErrNotFound-wrapped error naming id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}
