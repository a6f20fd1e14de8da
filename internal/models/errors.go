package models

import (
	"errors"
	"fmt"
)

var (
	// ErrImageNotFound is returned when a stored post references a file that is gone.
	ErrImageNotFound = errors.New("image not found")

	// ErrDuplicateName is returned when a post name is already taken.
	ErrDuplicateName = errors.New("post name already exists")
)

// ValidationError reports a missing or unusable upload field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// StoreError wraps a failure of the persistent store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
