package repository

import (
	"errors"
	"fmt"

	"github.com/ticketops/boxoffice/internal/kv"
)

var (
	// ErrNotFound is returned when a row is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional create hits an existing
	// row.
	ErrConflict = errors.New("conflict")
	// ErrVersionConflict is returned when an optimistic-locked update finds
	// a different stored version.
	ErrVersionConflict = errors.New("version conflict")
)

// wrapKVErr maps store-level errors to repository-level errors and wraps them
// with the provided operation name.
func wrapKVErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, kv.ErrItemNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// wrapCreateErr is wrapKVErr for conditional creates, where a failed
// precondition means the row already exists.
func wrapCreateErr(op string, err error) error {
	if errors.Is(err, kv.ErrPreconditionFailed) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return wrapKVErr(op, err)
}

// wrapVersionErr is wrapKVErr for optimistic-locked updates, where a failed
// precondition means the snapshot is stale.
func wrapVersionErr(op string, err error) error {
	if errors.Is(err, kv.ErrPreconditionFailed) {
		return fmt.Errorf("%s: %w", op, ErrVersionConflict)
	}
	return wrapKVErr(op, err)
}
