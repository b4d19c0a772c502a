package domain

import (
	"errors"
	"fmt"
)

// Error kinds shared across services. Callers match with errors.Is; detailed
// variants below unwrap to these sentinels.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEventNotFound     = errors.New("event not found")
	ErrInventoryNotFound = errors.New("inventory not found")

	ErrInsufficientInventory  = errors.New("insufficient inventory")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateInventory     = errors.New("inventory already exists")
	ErrSeatExhaustion         = errors.New("no seats left to assign")

	ErrOptimisticLockConflict = errors.New("optimistic lock conflict")
	ErrSeatAssignmentFailed   = errors.New("seat assignment failed")

	// ErrCounterUnderflow guards release/confirm against dropping a counter
	// below zero. It is never surfaced to clients; callers check counters
	// first and treat a hit as a lost race.
	ErrCounterUnderflow = errors.New("counter underflow")
)

// InvalidStateTransitionError reports a transition attempted from a status
// that does not permit it.
type InvalidStateTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s %s is %s, cannot move to %s", e.Entity, e.ID, e.From, e.To)
}

func (e InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// InsufficientInventoryError reports a reserve request that exceeds the
// available counter.
type InsufficientInventoryError struct {
	EventID    string
	TicketType string
	Requested  int
	Available  int
}

func (e InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s/%s: requested %d, available %d", e.EventID, e.TicketType, e.Requested, e.Available)
}

func (e InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}
