package kv

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrItemNotFound is returned by Get and UpdateIf for absent keys.
	ErrItemNotFound = errors.New("item not found")
	// ErrPreconditionFailed is returned by conditional writes whose
	// condition did not hold.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrTxCanceled is the sentinel all transaction cancellations match.
	ErrTxCanceled = errors.New("transaction canceled")
	// ErrTxConflict marks a transient transaction abort (two transactions
	// touched the same keys); the whole transaction may be retried.
	ErrTxConflict = errors.New("transaction conflict")
	// ErrStoreUnavailable wraps driver connectivity failures.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrUnknownTable = errors.New("unknown table")
	ErrUnknownIndex = errors.New("unknown index")
)

// TxCanceledError reports a canceled transactional write. Reasons is indexed
// like the ops slice passed to TransactWrite; entries are nil for ops whose
// condition held.
type TxCanceledError struct {
	Reasons []error
}

func (e *TxCanceledError) Error() string {
	var parts []string
	for i, r := range e.Reasons {
		if r != nil {
			parts = append(parts, fmt.Sprintf("op[%d]: %v", i, r))
		}
	}
	if len(parts) == 0 {
		return "transaction canceled"
	}
	return "transaction canceled: " + strings.Join(parts, "; ")
}

func (e *TxCanceledError) Is(target error) bool {
	return target == ErrTxCanceled
}

// PreconditionFailures returns the indexes of ops canceled by their own
// condition, as opposed to ops rolled back alongside them.
func (e *TxCanceledError) PreconditionFailures() []int {
	var out []int
	for i, r := range e.Reasons {
		if errors.Is(r, ErrPreconditionFailed) {
			out = append(out, i)
		}
	}
	return out
}
