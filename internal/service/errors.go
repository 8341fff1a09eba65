package service

import (
	"fmt"

	"shoplist-sync-server/internal/domain"
)

// ValidationError rejects a malformed batch before anything is written.
// Index is -1 when the batch as a whole is at fault.
type ValidationError struct {
	Index int
	Rule  string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Rule
	}
	return fmt.Sprintf("operation %d: %s", e.Index, e.Rule)
}

type ForbiddenError struct {
	OwnerID string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("no access to list owned by %s", e.OwnerID)
}

type NotFoundError struct {
	OwnerID string
	Label   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %q not found", e.Label)
}

// TransactionAbortError reports the operation that rolled a batch back.
// Unwrap exposes the cause so callers can still match NotFoundError.
type TransactionAbortError struct {
	Index int
	Type  domain.OperationType
	Err   error
}

func (e *TransactionAbortError) Error() string {
	return fmt.Sprintf("batch aborted at operation %d (%s): %v", e.Index, e.Type, e.Err)
}

func (e *TransactionAbortError) Unwrap() error {
	return e.Err
}
