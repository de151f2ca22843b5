package store

import "fmt"

// NotFoundError is raised when a key has no value in the database.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("store: key not found: %s", e.Key)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(key string) *NotFoundError {
	return &NotFoundError{Key: key}
}

// CorruptRowError is raised when a stored row cannot be decoded (spec §4.1
// Database KV: "corrupt rows are skipped and logged, never fatal").
type CorruptRowError struct {
	Key   string
	Cause error
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("store: corrupt row %s: %v", e.Key, e.Cause)
}

func (e *CorruptRowError) Unwrap() error {
	return e.Cause
}

// TxnClosedError is raised when an operation is attempted on a transaction
// that has already committed or aborted.
type TxnClosedError struct {
	Op string
}

func (e *TxnClosedError) Error() string {
	return fmt.Sprintf("store: transaction already closed, cannot %s", e.Op)
}
