package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrTransactionInProgress is returned by Begin when a transaction is
	// already open.
	ErrTransactionInProgress = errors.New("transaction already in progress")
	// ErrNoActiveTransaction is returned by Commit or Rollback without a
	// prior Begin.
	ErrNoActiveTransaction = errors.New("no active transaction")
	// ErrEmptyHistory is returned by Undo when the history ring is empty.
	ErrEmptyHistory = errors.New("operation history is empty")
	// ErrClosed is returned after the engine has shut down.
	ErrClosed = errors.New("store is closed")
)

// NotFoundError reports a missing task id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidFieldValueError reports a rejected field value on a create or
// update.
type InvalidFieldValueError struct {
	Field string
	Value string
	Allow []string
}

func (e *InvalidFieldValueError) Error() string {
	if len(e.Allow) > 0 {
		return fmt.Sprintf("invalid %s %q, allowed: %s", e.Field, e.Value, strings.Join(e.Allow, ", "))
	}
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

// CircularDependencyError reports the cycle path that a proposed dependency
// edge would close.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Path, " -> "))
}

// DependencyConflictError reports a delete blocked by dependent tasks, or a
// dependency on a missing task.
type DependencyConflictError struct {
	TaskID     string
	Dependents []string
	Missing    []string
}

func (e *DependencyConflictError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("task %s depends on missing tasks: %s", e.TaskID, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("task %s has dependents: %s", e.TaskID, strings.Join(e.Dependents, ", "))
}

// BulkValidationError aggregates the per-item failures of a rejected bulk
// operation. Nothing from a failed bulk request is applied.
type BulkValidationError struct {
	Errors map[int]error
}

func (e *BulkValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, i := range e.indexes() {
		parts = append(parts, fmt.Sprintf("item %d: %v", i, e.Errors[i]))
	}
	return fmt.Sprintf("bulk operation rejected: %s", strings.Join(parts, "; "))
}

// Unwrap exposes the per-item failures so errors.Is and errors.As see
// through the aggregate.
func (e *BulkValidationError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, i := range e.indexes() {
		out = append(out, e.Errors[i])
	}
	return out
}

func (e *BulkValidationError) indexes() []int {
	idx := make([]int, 0, len(e.Errors))
	for i := range e.Errors {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// StorePathNotFoundError reports a store path whose directory does not
// exist. Unlike a merely missing file it is not recoverable by starting
// empty, since it usually means a misconfigured home.
type StorePathNotFoundError struct {
	Path string
}

func (e *StorePathNotFoundError) Error() string {
	return fmt.Sprintf("store path %s: directory does not exist", e.Path)
}

// CorruptStoreError reports a load failure: unreadable JSON or schema
// violations. The engine recovers by rebuilding a default store.
type CorruptStoreError struct {
	Path   string
	Detail string
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("store file %s is corrupt: %s", e.Path, e.Detail)
}
