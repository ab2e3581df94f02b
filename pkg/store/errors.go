package store

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates get-by-id found no matching record.
var ErrNotFound = errors.New("store: record not found")

// ErrUnknownCollection indicates a caller referenced a collection key the
// store does not recognize.
var ErrUnknownCollection = errors.New("store: unknown collection")

// PersistenceError wraps a flush/load failure with the collection and
// underlying cause. In-memory state remains valid after one of these —
// only the on-disk copy is stale.
type PersistenceError struct {
	Collection string
	Op         string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
