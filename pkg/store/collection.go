package store

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// collection is a thread-safe, append-ordered sequence of records backed
// by a single on-disk file. idOf extracts a record's identifier for
// get-by-id lookups; it may be nil for collections that are never looked
// up by id (e.g. examples).
type collection[T any] struct {
	mu      sync.RWMutex
	records []T
	idOf    func(T) string
}

func newCollection[T any](idOf func(T) string) *collection[T] {
	return &collection[T]{idOf: idOf}
}

// append adds a record at the end of the collection.
func (c *collection[T]) append(rec T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

// list returns a defensive copy of every record, in append order.
func (c *collection[T]) list() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.records))
	copy(out, c.records)
	return out
}

// listWhere returns a defensive copy of every record for which pred
// reports true, preserving append order.
func (c *collection[T]) listWhere(pred func(T) bool) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0)
	for _, r := range c.records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// getByID returns the first record whose id matches, if idOf is set.
func (c *collection[T]) getByID(id string) (T, bool) {
	var zero T
	if c.idOf == nil {
		return zero, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if c.idOf(r) == id {
			return r, true
		}
	}
	return zero, false
}

// len reports the number of records currently held.
func (c *collection[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// replace swaps the entire record set, used by vote/apply mutations that
// rewrite one record in place.
func (c *collection[T]) replace(records []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = records
}

// load populates the collection from path if it exists; a missing file is
// not an error (fresh store).
func (c *collection[T]) load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var records []T
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return err
	}
	c.mu.Lock()
	c.records = records
	c.mu.Unlock()
	return nil
}

// save atomically writes the collection to path (write-temp, rename).
func (c *collection[T]) save(path string) error {
	c.mu.RLock()
	raw, err := yaml.Marshal(c.records)
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}

// writeAtomic writes data to a temp file in dir(path) then renames it
// over path, so a reader never observes a partially written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
