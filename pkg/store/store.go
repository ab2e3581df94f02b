// Package store implements the multi-collection persistent knowledge
// store: page nodes, TOC entries, entities, relationships, claims,
// messages, learnings, and examples, each tracked as an independently
// dirty-flagged collection flushed to its own file.
package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/rle/pkg/rlemodel"
)

// Key names a collection for dirty-tracking and filenames.
type Key string

const (
	KeyPageNodes     Key = "page-nodes"
	KeyTocEntries    Key = "toc-entries"
	KeyEntities      Key = "entities"
	KeyRelationships Key = "relationships"
	KeyClaims        Key = "claims"
	KeyMessages      Key = "messages"
	KeyLearnings     Key = "learnings"
	KeyExamples      Key = "examples"
)

var allKeys = []Key{
	KeyPageNodes, KeyTocEntries, KeyEntities, KeyRelationships,
	KeyClaims, KeyMessages, KeyLearnings, KeyExamples,
}

// Store is the multi-collection knowledge store for a single Environment.
// It is shared-read, single-writer-per-collection: each collection owns
// its own lock, and the dirty set is a small mutex-guarded map rather
// than per-field atomics, which is sufficient at this store's write rate
// and keeps the flush path simple to reason about.
type Store struct {
	basePath string
	owned    bool // true if CreateDisposable made this path; false for WrapExternal

	pageNodes     *collection[rlemodel.PageNode]
	tocEntries    *collection[rlemodel.TocEntry]
	entities      *collection[rlemodel.Entity]
	relationships *collection[rlemodel.Relationship]
	claims        *collection[rlemodel.Claim]
	messages      *collection[rlemodel.Message]
	learnings     *collection[rlemodel.Learning]
	examples      *collection[rlemodel.Example]

	dirtyMu sync.Mutex
	dirty   map[Key]bool

	meta Meta
}

func newStore(basePath string, owned bool) *Store {
	return &Store{
		basePath:      basePath,
		owned:         owned,
		pageNodes:     newCollection(func(n rlemodel.PageNode) string { return n.ID }),
		tocEntries:    newCollection(func(e rlemodel.TocEntry) string { return e.ID }),
		entities:      newCollection(func(e rlemodel.Entity) string { return e.ID }),
		relationships: newCollection(func(r rlemodel.Relationship) string { return r.ID }),
		claims:        newCollection(func(c rlemodel.Claim) string { return c.ID }),
		messages:      newCollection(func(m rlemodel.Message) string { return m.ID }),
		learnings:     newCollection(func(l rlemodel.Learning) string { return l.ID }),
		examples:      newCollection[rlemodel.Example](nil),
		dirty:         make(map[Key]bool),
	}
}

// CreateDisposable constructs an owned store under a fresh temporary
// directory. The directory (and every collection file in it) is removed
// on Dispose.
func CreateDisposable() (*Store, error) {
	dir, err := os.MkdirTemp("", "rle-store-*")
	if err != nil {
		return nil, &PersistenceError{Collection: "meta", Op: "create-temp-dir", Err: err}
	}
	s := newStore(dir, true)
	s.meta = Meta{Version: currentStoreVersion, CreatedAt: time.Now()}
	if err := saveMeta(s.metaPath(), s.meta); err != nil {
		return nil, &PersistenceError{Collection: "meta", Op: "save", Err: err}
	}
	return s, nil
}

// WrapExternal opens (or creates) a store at a caller-owned basePath.
// Dispose flushes but never removes the directory.
func WrapExternal(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, &PersistenceError{Collection: "meta", Op: "mkdir", Err: err}
	}
	s := newStore(basePath, false)
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	if s.meta.Version == "" {
		s.meta = Meta{Version: currentStoreVersion, CreatedAt: time.Now()}
		if err := saveMeta(s.metaPath(), s.meta); err != nil {
			return nil, &PersistenceError{Collection: "meta", Op: "save", Err: err}
		}
	}
	return s, nil
}

func (s *Store) metaPath() string { return filepath.Join(s.basePath, "meta.yaml") }

func (s *Store) pathFor(key Key) string {
	return filepath.Join(s.basePath, string(key)+".yaml")
}

func (s *Store) loadAll() error {
	m, err := loadMeta(s.metaPath())
	if err != nil {
		return &PersistenceError{Collection: "meta", Op: "load", Err: err}
	}
	s.meta = m

	loaders := map[Key]interface{ load(string) error }{
		KeyPageNodes:     s.pageNodes,
		KeyTocEntries:    s.tocEntries,
		KeyEntities:      s.entities,
		KeyRelationships: s.relationships,
		KeyClaims:        s.claims,
		KeyMessages:      s.messages,
		KeyLearnings:     s.learnings,
		KeyExamples:      s.examples,
	}
	for _, k := range allKeys {
		if err := loaders[k].load(s.pathFor(k)); err != nil {
			return &PersistenceError{Collection: string(k), Op: "load", Err: err}
		}
	}
	return nil
}

// MarkDirty adds key to the dirty set. Safe for concurrent use.
func (s *Store) MarkDirty(key Key) {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	s.dirty[key] = true
}

// FlushNow writes exactly the dirty collections to disk and clears the
// dirty set. The in-memory snapshot is taken and the dirty set cleared
// before any file I/O runs, so writers are never blocked on disk.
func (s *Store) FlushNow() error {
	s.dirtyMu.Lock()
	toFlush := make([]Key, 0, len(s.dirty))
	for k := range s.dirty {
		toFlush = append(toFlush, k)
	}
	s.dirty = make(map[Key]bool)
	s.dirtyMu.Unlock()

	savers := map[Key]interface{ save(string) error }{
		KeyPageNodes:     s.pageNodes,
		KeyTocEntries:    s.tocEntries,
		KeyEntities:      s.entities,
		KeyRelationships: s.relationships,
		KeyClaims:        s.claims,
		KeyMessages:      s.messages,
		KeyLearnings:     s.learnings,
		KeyExamples:      s.examples,
	}
	for _, k := range toFlush {
		if err := savers[k].save(s.pathFor(k)); err != nil {
			return &PersistenceError{Collection: string(k), Op: "flush", Err: err}
		}
	}
	return nil
}

// Dispose flushes outstanding writes and, for an owned (disposable)
// store, removes the entire base directory.
func (s *Store) Dispose() error {
	if err := s.FlushNow(); err != nil {
		return err
	}
	if s.owned {
		return os.RemoveAll(s.basePath)
	}
	return nil
}

// newID generates a fresh record identifier.
func newID() string { return uuid.NewString() }

// --- append operations (one per collection) ---

// AppendPageNode appends a page node and marks the collection dirty.
// A blank ID is assigned a fresh one.
func (s *Store) AppendPageNode(n rlemodel.PageNode) rlemodel.PageNode {
	if n.ID == "" {
		n.ID = newID()
	}
	s.pageNodes.append(n)
	s.MarkDirty(KeyPageNodes)
	return n
}

// AppendTocEntry appends a TOC entry and marks the collection dirty.
func (s *Store) AppendTocEntry(e rlemodel.TocEntry) rlemodel.TocEntry {
	if e.ID == "" {
		e.ID = newID()
	}
	s.tocEntries.append(e)
	s.MarkDirty(KeyTocEntries)
	return e
}

// AppendEntity appends an entity and marks the collection dirty.
func (s *Store) AppendEntity(e rlemodel.Entity) rlemodel.Entity {
	if e.ID == "" {
		e.ID = newID()
	}
	s.entities.append(e)
	s.MarkDirty(KeyEntities)
	return e
}

// AppendRelationship appends a relationship and marks the collection
// dirty. Callers must resolve both endpoints to existing entity ids
// before calling this (KnowledgeEngine's two-phase insertion).
func (s *Store) AppendRelationship(r rlemodel.Relationship) rlemodel.Relationship {
	if r.ID == "" {
		r.ID = newID()
	}
	s.relationships.append(r)
	s.MarkDirty(KeyRelationships)
	return r
}

// AppendClaim appends a claim and marks the collection dirty.
func (s *Store) AppendClaim(c rlemodel.Claim) rlemodel.Claim {
	if c.ID == "" {
		c.ID = newID()
	}
	s.claims.append(c)
	s.MarkDirty(KeyClaims)
	return c
}

// AppendMessage appends a message and marks the collection dirty.
func (s *Store) AppendMessage(m rlemodel.Message) rlemodel.Message {
	if m.ID == "" {
		m.ID = newID()
	}
	s.messages.append(m)
	s.MarkDirty(KeyMessages)
	return m
}

// AppendLearning appends a new learning and marks the collection dirty.
func (s *Store) AppendLearning(l rlemodel.Learning) rlemodel.Learning {
	if l.ID == "" {
		l.ID = newID()
	}
	s.learnings.append(l)
	s.MarkDirty(KeyLearnings)
	return l
}

// AppendExample appends an example and marks the collection dirty,
// then enforces the retention cap (at most 3 good + 3 bad, by recency).
func (s *Store) AppendExample(e rlemodel.Example) {
	s.examples.append(e)
	s.pruneExamples()
	s.MarkDirty(KeyExamples)
}

const maxExamplesPerBucket = 3

// pruneExamples keeps only the most recent maxExamplesPerBucket good and
// maxExamplesPerBucket bad examples.
func (s *Store) pruneExamples() {
	all := s.examples.list()
	good := make([]rlemodel.Example, 0, len(all))
	bad := make([]rlemodel.Example, 0, len(all))
	for _, e := range all {
		if e.Good {
			good = append(good, e)
		} else {
			bad = append(bad, e)
		}
	}
	good = mostRecent(good, maxExamplesPerBucket)
	bad = mostRecent(bad, maxExamplesPerBucket)
	s.examples.replace(append(good, bad...))
}

func mostRecent(examples []rlemodel.Example, n int) []rlemodel.Example {
	if len(examples) <= n {
		return examples
	}
	sorted := make([]rlemodel.Example, len(examples))
	copy(sorted, examples)
	// Simple insertion sort by Timestamp descending: example lists here
	// are always small (bounded by the cap itself plus one new entry).
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Timestamp.After(sorted[j-1].Timestamp); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted[:n]
}

// PruneExamples re-enforces the per-bucket retention cap. AppendExample
// already does this on every write; exported so a periodic sweep (see
// RetentionService) can re-run it as a safety net independent of write
// traffic.
func (s *Store) PruneExamples() {
	before := len(s.examples.list())
	s.pruneExamples()
	if len(s.examples.list()) != before {
		s.MarkDirty(KeyExamples)
	}
}

// ListExamples returns every retained example.
func (s *Store) ListExamples() []rlemodel.Example { return s.examples.list() }

// ListMessages returns every message in append order.
func (s *Store) ListMessages() []rlemodel.Message { return s.messages.list() }

// GetHistory returns the last n messages (or all, if fewer are present).
func (s *Store) GetHistory(n int) []rlemodel.Message {
	all := s.messages.list()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// HistoryStats summarizes the message history.
type HistoryStats struct {
	Total     int
	ByRole    map[rlemodel.Role]int
	TotalTokens int
}

// HistoryStats computes HistoryStats over the full message history.
func (s *Store) HistoryStats() HistoryStats {
	all := s.messages.list()
	stats := HistoryStats{Total: len(all), ByRole: make(map[rlemodel.Role]int)}
	for _, m := range all {
		stats.ByRole[m.Role]++
		stats.TotalTokens += m.Tokens
	}
	return stats
}
