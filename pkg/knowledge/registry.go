package knowledge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// entry pairs a live Environment with the cancel func for the context its
// callers are expected to drive long-running calls (Query, Ingest) through.
type entry struct {
	env    *Environment
	cancel context.CancelFunc
}

// EnvironmentRegistry tracks live Environments by id and supports
// cooperative cancellation of whichever long-running call is in flight
// against one of them.
type EnvironmentRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewEnvironmentRegistry creates an empty registry.
func NewEnvironmentRegistry() *EnvironmentRegistry {
	return &EnvironmentRegistry{entries: make(map[string]*entry)}
}

// Register adds env under a fresh id and returns that id along with a
// context derived from parent. Callers must pass that context into every
// Query/Ingest call they make against env so a later Cancel(id) actually
// aborts in-flight work.
func (r *EnvironmentRegistry) Register(parent context.Context, env *Environment) (string, context.Context) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.entries[id] = &entry{env: env, cancel: cancel}
	r.mu.Unlock()

	return id, ctx
}

// Get retrieves a registered Environment by id.
func (r *EnvironmentRegistry) Get(id string) (*Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("knowledge: environment not found: %s", id)
	}
	return e.env, nil
}

// List returns every registered Environment id.
func (r *EnvironmentRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Cancel cancels the context handed out by Register(id), signalling any
// in-flight call against that Environment to stop at its next deadline
// check. It does not dispose the Environment or remove it from the
// registry — callers do that explicitly via Unregister.
func (r *EnvironmentRegistry) Cancel(id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("knowledge: environment not found: %s", id)
	}
	e.cancel()
	return nil
}

// Unregister cancels id's context, disposes its Environment, and removes it
// from the registry.
func (r *EnvironmentRegistry) Unregister(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("knowledge: environment not found: %s", id)
	}
	e.cancel()
	return DisposeEnv(e.env)
}
