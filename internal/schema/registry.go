package schema

import (
	"fmt"
	"sync"

	"github.com/datafold/datafold/internal/encryption"
	"github.com/datafold/datafold/internal/kv"
	"github.com/datafold/datafold/internal/transform"
)

// Registry holds the set of loaded schemas keyed by name, behind a
// sync.RWMutex — the teacher's manager.TokenManager lock-per-map idiom,
// generalized from tokens to schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
	store   *encryption.Wrapper
}

// NewRegistry opens the schemas tree of store under encryption context
// schema_data and loads every previously persisted schema into memory.
func NewRegistry(store kv.Store, keys *encryption.KeyManager, mode encryption.MigrationMode) (*Registry, error) {
	tree, err := store.Tree("schemas")
	if err != nil {
		return nil, fmt.Errorf("schema: failed to open schemas tree: %w", err)
	}
	wrapper, err := encryption.NewWrapper(tree, keys, encryption.ContextSchemaData, mode)
	if err != nil {
		return nil, err
	}

	r := &Registry{schemas: make(map[string]*Schema), store: wrapper}
	if err := r.loadAll(tree); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadAll(tree kv.Tree) error {
	entries, err := tree.ScanPrefix(nil)
	if err != nil {
		return fmt.Errorf("schema: failed to scan schemas tree: %w", err)
	}
	for _, e := range entries {
		var s Schema
		found, err := r.store.Get(e.Key, &s)
		if err != nil {
			return fmt.Errorf("schema: failed to decode persisted schema %q: %w", e.Key, err)
		}
		if found {
			r.schemas[s.Name] = &s
		}
	}
	return nil
}

// LoadSchema inserts or replaces s in the registry at state Available and
// persists it.
func (r *Registry) LoadSchema(s *Schema) error {
	if s.Name == "" {
		return newSchemaError(ErrInvalidData, "schema name must not be empty")
	}
	if s.State == "" {
		s.State = StateAvailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Put([]byte(s.Name), s); err != nil {
		return fmt.Errorf("schema: failed to persist schema %q: %w", s.Name, err)
	}
	r.schemas[s.Name] = s
	return nil
}

// GetSchema returns the named schema or ErrNotFound.
func (r *Registry) GetSchema(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, newSchemaError(ErrNotFound, name)
	}
	return s, nil
}

// Approve transitions name from Available to Approved, running cycle
// detection over the transform dependency graph and the field-mapper graph
// first; either cycle blocks approval (spec.md §4.6/§4.7).
func (r *Registry) Approve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schemas[name]
	if !ok {
		return newSchemaError(ErrNotFound, name)
	}

	if err := detectMapperCycle(s); err != nil {
		return err
	}

	g := transform.NewDependencyGraph()
	for _, other := range r.schemas {
		for fieldName, def := range other.Fields {
			if def.Transform == nil || (other != s && other.State != StateApproved) {
				continue
			}
			deps, _ := transform.ExtractDependencies(def.Transform.Logic)
			for _, dep := range deps {
				g.AddEdge(dep, dependencyCoordinate(other.Name, fieldName))
			}
		}
	}
	if err := g.DetectCycle(); err != nil {
		return newSchemaError(ErrCycle, err.Error())
	}

	s.State = StateApproved
	if err := r.store.Put([]byte(s.Name), s); err != nil {
		return fmt.Errorf("schema: failed to persist approval of %q: %w", name, err)
	}
	return nil
}

// Block transitions name to Blocked from any state (an Approved schema may
// be re-blocked per spec.md §3 Lifecycles).
func (r *Registry) Block(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schemas[name]
	if !ok {
		return newSchemaError(ErrNotFound, name)
	}
	s.State = StateBlocked
	if err := r.store.Put([]byte(s.Name), s); err != nil {
		return fmt.Errorf("schema: failed to persist block of %q: %w", name, err)
	}
	return nil
}

// Unload removes name from the registry and storage entirely.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schemas[name]; !ok {
		return newSchemaError(ErrNotFound, name)
	}
	if err := r.store.Delete([]byte(name)); err != nil {
		return fmt.Errorf("schema: failed to delete schema %q: %w", name, err)
	}
	delete(r.schemas, name)
	return nil
}

// ListByState returns every loaded schema currently in state.
func (r *Registry) ListByState(state State) []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Schema
	for _, s := range r.schemas {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out
}
