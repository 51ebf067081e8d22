package query

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/datafold/datafold/internal/atom"
	"github.com/datafold/datafold/internal/bus"
	"github.com/datafold/datafold/internal/encryption"
	"github.com/datafold/datafold/internal/kv"
	"github.com/datafold/datafold/internal/schema"
)

type memTree struct{ data map[string][]byte }

func (t *memTree) Get(key []byte) ([]byte, bool, error) {
	v, ok := t.data[string(key)]
	return v, ok, nil
}
func (t *memTree) Put(key, value []byte) error {
	t.data[string(key)] = append([]byte(nil), value...)
	return nil
}
func (t *memTree) Delete(key []byte) error {
	delete(t.data, string(key))
	return nil
}
func (t *memTree) ScanPrefix(prefix []byte) ([]kv.Entry, error) {
	out := make([]kv.Entry, 0, len(t.data))
	for k, v := range t.data {
		out = append(out, kv.Entry{Key: []byte(k), Value: v})
	}
	return out, nil
}
func (t *memTree) ScanRange(start, end []byte) ([]kv.Entry, error) { return t.ScanPrefix(nil) }

type memStore struct{ trees map[string]*memTree }

func newMemStore() *memStore {
	s := &memStore{trees: map[string]*memTree{}}
	for _, name := range kv.TreeNames {
		s.trees[name] = &memTree{data: map[string][]byte{}}
	}
	return s
}
func (s *memStore) Tree(name string) (kv.Tree, error) { return s.trees[name], nil }
func (s *memStore) Close() error                       { return nil }

func newTestRuntime(t *testing.T) (*Runtime, *schema.Registry, *atom.Service, *bus.Bus) {
	t.Helper()
	var master [32]byte
	keys, err := encryption.NewKeyManager(master)
	if err != nil {
		t.Fatalf("NewKeyManager() error = %v", err)
	}
	store := newMemStore()

	reg, err := schema.NewRegistry(store, keys, encryption.Full)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	b := bus.New(8)
	atoms, err := atom.NewService(store, keys, encryption.Full, b)
	if err != nil {
		t.Fatalf("atom.NewService() error = %v", err)
	}

	// requestReply stands in for internal/node's RequestReply: it answers a
	// FieldValueSetRequest by writing an atom and swinging the field's
	// Single ref. Unlike node's real handler, it neither chains the new atom
	// onto the previous one nor creates a missing ref.
	replyFn := func(ctx context.Context, req bus.FieldValueSetRequest, timeout time.Duration) (bus.FieldValueSetResponse, error) {
		id := atom.Coordinate(req.Schema, req.Field)
		a, err := atoms.CreateAtom(req.Schema, req.Field, nil, req.Value, atom.StatusActive)
		if err != nil {
			return bus.FieldValueSetResponse{CorrelationID: req.CorrelationID, Err: err.Error()}, nil
		}
		if _, err := atoms.UpdateAtomRef(id, a.UUID, "", "", nil, ""); err != nil {
			return bus.FieldValueSetResponse{CorrelationID: req.CorrelationID, Err: err.Error()}, nil
		}
		return bus.FieldValueSetResponse{CorrelationID: req.CorrelationID, AtomUUID: a.UUID}, nil
	}

	rt := NewRuntime(reg, atoms, b, replyFn, 0)
	return rt, reg, atoms, b
}

func loadUserSchema(t *testing.T, reg *schema.Registry, atoms *atom.Service) {
	t.Helper()
	result, err := schema.InterpretJSON([]byte(`{
		"name": "user",
		"fields": {
			"name": {"field_type": "single"}
		}
	}`))
	if err != nil {
		t.Fatalf("InterpretJSON() error = %v", err)
	}
	if err := reg.LoadSchema(result.Schema); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if _, err := atoms.CreateAtomRef(atom.Coordinate("user", "name"), uuid.Nil, atom.RefTypeSingle); err != nil {
		t.Fatalf("CreateAtomRef() error = %v", err)
	}
}

func TestMutationThenQueryRoundTrip(t *testing.T) {
	rt, reg, atoms, _ := newTestRuntime(t)
	loadUserSchema(t, reg, atoms)

	mres, err := rt.ExecuteMutation(context.Background(), MutationParams{
		Schema:        "user",
		FieldValues:   map[string][]byte{"name": []byte("Alice")},
		TrustDistance: 0,
	})
	if err != nil {
		t.Fatalf("ExecuteMutation() error = %v", err)
	}
	fr := mres.Fields["name"]
	if fr.Err != nil {
		t.Fatalf("mutation field error = %v", fr.Err)
	}

	qres, err := rt.ExecuteQuery(context.Background(), QueryParams{
		Schema:        "user",
		Fields:        []string{"name"},
		TrustDistance: 0,
	})
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	got := qres.Fields["name"]
	if got.Err != nil {
		t.Fatalf("query field error = %v", got.Err)
	}
	if !bytes.Equal(got.Value, []byte("Alice")) {
		t.Fatalf("query field value = %q, want Alice", got.Value)
	}

	history, err := atoms.GetAtomHistory(atom.Coordinate("user", "name"))
	if err != nil {
		t.Fatalf("GetAtomHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].PrevUUID != nil {
		t.Fatalf("history = %+v, want one atom with nil PrevUUID", history)
	}
}

func TestQueryDeniesReadOutsideDistance(t *testing.T) {
	rt, reg, atoms, _ := newTestRuntime(t)
	loadUserSchema(t, reg, atoms)

	qres, err := rt.ExecuteQuery(context.Background(), QueryParams{
		Schema:        "user",
		Fields:        []string{"name"},
		TrustDistance: 5,
	})
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	if qres.Fields["name"].Err == nil {
		t.Fatal("query field at excessive trust distance succeeded, want permission denied")
	}
}

func TestMutationSubstitutesDefaultTrustDistance(t *testing.T) {
	var master [32]byte
	keys, err := encryption.NewKeyManager(master)
	if err != nil {
		t.Fatalf("NewKeyManager() error = %v", err)
	}
	store := newMemStore()
	reg, err := schema.NewRegistry(store, keys, encryption.Full)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	b := bus.New(8)
	atoms, err := atom.NewService(store, keys, encryption.Full, b)
	if err != nil {
		t.Fatalf("atom.NewService() error = %v", err)
	}

	result, err := schema.InterpretJSON([]byte(`{
		"name": "user",
		"fields": {
			"name": {"field_type": "single", "permission_policy": {"write": {"distance": 3}}}
		}
	}`))
	if err != nil {
		t.Fatalf("InterpretJSON() error = %v", err)
	}
	if err := reg.LoadSchema(result.Schema); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if _, err := atoms.CreateAtomRef(atom.Coordinate("user", "name"), uuid.Nil, atom.RefTypeSingle); err != nil {
		t.Fatalf("CreateAtomRef() error = %v", err)
	}

	replyFn := func(ctx context.Context, req bus.FieldValueSetRequest, timeout time.Duration) (bus.FieldValueSetResponse, error) {
		return bus.FieldValueSetResponse{CorrelationID: req.CorrelationID, AtomUUID: uuid.New()}, nil
	}
	// defaultTrustDistance of 2 satisfies Distance(3) when the caller
	// passes 0 for trust_distance (spec.md §4.8).
	rt := NewRuntime(reg, atoms, b, replyFn, 2)

	mres, err := rt.ExecuteMutation(context.Background(), MutationParams{
		Schema:        "user",
		FieldValues:   map[string][]byte{"name": []byte("Bob")},
		TrustDistance: 0,
	})
	if err != nil {
		t.Fatalf("ExecuteMutation() error = %v", err)
	}
	if mres.Fields["name"].Err != nil {
		t.Fatalf("mutation field error = %v, want success via substituted default trust distance", mres.Fields["name"].Err)
	}
}
