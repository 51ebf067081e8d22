package atom

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/datafold/datafold/internal/bus"
	"github.com/datafold/datafold/internal/encryption"
	"github.com/datafold/datafold/internal/kv"
)

// maxHistoryHops bounds GetAtomHistory's prev_uuid walk (spec.md §4.4).
const maxHistoryHops = 10_000

// Service implements the atom/ref operations of spec.md §4.4. Atoms are
// persisted into the "atoms" tree, refs into "atom_refs", both under
// encryption context atom_data.
type Service struct {
	atoms *encryption.Wrapper
	refs  *encryption.Wrapper
	bus   *bus.Bus
}

// NewService builds a Service over the given kv.Store's atoms/atom_refs
// trees, encrypting both under encryption.ContextAtomData.
func NewService(store kv.Store, keys *encryption.KeyManager, mode encryption.MigrationMode, b *bus.Bus) (*Service, error) {
	atomsTree, err := store.Tree("atoms")
	if err != nil {
		return nil, fmt.Errorf("atom: failed to open atoms tree: %w", err)
	}
	refsTree, err := store.Tree("atom_refs")
	if err != nil {
		return nil, fmt.Errorf("atom: failed to open atom_refs tree: %w", err)
	}

	atoms, err := encryption.NewWrapper(atomsTree, keys, encryption.ContextAtomData, mode)
	if err != nil {
		return nil, err
	}
	refs, err := encryption.NewWrapper(refsTree, keys, encryption.ContextAtomData, mode)
	if err != nil {
		return nil, err
	}

	return &Service{atoms: atoms, refs: refs, bus: b}, nil
}

// CreateAtom assigns a uuid, persists the atom, and returns it. Content is
// never mutated afterward by any other operation (spec.md §8 "Atom
// immutability").
func (s *Service) CreateAtom(schema, sourceKey string, prev *uuid.UUID, content []byte, status Status) (Atom, error) {
	if status == "" {
		status = StatusActive
	}
	a := Atom{
		UUID:       uuid.New(),
		SchemaName: schema,
		SourceKey:  sourceKey,
		PrevUUID:   prev,
		CreatedAt:  time.Now().UTC(),
		Content:    content,
		Status:     status,
	}
	if err := s.atoms.Put(atomKey(a.UUID), a); err != nil {
		return Atom{}, fmt.Errorf("atom: failed to persist atom: %w", err)
	}
	return a, nil
}

// GetAtom fetches one atom by uuid. A missing atom is ErrAtomNotFound —
// fatal for whatever read encountered it (spec.md §4.4).
func (s *Service) GetAtom(id uuid.UUID) (Atom, error) {
	var a Atom
	found, err := s.atoms.Get(atomKey(id), &a)
	if err != nil {
		return Atom{}, fmt.Errorf("atom: failed to read atom: %w", err)
	}
	if !found {
		return Atom{}, ErrAtomNotFound
	}
	return a, nil
}

func atomKey(id uuid.UUID) []byte { return []byte(id.String()) }

// CreateAtomRef allocates a ref of the given variant at id. Fails if id
// already exists.
func (s *Service) CreateAtomRef(id ArefID, atomUUID uuid.UUID, refType RefType) (AtomRef, error) {
	var existing AtomRef
	found, err := s.refs.Get([]byte(id), &existing)
	if err != nil {
		return AtomRef{}, fmt.Errorf("atom: failed to check existing ref: %w", err)
	}
	if found {
		return AtomRef{}, ErrRefExists
	}

	ref := AtomRef{ID: id, Type: refType}
	switch refType {
	case RefTypeSingle:
		ref.AtomUUID = atomUUID
	case RefTypeCollection:
		ref.Items = map[string]uuid.UUID{}
	case RefTypeRange:
		ref.Entries = nil
	default:
		return AtomRef{}, fmt.Errorf("atom: unknown ref type %q", refType)
	}

	if err := s.refs.Put([]byte(id), ref); err != nil {
		return AtomRef{}, fmt.Errorf("atom: failed to persist ref: %w", err)
	}
	return ref, nil
}

func (s *Service) getRef(id ArefID) (AtomRef, error) {
	var ref AtomRef
	found, err := s.refs.Get([]byte(id), &ref)
	if err != nil {
		return AtomRef{}, fmt.Errorf("atom: failed to read ref: %w", err)
	}
	if !found {
		return AtomRef{}, ErrRefNotFound
	}
	return ref, nil
}

// CollectionOp selects the mutation applied to a Collection ref entry.
type CollectionOp string

const (
	CollectionAdd    CollectionOp = "add"
	CollectionUpdate CollectionOp = "update"
	CollectionDelete CollectionOp = "delete"
)

// RangeOp selects the mutation applied to a Range ref entry.
type RangeOp string

const (
	RangeUpsert RangeOp = "upsert"
	RangeDelete RangeOp = "delete"
)

// UpdateAtomRef implements the three variant-specific mutation rules of
// spec.md §4.4 and always publishes AtomRefUpdated.
//
// Single: atomUUID replaces the stored pointer.
// Collection: itemID selects the entry; op is add/update/delete.
// Range: rangeKey selects the ordered entry; op RangeDelete removes it,
// RangeUpsert inserts or replaces it, keeping Entries sorted by Key.
func (s *Service) UpdateAtomRef(id ArefID, atomUUID uuid.UUID, itemID string, collOp CollectionOp, rangeKey []byte, rangeOp RangeOp) (AtomRef, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return AtomRef{}, err
	}

	var operation string
	switch ref.Type {
	case RefTypeSingle:
		ref.AtomUUID = atomUUID
		operation = "single_swing"

	case RefTypeCollection:
		if ref.Items == nil {
			ref.Items = map[string]uuid.UUID{}
		}
		switch collOp {
		case CollectionAdd, CollectionUpdate:
			ref.Items[itemID] = atomUUID
		case CollectionDelete:
			delete(ref.Items, itemID)
		default:
			return AtomRef{}, ErrUnknownCollectionOp
		}
		operation = string(collOp)

	case RefTypeRange:
		switch rangeOp {
		case RangeDelete:
			ref.Entries = removeRangeEntry(ref.Entries, rangeKey)
		case RangeUpsert:
			ref.Entries, err = upsertRangeEntry(ref.Entries, rangeKey, atomUUID)
			if err != nil {
				return AtomRef{}, err
			}
		default:
			return AtomRef{}, ErrUnknownRangeOp
		}
		operation = string(rangeOp)

	default:
		return AtomRef{}, fmt.Errorf("atom: unknown ref type %q", ref.Type)
	}

	if err := s.refs.Put([]byte(id), ref); err != nil {
		return AtomRef{}, fmt.Errorf("atom: failed to persist ref update: %w", err)
	}

	if s.bus != nil {
		schema, field := splitCoordinate(id)
		bus.Publish(s.bus, bus.AtomRefUpdated{ArefID: string(id), Schema: schema, Field: field, Operation: operation})
	}

	return ref, nil
}

func splitCoordinate(id ArefID) (schema, field string) {
	s := string(id)
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

// upsertRangeEntry inserts or replaces the entry at key, keeping Entries
// ordered by bytes.Compare. An upsert at an existing key replaces that
// entry's atom, so no two entries ever share a key.
func upsertRangeEntry(entries []rangeEntry, key []byte, atomUUID uuid.UUID) ([]rangeEntry, error) {
	idx := sort.Search(len(entries), func(i int) bool { return bytes.Compare(entries[i].Key, key) >= 0 })
	if idx < len(entries) && bytes.Equal(entries[idx].Key, key) {
		entries[idx].Atom = atomUUID
		return entries, nil
	}
	out := make([]rangeEntry, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, rangeEntry{Key: append([]byte(nil), key...), Atom: atomUUID})
	out = append(out, entries[idx:]...)
	return out, nil
}

func removeRangeEntry(entries []rangeEntry, key []byte) []rangeEntry {
	idx := sort.Search(len(entries), func(i int) bool { return bytes.Compare(entries[i].Key, key) >= 0 })
	if idx < len(entries) && bytes.Equal(entries[idx].Key, key) {
		return append(entries[:idx], entries[idx+1:]...)
	}
	return entries
}

// GetLatestAtom resolves the atom behind a Single ref. Collection and Range
// refs are rejected with an error; use GetLatestCollectionItem or
// GetLatestRangeEntry for those.
func (s *Service) GetLatestAtom(id ArefID) (Atom, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return Atom{}, err
	}
	if ref.Type != RefTypeSingle {
		return Atom{}, fmt.Errorf("atom: GetLatestAtom requires a Single ref; use GetLatestCollectionItem or GetLatestRangeEntry")
	}
	return s.GetAtom(ref.AtomUUID)
}

// GetLatestCollectionItem resolves the atom currently stored for itemID in
// a Collection ref.
func (s *Service) GetLatestCollectionItem(id ArefID, itemID string) (Atom, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return Atom{}, err
	}
	if ref.Type != RefTypeCollection {
		return Atom{}, ErrRefTypeMismatch
	}
	atomUUID, ok := ref.Items[itemID]
	if !ok {
		return Atom{}, ErrAtomNotFound
	}
	return s.GetAtom(atomUUID)
}

// GetLatestRangeEntry resolves the atom currently stored at rangeKey in a
// Range ref.
func (s *Service) GetLatestRangeEntry(id ArefID, rangeKey []byte) (Atom, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return Atom{}, err
	}
	if ref.Type != RefTypeRange {
		return Atom{}, ErrRefTypeMismatch
	}
	idx := sort.Search(len(ref.Entries), func(i int) bool { return bytes.Compare(ref.Entries[i].Key, rangeKey) >= 0 })
	if idx >= len(ref.Entries) || !bytes.Equal(ref.Entries[idx].Key, rangeKey) {
		return Atom{}, ErrAtomNotFound
	}
	return s.GetAtom(ref.Entries[idx].Atom)
}

// ListCollectionItemIDs returns every item id currently held by a
// Collection ref, in no particular order — callers that need a stable
// order (e.g. internal/query's filtered listing) sort separately.
func (s *Service) ListCollectionItemIDs(id ArefID) ([]string, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return nil, err
	}
	if ref.Type != RefTypeCollection {
		return nil, ErrRefTypeMismatch
	}
	out := make([]string, 0, len(ref.Items))
	for itemID := range ref.Items {
		out = append(out, itemID)
	}
	return out, nil
}

// RangeEntry pairs a Range field's key with its currently resolved atom.
type RangeEntry struct {
	Key  []byte
	Atom Atom
}

// RangeEntries returns the ordered (key, atom) pairs for every entry in
// [startKey, endKey), carrying the range key itself rather than relying on
// the atom's SourceKey — range keys are opaque bytes (spec.md §9 open
// question) and need not match SourceKey's string convention.
func (s *Service) RangeEntries(id ArefID, startKey, endKey []byte) ([]RangeEntry, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return nil, err
	}
	if ref.Type != RefTypeRange {
		return nil, ErrRefTypeMismatch
	}

	out := make([]RangeEntry, 0, len(ref.Entries))
	for _, e := range ref.Entries {
		if startKey != nil && bytes.Compare(e.Key, startKey) < 0 {
			continue
		}
		if endKey != nil && bytes.Compare(e.Key, endKey) >= 0 {
			continue
		}
		a, err := s.GetAtom(e.Atom)
		if err != nil {
			return nil, err
		}
		out = append(out, RangeEntry{Key: append([]byte(nil), e.Key...), Atom: a})
	}
	return out, nil
}

// RangeSlice returns the ordered atoms for every entry in [startKey,
// endKey), honoring raw byte ordering (spec.md §4.4). A nil bound is
// unbounded on that side.
func (s *Service) RangeSlice(id ArefID, startKey, endKey []byte) ([]Atom, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return nil, err
	}
	if ref.Type != RefTypeRange {
		return nil, ErrRefTypeMismatch
	}

	out := make([]Atom, 0, len(ref.Entries))
	for _, e := range ref.Entries {
		if startKey != nil && bytes.Compare(e.Key, startKey) < 0 {
			continue
		}
		if endKey != nil && bytes.Compare(e.Key, endKey) >= 0 {
			continue
		}
		a, err := s.GetAtom(e.Atom)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// GetAtomHistory walks the prev_uuid chain starting at the ref's current
// Single atom, oldest last, bounded by maxHistoryHops.
func (s *Service) GetAtomHistory(id ArefID) ([]Atom, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return nil, err
	}
	if ref.Type != RefTypeSingle {
		return nil, ErrRefTypeMismatch
	}
	return s.walkHistory(ref.AtomUUID)
}

// GetCollectionItemHistory walks the prev_uuid chain for one Collection
// item.
func (s *Service) GetCollectionItemHistory(id ArefID, itemID string) ([]Atom, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return nil, err
	}
	if ref.Type != RefTypeCollection {
		return nil, ErrRefTypeMismatch
	}
	atomUUID, ok := ref.Items[itemID]
	if !ok {
		return nil, ErrAtomNotFound
	}
	return s.walkHistory(atomUUID)
}

// GetRangeEntryHistory walks the prev_uuid chain for one Range entry.
func (s *Service) GetRangeEntryHistory(id ArefID, rangeKey []byte) ([]Atom, error) {
	ref, err := s.getRef(id)
	if err != nil {
		return nil, err
	}
	if ref.Type != RefTypeRange {
		return nil, ErrRefTypeMismatch
	}
	idx := sort.Search(len(ref.Entries), func(i int) bool { return bytes.Compare(ref.Entries[i].Key, rangeKey) >= 0 })
	if idx >= len(ref.Entries) || !bytes.Equal(ref.Entries[idx].Key, rangeKey) {
		return nil, ErrAtomNotFound
	}
	return s.walkHistory(ref.Entries[idx].Atom)
}

func (s *Service) walkHistory(start uuid.UUID) ([]Atom, error) {
	var chain []Atom
	cur := start
	for hops := 0; ; hops++ {
		if hops >= maxHistoryHops {
			return nil, ErrHistoryTooLong
		}
		a, err := s.GetAtom(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, a)
		if a.PrevUUID == nil {
			break
		}
		cur = *a.PrevUUID
	}
	return chain, nil
}
