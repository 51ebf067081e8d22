// Package atom implements the append-only content store and ref layer of
// spec.md §4.4: atoms are immutable once written, and an AtomRef is the only
// mutable pointer a schema field ever holds.
package atom

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle tag carried alongside an atom's content.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Atom is immutable once CreateAtom has persisted it: no later operation
// changes UUID, PrevUUID, or Content.
type Atom struct {
	UUID       uuid.UUID  `json:"uuid"`
	SchemaName string     `json:"schema_name"`
	SourceKey  string     `json:"source_key"`
	PrevUUID   *uuid.UUID `json:"prev_uuid,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Content    []byte     `json:"content"`
	Status     Status     `json:"status"`
}

// RefType selects which of the three AtomRef variants a ref holds.
type RefType string

const (
	RefTypeSingle     RefType = "single"
	RefTypeCollection RefType = "collection"
	RefTypeRange      RefType = "range"
)

// rangeEntry is one (key, atom) pair of a Range ref, kept in a slice ordered
// by Key so range scans never rely on map iteration order.
type rangeEntry struct {
	Key  []byte    `json:"key"`
	Atom uuid.UUID `json:"atom"`
}

// ArefID identifies an AtomRef. Storage keys it under "schema:field" (the
// coordinate the ref was allocated for); the name follows the source's
// "aref_uuid" parameter even though the value is a coordinate, not a
// generated UUID — see DESIGN.md.
type ArefID string

// Coordinate builds the canonical ArefID for a (schema, field) pair.
func Coordinate(schema, field string) ArefID {
	return ArefID(schema + ":" + field)
}

// AtomRef is the tagged-union pointer stored in the atom_refs tree under key
// "schema:field". Only the field matching Type is meaningful.
type AtomRef struct {
	ID   ArefID  `json:"id"`
	Type RefType `json:"type"`

	// Single
	AtomUUID uuid.UUID `json:"atom_uuid,omitempty"`

	// Collection: item_id -> atom uuid.
	Items map[string]uuid.UUID `json:"items,omitempty"`

	// Range: ordered by Key via bytes.Compare, no duplicate keys.
	Entries []rangeEntry `json:"entries,omitempty"`
}
