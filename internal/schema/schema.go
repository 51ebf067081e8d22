// Package schema implements the schema registry of spec.md §4.6: lifecycle
// management, JSON interpretation, permission checks, and field mappers.
package schema

import "github.com/datafold/datafold/internal/transform"

// State is a schema's lifecycle stage (spec.md §3 "Lifecycles").
type State string

const (
	StateAvailable State = "available"
	StateApproved  State = "approved"
	StateBlocked   State = "blocked"
)

// FieldType selects which AtomRef variant a field's values are stored
// under.
type FieldType string

const (
	FieldSingle     FieldType = "single"
	FieldCollection FieldType = "collection"
	FieldRange      FieldType = "range"
)

// PolicyKind distinguishes the two PermissionPolicy shapes.
type PolicyKind string

const (
	PolicyDistance PolicyKind = "distance"
	PolicyExplicit PolicyKind = "explicit"
)

// Policy is one half (read or write) of a field's PermissionPolicy.
type Policy struct {
	Kind     PolicyKind
	Distance int             // meaningful when Kind == PolicyDistance
	Pubkeys  map[string]bool // meaningful when Kind == PolicyExplicit
}

// PermissionPolicy holds independent read and write rules.
type PermissionPolicy struct {
	Read  Policy
	Write Policy
}

// PaymentConfig controls per-field or per-schema payment multipliers.
type PaymentConfig struct {
	BaseMultiplier      float64
	MinPaymentThreshold float64
}

// DefaultPaymentConfig matches spec.md §4.6's interpretation default.
func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{BaseMultiplier: 1.0, MinPaymentThreshold: 0}
}

// Transform is a field's computed-value definition (spec.md §3 "Transform").
type Transform struct {
	Logic           string
	Reversible      bool
	PaymentRequired bool
	Signature       string
}

// FieldDef describes one schema field.
type FieldDef struct {
	FieldType        FieldType
	PermissionPolicy PermissionPolicy
	PaymentConfig    PaymentConfig
	FieldMappers     []string // target "schema.field" coordinates this field maps onto
	Transform        *Transform
	RefAtomUUID      string
}

// Schema is the native, in-memory form a Registry holds.
type Schema struct {
	Name          string
	Fields        map[string]FieldDef
	PaymentConfig PaymentConfig
	State         State
}

// dependencyCoordinate builds the transform.Coordinate a field's transform
// output is addressed by.
func dependencyCoordinate(schemaName, field string) transform.Coordinate {
	return transform.NewCoordinate(schemaName, field)
}
