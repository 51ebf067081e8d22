package bus

import "github.com/google/uuid"

// AtomRefUpdated is published by internal/atom after every successful
// UpdateAtomRef, regardless of variant (spec.md §4.4).
type AtomRefUpdated struct {
	ArefID    string // the "schema:field" coordinate the ref was allocated for
	Schema    string
	Field     string
	Operation string // "single_swing" | "add" | "update" | "delete" | "upsert"
}

// TransformExecuted reports a transform's outcome; failures stay local to
// this event rather than propagating as a host error (spec.md §7).
type TransformExecuted struct {
	TransformID string
	Schema      string
	Field       string
	Result      string // "success" | "failed"
	Reason      string // populated when Result == "failed"
}

// FieldValueSetRequest is issued by internal/query's mutation path and
// answered by whichever component owns the field's AtomRef.
type FieldValueSetRequest struct {
	CorrelationID uuid.UUID
	Schema        string
	Field         string
	TrustDistance int
	Pubkey        string
	Value         []byte
}

// FieldValueSetResponse echoes the request's CorrelationID per spec.md
// §4.5's request/reply contract.
type FieldValueSetResponse struct {
	CorrelationID uuid.UUID
	AtomUUID      uuid.UUID
	Err           string // empty on success
}

// QueryExecuted is an observability event emitted after every query.
type QueryExecuted struct {
	Schema          string
	ExecutionTimeMs float64
	ResultCount     int
}

// MutationExecuted is an observability event emitted after every mutation.
type MutationExecuted struct {
	Schema          string
	ExecutionTimeMs float64
	FieldsAffected  int
}
