// Package query implements the read/write operation runtime of spec.md
// §4.8: permission-gated field resolution for reads, and bus-mediated
// field-value mutation requests for writes.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/datafold/datafold/internal/atom"
	"github.com/datafold/datafold/internal/bus"
	"github.com/datafold/datafold/internal/dfmetrics"
	"github.com/datafold/datafold/internal/schema"
)

// Filter is a predicate over one Collection item's content, or nil to
// select every item.
type Filter func(content []byte) bool

// RangeBound narrows a Range field to [Start, End). A nil bound on either
// side is unbounded on that side.
type RangeBound struct {
	Start []byte
	End   []byte
}

// QueryParams is the Query variant of Operation (spec.md §4.8).
type QueryParams struct {
	Schema        string
	Fields        []string
	Filter        Filter
	Range         *RangeBound
	TrustDistance int
	Pubkey        string
}

// MutationParams is the Mutation variant of Operation.
type MutationParams struct {
	Schema        string
	FieldValues   map[string][]byte
	TrustDistance int
	Pubkey        string
}

// FieldResult holds one field's query outcome. Exactly one of Value, Items,
// or RangeItems is populated depending on the field's FieldType; Err is set
// instead when resolution failed, and the other fields stay empty — a
// per-field failure never aborts the rest of the query (spec.md §4.8
// "absent fields yield per-field errors; other fields still resolve").
type FieldResult struct {
	Value      []byte
	Items      map[string][]byte
	RangeItems []RangeItem
	Err        error
}

// RangeItem is one resolved entry of a Range field.
type RangeItem struct {
	Key     []byte
	Content []byte
}

// QueryResult collects every requested field's outcome.
type QueryResult struct {
	Fields map[string]FieldResult
}

// MutationFieldResult holds one field's write outcome.
type MutationFieldResult struct {
	AtomUUID string
	Err      error
}

// MutationResult collects every field_values entry's outcome.
type MutationResult struct {
	Fields map[string]MutationFieldResult
}

// RequestReplyFunc publishes req and blocks for the matching
// FieldValueSetResponse. internal/node supplies the concrete
// implementation (its generic RequestReply helper) at construction time,
// keeping this package free of a dependency back on node (spec.md §9).
type RequestReplyFunc func(ctx context.Context, req bus.FieldValueSetRequest, timeout time.Duration) (bus.FieldValueSetResponse, error)

// defaultReplyTimeout bounds how long a mutation waits for the owning
// component to answer a FieldValueSetRequest.
const defaultReplyTimeout = 5 * time.Second

// Runtime dispatches Query and Mutation operations (spec.md §4.8).
type Runtime struct {
	schemas              *schema.Registry
	atoms                *atom.Service
	bus                  *bus.Bus
	requestReply         RequestReplyFunc
	defaultTrustDistance int
}

// NewRuntime builds a Runtime. defaultTrustDistance substitutes for a
// caller-supplied trust_distance of 0 on mutations, per spec.md §4.8.
func NewRuntime(schemas *schema.Registry, atoms *atom.Service, b *bus.Bus, requestReply RequestReplyFunc, defaultTrustDistance int) *Runtime {
	return &Runtime{
		schemas:              schemas,
		atoms:                atoms,
		bus:                  b,
		requestReply:         requestReply,
		defaultTrustDistance: defaultTrustDistance,
	}
}

// ExecuteQuery resolves every requested field, publishing QueryExecuted
// once with the aggregate timing and result count.
func (r *Runtime) ExecuteQuery(ctx context.Context, p QueryParams) (QueryResult, error) {
	start := time.Now()
	timer := dfmetrics.NewTimer()

	s, err := r.schemas.GetSchema(p.Schema)
	if err != nil {
		return QueryResult{}, fmt.Errorf("query: %w", err)
	}

	result := QueryResult{Fields: make(map[string]FieldResult, len(p.Fields))}
	resultCount := 0
	for _, field := range p.Fields {
		fr := r.resolveField(s, field, p)
		result.Fields[field] = fr
		if fr.Err == nil {
			resultCount++
		}
	}

	timer.ObserveDurationVec(dfmetrics.QueryDuration, p.Schema)
	if r.bus != nil {
		bus.Publish(r.bus, bus.QueryExecuted{
			Schema:          p.Schema,
			ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			ResultCount:     resultCount,
		})
	}
	return result, nil
}

func (r *Runtime) resolveField(s *schema.Schema, field string, p QueryParams) FieldResult {
	if err := s.CheckPermission(field, schema.OpRead, p.Pubkey, p.TrustDistance); err != nil {
		return FieldResult{Err: err}
	}

	def, ok := s.Fields[field]
	if !ok {
		return FieldResult{Err: fmt.Errorf("query: field %q not declared on schema %q", field, s.Name)}
	}

	id := atom.Coordinate(s.Name, field)
	switch def.FieldType {
	case schema.FieldSingle:
		a, err := r.atoms.GetLatestAtom(id)
		if err != nil {
			return FieldResult{Err: err}
		}
		return FieldResult{Value: a.Content}

	case schema.FieldCollection:
		return r.resolveCollection(id, p.Filter)

	case schema.FieldRange:
		return r.resolveRange(id, p.Range)

	default:
		return FieldResult{Err: fmt.Errorf("query: field %q has unknown field type %q", field, def.FieldType)}
	}
}

func (r *Runtime) resolveCollection(id atom.ArefID, filter Filter) FieldResult {
	itemIDs, err := r.atoms.ListCollectionItemIDs(id)
	if err != nil {
		return FieldResult{Err: err}
	}
	items := make(map[string][]byte, len(itemIDs))
	for _, itemID := range itemIDs {
		a, err := r.atoms.GetLatestCollectionItem(id, itemID)
		if err != nil {
			return FieldResult{Err: err}
		}
		if filter != nil && !filter(a.Content) {
			continue
		}
		items[itemID] = a.Content
	}
	return FieldResult{Items: items}
}

func (r *Runtime) resolveRange(id atom.ArefID, bound *RangeBound) FieldResult {
	var start, end []byte
	if bound != nil {
		start, end = bound.Start, bound.End
	}
	entries, err := r.atoms.RangeEntries(id, start, end)
	if err != nil {
		return FieldResult{Err: err}
	}
	items := make([]RangeItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, RangeItem{Key: e.Key, Content: e.Atom.Content})
	}
	return FieldResult{RangeItems: items}
}
