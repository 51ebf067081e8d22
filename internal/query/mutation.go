package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datafold/datafold/internal/bus"
	"github.com/datafold/datafold/internal/dfmetrics"
	"github.com/datafold/datafold/internal/schema"
)

// ExecuteMutation checks write permission for each supplied field, then
// issues a FieldValueSetRequest per field and waits for the matching
// response (spec.md §4.8). A trust_distance of 0 on the request is
// substituted with the runtime's configured default before the permission
// check runs.
func (r *Runtime) ExecuteMutation(ctx context.Context, p MutationParams) (MutationResult, error) {
	start := time.Now()
	timer := dfmetrics.NewTimer()

	s, err := r.schemas.GetSchema(p.Schema)
	if err != nil {
		return MutationResult{}, err
	}

	trustDistance := p.TrustDistance
	if trustDistance == 0 {
		trustDistance = r.defaultTrustDistance
	}

	result := MutationResult{Fields: make(map[string]MutationFieldResult, len(p.FieldValues))}
	affected := 0
	for field, value := range p.FieldValues {
		fr := r.setField(ctx, s, field, value, trustDistance, p.Pubkey)
		result.Fields[field] = fr
		if fr.Err == nil {
			affected++
		}
	}

	timer.ObserveDurationVec(dfmetrics.MutationDuration, p.Schema)
	if r.bus != nil {
		bus.Publish(r.bus, bus.MutationExecuted{
			Schema:          p.Schema,
			ExecutionTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			FieldsAffected:  affected,
		})
	}
	return result, nil
}

func (r *Runtime) setField(ctx context.Context, s *schema.Schema, field string, value []byte, trustDistance int, pubkey string) MutationFieldResult {
	if err := s.CheckPermission(field, schema.OpWrite, pubkey, trustDistance); err != nil {
		return MutationFieldResult{Err: err}
	}

	req := bus.FieldValueSetRequest{
		CorrelationID: uuid.New(),
		Schema:        s.Name,
		Field:         field,
		TrustDistance: trustDistance,
		Pubkey:        pubkey,
		Value:         value,
	}

	resp, err := r.requestReply(ctx, req, defaultReplyTimeout)
	if err != nil {
		return MutationFieldResult{Err: err}
	}
	if resp.Err != "" {
		return MutationFieldResult{Err: fmt.Errorf("query: %s", resp.Err)}
	}
	return MutationFieldResult{AtomUUID: resp.AtomUUID.String()}
}
