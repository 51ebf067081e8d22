package schema

import (
	"encoding/json"
	"fmt"

	"github.com/datafold/datafold/internal/transform"
)

// jsonSchema is the wire JSON form InterpretJSON accepts, interpreted into
// the native Schema (spec.md §4.6).
type jsonSchema struct {
	Name          string                 `json:"name"`
	Fields        map[string]jsonField   `json:"fields"`
	PaymentConfig *jsonPaymentConfig     `json:"payment_config,omitempty"`
}

type jsonField struct {
	FieldType        string              `json:"field_type"`
	PermissionPolicy *jsonPermissionPair `json:"permission_policy,omitempty"`
	PaymentConfig    *jsonPaymentConfig  `json:"payment_config,omitempty"`
	FieldMappers     []string            `json:"field_mappers,omitempty"`
	Transform        *jsonTransform      `json:"transform,omitempty"`
	RefAtomUUID      string              `json:"ref_atom_uuid,omitempty"`
}

type jsonPermissionPair struct {
	Read  *jsonPolicy `json:"read,omitempty"`
	Write *jsonPolicy `json:"write,omitempty"`
}

type jsonPolicy struct {
	Distance *int     `json:"distance,omitempty"`
	Explicit []string `json:"explicit,omitempty"`
}

type jsonPaymentConfig struct {
	BaseMultiplier      *float64 `json:"base_multiplier,omitempty"`
	MinPaymentThreshold *float64 `json:"min_payment_threshold,omitempty"`
}

type jsonTransform struct {
	Logic           string `json:"logic"`
	Reversible      bool   `json:"reversible"`
	PaymentRequired bool   `json:"payment_required"`
	Signature       string `json:"signature,omitempty"`
}

// InterpretResult pairs the interpreted Schema with the transform
// dependency edges its fields declared, so a caller can fold them into a
// DependencyGraph without this package owning that graph itself. Nothing in
// this module reads Edges: Registry.Approve and internal/node rebuild their
// graphs from each field's Transform.Logic.
type InterpretResult struct {
	Schema *Schema
	Edges  [][2]transform.Coordinate // [dependency, dependent]
}

// InterpretJSON parses the wire JSON form into native form, filling
// defaults, validating field types and permission policy shapes, and
// extracting each field's transform dependency edges.
func InterpretJSON(data []byte) (*InterpretResult, error) {
	var wire jsonSchema
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, newSchemaError(ErrInvalidData, fmt.Sprintf("malformed schema JSON: %v", err))
	}
	if wire.Name == "" {
		return nil, newSchemaError(ErrInvalidData, "schema name must not be empty")
	}

	s := &Schema{
		Name:          wire.Name,
		Fields:        make(map[string]FieldDef, len(wire.Fields)),
		PaymentConfig: interpretPaymentConfig(wire.PaymentConfig),
		State:         StateAvailable,
	}

	var edges [][2]transform.Coordinate
	for name, jf := range wire.Fields {
		fieldType, err := interpretFieldType(jf.FieldType)
		if err != nil {
			return nil, err
		}

		policy, err := interpretPermissionPolicy(jf.PermissionPolicy)
		if err != nil {
			return nil, err
		}

		def := FieldDef{
			FieldType:        fieldType,
			PermissionPolicy: policy,
			PaymentConfig:    interpretPaymentConfig(jf.PaymentConfig),
			FieldMappers:     jf.FieldMappers,
			RefAtomUUID:      jf.RefAtomUUID,
		}

		if jf.Transform != nil {
			def.Transform = &Transform{
				Logic:           jf.Transform.Logic,
				Reversible:      jf.Transform.Reversible,
				PaymentRequired: jf.Transform.PaymentRequired,
				Signature:       jf.Transform.Signature,
			}
			deps, err := transform.ExtractDependencies(jf.Transform.Logic)
			if err != nil {
				return nil, newSchemaError(ErrInvalidData, fmt.Sprintf("field %q: malformed transform logic: %v", name, err))
			}
			output := dependencyCoordinate(wire.Name, name)
			for _, dep := range deps {
				edges = append(edges, [2]transform.Coordinate{dep, output})
			}
		}

		s.Fields[name] = def
	}

	return &InterpretResult{Schema: s, Edges: edges}, nil
}

func interpretFieldType(raw string) (FieldType, error) {
	switch FieldType(raw) {
	case FieldSingle, FieldCollection, FieldRange:
		return FieldType(raw), nil
	default:
		return "", newSchemaError(ErrInvalidData, fmt.Sprintf("unknown field_type %q", raw))
	}
}

func interpretPaymentConfig(jp *jsonPaymentConfig) PaymentConfig {
	cfg := DefaultPaymentConfig()
	if jp == nil {
		return cfg
	}
	if jp.BaseMultiplier != nil {
		cfg.BaseMultiplier = *jp.BaseMultiplier
	}
	if jp.MinPaymentThreshold != nil {
		cfg.MinPaymentThreshold = *jp.MinPaymentThreshold
	}
	return cfg
}

func interpretPermissionPolicy(jp *jsonPermissionPair) (PermissionPolicy, error) {
	// Missing permission_policy defaults to Distance(0) both ways: only
	// the node itself, at zero trust distance, may read or write.
	defaultPolicy := Policy{Kind: PolicyDistance, Distance: 0}
	if jp == nil {
		return PermissionPolicy{Read: defaultPolicy, Write: defaultPolicy}, nil
	}

	read, err := interpretPolicy(jp.Read, defaultPolicy)
	if err != nil {
		return PermissionPolicy{}, err
	}
	write, err := interpretPolicy(jp.Write, defaultPolicy)
	if err != nil {
		return PermissionPolicy{}, err
	}
	return PermissionPolicy{Read: read, Write: write}, nil
}

func interpretPolicy(jp *jsonPolicy, fallback Policy) (Policy, error) {
	if jp == nil {
		return fallback, nil
	}
	switch {
	case jp.Distance != nil && len(jp.Explicit) > 0:
		return Policy{}, newSchemaError(ErrInvalidData, "permission policy must not set both distance and explicit")
	case jp.Distance != nil:
		return Policy{Kind: PolicyDistance, Distance: *jp.Distance}, nil
	case len(jp.Explicit) > 0:
		set := make(map[string]bool, len(jp.Explicit))
		for _, k := range jp.Explicit {
			set[k] = true
		}
		return Policy{Kind: PolicyExplicit, Pubkeys: set}, nil
	default:
		return Policy{}, newSchemaError(ErrInvalidData, "permission policy must set distance or explicit")
	}
}
