package schema

// Op selects which half of a PermissionPolicy a check applies to.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// CheckPermission implements the four-step algorithm of spec.md §4.6 for
// (requestingPubkey, trustDistance, field, op).
func (s *Schema) CheckPermission(fieldName string, op Op, requestingPubkey string, trustDistance int) error {
	field, ok := s.Fields[fieldName]
	if !ok {
		return newSchemaError(ErrNotFound, fieldName)
	}

	var policy Policy
	if op == OpRead {
		policy = field.PermissionPolicy.Read
	} else {
		policy = field.PermissionPolicy.Write
	}

	switch policy.Kind {
	case PolicyExplicit:
		if policy.Pubkeys[requestingPubkey] {
			return nil
		}
		return newSchemaError(ErrPermissionDenied, fieldName)

	case PolicyDistance:
		// Distance(0) is the only policy that authorizes the node itself
		// without a pubkey match (spec.md §4.6 step 4).
		if trustDistance <= policy.Distance {
			return nil
		}
		return newSchemaError(ErrPermissionDenied, fieldName)

	default:
		return newSchemaError(ErrInvalidData, "unknown permission policy kind")
	}
}
