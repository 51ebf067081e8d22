package schema

import "github.com/datafold/datafold/internal/transform"

// detectMapperCycle builds a graph from every field mapper edge declared by
// s and runs the same DFS cycle check transform uses for its dependency
// graph. Only s's own mapper edges are in that graph, so a cycle that passes
// through another schema's field mappers is not detected here. The graph is
// rebuilt at use time from the schema's own field defs, never a resolved
// pointer (spec.md §9 "do not store cross-references as owning pointers").
func detectMapperCycle(s *Schema) error {
	g := transform.NewDependencyGraph()
	for fieldName, def := range s.Fields {
		from := dependencyCoordinate(s.Name, fieldName)
		for _, target := range def.FieldMappers {
			to, err := parseCoordinate(target)
			if err != nil {
				return newSchemaError(ErrInvalidData, err.Error())
			}
			g.AddEdge(from, to)
		}
	}
	if err := g.DetectCycle(); err != nil {
		return newSchemaError(ErrCycle, err.Error())
	}
	return nil
}

func parseCoordinate(s string) (transform.Coordinate, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == ':' {
			return transform.NewCoordinate(s[:i], s[i+1:]), nil
		}
	}
	return "", &malformedCoordinateError{raw: s}
}

type malformedCoordinateError struct{ raw string }

func (e *malformedCoordinateError) Error() string {
	return "malformed field mapper coordinate: " + e.raw
}
