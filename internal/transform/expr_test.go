package transform

import "testing"

func TestEvaluateArithmetic(t *testing.T) {
	env := map[string]Value{
		"TransformBase.a": {Kind: KindNumber, Num: 3},
		"TransformBase.b": {Kind: KindNumber, Num: 4},
	}
	v, err := Evaluate("TransformBase.a + TransformBase.b", env)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.Kind != KindNumber || v.Num != 7 {
		t.Fatalf("Evaluate() = %+v, want 7", v)
	}
}

func TestEvaluateComparisonAndLogic(t *testing.T) {
	env := map[string]Value{
		"a": {Kind: KindNumber, Num: 10},
		"b": {Kind: KindNumber, Num: 5},
	}
	v, err := Evaluate("a > b && b > 0", env)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.Kind != KindBool || !v.Bool {
		t.Fatalf("Evaluate() = %+v, want true", v)
	}
}

func TestEvaluateTypeMismatch(t *testing.T) {
	env := map[string]Value{
		"a": {Kind: KindString, Str: "x"},
	}
	_, err := Evaluate(`a + 1`, env)
	if err == nil {
		t.Fatal("Evaluate() succeeded on string + number, want type mismatch")
	}
	var evalErr *EvalError
	if !asEvalError(err, &evalErr) || evalErr.Kind != ErrTypeMismatch {
		t.Fatalf("Evaluate() error = %v, want ErrTypeMismatch", err)
	}
}

func TestEvaluateUnresolvedDependency(t *testing.T) {
	_, err := Evaluate("Missing.field + 1", map[string]Value{})
	var evalErr *EvalError
	if !asEvalError(err, &evalErr) || evalErr.Kind != ErrDependencyUnresolved {
		t.Fatalf("Evaluate() error = %v, want ErrDependencyUnresolved", err)
	}
}

func TestExtractDependenciesDeduplicates(t *testing.T) {
	deps, err := ExtractDependencies("TransformBase.a + TransformBase.a + TransformBase.b")
	if err != nil {
		t.Fatalf("ExtractDependencies() error = %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("ExtractDependencies() = %v, want 2 unique coordinates", deps)
	}
}

func asEvalError(err error, out **EvalError) bool {
	e, ok := err.(*EvalError)
	if ok {
		*out = e
	}
	return ok
}

func TestDependencyGraphDetectsCycle(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge(NewCoordinate("A", "x"), NewCoordinate("B", "y"))
	g.AddEdge(NewCoordinate("B", "y"), NewCoordinate("C", "z"))
	g.AddEdge(NewCoordinate("C", "z"), NewCoordinate("A", "x"))

	if err := g.DetectCycle(); err == nil {
		t.Fatal("DetectCycle() = nil, want a cycle error")
	}
}

func TestDependencyGraphAcyclic(t *testing.T) {
	g := NewDependencyGraph()
	g.AddEdge(NewCoordinate("A", "x"), NewCoordinate("B", "y"))
	g.AddEdge(NewCoordinate("B", "y"), NewCoordinate("C", "z"))

	if err := g.DetectCycle(); err != nil {
		t.Fatalf("DetectCycle() = %v, want nil", err)
	}

	dependents := g.Dependents(NewCoordinate("A", "x"))
	if len(dependents) != 1 || dependents[0] != NewCoordinate("B", "y") {
		t.Fatalf("Dependents() = %v, want [B:y]", dependents)
	}
}
