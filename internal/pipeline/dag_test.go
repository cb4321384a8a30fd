package pipeline

import (
	"strings"
	"testing"
)

func makePipeline(steps ...Step) *Pipeline {
	return &Pipeline{Name: "main", Steps: steps}
}

func TestBuildDAG_LinearPipeline(t *testing.T) {
	p := makePipeline(
		Step{Name: "parse", Type: "PARSING_JOB", After: []string{"compile"}},
		Step{Name: "compile", Type: "COMPILE_JOB"},
	)

	dag, err := BuildDAG(p)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	if len(dag.Order) != 2 || dag.Order[0] != "compile" || dag.Order[1] != "parse" {
		t.Errorf("Order = %v, want [compile parse]", dag.Order)
	}
	if deps := dag.Edges["parse"]; len(deps) != 1 || deps[0] != "compile" {
		t.Errorf("parse deps = %v, want [compile]", deps)
	}
	if deps := dag.Edges["compile"]; len(deps) != 0 {
		t.Errorf("compile deps = %v, want []", deps)
	}
}

func TestBuildDAG_DeclarationOrderBreaksTies(t *testing.T) {
	p := makePipeline(
		Step{Name: "zeta", Type: "T"},
		Step{Name: "alpha", Type: "T"},
		Step{Name: "join", Type: "T", After: []string{"alpha", "zeta", "alpha"}},
		Step{Name: "mid", Type: "T"},
	)

	dag, err := BuildDAG(p)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	want := []string{"zeta", "alpha", "join", "mid"}
	if strings.Join(dag.Order, ",") != strings.Join(want, ",") {
		t.Errorf("Order = %v, want %v", dag.Order, want)
	}
	if got := dag.Edges["join"]; len(got) != 2 {
		t.Errorf("join deps = %v, want duplicates collapsed", got)
	}
}

func TestBuildDAG_Diamond(t *testing.T) {
	p := makePipeline(
		Step{Name: "d", Type: "T", After: []string{"b", "c"}},
		Step{Name: "b", Type: "T", After: []string{"a"}},
		Step{Name: "c", Type: "T", After: []string{"a"}},
		Step{Name: "a", Type: "T"},
	)

	dag, err := BuildDAG(p)
	if err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	pos := make(map[string]int)
	for i, name := range dag.Order {
		pos[name] = i
	}
	if !(pos["a"] < pos["b"] && pos["a"] < pos["c"] && pos["b"] < pos["d"] && pos["c"] < pos["d"]) {
		t.Errorf("Order = %v violates dependencies", dag.Order)
	}
}

func TestBuildDAG_Cycle(t *testing.T) {
	p := makePipeline(
		Step{Name: "a", Type: "T", After: []string{"c"}},
		Step{Name: "b", Type: "T", After: []string{"a"}},
		Step{Name: "c", Type: "T", After: []string{"b"}},
		Step{Name: "free", Type: "T"},
	)

	_, err := BuildDAG(p)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "a, b, c") {
		t.Errorf("error = %v, want the cycle members listed", err)
	}
}

func TestBuildDAG_SelfLoop(t *testing.T) {
	p := makePipeline(Step{Name: "loop", Type: "T", After: []string{"loop"}})
	if _, err := BuildDAG(p); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("BuildDAG error = %v, want cycle", err)
	}
}
