package graph

import (
	"reflect"
	"testing"
)

func TestBuildSimpleChainOrder(t *testing.T) {
	// @test/b depends on @test/a, so a must come before b
	g, err := Build(
		[]string{"@test/a", "@test/b"},
		[]DepEdge{{From: "@test/b", To: "@test/a", Type: EdgeProd}},
	)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if g.HasCycles() {
		t.Errorf("unexpected cycles: %v", g.Cycles)
	}
	want := []string{"@test/b", "@test/a"}
	if !reflect.DeepEqual(g.Topological, want) {
		t.Errorf("Topological = %v, want %v", g.Topological, want)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	nodes := []string{"c", "a", "b", "d"}
	edges := []DepEdge{
		{From: "a", To: "c", Type: EdgeProd},
		{From: "b", To: "c", Type: EdgeDev},
	}

	first, err := Build(nodes, edges)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Build(nodes, edges)
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		if !reflect.DeepEqual(first.Topological, again.Topological) {
			t.Fatalf("Topological order unstable: %v vs %v", first.Topological, again.Topological)
		}
	}
}

func TestBuildCycleTolerance(t *testing.T) {
	g, err := Build(
		[]string{"@test/a", "@test/b", "@test/c"},
		[]DepEdge{
			{From: "@test/a", To: "@test/b", Type: EdgeProd},
			{From: "@test/b", To: "@test/a", Type: EdgeProd},
			{From: "@test/c", To: "@test/a", Type: EdgeProd},
		},
	)
	if err != nil {
		t.Fatalf("Build() should tolerate cycles, got error: %v", err)
	}

	if !g.HasCycles() {
		t.Fatal("HasCycles() = false, want true")
	}
	if len(g.Cycles) != 1 {
		t.Fatalf("Cycles = %v, want one cycle", g.Cycles)
	}
	wantCycle := []string{"@test/a", "@test/b"}
	if !reflect.DeepEqual(g.Cycles[0], wantCycle) {
		t.Errorf("Cycles[0] = %v, want %v", g.Cycles[0], wantCycle)
	}

	// Cycle members must be absent from the topological order
	for _, n := range g.Topological {
		if n == "@test/a" || n == "@test/b" {
			t.Errorf("cycle member %s present in topological order", n)
		}
	}
	if !g.InCycle("@test/a") || !g.InCycle("@test/b") {
		t.Error("InCycle() = false for cycle members")
	}
	if g.InCycle("@test/c") {
		t.Error("InCycle(@test/c) = true, want false (downstream of cycle, not in it)")
	}
}

func TestBuildSelfLoopIsACycle(t *testing.T) {
	g, err := Build(
		[]string{"@test/a"},
		[]DepEdge{{From: "@test/a", To: "@test/a", Type: EdgeProd}},
	)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !g.InCycle("@test/a") {
		t.Error("self-dependency should be reported as a cycle")
	}
}

func TestBuildExternalDepsBecomeLeafNodes(t *testing.T) {
	g, err := Build(
		[]string{"@test/a"},
		[]DepEdge{{From: "@test/a", To: "lodash", Type: EdgeProd}},
	)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	found := false
	for _, n := range g.Nodes {
		if n == "lodash" {
			found = true
		}
	}
	if !found {
		t.Error("external dependency missing from Nodes")
	}
	if g.HasCycles() {
		t.Errorf("unexpected cycles: %v", g.Cycles)
	}
}

func TestBuildDuplicateEdgesTolerated(t *testing.T) {
	// prod + peer on the same pair produces parallel declarations
	g, err := Build(
		[]string{"@test/a", "@test/b"},
		[]DepEdge{
			{From: "@test/b", To: "@test/a", Type: EdgeProd},
			{From: "@test/b", To: "@test/a", Type: EdgePeer},
		},
	)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(g.Edges) != 2 {
		t.Errorf("Edges = %d, want both declarations retained", len(g.Edges))
	}
}
