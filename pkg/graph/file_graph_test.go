package graph

import (
	"slices"
	"testing"

	"github.com/ritzau/deps-validator/pkg/model"
)

func edge(source, target string) model.DependencyEdge {
	return model.DependencyEdge{Source: source, Target: target}
}

// assertSymmetric checks b ∈ DependentsOf(a) ⇔ a ∈ DependenciesOf(b) for all files
func assertSymmetric(t *testing.T, fg *FileGraph) {
	t.Helper()
	files := fg.Files()
	for _, a := range files {
		for _, b := range fg.DependentsOf(a) {
			if !slices.Contains(fg.DependenciesOf(b), a) {
				t.Errorf("%s is a dependent of %s but %s is not among its dependencies", b, a, a)
			}
		}
		for _, b := range fg.DependenciesOf(a) {
			if !slices.Contains(fg.DependentsOf(b), a) {
				t.Errorf("%s depends on %s but is not among its dependents", a, b)
			}
		}
	}
}

func TestNewFileGraph(t *testing.T) {
	fg := NewFileGraph()

	if len(fg.Files()) != 0 {
		t.Errorf("New graph should have 0 files, got %d", len(fg.Files()))
	}
	if deps := fg.DependentsOf("missing.ts"); deps == nil || len(deps) != 0 {
		t.Errorf("DependentsOf unknown file should be empty and non-nil, got %#v", deps)
	}
	if deps := fg.DependenciesOf("missing.ts"); deps == nil || len(deps) != 0 {
		t.Errorf("DependenciesOf unknown file should be empty and non-nil, got %#v", deps)
	}
}

func TestRebuildAll(t *testing.T) {
	fg := NewFileGraph()
	fg.AddDependency("stale.ts", "old.ts")

	fg.RebuildAll([]model.DependencyEdge{
		edge("main.ts", "util.ts"),
		edge("main.ts", "config.ts"),
		edge("cli.ts", "util.ts"),
	})

	if got := fg.DependentsOf("util.ts"); !slices.Equal(got, []string{"cli.ts", "main.ts"}) {
		t.Errorf("DependentsOf(util.ts) = %v", got)
	}
	if got := fg.DependenciesOf("main.ts"); !slices.Equal(got, []string{"config.ts", "util.ts"}) {
		t.Errorf("DependenciesOf(main.ts) = %v", got)
	}
	if got := fg.DependentsOf("old.ts"); len(got) != 0 {
		t.Errorf("RebuildAll should clear previous edges, got %v", got)
	}
	assertSymmetric(t, fg)
}

func TestRebuildForReplacesOnlyThatFile(t *testing.T) {
	fg := NewFileGraph()
	fg.RebuildAll([]model.DependencyEdge{
		edge("a.ts", "b.ts"),
		edge("a.ts", "c.ts"),
		edge("d.ts", "c.ts"),
	})

	fg.RebuildFor("a.ts", []model.DependencyEdge{
		edge("a.ts", "e.ts"),
		edge("x.ts", "y.ts"), // foreign source, ignored
	})

	if got := fg.DependenciesOf("a.ts"); !slices.Equal(got, []string{"e.ts"}) {
		t.Errorf("DependenciesOf(a.ts) = %v, want [e.ts]", got)
	}
	if got := fg.DependentsOf("b.ts"); len(got) != 0 {
		t.Errorf("b.ts should have no dependents, got %v", got)
	}
	if got := fg.DependentsOf("c.ts"); !slices.Equal(got, []string{"d.ts"}) {
		t.Errorf("d.ts -> c.ts must survive a rebuild of a.ts, got %v", got)
	}
	if got := fg.DependenciesOf("x.ts"); len(got) != 0 {
		t.Errorf("edges from other sources must not be inserted, got %v", got)
	}
	assertSymmetric(t, fg)
}

func TestRemoveFileKeepsIncomingEdges(t *testing.T) {
	fg := NewFileGraph()
	fg.RebuildAll([]model.DependencyEdge{
		edge("main.ts", "util.ts"),
		edge("util.ts", "strings.ts"),
	})

	fg.RemoveFile("util.ts")

	if got := fg.DependentsOf("util.ts"); !slices.Equal(got, []string{"main.ts"}) {
		t.Errorf("importers of a deleted file must stay visible, got %v", got)
	}
	if got := fg.DependentsOf("strings.ts"); len(got) != 0 {
		t.Errorf("outgoing edges of a deleted file must be dropped, got %v", got)
	}
	assertSymmetric(t, fg)
}

func TestEdgesMarksBidirectionalAndCircular(t *testing.T) {
	fg := NewFileGraph()
	fg.RebuildAll([]model.DependencyEdge{
		edge("a.ts", "b.ts"),
		edge("b.ts", "a.ts"),
		edge("b.ts", "c.ts"),
	})
	fg.MarkCircular([][]string{{"a.ts", "b.ts"}})

	edges := fg.Edges()
	if len(edges) != 3 {
		t.Fatalf("expected 3 edges, got %d", len(edges))
	}
	for _, e := range edges {
		inCycle := e.Target != "c.ts"
		if e.Bidirectional != inCycle || e.Circular != inCycle {
			t.Errorf("edge %s -> %s: bidirectional=%v circular=%v", e.Source, e.Target, e.Bidirectional, e.Circular)
		}
	}

	fg.RebuildFor("b.ts", []model.DependencyEdge{edge("b.ts", "c.ts")})
	if !fg.IsCircular("a.ts", "b.ts") || fg.IsCircular("b.ts", "a.ts") {
		t.Errorf("rebuilding b.ts should only clear its own circular tags")
	}
}

func TestDependencyMapRoundTrip(t *testing.T) {
	fg := NewFileGraph()
	fg.RebuildAll([]model.DependencyEdge{
		edge("main.ts", "util.ts"),
		edge("main.ts", "config.ts"),
	})
	fg.RebuildFor("leaf.ts", nil)

	m := fg.DependencyMap()
	if got := m["leaf.ts"]; got == nil || len(got) != 0 {
		t.Errorf("files without imports should persist as empty lists, got %#v", got)
	}

	restored := FromDependencyMap(m)
	if !slices.Equal(restored.Files(), fg.Files()) {
		t.Errorf("files differ after round trip: %v vs %v", restored.Files(), fg.Files())
	}
	if !slices.Equal(restored.Edges(), fg.Edges()) {
		t.Errorf("edges differ after round trip: %v vs %v", restored.Edges(), fg.Edges())
	}
	assertSymmetric(t, restored)
}

func TestDirectedView(t *testing.T) {
	fg := NewFileGraph()
	fg.AddDependency("a.ts", "b.ts")

	view := fg.Directed()
	if view.Graph.Nodes().Len() != 2 {
		t.Fatalf("expected 2 nodes, got %d", view.Graph.Nodes().Len())
	}
	if view.Path(0) != "a.ts" || view.Path(1) != "b.ts" {
		t.Errorf("unexpected ID mapping: %q %q", view.Path(0), view.Path(1))
	}
	if !view.Graph.HasEdgeFromTo(0, 1) {
		t.Error("expected edge a.ts -> b.ts")
	}
	if view.Path(7) != "" {
		t.Error("unknown IDs should map to empty path")
	}
}
