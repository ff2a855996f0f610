package graph

import (
	"slices"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/ritzau/deps-validator/pkg/model"
)

type set map[string]struct{}

type edgeKey struct {
	source, target string
}

// FileGraph is the bidirectional import graph of a workspace.
// dependencies[a] holds every file a imports, dependents[b] every file
// importing b; each edge is recorded in both maps or in neither.
// FileGraph is not safe for concurrent use; the owning session serializes access.
type FileGraph struct {
	dependencies map[string]set
	dependents   map[string]set
	circular     map[edgeKey]bool
	files        set // Every file seen as a source, even without edges
}

// NewFileGraph creates an empty dependency graph
func NewFileGraph() *FileGraph {
	return &FileGraph{
		dependencies: make(map[string]set),
		dependents:   make(map[string]set),
		circular:     make(map[edgeKey]bool),
		files:        make(set),
	}
}

// RebuildAll clears the graph and inserts every edge in one pass
func (fg *FileGraph) RebuildAll(edges []model.DependencyEdge) {
	fg.dependencies = make(map[string]set)
	fg.dependents = make(map[string]set)
	fg.circular = make(map[edgeKey]bool)
	fg.files = make(set)

	for _, e := range edges {
		fg.addEdge(e)
	}
}

// RebuildFor replaces the outgoing edges of file. Existing edges with file
// as the source are removed from both maps first; only new edges whose
// source is file are inserted, so unrelated files are never touched.
func (fg *FileGraph) RebuildFor(file string, edges []model.DependencyEdge) {
	fg.removeOutgoing(file)
	fg.files[file] = struct{}{}

	for _, e := range edges {
		if e.Source != file {
			continue
		}
		fg.addEdge(e)
	}
}

// RemoveFile forgets a deleted file's outgoing edges. Incoming edges stay so
// the importers of a deleted file are still found as its dependents.
func (fg *FileGraph) RemoveFile(file string) {
	fg.removeOutgoing(file)
	delete(fg.files, file)
}

// AddDependency records that source imports target
func (fg *FileGraph) AddDependency(source, target string) {
	fg.addEdge(model.DependencyEdge{Source: source, Target: target})
}

func (fg *FileGraph) addEdge(e model.DependencyEdge) {
	if e.Source == "" || e.Target == "" || e.Source == e.Target {
		return
	}
	fg.files[e.Source] = struct{}{}
	link(fg.dependencies, e.Source, e.Target)
	link(fg.dependents, e.Target, e.Source)
	if e.Circular {
		fg.circular[edgeKey{e.Source, e.Target}] = true
	}
}

func (fg *FileGraph) removeOutgoing(file string) {
	for target := range fg.dependencies[file] {
		unlink(fg.dependents, target, file)
		delete(fg.circular, edgeKey{file, target})
	}
	delete(fg.dependencies, file)
}

func link(m map[string]set, from, to string) {
	s, ok := m[from]
	if !ok {
		s = make(set)
		m[from] = s
	}
	s[to] = struct{}{}
}

func unlink(m map[string]set, from, to string) {
	s, ok := m[from]
	if !ok {
		return
	}
	delete(s, to)
	if len(s) == 0 {
		delete(m, from)
	}
}

// DependentsOf returns the sorted files importing file, never nil
func (fg *FileGraph) DependentsOf(file string) []string {
	return sortedKeys(fg.dependents[file])
}

// DependenciesOf returns the sorted files imported by file, never nil
func (fg *FileGraph) DependenciesOf(file string) []string {
	return sortedKeys(fg.dependencies[file])
}

// HasDependency reports whether source imports target
func (fg *FileGraph) HasDependency(source, target string) bool {
	_, ok := fg.dependencies[source][target]
	return ok
}

// Files returns every file that appears in the graph, sorted
func (fg *FileGraph) Files() []string {
	all := make(set, len(fg.files)+len(fg.dependents))
	for f := range fg.files {
		all[f] = struct{}{}
	}
	for f := range fg.dependents {
		all[f] = struct{}{}
	}
	return sortedKeys(all)
}

// EdgeCount returns the number of import edges
func (fg *FileGraph) EdgeCount() int {
	n := 0
	for _, targets := range fg.dependencies {
		n += len(targets)
	}
	return n
}

// Edges returns all edges sorted by source then target. An edge is
// bidirectional when the reverse import exists as well.
func (fg *FileGraph) Edges() []model.DependencyEdge {
	edges := make([]model.DependencyEdge, 0, fg.EdgeCount())
	for _, source := range sortedKeys(keySet(fg.dependencies)) {
		for _, target := range sortedKeys(fg.dependencies[source]) {
			edges = append(edges, model.DependencyEdge{
				Source:        source,
				Target:        target,
				Bidirectional: fg.HasDependency(target, source),
				Circular:      fg.circular[edgeKey{source, target}],
			})
		}
	}
	return edges
}

// DependencyMap returns the persistable form: every source file mapped to
// its sorted imports. Files without imports map to an empty list.
func (fg *FileGraph) DependencyMap() map[string][]string {
	m := make(map[string][]string, len(fg.files))
	for f := range fg.files {
		m[f] = fg.DependenciesOf(f)
	}
	return m
}

// FromDependencyMap restores a graph from its persisted form
func FromDependencyMap(m map[string][]string) *FileGraph {
	fg := NewFileGraph()
	for source, targets := range m {
		fg.files[source] = struct{}{}
		for _, target := range targets {
			fg.AddDependency(source, target)
		}
	}
	return fg
}

// MarkCircular tags every edge whose endpoints share a component
func (fg *FileGraph) MarkCircular(components [][]string) {
	fg.circular = make(map[edgeKey]bool)
	for _, comp := range components {
		members := make(set, len(comp))
		for _, f := range comp {
			members[f] = struct{}{}
		}
		for _, source := range comp {
			for target := range fg.dependencies[source] {
				if _, ok := members[target]; ok {
					fg.circular[edgeKey{source, target}] = true
				}
			}
		}
	}
}

// IsCircular reports whether the source -> target edge lies on a cycle
func (fg *FileGraph) IsCircular(source, target string) bool {
	return fg.circular[edgeKey{source, target}]
}

// DirectedView is a gonum snapshot of the graph with node IDs mapped back to paths
type DirectedView struct {
	Graph *simple.DirectedGraph
	paths []string
}

// Path returns the file for a node ID, or "" when unknown
func (v *DirectedView) Path(id int64) string {
	if id < 0 || int(id) >= len(v.paths) {
		return ""
	}
	return v.paths[id]
}

// Directed builds a gonum directed graph view. Node IDs are indices into
// the sorted file list so the view is deterministic.
func (fg *FileGraph) Directed() *DirectedView {
	files := fg.Files()
	ids := make(map[string]int64, len(files))
	g := simple.NewDirectedGraph()
	for i, f := range files {
		ids[f] = int64(i)
		g.AddNode(simple.Node(i))
	}
	for source, targets := range fg.dependencies {
		for target := range targets {
			g.SetEdge(g.NewEdge(simple.Node(ids[source]), simple.Node(ids[target])))
		}
	}
	return &DirectedView{Graph: g, paths: files}
}

func keySet[V any](m map[string]V) set {
	s := make(set, len(m))
	for k := range m {
		s[k] = struct{}{}
	}
	return s
}

func sortedKeys(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
