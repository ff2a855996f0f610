package cycles

import (
	"gonum.org/v1/gonum/graph"
)

// TarjanSCC finds strongly connected components with Tarjan's algorithm.
// The traversal keeps its own call stack so deep import chains cannot
// exhaust the goroutine stack.
type TarjanSCC struct {
	graph   graph.Directed
	index   int
	stack   []int64
	onStack map[int64]bool
	indices map[int64]int
	lowLink map[int64]int
	sccs    [][]int64
}

// frame is one suspended strongConnect call
type frame struct {
	node       int64
	successors []int64
	next       int
}

// NewTarjanSCC creates a new Tarjan SCC finder
func NewTarjanSCC(g graph.Directed) *TarjanSCC {
	return &TarjanSCC{
		graph:   g,
		onStack: make(map[int64]bool),
		indices: make(map[int64]int),
		lowLink: make(map[int64]int),
	}
}

// FindSCCs returns every component with more than one node
func (t *TarjanSCC) FindSCCs() [][]int64 {
	nodes := t.graph.Nodes()
	for nodes.Next() {
		id := nodes.Node().ID()
		if _, visited := t.indices[id]; !visited {
			t.strongConnect(id)
		}
	}
	return t.sccs
}

func (t *TarjanSCC) visit(id int64) *frame {
	t.indices[id] = t.index
	t.lowLink[id] = t.index
	t.index++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	var succ []int64
	it := t.graph.From(id)
	for it.Next() {
		succ = append(succ, it.Node().ID())
	}
	return &frame{node: id, successors: succ}
}

func (t *TarjanSCC) strongConnect(root int64) {
	calls := []*frame{t.visit(root)}

	for len(calls) > 0 {
		f := calls[len(calls)-1]

		if f.next < len(f.successors) {
			w := f.successors[f.next]
			f.next++
			if _, visited := t.indices[w]; !visited {
				calls = append(calls, t.visit(w))
			} else if t.onStack[w] {
				t.lowLink[f.node] = min(t.lowLink[f.node], t.indices[w])
			}
			continue
		}

		// All successors done: close the component rooted here, then return
		if t.lowLink[f.node] == t.indices[f.node] {
			var scc []int64
			for {
				w := t.stack[len(t.stack)-1]
				t.stack = t.stack[:len(t.stack)-1]
				t.onStack[w] = false
				scc = append(scc, w)
				if w == f.node {
					break
				}
			}
			if len(scc) > 1 {
				t.sccs = append(t.sccs, scc)
			}
		}

		calls = calls[:len(calls)-1]
		if len(calls) > 0 {
			parent := calls[len(calls)-1]
			t.lowLink[parent.node] = min(t.lowLink[parent.node], t.lowLink[f.node])
		}
	}
}
