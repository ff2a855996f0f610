package cycles

import (
	"slices"
	"strings"

	"github.com/ritzau/deps-validator/pkg/graph"
)

// FileCycle represents a circular import chain between source files
type FileCycle struct {
	Files []string `json:"files"` // Sorted
}

// FindFileCycles finds all circular imports in the dependency graph.
// Cycles are ordered by their first file.
func FindFileCycles(fg *graph.FileGraph) []FileCycle {
	view := fg.Directed()
	sccs := NewTarjanSCC(view.Graph).FindSCCs()

	cycles := make([]FileCycle, 0, len(sccs))
	for _, scc := range sccs {
		files := make([]string, 0, len(scc))
		for _, id := range scc {
			if p := view.Path(id); p != "" {
				files = append(files, p)
			}
		}
		if len(files) > 1 {
			slices.Sort(files)
			cycles = append(cycles, FileCycle{Files: files})
		}
	}

	slices.SortFunc(cycles, func(a, b FileCycle) int {
		return strings.Compare(a.Files[0], b.Files[0])
	})
	return cycles
}

// TagCircular finds cycles and marks their edges in the graph
func TagCircular(fg *graph.FileGraph) []FileCycle {
	cycles := FindFileCycles(fg)
	components := make([][]string, len(cycles))
	for i, c := range cycles {
		components[i] = c.Files
	}
	fg.MarkCircular(components)
	return cycles
}
