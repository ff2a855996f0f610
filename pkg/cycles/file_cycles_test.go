package cycles

import (
	"fmt"
	"testing"

	"github.com/ritzau/deps-validator/pkg/graph"
)

func TestFindFileCycles_NoCycles(t *testing.T) {
	fg := graph.NewFileGraph()

	// Acyclic import chain: main -> b -> c
	fg.AddDependency("main.ts", "b.ts")
	fg.AddDependency("b.ts", "c.ts")

	cycles := FindFileCycles(fg)

	if len(cycles) != 0 {
		t.Errorf("Expected no cycles, but found %d", len(cycles))
	}
}

func TestFindFileCycles_SimpleCycle(t *testing.T) {
	fg := graph.NewFileGraph()

	// Create a simple cycle: A -> B -> A
	fg.AddDependency("a.ts", "b.ts")
	fg.AddDependency("b.ts", "a.ts")

	cycles := FindFileCycles(fg)

	if len(cycles) != 1 {
		t.Fatalf("Expected 1 cycle, but found %d", len(cycles))
	}

	cycle := cycles[0]
	if len(cycle.Files) != 2 {
		t.Errorf("Expected cycle of length 2, got %d", len(cycle.Files))
	}

	// Check that both files are in the cycle
	filesInCycle := make(map[string]bool)
	for _, file := range cycle.Files {
		filesInCycle[file] = true
	}

	if !filesInCycle["a.ts"] || !filesInCycle["b.ts"] {
		t.Errorf("Expected cycle to contain a.h and b.h, got %v", cycle.Files)
	}
}

func TestFindFileCycles_ThreeNodeCycle(t *testing.T) {
	fg := graph.NewFileGraph()

	// Create a three-node cycle: A -> B -> C -> A
	fg.AddDependency("a.ts", "b.ts")
	fg.AddDependency("b.ts", "c.ts")
	fg.AddDependency("c.ts", "a.ts")

	cycles := FindFileCycles(fg)

	if len(cycles) != 1 {
		t.Fatalf("Expected 1 cycle, but found %d", len(cycles))
	}

	cycle := cycles[0]
	if len(cycle.Files) != 3 {
		t.Errorf("Expected cycle of length 3, got %d", len(cycle.Files))
	}
}

func TestFindFileCycles_MultipleCycles(t *testing.T) {
	fg := graph.NewFileGraph()

	// Create two separate cycles:
	// Cycle 1: A -> B -> A
	fg.AddDependency("a.ts", "b.ts")
	fg.AddDependency("b.ts", "a.ts")

	// Cycle 2: C -> D -> E -> C
	fg.AddDependency("c.ts", "d.ts")
	fg.AddDependency("d.ts", "e.ts")
	fg.AddDependency("e.ts", "c.ts")

	cycles := FindFileCycles(fg)

	if len(cycles) != 2 {
		t.Fatalf("Expected 2 cycles, but found %d", len(cycles))
	}

	// Check that one cycle has 2 files and the other has 3
	cycleSizes := make(map[int]int)
	for _, cycle := range cycles {
		cycleSizes[len(cycle.Files)]++
	}

	if cycleSizes[2] != 1 || cycleSizes[3] != 1 {
		t.Errorf("Expected one 2-node cycle and one 3-node cycle, got: %v", cycleSizes)
	}
}

func TestFindFileCycles_CycleWithAcyclicParts(t *testing.T) {
	fg := graph.NewFileGraph()

	// Create a graph with both cyclic and acyclic parts:
	// A -> B -> C (acyclic)
	// D -> E -> D (cyclic)
	fg.AddDependency("main.ts", "b.ts")
	fg.AddDependency("b.ts", "c.ts")

	fg.AddDependency("d.ts", "e.ts")
	fg.AddDependency("e.ts", "d.ts")

	cycles := FindFileCycles(fg)

	if len(cycles) != 1 {
		t.Fatalf("Expected 1 cycle, but found %d", len(cycles))
	}

	cycle := cycles[0]
	if len(cycle.Files) != 2 {
		t.Errorf("Expected cycle of length 2, got %d", len(cycle.Files))
	}
}

func TestFindFileCycles_DeterministicOrder(t *testing.T) {
	fg := graph.NewFileGraph()
	fg.AddDependency("z.ts", "y.ts")
	fg.AddDependency("y.ts", "z.ts")
	fg.AddDependency("b.ts", "a.ts")
	fg.AddDependency("a.ts", "b.ts")

	cycles := FindFileCycles(fg)

	if len(cycles) != 2 {
		t.Fatalf("Expected 2 cycles, but found %d", len(cycles))
	}
	if cycles[0].Files[0] != "a.ts" || cycles[0].Files[1] != "b.ts" {
		t.Errorf("Expected first cycle [a.ts b.ts], got %v", cycles[0].Files)
	}
	if cycles[1].Files[0] != "y.ts" {
		t.Errorf("Expected second cycle to start with y.ts, got %v", cycles[1].Files)
	}
}

func TestFindFileCycles_LongChain(t *testing.T) {
	fg := graph.NewFileGraph()

	// A long chain closed into one loop must not recurse per node
	const n = 20000
	name := func(i int) string { return fmt.Sprintf("f%05d.ts", i) }
	for i := 0; i < n; i++ {
		fg.AddDependency(name(i), name((i+1)%n))
	}

	cycles := FindFileCycles(fg)

	if len(cycles) != 1 || len(cycles[0].Files) != n {
		t.Fatalf("Expected one cycle of %d files, got %d cycles", n, len(cycles))
	}
}

func TestTagCircular(t *testing.T) {
	fg := graph.NewFileGraph()
	fg.AddDependency("a.ts", "b.ts")
	fg.AddDependency("b.ts", "a.ts")
	fg.AddDependency("b.ts", "c.ts")

	TagCircular(fg)

	if !fg.IsCircular("a.ts", "b.ts") || !fg.IsCircular("b.ts", "a.ts") {
		t.Error("Expected a.ts <-> b.ts to be tagged circular")
	}
	if fg.IsCircular("b.ts", "c.ts") {
		t.Error("b.ts -> c.ts is not on a cycle")
	}
}
