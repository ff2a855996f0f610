// Package deps turns import statements into dependency edges between
// workspace files.
package deps

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
	"github.com/ritzau/deps-validator/pkg/snapshot"
)

var log = logging.New("deps")

// Extractor returns the import edges of the given workspace-relative files
type Extractor interface {
	Extract(ctx context.Context, paths []string) ([]model.DependencyEdge, error)
}

// ImportExtractor resolves import specifiers found by the snapshot scanner
// to files that exist in the workspace. Package imports that do not map to
// a workspace file produce no edge.
type ImportExtractor struct {
	root        string
	builder     *snapshot.Builder
	modulePath  string // Go module path from go.mod, if any
	concurrency int
}

// NewImportExtractor creates an extractor for the workspace at root
func NewImportExtractor(root string, concurrency int) *ImportExtractor {
	return &ImportExtractor{
		root:        root,
		builder:     snapshot.NewBuilder(root),
		modulePath:  readModulePath(filepath.Join(root, "go.mod")),
		concurrency: max(concurrency, 1),
	}
}

func readModulePath(goMod string) string {
	f, err := os.Open(goMod)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "module "); ok {
			return strings.Trim(strings.TrimSpace(rest), `"`)
		}
	}
	return ""
}

// Extract reads each file and resolves its imports. Unreadable files are
// skipped.
func (x *ImportExtractor) Extract(ctx context.Context, paths []string) ([]model.DependencyEdge, error) {
	var (
		mu    sync.Mutex
		edges []model.DependencyEdge
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := x.builder.Build(p)
			if err != nil {
				log.Debug("Skipping unreadable file", "path", p, "error", err)
				return nil
			}
			found := x.EdgesFor(snap)
			mu.Lock()
			edges = append(edges, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extracting edges: %w", err)
	}

	slices.SortFunc(edges, func(a, b model.DependencyEdge) int {
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return strings.Compare(a.Target, b.Target)
	})
	return edges, nil
}

// EdgesFor resolves the imports of an already built snapshot
func (x *ImportExtractor) EdgesFor(snap *model.FileSnapshot) []model.DependencyEdge {
	seen := make(map[string]bool)
	var edges []model.DependencyEdge
	add := func(target string) {
		if target == "" || target == snap.Path || seen[target] {
			return
		}
		seen[target] = true
		edges = append(edges, model.DependencyEdge{Source: snap.Path, Target: target})
	}

	switch snapshot.DetectLanguage(snap.Path) {
	case snapshot.LanguageECMAScript:
		for _, imp := range snap.Imports {
			add(x.resolveECMAScript(snap.Path, imp))
		}
	case snapshot.LanguagePython:
		for _, imp := range snap.Imports {
			add(x.resolvePython(snap.Path, imp))
		}
	case snapshot.LanguageGo:
		for _, imp := range snap.Imports {
			for _, target := range x.resolveGo(snap.Path, imp) {
				add(target)
			}
		}
	}
	return edges
}

var esExtensions = []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

func (x *ImportExtractor) resolveECMAScript(from, imp string) string {
	if !strings.HasPrefix(imp, ".") {
		return "" // Bare package specifier
	}
	base := path.Join(path.Dir(from), imp)

	candidates := []string{base}
	// TypeScript sources are imported with their emitted .js extension
	if ext := path.Ext(base); ext == ".js" || ext == ".jsx" || ext == ".mjs" || ext == ".cjs" {
		stem := strings.TrimSuffix(base, ext)
		candidates = append(candidates, stem+".ts", stem+".tsx", stem+".mts", stem+".cts")
	}
	for _, ext := range esExtensions {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range esExtensions {
		candidates = append(candidates, base+"/index"+ext)
	}
	return x.firstFile(candidates)
}

func (x *ImportExtractor) resolvePython(from, imp string) string {
	dots := len(imp) - len(strings.TrimLeft(imp, "."))
	module := strings.ReplaceAll(imp[dots:], ".", "/")

	var bases []string
	if dots > 0 {
		dir := path.Dir(from)
		for i := 1; i < dots; i++ {
			dir = path.Dir(dir)
		}
		bases = []string{dir}
	} else {
		bases = []string{".", "src"}
	}

	var candidates []string
	for _, b := range bases {
		if module == "" {
			candidates = append(candidates, path.Join(b, "__init__.py"))
			continue
		}
		p := path.Join(b, module)
		candidates = append(candidates, p+".py", p+"/__init__.py")
	}
	return x.firstFile(candidates)
}

// resolveGo maps a module-local import to every non-test file of that package
func (x *ImportExtractor) resolveGo(from, imp string) []string {
	if x.modulePath == "" {
		return nil
	}
	var dir string
	switch {
	case imp == x.modulePath:
		dir = "."
	case strings.HasPrefix(imp, x.modulePath+"/"):
		dir = strings.TrimPrefix(imp, x.modulePath+"/")
	default:
		return nil
	}

	entries, err := os.ReadDir(filepath.Join(x.root, filepath.FromSlash(dir)))
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		files = append(files, path.Join(dir, name))
	}
	return files
}

func (x *ImportExtractor) firstFile(candidates []string) string {
	for _, c := range candidates {
		c = path.Clean(c)
		if c == "." || strings.HasPrefix(c, "../") {
			continue
		}
		info, err := os.Stat(filepath.Join(x.root, filepath.FromSlash(c)))
		if err == nil && info.Mode().IsRegular() {
			return c
		}
	}
	return ""
}
