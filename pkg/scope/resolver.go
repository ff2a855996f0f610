// Package scope computes which files a change requires re-validating.
package scope

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/metrics"
	"github.com/ritzau/deps-validator/pkg/model"
)

var log = logging.New("scope")

// Graph is the part of the dependency graph the resolver walks
type Graph interface {
	DependentsOf(file string) []string
	DependenciesOf(file string) []string
}

// Options bounds resolution
type Options struct {
	Limit       int           // Maximum affected files, the changed file included
	Depth       int           // Dependent depth walked for import and export changes
	CostPerFile time.Duration // Engine cost estimate per affected file
}

// Resolver turns a classified change into a ValidationScope
type Resolver struct {
	graph Graph
	opts  Options
}

// NewResolver creates a resolver over g
func NewResolver(g Graph, opts Options) *Resolver {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	if opts.Depth < 1 {
		opts.Depth = 1
	}
	return &Resolver{graph: g, opts: opts}
}

// ranked is an affected file with its BFS distance from the changed file
type ranked struct {
	path string
	dist int
}

// collector keeps the first (shortest) distance seen for each file
type collector struct {
	seen  map[string]struct{}
	items []ranked
}

func newCollector(changed string) *collector {
	c := &collector{seen: make(map[string]struct{})}
	c.add(changed, 0)
	return c
}

func (c *collector) add(path string, dist int) bool {
	if _, ok := c.seen[path]; ok {
		return false
	}
	c.seen[path] = struct{}{}
	c.items = append(c.items, ranked{path, dist})
	return true
}

// Resolve computes the affected files for a change to changed.
//
// Immediate dependents and dependencies are always included. Import and
// export changes also walk dependents up to the configured depth. A
// formatting-only change never leaves the file itself.
func (r *Resolver) Resolve(changed string, ct model.ChangeType) model.ValidationScope {
	if ct == model.ChangeNone {
		return r.finish(changed, []ranked{{changed, 0}}, model.ReasonStyleChange)
	}

	c := newCollector(changed)
	for _, f := range r.graph.DependentsOf(changed) {
		c.add(f, 1)
	}
	for _, f := range r.graph.DependenciesOf(changed) {
		c.add(f, 1)
	}

	var reason model.ScopeReason
	switch ct {
	case model.ChangeImportsChanged, model.ChangeExportsChanged:
		reason = model.ReasonImportChange
		r.walkDependents(c, changed)
	case model.ChangeSymbols:
		reason = model.ReasonDependencyChange
	default:
		reason = model.ReasonDirectChange
	}

	return r.finish(changed, c.items, reason)
}

// walkDependents is a breadth-first walk over reverse edges. Each tier is
// expanded in lexical order; the walk stops at the depth bound or once the
// collected set already exceeds the limit.
func (r *Resolver) walkDependents(c *collector, changed string) {
	visited := map[string]struct{}{changed: {}}
	frontier := []string{changed}

	for depth := 1; depth <= r.opts.Depth && len(frontier) > 0; depth++ {
		if len(c.items) > r.opts.Limit {
			return
		}
		var next []string
		for _, f := range frontier {
			for _, dep := range r.graph.DependentsOf(f) {
				if _, ok := visited[dep]; ok {
					continue
				}
				visited[dep] = struct{}{}
				c.add(dep, depth)
				next = append(next, dep)
			}
		}
		slices.Sort(next)
		frontier = next
	}
}

func (r *Resolver) finish(changed string, items []ranked, reason model.ScopeReason) model.ValidationScope {
	files, truncated := order(items, r.opts.Limit)
	if truncated {
		err := fmt.Errorf("%w: %s affects %d files, keeping %d", model.ErrOverflow, changed, len(items), r.opts.Limit)
		log.Warn("Scope truncated", "file", changed, "error", err)
		metrics.ScopeTruncations.Inc()
	}

	s := model.ValidationScope{
		ChangedFile:     changed,
		AffectedFiles:   files,
		Reason:          reason,
		EstimatedCostMs: int64(len(files)) * r.opts.CostPerFile.Milliseconds(),
		Truncated:       truncated,
	}
	metrics.ScopeSize.WithLabelValues(string(reason)).Observe(float64(len(files)))
	log.Debug("Resolved scope", "file", changed, "reason", reason, "files", len(files))
	return s
}

// order sorts by distance then path and keeps the first limit entries.
// Distance 0 is only ever the changed file, so it always survives.
func order(items []ranked, limit int) ([]string, bool) {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b ranked) int {
		return cmp.Or(cmp.Compare(a.dist, b.dist), cmp.Compare(a.path, b.path))
	})

	truncated := len(sorted) > limit
	if truncated {
		sorted = sorted[:limit]
	}

	files := make([]string, len(sorted))
	for i, it := range sorted {
		files[i] = it.path
	}
	return files, truncated
}
