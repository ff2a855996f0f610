package analysis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"time"

	"github.com/ritzau/deps-validator/pkg/cache"
	"github.com/ritzau/deps-validator/pkg/changes"
	"github.com/ritzau/deps-validator/pkg/cycles"
	"github.com/ritzau/deps-validator/pkg/engine"
	"github.com/ritzau/deps-validator/pkg/findings"
	"github.com/ritzau/deps-validator/pkg/graph"
	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/metrics"
	"github.com/ritzau/deps-validator/pkg/model"
	"github.com/ritzau/deps-validator/pkg/pubsub"
	"github.com/ritzau/deps-validator/pkg/scope"
)

// Pass kinds, used for progress events and metrics labels
const (
	KindFile  = "file"
	KindBatch = "batch"
	KindFull  = "full"
	KindWarm  = "warm"
)

// Initialize loads the session state. A valid cache gives a warm start
// that only revalidates files changed since it was written. Without a
// usable cache an initialized workspace is regenerated in full; an
// uninitialized one is indexed but not validated.
func (s *Session) Initialize(ctx context.Context) error {
	rec, err := s.store.Load()
	if err == nil {
		return s.run(ctx, KindWarm, "warm start", func(ctx context.Context) error {
			return s.warmStart(ctx, rec)
		})
	}

	if reason, ok := cache.IsInvalid(err); ok && reason != cache.ReasonNotFound {
		log.Warn("Discarding cache", "reason", reason, "error", err)
	}
	if s.store.Initialized() {
		return s.FullRegenerate(ctx)
	}

	log.Info("Workspace not initialized, indexing without validation", "root", s.opts.Root)
	return s.index(ctx)
}

// InitWorkspace creates the cache directory on the user's request and
// regenerates everything
func (s *Session) InitWorkspace(ctx context.Context) error {
	if err := s.store.Initialize(); err != nil {
		return err
	}
	log.Info("Initialized workspace", "dir", s.store.Dir())
	return s.FullRegenerate(ctx)
}

// RevalidateFile handles one saved, created or deleted file
func (s *Session) RevalidateFile(ctx context.Context, path string) error {
	path, err := s.RelPath(path)
	if err != nil {
		return err
	}
	return s.run(ctx, KindFile, path, func(ctx context.Context) error {
		scopes, err := s.apply(ctx, []string{path})
		if err != nil || len(scopes) == 0 {
			return err
		}
		return s.validate(ctx, KindFile, scopes[0], s.opts.Timeout, false)
	})
}

// RevalidateBatch handles many changed files as one scope union with a
// timeout proportional to the batch. Paths outside the workspace are
// dropped with a warning.
func (s *Session) RevalidateBatch(ctx context.Context, paths []string) error {
	paths, err := s.relPaths(paths)
	if err != nil {
		return err
	}
	return s.run(ctx, KindBatch, fmt.Sprintf("%d files", len(paths)), func(ctx context.Context) error {
		scopes, err := s.apply(ctx, paths)
		if err != nil || len(scopes) == 0 {
			return err
		}
		sc := scope.Union(scopes, max(s.opts.Scope.Limit, len(scopes)), s.opts.Scope.CostPerFile)
		return s.validate(ctx, KindBatch, sc, s.batchTimeout(len(sc.AffectedFiles)), false)
	})
}

// FullRegenerate rescans the workspace, rebuilds the graph, validates every
// file and replaces the finding set. Only this pass marks the workspace fresh.
func (s *Session) FullRegenerate(ctx context.Context) error {
	return s.run(ctx, KindFull, "full regeneration", func(ctx context.Context) error {
		s.progress(ctx, KindFull, pubsub.PhaseScanning, 10, "Scanning workspace")
		snaps, edges, err := s.scan(ctx)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.snapshots = snaps
		s.graph.RebuildAll(edges)
		s.cycles = cycles.TagCircular(s.graph)
		s.mu.Unlock()

		files := slices.Sorted(maps.Keys(snaps))
		sc := model.ValidationScope{
			AffectedFiles: files,
			Reason:        model.ReasonDirectChange,
		}
		if err := s.validate(ctx, KindFull, sc, s.batchTimeout(len(files)), true); err != nil {
			return err
		}

		_, err = s.fingerprint.MarkFresh(ctx)
		switch {
		case errors.Is(err, model.ErrNotInitialized):
			log.DebugContext(ctx, "Skipping fingerprint, workspace not initialized")
		case err != nil:
			return err
		default:
			s.setStale(false)
		}
		return nil
	})
}

// CheckStaleness compares the workspace against the stored fingerprint and
// publishes the stale flag when it flips
func (s *Session) CheckStaleness(ctx context.Context) (bool, error) {
	stale, err := s.fingerprint.IsStale(ctx)
	if err != nil {
		return false, err
	}
	s.setStale(stale)
	return stale, nil
}

func (s *Session) setStale(stale bool) {
	if s.stale.Update(stale) {
		if stale {
			metrics.Stale.Set(1)
		} else {
			metrics.Stale.Set(0)
		}
		log.Info("Workspace stale state changed", "stale", stale)
		s.publish(pubsub.TopicStale, "changed", pubsub.StaleStatus{Stale: stale})
	}
}

// run wraps a pass with a run ID, progress events, metrics and the last
// run summary. On failure prior findings stay untouched.
func (s *Session) run(ctx context.Context, kind, subject string, fn func(context.Context) error) error {
	ctx, _ = logging.WithRunID(ctx)
	start := time.Now()
	s.progress(ctx, kind, pubsub.PhaseStarted, 0, "Validating "+subject)

	err := fn(ctx)
	took := time.Since(start)
	metrics.Passes.WithLabelValues(kind, metrics.Result(err)).Inc()
	metrics.PassDuration.WithLabelValues(kind).Observe(took.Seconds())

	if err != nil {
		log.ErrorContext(ctx, "Validation pass failed", "kind", kind, "subject", subject, "error", err)
		s.progress(ctx, kind, pubsub.PhaseError, 100, fmt.Sprintf("Validation failed: %v; previous findings kept", err))
		return err
	}

	s.mu.Lock()
	stats := findings.ComputeStats(s.findings)
	s.lastRun = &model.RunSummary{Total: stats.Total, Fixable: stats.Fixable, TookMs: took.Milliseconds()}
	s.mu.Unlock()
	metrics.Findings.Set(float64(stats.Total))
	s.writer.Request()

	log.InfoContext(ctx, "Validation pass done", "kind", kind, "subject", subject, "findings", stats.Total, "took", took)
	s.progress(ctx, kind, pubsub.PhaseDone, 100, fmt.Sprintf("%d findings", stats.Total))
	return nil
}

// relPaths cleans and deduplicates paths, dropping those outside the
// workspace. It fails only when nothing is left.
func (s *Session) relPaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	var lastErr error
	for _, p := range paths {
		rel, err := s.RelPath(p)
		if err != nil {
			log.Warn("Ignoring path", "path", p, "error", err)
			lastErr = err
			continue
		}
		out = append(out, rel)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (s *Session) batchTimeout(n int) time.Duration {
	return s.opts.Timeout + time.Duration(n)*s.opts.PerFile
}

// apply snapshots paths, classifies each change, updates the graph for
// structural changes and deletions, and returns one scope per affected
// path. Unreadable files are skipped; vanished files become deletions.
func (s *Session) apply(ctx context.Context, paths []string) ([]model.ValidationScope, error) {
	res, err := s.builder.BuildAll(ctx, paths, s.opts.Concurrency)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, readErr := range res.Skipped {
		if errors.Is(readErr, fs.ErrNotExist) {
			removed = append(removed, readErr.Path)
		} else {
			log.WarnContext(ctx, "Skipping unreadable file", "path", readErr.Path, "error", readErr.Err)
		}
	}
	slices.Sort(removed)

	changed := slices.Sorted(maps.Keys(res.Snapshots))
	types := make(map[string]model.ChangeType, len(changed))
	var structural []string

	s.mu.RLock()
	for _, p := range changed {
		ct := changes.Classify(s.snapshots[p], res.Snapshots[p])
		types[p] = ct
		if changes.Structural(ct) {
			structural = append(structural, p)
		}
	}
	s.mu.RUnlock()

	var edges []model.DependencyEdge
	if len(structural) > 0 {
		if edges, err = s.extractor.Extract(ctx, structural); err != nil {
			return nil, err
		}
	}
	bySource := make(map[string][]model.DependencyEdge)
	for _, e := range edges {
		bySource[e.Source] = append(bySource[e.Source], e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range changed {
		s.snapshots[p] = res.Snapshots[p]
	}
	for _, p := range structural {
		s.graph.RebuildFor(p, bySource[p])
	}

	var deleted []string
	for _, p := range removed {
		if !s.tracksLocked(p) {
			continue
		}
		delete(s.snapshots, p)
		s.graph.RemoveFile(p)
		deleted = append(deleted, p)
	}
	if len(structural) > 0 || len(deleted) > 0 {
		s.cycles = cycles.TagCircular(s.graph)
	}

	resolver := s.resolver()
	scopes := make([]model.ValidationScope, 0, len(changed)+len(deleted))
	for _, p := range changed {
		metrics.ChangeTypes.WithLabelValues(string(types[p])).Inc()
		sc := resolver.Resolve(p, types[p])
		log.DebugContext(ctx, "Classified change", "file", p, "change", types[p], "reason", sc.Reason, "files", len(sc.AffectedFiles))
		scopes = append(scopes, sc)
	}
	for _, p := range deleted {
		// A deleted file's importers must be revalidated like after an export change
		sc := resolver.Resolve(p, model.ChangeExportsChanged)
		log.DebugContext(ctx, "File removed", "file", p, "files", len(sc.AffectedFiles))
		scopes = append(scopes, sc)
	}
	return scopes, nil
}

// tracksLocked reports whether p is known through a snapshot, an importer
// or a live finding
func (s *Session) tracksLocked(p string) bool {
	if _, ok := s.snapshots[p]; ok {
		return true
	}
	if len(s.graph.DependentsOf(p)) > 0 {
		return true
	}
	return len(findings.ForFiles(s.findings, p)) > 0
}

// validate sends the existing files of sc to the engine and merges the
// result. With replace set the result becomes the whole finding set.
func (s *Session) validate(ctx context.Context, kind string, sc model.ValidationScope, timeout time.Duration, replace bool) error {
	s.mu.RLock()
	requested := make([]string, 0, len(sc.AffectedFiles))
	for _, p := range sc.AffectedFiles {
		if _, ok := s.snapshots[p]; ok {
			requested = append(requested, p)
		}
	}
	s.mu.RUnlock()

	fresh := []model.Finding{}
	if len(requested) > 0 {
		s.progress(ctx, kind, pubsub.PhaseValidating, 30, fmt.Sprintf("Validating %d files", len(requested)))

		resp, err := s.analyze(ctx, engine.Request{
			RootPath:      s.opts.Root,
			RelativePaths: requested,
			Incremental:   !replace,
			Modes:         s.opts.Modes,
		}, timeout)
		if err != nil {
			return fmt.Errorf("validating %d files: %w", len(requested), err)
		}
		fresh = engine.ToFindings(s.opts.Root, resp.Violations)
		log.DebugContext(ctx, "Engine responded", "violations", len(resp.Violations), "engineMs", resp.ProcessingTimeMs)
	}

	s.mu.Lock()
	if replace {
		s.findings = findings.Merge(nil, sc, fresh)
	} else {
		s.findings = findings.Merge(s.findings, sc, fresh)
	}
	stats := findings.ComputeStats(s.findings)
	s.mu.Unlock()

	s.publish(pubsub.TopicFindings, "merged", pubsub.FindingsUpdate{
		Stats:    stats,
		Scope:    sc.AffectedFiles,
		Complete: replace,
	})
	return nil
}

// analyze races the engine call against timeout, so an engine that ignores
// its context cannot hang the pass. A late answer is discarded.
func (s *Session) analyze(ctx context.Context, req engine.Request, timeout time.Duration) (*engine.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp *engine.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.engine.Analyze(callCtx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-callCtx.Done():
		return nil, &model.EngineError{
			Timeout: errors.Is(callCtx.Err(), context.DeadlineExceeded),
			Err:     callCtx.Err(),
		}
	}
}

// scan enumerates and snapshots the whole workspace and extracts its edges
func (s *Session) scan(ctx context.Context) (map[string]*model.FileSnapshot, []model.DependencyEdge, error) {
	files, err := s.files.Enumerate(ctx, s.opts.Root)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.builder.BuildAll(ctx, files, s.opts.Concurrency)
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.extractor.Extract(ctx, slices.Sorted(maps.Keys(res.Snapshots)))
	if err != nil {
		return nil, nil, err
	}
	log.DebugContext(ctx, "Scanned workspace", "files", len(res.Snapshots), "edges", len(edges), "took", res.Took)
	return res.Snapshots, edges, nil
}

// index builds snapshots and the graph without calling the engine
func (s *Session) index(ctx context.Context) error {
	snaps, edges, err := s.scan(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = snaps
	s.graph.RebuildAll(edges)
	s.cycles = cycles.TagCircular(s.graph)
	log.Info("Indexed workspace", "files", len(snaps), "edges", s.graph.EdgeCount(), "cycles", len(s.cycles))
	return nil
}

// warmStart restores findings and the graph from the cache and revalidates
// only the files whose signature no longer matches
func (s *Session) warmStart(ctx context.Context, rec *model.CacheRecord) error {
	files, err := s.files.Enumerate(ctx, s.opts.Root)
	if err != nil {
		return err
	}
	res, err := s.builder.BuildAll(ctx, files, s.opts.Concurrency)
	if err != nil {
		return err
	}

	var added, modified, gone []string
	for p, snap := range res.Snapshots {
		sig, ok := rec.FileSignatures[p]
		switch {
		case !ok:
			added = append(added, p)
		case sig.Hash != snap.ContentHash:
			modified = append(modified, p)
		}
	}
	for p := range rec.FileSignatures {
		if _, ok := res.Snapshots[p]; !ok {
			gone = append(gone, p)
		}
	}
	slices.Sort(added)
	slices.Sort(modified)
	slices.Sort(gone)

	dirty := append(slices.Clone(added), modified...)
	var edges []model.DependencyEdge
	if len(dirty) > 0 {
		if edges, err = s.extractor.Extract(ctx, dirty); err != nil {
			return err
		}
	}
	bySource := make(map[string][]model.DependencyEdge)
	for _, e := range edges {
		bySource[e.Source] = append(bySource[e.Source], e)
	}

	s.mu.Lock()
	s.snapshots = res.Snapshots
	s.graph = graph.FromDependencyMap(rec.DependencyMap)
	for _, p := range gone {
		s.graph.RemoveFile(p)
	}
	for _, p := range dirty {
		s.graph.RebuildFor(p, bySource[p])
	}
	s.cycles = cycles.TagCircular(s.graph)
	s.findings = slices.Clone(rec.Findings)
	s.lastRun = rec.LastRun

	// The old snapshots are not cached, so a modified file cannot be
	// classified. It gets the export-change scope, the widest one.
	resolver := s.resolver()
	var scopes []model.ValidationScope
	for _, p := range added {
		scopes = append(scopes, resolver.Resolve(p, model.ChangeNewFile))
	}
	for _, p := range modified {
		scopes = append(scopes, resolver.Resolve(p, model.ChangeExportsChanged))
	}
	for _, p := range gone {
		scopes = append(scopes, resolver.Resolve(p, model.ChangeExportsChanged))
	}
	s.mu.Unlock()

	log.InfoContext(ctx, "Restored cache", "files", len(res.Snapshots), "findings", len(rec.Findings),
		"added", len(added), "modified", len(modified), "removed", len(gone))
	if len(scopes) == 0 {
		return nil
	}

	sc := scope.Union(scopes, max(s.opts.Scope.Limit, len(scopes)), s.opts.Scope.CostPerFile)
	return s.validate(ctx, KindWarm, sc, s.batchTimeout(len(sc.AffectedFiles)), false)
}
