// Package analysis owns the live validation state of one workspace and
// runs the revalidation passes over it.
package analysis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ritzau/deps-validator/pkg/cache"
	"github.com/ritzau/deps-validator/pkg/changes"
	"github.com/ritzau/deps-validator/pkg/cycles"
	"github.com/ritzau/deps-validator/pkg/deps"
	"github.com/ritzau/deps-validator/pkg/engine"
	"github.com/ritzau/deps-validator/pkg/finder"
	"github.com/ritzau/deps-validator/pkg/findings"
	"github.com/ritzau/deps-validator/pkg/graph"
	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
	"github.com/ritzau/deps-validator/pkg/pubsub"
	"github.com/ritzau/deps-validator/pkg/scope"
	"github.com/ritzau/deps-validator/pkg/snapshot"
	"github.com/ritzau/deps-validator/pkg/staleness"
)

var log = logging.New("analysis")

// Options configures a session
type Options struct {
	Root        string // Absolute workspace root
	CacheDir    string
	ToolVersion string
	Modes       []string
	Concurrency int           // Parallel snapshot builds
	Timeout     time.Duration // Engine timeout for a single-file pass
	PerFile     time.Duration // Added to Timeout per file in batch and full passes
	Scope       scope.Options
}

// Collaborators are the external services a session talks to
type Collaborators struct {
	Engine     engine.Engine
	Extractor  deps.Extractor
	Enumerator finder.Enumerator
	Publisher  pubsub.Publisher // Optional
}

// Session is the single owner of a workspace's graph, snapshots and live
// findings. Every operation goes through it; nothing is global.
type Session struct {
	opts      Options
	engine    engine.Engine
	extractor deps.Extractor
	files     finder.Enumerator
	publisher pubsub.Publisher

	builder     *snapshot.Builder
	store       *cache.Store
	writer      *cache.Writer
	fingerprint *staleness.Fingerprinter
	stale       staleness.Signal

	// mu guards the live state below. It is never held across engine calls.
	mu        sync.RWMutex
	snapshots map[string]*model.FileSnapshot
	graph     *graph.FileGraph
	findings  []model.Finding
	cycles    []cycles.FileCycle
	lastRun   *model.RunSummary
}

// NewSession creates a session and starts its cache writer. Call Close to
// flush pending writes.
func NewSession(opts Options, c Collaborators) *Session {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	s := &Session{
		opts:      opts,
		engine:    c.Engine,
		extractor: c.Extractor,
		files:     c.Enumerator,
		publisher: c.Publisher,
		builder:   snapshot.NewBuilder(opts.Root),
		store:     cache.NewStore(opts.CacheDir, opts.Root, opts.ToolVersion),
		snapshots: make(map[string]*model.FileSnapshot),
		graph:     graph.NewFileGraph(),
		findings:  []model.Finding{},
	}
	s.fingerprint = staleness.NewFingerprinter(opts.Root, opts.CacheDir, opts.ToolVersion, c.Enumerator)
	s.writer = cache.NewWriter(s.store, s.cacheState)
	s.writer.Start()
	return s
}

// Close flushes any pending cache write
func (s *Session) Close() {
	s.writer.Close()
}

// Root returns the workspace root
func (s *Session) Root() string {
	return s.opts.Root
}

// Initialized reports whether the user created the cache directory
func (s *Session) Initialized() bool {
	return s.store.Initialized()
}

// RelPath turns a path from a client into the workspace-relative slash
// form used as the snapshot key. Relative paths are taken against the
// root. Anything resolving to the root itself or above it is rejected.
func (s *Session) RelPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", model.ErrOutsideWorkspace)
	}
	native := filepath.FromSlash(p)
	if !filepath.IsAbs(native) {
		native = filepath.Join(s.opts.Root, native)
	}
	rel, err := filepath.Rel(s.opts.Root, native)
	if err != nil {
		return "", fmt.Errorf("%w: %s", model.ErrOutsideWorkspace, p)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", model.ErrOutsideWorkspace, p)
	}
	return rel, nil
}

// relOrSelf is RelPath for read accessors, where a bad path simply matches nothing
func (s *Session) relOrSelf(p string) string {
	if rel, err := s.RelPath(p); err == nil {
		return rel
	}
	return p
}

func (s *Session) cacheState() cache.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sigs := make(map[string]model.FileSignature, len(s.snapshots))
	for p, snap := range s.snapshots {
		sigs[p] = model.FileSignature{Hash: snap.ContentHash, Size: snap.Size}
	}
	return cache.State{
		Signatures:    sigs,
		Findings:      slices.Clone(s.findings),
		DependencyMap: s.graph.DependencyMap(),
		LastRun:       s.lastRun,
	}
}

// Findings returns a copy of the live finding set
func (s *Session) Findings() []model.Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.findings)
}

// FindingsFor returns the live findings of the given files
func (s *Session) FindingsFor(files ...string) []model.Finding {
	rel := make([]string, 0, len(files))
	for _, f := range files {
		rel = append(rel, s.relOrSelf(f))
	}
	files = rel

	s.mu.RLock()
	defer s.mu.RUnlock()
	return findings.ForFiles(s.findings, files...)
}

// Stats summarizes the live finding set
func (s *Session) Stats() model.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findings.ComputeStats(s.findings)
}

// Dependents returns the files importing path
func (s *Session) Dependents(path string) []string {
	path = s.relOrSelf(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.DependentsOf(path)
}

// Dependencies returns the files path imports
func (s *Session) Dependencies(path string) []string {
	path = s.relOrSelf(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.DependenciesOf(path)
}

// Edges returns every dependency edge
func (s *Session) Edges() []model.DependencyEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Edges()
}

// Cycles returns the import cycles found at the last graph change
func (s *Session) Cycles() []cycles.FileCycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cycles)
}

// Snapshot returns the current snapshot of path, if tracked
func (s *Session) Snapshot(path string) (*model.FileSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[path]
	return snap, ok
}

// PreviewScope classifies the file on disk against its tracked snapshot
// and resolves the scope a save would produce, without changing anything
func (s *Session) PreviewScope(path string) (model.ValidationScope, model.ChangeType, error) {
	path, err := s.RelPath(path)
	if err != nil {
		return model.ValidationScope{}, "", err
	}
	snap, err := s.builder.Build(path)
	if err != nil {
		return model.ValidationScope{}, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	ct := changes.Classify(s.snapshots[path], snap)
	return s.resolver().Resolve(path, ct), ct, nil
}

// resolver must be called with mu held
func (s *Session) resolver() *scope.Resolver {
	return scope.NewResolver(s.graph, s.opts.Scope)
}

// Status is a point-in-time summary of the session
type Status struct {
	Root        string            `json:"root"`
	Initialized bool              `json:"initialized"`
	Files       int               `json:"files"`
	Edges       int               `json:"edges"`
	Cycles      int               `json:"cycles"`
	Stale       bool              `json:"stale"`
	Stats       model.Stats       `json:"stats"`
	LastRun     *model.RunSummary `json:"lastRun,omitempty"`

	CacheSize  int64     `json:"cacheSize,omitempty"`
	CacheSaved time.Time `json:"cacheSaved,omitzero"`
}

// Status reports the session state
func (s *Session) Status() Status {
	var size int64
	var saved time.Time
	if info, err := os.Stat(s.store.Path()); err == nil {
		size, saved = info.Size(), info.ModTime()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		CacheSize:   size,
		CacheSaved:  saved,
		Root:        s.opts.Root,
		Initialized: s.store.Initialized(),
		Files:       len(s.snapshots),
		Edges:       s.graph.EdgeCount(),
		Cycles:      len(s.cycles),
		Stale:       s.stale.Stale(),
		Stats:       findings.ComputeStats(s.findings),
		LastRun:     s.lastRun,
	}
}

func (s *Session) publish(topic, eventType string, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(topic, eventType, data); err != nil {
		log.Debug("Publish failed", "topic", topic, "error", err)
	}
}

func (s *Session) progress(ctx context.Context, kind, phase string, percent int, message string) {
	s.publish(pubsub.TopicProgress, phase, pubsub.Progress{
		Phase:   phase,
		Kind:    kind,
		Percent: percent,
		Message: message,
		RunID:   logging.GetRunID(ctx),
		Retry:   phase == pubsub.PhaseError,
	})
}
