package analysis

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/deps-validator/pkg/cache"
	"github.com/ritzau/deps-validator/pkg/deps"
	"github.com/ritzau/deps-validator/pkg/engine"
	"github.com/ritzau/deps-validator/pkg/finder"
	"github.com/ritzau/deps-validator/pkg/model"
	"github.com/ritzau/deps-validator/pkg/pubsub"
	"github.com/ritzau/deps-validator/pkg/scope"
	"github.com/ritzau/deps-validator/pkg/snapshot"
)

// fakeEngine reports one violation per requested file
type fakeEngine struct {
	mu       sync.Mutex
	requests []engine.Request
	err      error
	hang     chan struct{} // When set, Analyze ignores its context and waits for this
}

func (e *fakeEngine) Analyze(_ context.Context, req engine.Request) (*engine.Response, error) {
	if e.hang != nil {
		<-e.hang
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		return nil, e.err
	}
	resp := &engine.Response{ProcessingTimeMs: 1}
	for _, p := range req.RelativePaths {
		resp.Violations = append(resp.Violations, engine.Violation{
			Rule:     "no-console",
			Severity: "error",
			File:     p,
			Message:  "console call in " + p,
			Fixable:  true,
		})
	}
	// Engines may answer for files that were not asked for
	resp.Violations = append(resp.Violations, engine.Violation{Rule: "x", File: "elsewhere.ts", Message: "ignored"})
	return resp, nil
}

func (e *fakeEngine) last() engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

const (
	mainTS = "import { greet } from './util';\n\nexport function main() {\n  greet('x');\n}\n"
	utilTS = "export function greet(name: string) {\n  return name;\n}\n"
)

type fixture struct {
	root    string
	engine  *fakeEngine
	pub     *pubsub.SSEPublisher
	timeout time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{root: t.TempDir(), engine: &fakeEngine{}, pub: pubsub.NewSessionPublisher(), timeout: time.Second}
	t.Cleanup(func() { f.pub.Close() })
	f.write(t, "src/main.ts", mainTS)
	f.write(t, "src/util.ts", utilTS)
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (f *fixture) session(t *testing.T) *Session {
	t.Helper()
	enum, err := finder.NewWalkEnumerator(snapshot.SourceExtensions(), nil)
	require.NoError(t, err)

	s := NewSession(Options{
		Root:        f.root,
		CacheDir:    filepath.Join(f.root, ".deps-validator"),
		ToolVersion: "test",
		Modes:       []string{"lint"},
		Concurrency: 2,
		Timeout:     f.timeout,
		PerFile:     10 * time.Millisecond,
		Scope:       scope.Options{Limit: 50, Depth: 2, CostPerFile: time.Millisecond},
	}, Collaborators{
		Engine:     f.engine,
		Extractor:  deps.NewImportExtractor(f.root, 2),
		Enumerator: enum,
		Publisher:  f.pub,
	})
	t.Cleanup(s.Close)
	return s
}

func filesOf(fs []model.Finding) []string {
	var out []string
	for _, f := range fs {
		out = append(out, f.FilePath)
	}
	slices.Sort(out)
	return out
}

func TestUninitializedWorkspaceIndexesOnly(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	require.NoError(t, s.Initialize(context.Background()))

	assert.Zero(t, f.engine.calls())
	assert.Equal(t, []string{"src/main.ts"}, s.Dependents("src/util.ts"))
	assert.False(t, s.Initialized())

	require.NoError(t, s.RevalidateFile(context.Background(), "src/util.ts"))
	s.Close()
	_, err := os.Stat(filepath.Join(f.root, ".deps-validator"))
	assert.True(t, os.IsNotExist(err), "cache directory must not be created implicitly")
}

func TestInitWorkspaceRegeneratesAndPersists(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	require.NoError(t, s.InitWorkspace(context.Background()))

	req := f.engine.last()
	assert.Equal(t, []string{"src/main.ts", "src/util.ts"}, req.RelativePaths)
	assert.False(t, req.Incremental)
	assert.Equal(t, []string{"src/main.ts", "src/util.ts"}, filesOf(s.Findings()))
	assert.Equal(t, 2, s.Stats().Fixable)

	s.Close()
	rec, err := cache.NewStore(filepath.Join(f.root, ".deps-validator"), f.root, "test").Load()
	require.NoError(t, err)
	assert.Len(t, rec.Findings, 2)
	assert.Equal(t, []string{"src/util.ts"}, rec.DependencyMap["src/main.ts"])
	require.NotNil(t, rec.LastRun)
	assert.Equal(t, 2, rec.LastRun.Total)

	_, err = os.Stat(filepath.Join(f.root, ".deps-validator", "fingerprint.json"))
	assert.NoError(t, err)
}

func TestExportChangeRevalidatesDependents(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	require.NoError(t, s.InitWorkspace(context.Background()))

	f.write(t, "src/util.ts", "export function salute(name: string) {\n  return name;\n}\n")
	require.NoError(t, s.RevalidateFile(context.Background(), "src/util.ts"))

	req := f.engine.last()
	assert.Equal(t, []string{"src/util.ts", "src/main.ts"}, req.RelativePaths)
	assert.True(t, req.Incremental)
}

func TestReformatRevalidatesOnlyThatFile(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	require.NoError(t, s.InitWorkspace(context.Background()))

	f.write(t, "src/util.ts", "export function greet(name: string) { return name; }\n")
	require.NoError(t, s.RevalidateFile(context.Background(), "src/util.ts"))

	assert.Equal(t, []string{"src/util.ts"}, f.engine.last().RelativePaths)
	assert.Equal(t, []string{"src/main.ts", "src/util.ts"}, filesOf(s.Findings()))
}

func TestEngineFailureKeepsFindings(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	require.NoError(t, s.InitWorkspace(context.Background()))
	before := s.Findings()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := f.pub.Subscribe(ctx, pubsub.TopicProgress)
	require.NoError(t, err)

	f.engine.err = &model.EngineError{Status: 500}
	f.write(t, "src/util.ts", "export function greet() {}\nexport const extra = 1;\n")
	err = s.RevalidateFile(context.Background(), "src/util.ts")

	require.ErrorIs(t, err, model.ErrEngine)
	assert.Equal(t, before, s.Findings())

	var sawError bool
	for !sawError {
		select {
		case ev := <-sub.Events():
			var p pubsub.Progress
			require.NoError(t, json.Unmarshal(ev.Data, &p))
			sawError = p.Phase == pubsub.PhaseError && p.Retry
		case <-time.After(time.Second):
			t.Fatal("no error progress event")
		}
	}
}

func TestDeletedFileRevalidatesImporters(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	require.NoError(t, s.InitWorkspace(context.Background()))

	require.NoError(t, os.Remove(filepath.Join(f.root, "src", "util.ts")))
	require.NoError(t, s.RevalidateFile(context.Background(), "src/util.ts"))

	assert.Equal(t, []string{"src/main.ts"}, f.engine.last().RelativePaths)
	assert.Equal(t, []string{"src/main.ts"}, filesOf(s.Findings()))
	_, tracked := s.Snapshot("src/util.ts")
	assert.False(t, tracked)
	assert.Empty(t, s.Dependencies("src/util.ts"))
}

func TestUnknownDeletedFileIsIgnored(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	require.NoError(t, s.InitWorkspace(context.Background()))
	calls := f.engine.calls()

	require.NoError(t, s.RevalidateFile(context.Background(), "src/never.ts"))
	assert.Equal(t, calls, f.engine.calls())
}

func TestBatchUnionsScopes(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	require.NoError(t, s.InitWorkspace(context.Background()))

	f.write(t, "src/extra.ts", "import { main } from './main';\nmain();\n")
	f.write(t, "src/util.ts", "export function greet(name: string) {\n  return name + '!';\n}\n")
	require.NoError(t, s.RevalidateBatch(context.Background(), []string{"src/util.ts", "src/extra.ts"}))

	req := f.engine.last()
	assert.Equal(t, []string{"src/extra.ts", "src/util.ts", "src/main.ts"}, req.RelativePaths)
	assert.Equal(t, []string{"src/extra.ts"}, s.Dependents("src/main.ts"))
}

func TestWarmStartRevalidatesOnlyChangedFiles(t *testing.T) {
	f := newFixture(t)
	first := f.session(t)
	require.NoError(t, first.InitWorkspace(context.Background()))
	first.Close()

	warm := f.session(t)
	calls := f.engine.calls()
	require.NoError(t, warm.Initialize(context.Background()))
	assert.Equal(t, calls, f.engine.calls(), "unchanged workspace needs no engine call")
	assert.Equal(t, []string{"src/main.ts", "src/util.ts"}, filesOf(warm.Findings()))
	assert.Equal(t, []string{"src/main.ts"}, warm.Dependents("src/util.ts"))
	warm.Close()

	f.write(t, "src/main.ts", mainTS+"console.log('changed');\n")
	again := f.session(t)
	require.NoError(t, again.Initialize(context.Background()))
	assert.Equal(t, []string{"src/main.ts", "src/util.ts"}, f.engine.last().RelativePaths)
}

func TestStaleSignalIsEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()

	stale, err := s.CheckStaleness(ctx)
	require.NoError(t, err)
	assert.False(t, stale, "no fingerprint means not stale")

	require.NoError(t, s.InitWorkspace(ctx))
	f.write(t, "src/new.ts", "export const x = 1;\n")

	sub, err := f.pub.Subscribe(ctx, pubsub.TopicStale)
	require.NoError(t, err)
	defer sub.Close()

	for range 3 {
		stale, err = s.CheckStaleness(ctx)
		require.NoError(t, err)
		assert.True(t, stale)
	}
	assert.True(t, s.Status().Stale)

	received := 0
	timeout := time.After(100 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-sub.Events():
			var st pubsub.StaleStatus
			require.NoError(t, json.Unmarshal(ev.Data, &st))
			if st.Stale {
				received++
			}
		case <-timeout:
			break loop
		}
	}
	assert.Equal(t, 1, received)

	require.NoError(t, s.FullRegenerate(ctx))
	assert.False(t, s.Status().Stale)
}

func TestPreviewScopeDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	require.NoError(t, s.Initialize(context.Background()))

	f.write(t, "src/util.ts", "export function other() {}\n")
	sc, ct, err := s.PreviewScope("src/util.ts")
	require.NoError(t, err)

	assert.Equal(t, model.ChangeExportsChanged, ct)
	assert.Equal(t, []string{"src/util.ts", "src/main.ts"}, sc.AffectedFiles)

	snap, ok := s.Snapshot("src/util.ts")
	require.True(t, ok)
	assert.Equal(t, []string{"greet"}, snap.Exports)
}

func TestUncleanPathsResolveToWorkspaceKeys(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()
	require.NoError(t, s.InitWorkspace(ctx))

	f.write(t, "src/util.ts", "export function salute(name: string) {\n  return name;\n}\n")
	require.NoError(t, s.RevalidateFile(ctx, "./src/util.ts"))

	assert.Equal(t, []string{"src/util.ts", "src/main.ts"}, f.engine.last().RelativePaths)
	assert.Equal(t, 2, s.Status().Files, "a dotted path must not become a second snapshot")

	f.write(t, "src/util.ts", utilTS)
	require.NoError(t, s.RevalidateFile(ctx, filepath.Join(f.root, "src", "util.ts")))
	assert.Equal(t, []string{"src/util.ts", "src/main.ts"}, f.engine.last().RelativePaths)
	assert.Equal(t, 2, s.Status().Files)

	assert.Equal(t, []string{"src/main.ts"}, s.Dependents("src/../src/util.ts"))
}

func TestPathsOutsideWorkspaceAreRejected(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()
	require.NoError(t, s.InitWorkspace(ctx))
	calls := f.engine.calls()

	for _, p := range []string{"../outside.ts", "src/../../outside.ts", ".", filepath.Dir(f.root)} {
		err := s.RevalidateFile(ctx, p)
		assert.ErrorIs(t, err, model.ErrOutsideWorkspace, p)
	}
	_, _, err := s.PreviewScope("../outside.ts")
	assert.ErrorIs(t, err, model.ErrOutsideWorkspace)

	assert.Equal(t, calls, f.engine.calls())
	assert.Equal(t, 2, s.Status().Files)

	// A batch keeps its valid paths
	f.write(t, "src/util.ts", "export function salute(name: string) {\n  return name;\n}\n")
	require.NoError(t, s.RevalidateBatch(ctx, []string{"../outside.ts", "./src/util.ts", "src/util.ts"}))
	assert.Equal(t, []string{"src/util.ts", "src/main.ts"}, f.engine.last().RelativePaths)
	assert.Equal(t, 2, s.Status().Files)
}

func TestWarmStartWidensScopeOfModifiedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "src/app.ts", "import { main } from './main';\nmain();\n")
	first := f.session(t)
	require.NoError(t, first.InitWorkspace(context.Background()))
	first.Close()

	// Exports change while the tool is not running
	f.write(t, "src/util.ts", "export function salute(name: string) {\n  return name;\n}\n")
	warm := f.session(t)
	require.NoError(t, warm.Initialize(context.Background()))

	req := f.engine.last()
	assert.True(t, req.Incremental)
	assert.ElementsMatch(t, []string{"src/util.ts", "src/main.ts", "src/app.ts"}, req.RelativePaths,
		"dependents two levels up must be revalidated")
}

func TestEngineIgnoringDeadlineTimesOut(t *testing.T) {
	f := newFixture(t)
	f.timeout = 50 * time.Millisecond
	f.engine.hang = make(chan struct{})
	defer close(f.engine.hang)
	s := f.session(t)

	start := time.Now()
	err := s.InitWorkspace(context.Background())

	require.ErrorIs(t, err, model.ErrEngine)
	var engErr *model.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.True(t, engErr.Timeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, s.Findings())
}
