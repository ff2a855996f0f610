package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/deps-validator/pkg/analysis"
	"github.com/ritzau/deps-validator/pkg/cycles"
	"github.com/ritzau/deps-validator/pkg/model"
	"github.com/ritzau/deps-validator/pkg/pubsub"
)

type fakeSession struct {
	findings []model.Finding
}

func (f *fakeSession) Status() analysis.Status {
	return analysis.Status{Root: "/ws", Files: 2}
}
func (f *fakeSession) Findings() []model.Finding { return f.findings }
func (f *fakeSession) FindingsFor(files ...string) []model.Finding {
	var out []model.Finding
	for _, fd := range f.findings {
		for _, p := range files {
			if fd.FilePath == p {
				out = append(out, fd)
			}
		}
	}
	return out
}
func (f *fakeSession) Stats() model.Stats { return model.Stats{Total: len(f.findings)} }
func (f *fakeSession) PreviewScope(path string) (model.ValidationScope, model.ChangeType, error) {
	if path == "gone.ts" {
		return model.ValidationScope{}, "", &model.ReadError{Path: path}
	}
	if _, err := f.RelPath(path); err != nil {
		return model.ValidationScope{}, "", err
	}
	return model.ValidationScope{ChangedFile: path, AffectedFiles: []string{path, "main.ts"}, Reason: model.ReasonImportChange},
		model.ChangeExportsChanged, nil
}
func (f *fakeSession) Dependents(path string) []string   { return []string{"main.ts"} }
func (f *fakeSession) Dependencies(path string) []string { return []string{} }
func (f *fakeSession) Edges() []model.DependencyEdge {
	return []model.DependencyEdge{{Source: "main.ts", Target: "util.ts"}}
}
func (f *fakeSession) Cycles() []cycles.FileCycle                   { return nil }
func (f *fakeSession) CheckStaleness(context.Context) (bool, error) { return true, nil }
func (f *fakeSession) RelPath(p string) (string, error) {
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("%w: %s", model.ErrOutsideWorkspace, p)
	}
	return clean, nil
}

type fakeTrigger struct {
	saved []string
	bulk  [][]string
	edits int
	inits int
	busy  bool
}

func (f *fakeTrigger) Saved(path string)   { f.saved = append(f.saved, path) }
func (f *fakeTrigger) Edited()             { f.edits++ }
func (f *fakeTrigger) Bulk(paths []string) { f.bulk = append(f.bulk, paths) }
func (f *fakeTrigger) Regenerate() bool    { return !f.busy }
func (f *fakeTrigger) Initialize() bool {
	if f.busy {
		return false
	}
	f.inits++
	return true
}

func newTestServer() (*Server, *fakeSession, *fakeTrigger, *pubsub.SSEPublisher) {
	session := &fakeSession{findings: []model.Finding{
		{ID: "1", RuleID: "r", FilePath: "util.ts"},
		{ID: "2", RuleID: "r", FilePath: "main.ts"},
	}}
	trig := &fakeTrigger{}
	pub := pubsub.NewSessionPublisher()
	return NewServer(session, trig, pub), session, trig, pub
}

func get(t *testing.T, h http.Handler, url string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestReadEndpoints(t *testing.T) {
	srv, _, _, pub := newTestServer()
	defer pub.Close()
	h := srv.Handler()

	var fs []model.Finding
	rec := get(t, h, "/api/findings?file=util.ts", &fs)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fs, 1)
	assert.Equal(t, "1", fs[0].ID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var preview ScopePreview
	get(t, h, "/api/scope?file=util.ts", &preview)
	assert.Equal(t, model.ChangeExportsChanged, preview.ChangeType)
	assert.Equal(t, []string{"util.ts", "main.ts"}, preview.Scope.AffectedFiles)

	var dependents []string
	get(t, h, "/api/graph/dependents?file=util.ts", &dependents)
	assert.Equal(t, []string{"main.ts"}, dependents)

	var stale pubsub.StaleStatus
	get(t, h, "/api/staleness", &stale)
	assert.True(t, stale.Stale)
}

func TestBadRequests(t *testing.T) {
	srv, _, _, pub := newTestServer()
	defer pub.Close()
	h := srv.Handler()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/scope", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/scope?file=gone.ts", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/scope?file=../outside.ts", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/graph/sideways?file=a.ts", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/subscribe/nope", nil).Code)
}

func TestRevalidateRoutesToTrigger(t *testing.T) {
	srv, _, trig, pub := newTestServer()
	defer pub.Close()
	h := srv.Handler()

	post := func(body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/revalidate", strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, post(`{"files":["a.ts"]}`))
	assert.Equal(t, http.StatusAccepted, post(`{"files":["a.ts","b.ts"]}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"files":[]}`))
	assert.Equal(t, http.StatusBadRequest, post(`not json`))

	assert.Equal(t, []string{"a.ts"}, trig.saved)
	assert.Equal(t, [][]string{{"a.ts", "b.ts"}}, trig.bulk)
}

func TestRevalidateCleansAndConfinesPaths(t *testing.T) {
	srv, _, trig, pub := newTestServer()
	defer pub.Close()
	h := srv.Handler()

	post := func(body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/revalidate", strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, post(`{"files":["./src/util.ts","src/util.ts"]}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"files":["src/a.ts","../x.ts"]}`))

	assert.Equal(t, []string{"src/util.ts"}, trig.saved, "duplicates collapse to one cleaned path")
	assert.Empty(t, trig.bulk, "a rejected batch must not be queued")
}

func TestRegenerateConflict(t *testing.T) {
	srv, _, trig, pub := newTestServer()
	defer pub.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/regenerate", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	trig.busy = true
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/regenerate", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInitTakesInProgressFlag(t *testing.T) {
	srv, _, trig, pub := newTestServer()
	defer pub.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/init", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, trig.inits)

	trig.busy = true
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/init", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, trig.inits)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _, pub := newTestServer()
	defer pub.Close()

	rec := get(t, srv.Handler(), "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscribeStreamsReplayedEvent(t *testing.T) {
	srv, _, _, pub := newTestServer()
	defer pub.Close()
	require.NoError(t, pub.Publish(pubsub.TopicStale, "changed", pubsub.StaleStatus{Stale: true}))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/subscribe/workspace_stale", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var event pubsub.Event
			require.NoError(t, json.Unmarshal([]byte(data), &event))
			assert.Equal(t, pubsub.TopicStale, event.Topic)
			assert.JSONEq(t, `{"stale":true}`, string(event.Data))
			return
		}
	}
	t.Fatal("stream ended without an event")
}

func TestActivityPostponesIdle(t *testing.T) {
	srv, _, trig, pub := newTestServer()
	defer pub.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/activity", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, trig.edits)
}
