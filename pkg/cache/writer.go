package cache

import (
	"errors"
	"sync"

	"github.com/ritzau/deps-validator/pkg/metrics"
	"github.com/ritzau/deps-validator/pkg/model"
)

// State is the full live state captured at write time
type State struct {
	Signatures    map[string]model.FileSignature
	Findings      []model.Finding
	DependencyMap map[string][]string
	LastRun       *model.RunSummary
}

// Writer serializes every cache write through one goroutine. Requests that
// arrive while a write is pending collapse into it. Each write reads the
// live state when it runs, so it always includes every batch merged before
// it started and overlapping passes can no longer drop each other's results.
type Writer struct {
	store    *Store
	snapshot func() State

	requests chan struct{}
	stop     chan struct{}
	done     chan struct{}
	mu       sync.Mutex // Serializes Flush against the background loop

	startOnce sync.Once
	closeOnce sync.Once
}

// NewWriter creates a writer that persists snapshot() through store
func NewWriter(store *Store, snapshot func() State) *Writer {
	return &Writer{
		store:    store,
		snapshot: snapshot,
		requests: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop
func (w *Writer) Start() {
	w.startOnce.Do(func() { go w.loop() })
}

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.requests:
			w.write()
		case <-w.stop:
			select {
			case <-w.requests:
				w.write()
			default:
			}
			return
		}
	}
}

// Request schedules a write without blocking
func (w *Writer) Request() {
	select {
	case w.requests <- struct{}{}:
	default:
		// A write is already pending and will see the latest state
	}
}

// Flush writes immediately and returns the result
func (w *Writer) Flush() error {
	return w.write()
}

// Close stops the loop after writing any pending request
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.startOnce.Do(func() { close(w.done) })
		<-w.done
	})
}

func (w *Writer) write() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := w.snapshot()
	err := w.store.Save(st.Signatures, st.Findings, st.DependencyMap, st.LastRun)
	switch {
	case errors.Is(err, model.ErrNotInitialized):
		metrics.CacheWrites.WithLabelValues("skipped").Inc()
		log.Debug("Cache write skipped, workspace not initialized")
	case err != nil:
		metrics.CacheWrites.WithLabelValues("error").Inc()
		log.Error("Cache write failed", "error", err)
	default:
		metrics.CacheWrites.WithLabelValues("ok").Inc()
	}
	return err
}
