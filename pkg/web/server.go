package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ritzau/deps-validator/pkg/analysis"
	"github.com/ritzau/deps-validator/pkg/cycles"
	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
	"github.com/ritzau/deps-validator/pkg/pubsub"
)

var log = logging.New("web")

// Session is the validation state the API exposes
type Session interface {
	Status() analysis.Status
	Findings() []model.Finding
	FindingsFor(files ...string) []model.Finding
	Stats() model.Stats
	PreviewScope(path string) (model.ValidationScope, model.ChangeType, error)
	Dependents(path string) []string
	Dependencies(path string) []string
	Edges() []model.DependencyEdge
	Cycles() []cycles.FileCycle
	CheckStaleness(ctx context.Context) (bool, error)
	RelPath(path string) (string, error)
}

// Trigger schedules revalidation passes
type Trigger interface {
	Saved(path string)
	Edited()
	Bulk(paths []string)
	Regenerate() bool
	Initialize() bool
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	session   Session
	trigger   Trigger
	publisher pubsub.Publisher
}

// NewServer creates a new web server
func NewServer(session Session, trigger Trigger, publisher pubsub.Publisher) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		session:   session,
		trigger:   trigger,
		publisher: publisher,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(logging.RequestIDMiddleware)

	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/findings", s.handleFindings).Methods("GET")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/scope", s.handleScope).Methods("GET")
	s.router.HandleFunc("/api/graph/edges", s.handleEdges).Methods("GET")
	s.router.HandleFunc("/api/graph/{direction:dependents|dependencies}", s.handleNeighbors).Methods("GET")
	s.router.HandleFunc("/api/cycles", s.handleCycles).Methods("GET")
	s.router.HandleFunc("/api/staleness", s.handleStaleness).Methods("GET")

	s.router.HandleFunc("/api/revalidate", s.handleRevalidate).Methods("POST")
	s.router.HandleFunc("/api/activity", s.handleActivity).Methods("POST")
	s.router.HandleFunc("/api/regenerate", s.handleRegenerate).Methods("POST")
	s.router.HandleFunc("/api/init", s.handleInit).Methods("POST")

	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// requireFile reads the file query parameter
func requireFile(w http.ResponseWriter, r *http.Request) (string, bool) {
	file := r.URL.Query().Get("file")
	if file == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing file parameter"))
		return "", false
	}
	return file, true
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	sub, err := s.publisher.Subscribe(r.Context(), topic)
	switch {
	case errors.Is(err, pubsub.ErrUnknownTopic):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Initial comment establishes the connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				log.Debug("Error writing SSE event", "topic", topic, "error", err)
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	if files := r.URL.Query()["file"]; len(files) > 0 {
		writeJSON(w, http.StatusOK, s.session.FindingsFor(files...))
		return
	}
	writeJSON(w, http.StatusOK, s.session.Findings())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Stats())
}

// ScopePreview is the answer of the scope endpoint
type ScopePreview struct {
	ChangeType model.ChangeType      `json:"changeType"`
	Scope      model.ValidationScope `json:"scope"`
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	file, ok := requireFile(w, r)
	if !ok {
		return
	}
	sc, ct, err := s.session.PreviewScope(file)
	if err != nil {
		var readErr *model.ReadError
		switch {
		case errors.Is(err, model.ErrOutsideWorkspace):
			writeError(w, http.StatusBadRequest, err)
		case errors.As(err, &readErr):
			writeError(w, http.StatusNotFound, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, ScopePreview{ChangeType: ct, Scope: sc})
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Edges())
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	file, ok := requireFile(w, r)
	if !ok {
		return
	}
	if mux.Vars(r)["direction"] == "dependents" {
		writeJSON(w, http.StatusOK, s.session.Dependents(file))
		return
	}
	writeJSON(w, http.StatusOK, s.session.Dependencies(file))
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Cycles())
}

func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	stale, err := s.session.CheckStaleness(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pubsub.StaleStatus{Stale: stale})
}

// RevalidateRequest lists the files to revalidate
type RevalidateRequest struct {
	Files []string `json:"files"`
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	var req RevalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		rel, err := s.session.RelPath(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !slices.Contains(files, rel) {
			files = append(files, rel)
		}
	}
	switch len(files) {
	case 0:
		writeError(w, http.StatusBadRequest, errors.New("no files given"))
		return
	case 1:
		s.trigger.Saved(files[0])
	default:
		s.trigger.Bulk(files)
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(files)})
}

// handleActivity lets an editor report unsaved edits, which postpone the
// idle staleness check
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	s.trigger.Edited()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if !s.trigger.Regenerate() {
		writeError(w, http.StatusConflict, errors.New("regeneration already in progress"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

// handleInit starts initialization in the background; progress and errors
// arrive on the validation_progress topic
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if !s.trigger.Initialize() {
		writeError(w, http.StatusConflict, errors.New("regeneration already in progress"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

// Start serves on port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Server shutdown failed", "error", err)
		}
	}()

	log.Info("Starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
