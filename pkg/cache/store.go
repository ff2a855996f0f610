// Package cache persists the warm-start state of a workspace as one
// versioned JSON document.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
)

var log = logging.New("cache")

const (
	// Version is bumped whenever the record layout changes
	Version = 1

	// FileName is the cache document inside the cache directory
	FileName = "validation-cache.json"
)

// Reason says why a persisted cache was discarded
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonCacheVersion  Reason = "cache_version"
	ReasonToolVersion   Reason = "tool_version"
	ReasonWorkspaceRoot Reason = "workspace_root"
	ReasonParseError    Reason = "parse_error"
)

// InvalidError means the cache must be treated as absent
type InvalidError struct {
	Reason Reason
	Err    error
}

func (e *InvalidError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cache invalid: %s", e.Reason)
	}
	return fmt.Sprintf("cache invalid: %s: %v", e.Reason, e.Err)
}

func (e *InvalidError) Unwrap() error {
	return e.Err
}

// IsInvalid reports whether err is an *InvalidError and returns its reason
func IsInvalid(err error) (Reason, bool) {
	var inv *InvalidError
	if errors.As(err, &inv) {
		return inv.Reason, true
	}
	return "", false
}

// Store reads and writes the cache record of one workspace
type Store struct {
	dir         string
	root        string
	toolVersion string
	now         func() time.Time
}

// NewStore creates a store for the workspace at root, persisting under dir
func NewStore(dir, root, toolVersion string) *Store {
	return &Store{
		dir:         dir,
		root:        filepath.Clean(root),
		toolVersion: toolVersion,
		now:         time.Now,
	}
}

// Dir returns the cache directory
func (s *Store) Dir() string { return s.dir }

// Path returns the cache document path
func (s *Store) Path() string { return filepath.Join(s.dir, FileName) }

// Initialized reports whether the user has set up the cache directory
func (s *Store) Initialized() bool {
	info, err := os.Stat(s.dir)
	return err == nil && info.IsDir()
}

// Initialize creates the cache directory. Only explicit user actions call
// this; nothing else ever creates the directory.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	log.Info("Initialized cache directory", "dir", s.dir)
	return nil
}

// header holds the identifying fields, decoded before the full record
type header struct {
	CacheVersion  int    `json:"cacheVersion"`
	ToolVersion   string `json:"toolVersion"`
	WorkspaceRoot string `json:"workspaceRoot"`
}

// Load reads the cache. Any problem yields an *InvalidError; callers treat
// that as "no cache" and never reuse part of a rejected record.
func (s *Store) Load() (*model.CacheRecord, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &InvalidError{Reason: ReasonNotFound}
		}
		return nil, &InvalidError{Reason: ReasonNotFound, Err: err}
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, s.invalid(ReasonParseError, fmt.Errorf("%w: %v", model.ErrParse, err))
	}
	switch {
	case h.CacheVersion != Version:
		return nil, s.invalid(ReasonCacheVersion, fmt.Errorf("%w: cache version %d, want %d", model.ErrVersionMismatch, h.CacheVersion, Version))
	case h.ToolVersion != s.toolVersion:
		return nil, s.invalid(ReasonToolVersion, fmt.Errorf("%w: tool version %q, want %q", model.ErrVersionMismatch, h.ToolVersion, s.toolVersion))
	case filepath.Clean(h.WorkspaceRoot) != s.root:
		return nil, s.invalid(ReasonWorkspaceRoot, fmt.Errorf("%w: workspace %q, want %q", model.ErrVersionMismatch, h.WorkspaceRoot, s.root))
	}

	var rec model.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, s.invalid(ReasonParseError, fmt.Errorf("%w: %v", model.ErrParse, err))
	}
	normalize(&rec)

	log.Debug("Loaded cache", "files", len(rec.FileSignatures), "findings", len(rec.Findings), "saved", rec.SavedAt)
	return &rec, nil
}

func (s *Store) invalid(reason Reason, err error) error {
	log.Info("Discarding cache", "reason", reason, "error", err)
	return &InvalidError{Reason: reason, Err: err}
}

// Save writes a complete record. It refuses with model.ErrNotInitialized
// until Initialize has been called for this workspace.
func (s *Store) Save(signatures map[string]model.FileSignature, findings []model.Finding, dependencyMap map[string][]string, lastRun *model.RunSummary) error {
	if !s.Initialized() {
		return model.ErrNotInitialized
	}

	rec := model.CacheRecord{
		CacheVersion:   Version,
		ToolVersion:    s.toolVersion,
		SavedAt:        s.now().UTC(),
		WorkspaceRoot:  s.root,
		FileSignatures: signatures,
		Findings:       findings,
		DependencyMap:  dependencyMap,
		LastRun:        lastRun,
	}
	normalize(&rec)

	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := WriteFileAtomic(s.Path(), data, 0o644); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}

	log.Debug("Saved cache", "files", len(rec.FileSignatures), "findings", len(rec.Findings), "bytes", len(data))
	return nil
}

// normalize replaces nil collections so the document always has every field
func normalize(rec *model.CacheRecord) {
	if rec.FileSignatures == nil {
		rec.FileSignatures = map[string]model.FileSignature{}
	}
	if rec.Findings == nil {
		rec.Findings = []model.Finding{}
	}
	if rec.DependencyMap == nil {
		rec.DependencyMap = map[string][]string{}
	}
	for k, v := range rec.DependencyMap {
		if v == nil {
			rec.DependencyMap[k] = []string{}
		}
	}
}
