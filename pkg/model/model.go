package model

import (
	"slices"
	"time"
)

// ChangeType is the category assigned to a file change by the classifier
type ChangeType string

const (
	ChangeNewFile        ChangeType = "new_file"
	ChangeNone           ChangeType = "no_change"       // Formatting or comment-only edit
	ChangeContent        ChangeType = "content_changed" // Body changed, structure identical
	ChangeImportsChanged ChangeType = "imports_changed"
	ChangeExportsChanged ChangeType = "exports_changed"
	ChangeSymbols        ChangeType = "symbols_changed" // Top-level function or class names changed
)

// ScopeReason explains why a validation scope has its shape
type ScopeReason string

const (
	ReasonDirectChange     ScopeReason = "direct_change"
	ReasonDependencyChange ScopeReason = "dependency_change"
	ReasonImportChange     ScopeReason = "import_change"
	ReasonStyleChange      ScopeReason = "style_change"
)

// FileSnapshot is the structural and content fingerprint of one file.
// Snapshots are replaced wholesale on every observed save and never mutated.
type FileSnapshot struct {
	Path         string    `json:"path"` // Workspace-relative, forward slashes
	LastModified time.Time `json:"lastModified"`
	Size         int64     `json:"size"`
	SymbolsHash  string    `json:"symbolsHash"` // Hash over the four name lists only
	ContentHash  string    `json:"contentHash"` // Hash over comment- and whitespace-free content

	// Sorted and deduplicated
	Imports   []string `json:"imports"`
	Exports   []string `json:"exports"`
	Functions []string `json:"functions"`
	Classes   []string `json:"classes"`
}

// DependencyEdge records that Source imports Target
type DependencyEdge struct {
	Source        string `json:"source"`
	Target        string `json:"target"`
	Bidirectional bool   `json:"bidirectional,omitempty"`
	Circular      bool   `json:"circular,omitempty"`
}

// ValidationScope is the set of files one change requires re-validating
type ValidationScope struct {
	ChangedFile     string      `json:"changedFile"`
	AffectedFiles   []string    `json:"affectedFiles"` // Always starts with ChangedFile
	Reason          ScopeReason `json:"reason"`
	EstimatedCostMs int64       `json:"estimatedCostMs"` // Informational only
	Truncated       bool        `json:"truncated,omitempty"`
}

// Contains reports whether path is part of the affected set (exact match)
func (s ValidationScope) Contains(path string) bool {
	return slices.Contains(s.AffectedFiles, path)
}

// Span locates a finding inside its file
type Span struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}

// Finding is a single rule violation owned by the live finding set
type Finding struct {
	ID       string `json:"id"`
	RuleID   string `json:"ruleId"`
	Severity string `json:"severity"`
	FilePath string `json:"filePath"`
	Message  string `json:"message"`
	Fixable  bool   `json:"fixable"`
	Span     *Span  `json:"span,omitempty"`
}

// Stats summarizes a finding set. Always recomputed from the full set.
type Stats struct {
	Total      int            `json:"total"`
	Fixable    int            `json:"fixable"`
	ByRule     map[string]int `json:"byRule"`
	BySeverity map[string]int `json:"bySeverity"`
}

// FileSignature is the per-file entry persisted in the cache
type FileSignature struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// RunSummary describes the last successful revalidation batch
type RunSummary struct {
	Total   int   `json:"total"`
	Fixable int   `json:"fixable"`
	TookMs  int64 `json:"tookMs"`
}

// CacheRecord is the persisted warm-start state of a workspace
type CacheRecord struct {
	CacheVersion   int                      `json:"cacheVersion"`
	ToolVersion    string                   `json:"toolVersion"`
	SavedAt        time.Time                `json:"savedAt"`
	WorkspaceRoot  string                   `json:"workspaceRoot"`
	FileSignatures map[string]FileSignature `json:"fileSignatures"`
	Findings       []Finding                `json:"findings"`
	DependencyMap  map[string][]string      `json:"dependencyMap"`
	LastRun        *RunSummary              `json:"lastRun,omitempty"`
}

// FingerprintRecord is the persisted workspace-wide staleness digest
type FingerprintRecord struct {
	Digest      string    `json:"digest"`
	GeneratedAt time.Time `json:"generatedAt"`
	FileCount   int       `json:"fileCount"`
	ToolVersion string    `json:"toolVersion"`
}
