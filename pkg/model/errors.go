package model

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks persisted JSON (cache or fingerprint) that could not be decoded
	ErrParse = errors.New("malformed persisted state")

	// ErrVersionMismatch marks a cache written by another schema, tool version or workspace
	ErrVersionMismatch = errors.New("persisted state version mismatch")

	// ErrEngine marks a failed or timed-out analysis engine call
	ErrEngine = errors.New("analysis engine failure")

	// ErrOverflow marks an affected-file set that was truncated to the configured limit
	ErrOverflow = errors.New("affected file set exceeds limit")

	// ErrOutsideWorkspace rejects a path that does not resolve to a file under the workspace root
	ErrOutsideWorkspace = errors.New("path outside workspace")

	// ErrNotInitialized is returned when persisting before the user initialized the workspace
	ErrNotInitialized = errors.New("workspace not initialized")
)

// ReadError is returned when a file vanished or became unreadable between
// discovery and read. Callers skip the file and continue.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// EngineError wraps a non-success response or timeout from the analysis engine
type EngineError struct {
	Status  int  // HTTP status, 0 when the request never completed
	Timeout bool // Deadline exceeded
	Err     error
}

func (e *EngineError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("analysis engine timed out: %v", e.Err)
	case e.Status != 0:
		return fmt.Sprintf("analysis engine returned status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("analysis engine failed: %v", e.Err)
	}
}

func (e *EngineError) Unwrap() []error {
	return []error{ErrEngine, e.Err}
}
