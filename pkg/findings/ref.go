// Package findings owns the live finding set: path normalization, merging
// partial engine results and statistics.
package findings

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

type refKind int

const (
	refNone refKind = iota
	refExplicit
	refLocation
)

// FileRef is where an engine result says a finding lives. It is either an
// explicit path or a location string such as "src/a.ts:12:4".
type FileRef struct {
	kind  refKind
	value string
}

// Explicit refers to a file by path
func Explicit(p string) FileRef {
	if strings.TrimSpace(p) == "" {
		return FileRef{}
	}
	return FileRef{kind: refExplicit, value: p}
}

// FromLocation refers to a file through a "path:line[:col]" location
func FromLocation(loc string) FileRef {
	if strings.TrimSpace(loc) == "" {
		return FileRef{}
	}
	return FileRef{kind: refLocation, value: loc}
}

// IsZero reports whether the ref carries no path at all
func (r FileRef) IsZero() bool {
	return r.kind == refNone
}

func (r FileRef) String() string {
	switch r.kind {
	case refExplicit:
		return "explicit:" + r.value
	case refLocation:
		return "location:" + r.value
	default:
		return "none"
	}
}

var lineSuffix = regexp.MustCompile(`(?::\d+){1,2}$`)

// Resolve turns the ref into a workspace-relative, slash-separated path.
// Absolute paths under root are relativized; paths outside root are
// returned cleaned but absolute so they never match a scope.
func (r FileRef) Resolve(root string) (string, bool) {
	p := strings.TrimSpace(r.value)
	switch r.kind {
	case refNone:
		return "", false
	case refLocation:
		p = lineSuffix.ReplaceAllString(p, "")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" {
		return "", false
	}

	if isAbs(p) && root != "" {
		rootSlash := strings.TrimSuffix(filepath.ToSlash(root), "/")
		// Case-insensitive so engines on case-folding filesystems still match
		if hasFoldPrefix(p, rootSlash+"/") {
			p = p[len(rootSlash)+1:]
		}
	}

	p = path.Clean(p)
	if p == "." || p == "/" {
		return "", false
	}
	return p, true
}

func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	// Windows drive letter, e.g. C:/src/a.ts
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// NormalizePath is the comparison key for paths: cleaned, forward slashes,
// lower-cased. Never use it for display.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	return strings.ToLower(path.Clean(p))
}
