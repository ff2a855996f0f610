package finder

import (
	"context"
	"fmt"
	"io/fs"
	pathpkg "path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// Enumerator lists the candidate source files of a workspace as sorted,
// workspace-relative, slash-separated paths
type Enumerator interface {
	Enumerate(ctx context.Context, root string) ([]string, error)
}

// skipDirs are never descended into
var skipDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".svn":          true,
	".idea":         true,
	".vscode":       true,
	"node_modules":  true,
	"vendor":        true,
	"dist":          true,
	"build":         true,
	"coverage":      true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
	"target":        true,
}

// WalkEnumerator walks the workspace tree, skipping VCS, dependency and
// build output directories plus any configured glob excludes
type WalkEnumerator struct {
	extensions map[string]bool
	excludes   []glob.Glob
	patterns   []string
}

// NewWalkEnumerator keeps files with one of extensions. Exclude patterns
// use glob syntax against the relative path, e.g. "**/generated/**".
func NewWalkEnumerator(extensions []string, excludes []string) (*WalkEnumerator, error) {
	e := &WalkEnumerator{extensions: make(map[string]bool, len(extensions))}
	for _, ext := range extensions {
		e.extensions[strings.ToLower(ext)] = true
	}
	for _, pattern := range excludes {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		e.excludes = append(e.excludes, g)
		e.patterns = append(e.patterns, pattern)
	}
	return e, nil
}

func (e *WalkEnumerator) excluded(rel string) bool {
	for _, g := range e.excludes {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// SkipDir reports whether the directory at rel is never descended into.
// Hidden directories are skipped too, which covers the cache directory.
func (e *WalkEnumerator) SkipDir(rel string) bool {
	name := pathpkg.Base(rel)
	return skipDirs[name] || strings.HasPrefix(name, "bazel-") || strings.HasPrefix(name, ".") || e.excluded(rel)
}

// Accepts reports whether the file at rel is a candidate source file.
// Files inside skipped directories are rejected as well.
func (e *WalkEnumerator) Accepts(rel string) bool {
	if !e.extensions[strings.ToLower(pathpkg.Ext(rel))] || e.excluded(rel) {
		return false
	}
	for dir := pathpkg.Dir(rel); dir != "." && dir != "/"; dir = pathpkg.Dir(dir) {
		if e.SkipDir(dir) {
			return false
		}
	}
	return true
}

// Enumerate returns every matching file under root
func (e *WalkEnumerator) Enumerate(ctx context.Context, root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Vanished or unreadable entries are skipped, not fatal
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && e.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !e.Accepts(rel) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	slices.Sort(files)
	return files, nil
}
