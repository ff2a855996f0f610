package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
)

var log = logging.New("snapshot")

// Builder computes FileSnapshots for files under a workspace root
type Builder struct {
	root string
}

// NewBuilder creates a builder for the given workspace root
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Root returns the workspace root the builder resolves paths against
func (b *Builder) Root() string {
	return b.root
}

// Build reads relPath (workspace-relative, forward slashes) and fingerprints it.
// A missing or unreadable file yields a *model.ReadError.
func (b *Builder) Build(relPath string) (*model.FileSnapshot, error) {
	abs := filepath.Join(b.root, filepath.FromSlash(relPath))

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &model.ReadError{Path: relPath, Err: err}
	}
	if info.IsDir() {
		return nil, &model.ReadError{Path: relPath, Err: fmt.Errorf("is a directory")}
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, &model.ReadError{Path: relPath, Err: err}
	}

	snap := FromContent(relPath, content)
	snap.LastModified = info.ModTime()
	snap.Size = info.Size()
	return snap, nil
}

// FromContent fingerprints in-memory content. LastModified is left for the
// caller to fill in.
func FromContent(relPath string, content []byte) *model.FileSnapshot {
	lang := DetectLanguage(relPath)
	norm := normalize(string(content), styleFor(lang))
	s := scanStructure(norm.code, lang)

	snap := &model.FileSnapshot{
		Path:      relPath,
		Size:      int64(len(content)),
		Imports:   canonical(s.imports),
		Exports:   canonical(s.exports),
		Functions: canonical(s.functions),
		Classes:   canonical(s.classes),
	}
	snap.ContentHash = hashString(norm.hash)
	snap.SymbolsHash = symbolsHash(snap)
	return snap
}

// symbolsHash covers the four name lists only. Section markers keep a name
// moving between lists from hashing the same.
func symbolsHash(s *model.FileSnapshot) string {
	var sb strings.Builder
	for _, section := range []struct {
		tag   string
		names []string
	}{
		{"i", s.Imports},
		{"e", s.Exports},
		{"f", s.Functions},
		{"c", s.Classes},
	} {
		sb.WriteString(section.tag)
		sb.WriteByte(0)
		for _, name := range section.names {
			sb.WriteString(name)
			sb.WriteByte(0)
		}
		sb.WriteByte(1)
	}
	return hashString(sb.String())
}

func hashString(s string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(s))
}

// BuildResult is the outcome of a batch build
type BuildResult struct {
	Snapshots map[string]*model.FileSnapshot
	Skipped   []*model.ReadError // Files that vanished or were unreadable
	Took      time.Duration
}

// BuildAll snapshots every path with at most concurrency reads in flight.
// Read errors are collected and skipped; any other error aborts the batch.
func (b *Builder) BuildAll(ctx context.Context, paths []string, concurrency int) (*BuildResult, error) {
	start := time.Now()
	if concurrency < 1 {
		concurrency = 1
	}

	result := &BuildResult{Snapshots: make(map[string]*model.FileSnapshot, len(paths))}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, err := b.Build(p)

			mu.Lock()
			defer mu.Unlock()

			var readErr *model.ReadError
			switch {
			case errors.As(err, &readErr):
				result.Skipped = append(result.Skipped, readErr)
				return nil
			case err != nil:
				return err
			}
			result.Snapshots[p] = snap
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building snapshots: %w", err)
	}

	result.Took = time.Since(start)
	if len(result.Skipped) > 0 {
		log.Warn("Skipped unreadable files", "count", len(result.Skipped), "first", result.Skipped[0].Path)
	}
	log.Debug("Built snapshots", "files", len(result.Snapshots), "took", result.Took)
	return result, nil
}
