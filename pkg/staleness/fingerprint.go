// Package staleness decides whether persisted state still matches the
// workspace file tree, using a cheap path, mtime and size digest.
package staleness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ritzau/deps-validator/pkg/cache"
	"github.com/ritzau/deps-validator/pkg/finder"
	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/model"
)

var log = logging.New("staleness")

// FileName is the fingerprint document inside the cache directory
const FileName = "fingerprint.json"

// Fingerprinter computes and persists the workspace digest
type Fingerprinter struct {
	root        string
	dir         string
	toolVersion string
	enumerator  finder.Enumerator
	now         func() time.Time
}

// NewFingerprinter creates a fingerprinter storing its record under dir
func NewFingerprinter(root, dir, toolVersion string, enumerator finder.Enumerator) *Fingerprinter {
	return &Fingerprinter{
		root:        root,
		dir:         dir,
		toolVersion: toolVersion,
		enumerator:  enumerator,
		now:         time.Now,
	}
}

// Path returns the fingerprint document path
func (f *Fingerprinter) Path() string {
	return filepath.Join(f.dir, FileName)
}

// Compute digests sorted (path, mtime, size) tuples of every source file.
// Files that vanish during the walk are left out.
func (f *Fingerprinter) Compute(ctx context.Context) (model.FingerprintRecord, error) {
	files, err := f.enumerator.Enumerate(ctx, f.root)
	if err != nil {
		return model.FingerprintRecord{}, fmt.Errorf("enumerate workspace: %w", err)
	}

	h := sha256.New()
	sep := []byte{0}
	count := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return model.FingerprintRecord{}, err
		}
		info, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		h.Write([]byte(rel))
		h.Write(sep)
		h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
		h.Write(sep)
		h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
		h.Write([]byte{'\n'})
		count++
	}

	return model.FingerprintRecord{
		Digest:      hex.EncodeToString(h.Sum(nil)),
		GeneratedAt: f.now().UTC(),
		FileCount:   count,
		ToolVersion: f.toolVersion,
	}, nil
}

// Stored reads the persisted record. A missing, malformed or foreign
// record reads as absent.
func (f *Fingerprinter) Stored() (*model.FingerprintRecord, bool) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debug("Fingerprint unreadable", "error", err)
		}
		return nil, false
	}
	var rec model.FingerprintRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Debug("Fingerprint malformed", "error", fmt.Errorf("%w: %v", model.ErrParse, err))
		return nil, false
	}
	if rec.Digest == "" || rec.ToolVersion != f.toolVersion {
		return nil, false
	}
	return &rec, true
}

// IsStale reports whether the workspace drifted from the stored digest.
// Without a stored digest there is nothing to compare and the answer is
// false; any difference at all counts as stale.
func (f *Fingerprinter) IsStale(ctx context.Context) (bool, error) {
	stored, ok := f.Stored()
	if !ok {
		return false, nil
	}
	current, err := f.Compute(ctx)
	if err != nil {
		return false, err
	}
	stale := current.Digest != stored.Digest
	if stale {
		log.Debug("Workspace drifted", "files", current.FileCount, "stored", stored.FileCount, "since", stored.GeneratedAt)
	}
	return stale, nil
}

// MarkFresh records the current digest. Call it only after a successful
// full regeneration; incremental passes cannot vouch for the whole tree.
func (f *Fingerprinter) MarkFresh(ctx context.Context) (model.FingerprintRecord, error) {
	if info, err := os.Stat(f.dir); err != nil || !info.IsDir() {
		return model.FingerprintRecord{}, model.ErrNotInitialized
	}
	rec, err := f.Compute(ctx)
	if err != nil {
		return model.FingerprintRecord{}, err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return model.FingerprintRecord{}, fmt.Errorf("encode fingerprint: %w", err)
	}
	if err := cache.WriteFileAtomic(f.Path(), data, 0o644); err != nil {
		return model.FingerprintRecord{}, fmt.Errorf("save fingerprint: %w", err)
	}
	log.Info("Marked workspace fresh", "files", rec.FileCount)
	return rec, nil
}

// Signal reports stale transitions only, so listeners are not notified on
// every check
type Signal struct {
	mu    sync.Mutex
	stale bool
}

// Update records the latest state and reports whether it changed.
// The zero Signal starts fresh.
func (s *Signal) Update(stale bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := stale != s.stale
	s.stale = stale
	return changed
}

// Stale returns the last recorded state
func (s *Signal) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}
