package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// rename is swapped in tests to exercise the fallback path
var rename = os.Rename

// WriteFileAtomic writes data to a temp file next to path and renames it
// over path. If the rename fails the data is written to path directly and
// the temp file is removed best-effort.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := rename(tmpPath, path); err != nil {
		log.Warn("Atomic rename failed, writing directly", "path", path, "error", err)
		writeErr := os.WriteFile(path, data, perm)
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Debug("Could not remove temp file", "path", tmpPath, "error", rmErr)
		}
		if writeErr != nil {
			return fmt.Errorf("write %s: %w", path, writeErr)
		}
	}
	return nil
}
