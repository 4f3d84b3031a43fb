// Package fsutil holds small file helpers shared by config and storage.
package fsutil

import (
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes a temp file in the same directory, syncs it, then renames it
//     over path, so readers see either the old or the new contents.
//   - Ensures final file permissions are perm.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ical-debugger-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
