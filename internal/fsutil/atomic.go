// Package fsutil holds small filesystem helpers shared by the run stores.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

// TempMarker appears in the names of in-flight temporary files. Directory
// scanners skip any entry containing it.
const TempMarker = ".tmp."

// WriteFileAtomic replaces path with data. Readers observe either the old
// content or the new content, never a partial write: bytes land in a temp
// file in the same directory which is synced, renamed over path, and then
// the directory itself is synced.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+TempMarker+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return syncDir(dir)
}

// IsTemp reports whether name belongs to an in-flight atomic write.
func IsTemp(name string) bool {
	return strings.Contains(name, TempMarker)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
