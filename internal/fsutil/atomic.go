// Package fsutil holds small filesystem helpers shared by the stores and
// the job output writer.
package fsutil

import (
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic writes path through a synced temp file in the same
// directory and renames it into place. Readers see either the old file
// or the complete new one. A failed fn leaves path untouched.
func WriteAtomic(path string, perm os.FileMode, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
	}()

	if err := fn(tempFile); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempName, perm); err != nil {
		return err
	}
	if err := os.Rename(tempName, path); err != nil {
		return err
	}
	return SyncDir(dir)
}

// SyncDir flushes directory metadata so a rename survives a crash.
func SyncDir(dir string) error {
	handle, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer handle.Close()
	return handle.Sync()
}
