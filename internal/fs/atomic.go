package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to path with crash-safe semantics: the bytes go to
// a same-directory temp file first, are fsynced, and the temp file is renamed
// over the final name. The containing directory is fsynced afterwards so the
// rename itself is durable.
func WriteAtomic(fsys FileSystem, path string, data []byte, perm os.FileMode) error {
	if fsys == nil {
		fsys = Default
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())

	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("atomic write: open %s: %w", tmp, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return fmt.Errorf("atomic write: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return fmt.Errorf("atomic write: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("atomic write: close %s: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("atomic write: rename %s -> %s: %w", tmp, path, err)
	}

	return SyncDir(fsys, filepath.Dir(path))
}

// SyncDir fsyncs a directory so a preceding rename survives a crash.
// Best effort on file systems that reject directory fsync.
func SyncDir(fsys FileSystem, dir string) error {
	if fsys == nil {
		fsys = Default
	}
	d, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
