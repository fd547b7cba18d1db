package config

import (
	"io/fs"
	"os"
)

// FS is the filesystem capability the fragment loader needs: enough to
// search a lookup path, follow (or refuse to follow) symlinks by hand, and
// read file contents. It exists so the loader can be tested against an
// in-memory tree instead of the real disk.
type FS interface {
	// Lstat stats path without following a trailing symlink.
	Lstat(path string) (fs.FileInfo, error)
	// Readlink reads the target of a symlink.
	Readlink(path string) (string, error)
	// ReadFile reads the full contents of a regular file.
	ReadFile(path string) ([]byte, error)
}

// OSFS is the real-disk FS implementation.
type OSFS struct{}

func (OSFS) Lstat(path string) (fs.FileInfo, error) { return os.Lstat(path) }
func (OSFS) Readlink(path string) (string, error)   { return os.Readlink(path) }
func (OSFS) ReadFile(path string) ([]byte, error)   { return os.ReadFile(path) }
