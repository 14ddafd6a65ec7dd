package fileops

import (
	"os"
	"path/filepath"
)

// FileSystem is the set of primitives Ops needs. Tests substitute it.
type FileSystem interface {
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Remove(name string) error
	Rename(oldpath, newpath string) error
}

// OSFileSystem is the FileSystem backed by the os package. Writes go through
// a temporary file in the target directory and a rename, so an interrupted
// write never leaves a truncated file behind.
type OSFileSystem struct{}

// NewOSFileSystem creates a new OSFileSystem.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

func (*OSFileSystem) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (*OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (*OSFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (*OSFileSystem) Remove(name string) error { return os.Remove(name) }
func (*OSFileSystem) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

// WriteFile replaces name atomically. An existing file keeps its mode.
func (*OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if info, err := os.Stat(name); err == nil {
		perm = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}
