package fileops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/patch"
)

// MockFileSystem is a mock implementation of the FileSystem interface.
type MockFileSystem struct {
	OSFileSystem
	WriteFileFunc func(name string, data []byte, perm os.FileMode) error
}

func (m *MockFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(name, data, perm)
	}
	return m.OSFileSystem.WriteFile(name, data, perm)
}

func allowAll() StaticPermissions {
	return StaticPermissions{AllowFileCreate: true, AllowFileDelete: true, AllowDirectoryCreate: true, AllowFileMove: true}
}

func newOps(t *testing.T, perms PermissionSource) (*Ops, string) {
	t.Helper()
	root := t.TempDir()
	ops, err := New(root, nil, perms)
	require.NoError(t, err)
	return ops, ops.Root()
}

func TestPermissionGates(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		op         func(o *Ops) error
		permission string
	}{
		{"create", func(o *Ops) error { return o.CreateFile(ctx, "new.go", "package x") }, engine.PermissionFileCreate},
		{"delete", func(o *Ops) error { return o.DeleteFile(ctx, "existing.go") }, engine.PermissionFileDelete},
		{"mkdir", func(o *Ops) error { return o.CreateDirectory(ctx, "pkg/sub") }, engine.PermissionDirectoryCreate},
		{"move", func(o *Ops) error { return o.MoveFile(ctx, "existing.go", "moved.go") }, engine.PermissionFileMove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, root := newOps(t, StaticPermissions{})
			require.NoError(t, os.WriteFile(filepath.Join(root, "existing.go"), []byte("package x"), 0o644))

			err := tt.op(ops)
			var denied *engine.PermissionDeniedError
			require.ErrorAs(t, err, &denied)
			assert.Equal(t, tt.permission, denied.Permission)

			// Nothing changed on disk.
			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "existing.go", entries[0].Name())

			require.NoError(t, tt.op(ops.WithPermissions(allowAll())))
		})
	}
}

func TestResolveContainment(t *testing.T) {
	ops, root := newOps(t, allowAll())

	abs, rel, err := ops.Resolve("src/a.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "a.go"), abs)
	assert.Equal(t, filepath.Join("src", "a.go"), rel)

	_, rel, err = ops.Resolve(filepath.Join(root, "b.go"))
	require.NoError(t, err)
	assert.Equal(t, "b.go", rel)

	for _, bad := range []string{"../escape.go", "/etc/passwd", ".", ".git/config", ".env", ""} {
		_, _, err := ops.Resolve(bad)
		assert.Error(t, err, bad)
	}
	assert.Error(t, ops.CreateFile(context.Background(), "../escape.go", "x"))
}

func TestCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	ops, root := newOps(t, allowAll())

	require.NoError(t, ops.CreateFile(ctx, "pkg/a.go", "package pkg\n"))
	data, err := os.ReadFile(filepath.Join(root, "pkg", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(data))

	require.NoError(t, ops.UpdateFile(ctx, "pkg/a.go", "package pkg\n\nvar X = 1\n"))
	assert.Error(t, ops.UpdateFile(ctx, "pkg/missing.go", "x"), "update requires an existing file")

	require.NoError(t, ops.MoveFile(ctx, "pkg/a.go", "lib/a.go"))
	assert.False(t, ops.Exists("pkg/a.go"))
	assert.True(t, ops.Exists("lib/a.go"))

	require.NoError(t, ops.DeleteFile(ctx, "lib/a.go"))
	assert.False(t, ops.Exists("lib/a.go"))
}

func TestPatchFile(t *testing.T) {
	ctx := context.Background()
	ops, root := newOps(t, StaticPermissions{})
	path := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0o644))

	updated, err := ops.PatchFile(ctx, "a.txt", "@@ -2,1 +2,1 @@\n-two\n+TWO\n")
	require.NoError(t, err)
	assert.Equal(t, "one\nTWO\nthree\n", updated)

	_, err = ops.PatchFile(ctx, "a.txt", "@@ -2,1 +2,1 @@\n-two\n+2\n")
	var appErr *patch.ApplicationError
	require.ErrorAs(t, err, &appErr)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "one\nTWO\nthree\n", string(data), "failed patch leaves the file untouched")
}

func TestCancelledContextStartsNoWrite(t *testing.T) {
	root := t.TempDir()
	writes := 0
	fsys := &MockFileSystem{WriteFileFunc: func(name string, data []byte, perm os.FileMode) error {
		writes++
		return nil
	}}
	ops, err := New(root, fsys, allowAll())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ops.CreateFile(ctx, "a.go", "x")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, writes)
}

func TestOSFileSystemWriteFileKeepsMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))

	fsys := NewOSFileSystem()
	require.NoError(t, fsys.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o644))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file left behind")
}

func TestNewParentDirectoryNeedsPermission(t *testing.T) {
	ctx := context.Background()
	ops, root := newOps(t, StaticPermissions{AllowFileCreate: true, AllowFileMove: true})
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "pkg"), 0o755))

	var denied *engine.PermissionDeniedError
	err := ops.CreateFile(ctx, "internal/x.go", "package x")
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, engine.PermissionDirectoryCreate, denied.Permission)
	assert.NoDirExists(t, filepath.Join(root, "internal"))

	err = ops.MoveFile(ctx, "a.go", "lib/a.go")
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, engine.PermissionDirectoryCreate, denied.Permission)
	assert.FileExists(t, filepath.Join(root, "a.go"))

	// Existing directories need no extra permission.
	require.NoError(t, ops.CreateFile(ctx, "pkg/b.go", "package pkg"))
	require.NoError(t, ops.MoveFile(ctx, "a.go", "pkg/a.go"))
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	ops, root := newOps(t, allowAll())
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	_, _, err := ops.Resolve("link/x.go")
	require.ErrorContains(t, err, "outside the project root")
	assert.Error(t, ops.CreateFile(context.Background(), "link/x.go", "x"))
	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, rel, err := ops.Resolve("alias/a.go")
	require.NoError(t, err, "links that stay inside the root are fine")
	assert.Equal(t, filepath.Join("alias", "a.go"), rel)
}
