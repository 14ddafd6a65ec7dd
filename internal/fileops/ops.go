// Package fileops performs the file mutations requested by the agent, gated by
// the conversation permission flags and confined to the project root.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/patch"
)

// PermissionSource provides the current permission flags.
// *engine.Conversation satisfies it.
type PermissionSource interface {
	Permissions() engine.Permissions
}

// StaticPermissions is a fixed PermissionSource.
type StaticPermissions engine.Permissions

// Permissions implements PermissionSource.
func (p StaticPermissions) Permissions() engine.Permissions { return engine.Permissions(p) }

// Ops is the capability-gated filesystem collaborator.
type Ops struct {
	fs       FileSystem
	root     string
	realRoot string // root with symlinks resolved
	perms    PermissionSource
}

// New creates Ops rooted at root. fsys defaults to the OS filesystem.
func New(root string, fsys FileSystem, perms PermissionSource) (*Ops, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if fsys == nil {
		fsys = NewOSFileSystem()
	}
	abs = filepath.Clean(abs)
	resolved, err := evalExisting(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &Ops{fs: fsys, root: abs, realRoot: resolved, perms: perms}, nil
}

// Root returns the absolute project root.
func (o *Ops) Root() string { return o.root }

// WithPermissions returns a copy of o that reads flags from perms.
func (o *Ops) WithPermissions(perms PermissionSource) *Ops {
	cp := *o
	cp.perms = perms
	return &cp
}

// Resolve returns the absolute and root-relative forms of path. Absolute
// paths must lie inside the root; relative paths are taken from the root.
func (o *Ops) Resolve(path string) (abs, rel string, err error) {
	if path == "" {
		return "", "", fmt.Errorf("empty path")
	}
	abs = path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(o.root, abs)
	}
	abs = filepath.Clean(abs)
	rel, ok := within(o.root, abs)
	if !ok {
		return "", "", fmt.Errorf("path %s is outside the project root", path)
	}
	if rel == "." {
		return "", "", fmt.Errorf("path %s is the project root", path)
	}
	if err := patch.CheckPath(rel); err != nil {
		return "", "", err
	}
	// A symlink inside the root must not lead out of it.
	resolved, err := evalExisting(abs)
	if err != nil {
		return "", "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, ok := within(o.realRoot, resolved); !ok {
		return "", "", fmt.Errorf("path %s resolves outside the project root", path)
	}
	return abs, rel, nil
}

func within(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// evalExisting resolves symlinks in the longest existing prefix of path and
// appends the missing tail unchanged.
func evalExisting(path string) (string, error) {
	var tail []string
	p := path
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, tail...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return path, nil
		}
		tail = append([]string{filepath.Base(p)}, tail...)
		p = parent
	}
}

// ensureParent creates the parent directory of abs, which needs
// allowDirectoryCreate when it does not exist yet.
func (o *Ops) ensureParent(abs, path string) error {
	dir := filepath.Dir(abs)
	if info, err := o.fs.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("cannot write %s: parent is not a directory", path)
		}
		return nil
	}
	if err := o.require(engine.PermissionDirectoryCreate, filepath.Dir(path)); err != nil {
		return err
	}
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func (o *Ops) require(permission, path string) error {
	if o.perms == nil || !o.perms.Permissions().Allowed(permission) {
		return &engine.PermissionDeniedError{Permission: permission, Path: path}
	}
	return nil
}

// Exists reports whether path exists.
func (o *Ops) Exists(path string) bool {
	abs, _, err := o.Resolve(path)
	if err != nil {
		return false
	}
	_, err = o.fs.Stat(abs)
	return err == nil
}

// ReadFile reads a file inside the root.
func (o *Ops) ReadFile(path string) ([]byte, error) {
	abs, _, err := o.Resolve(path)
	if err != nil {
		return nil, err
	}
	return o.fs.ReadFile(abs)
}

// CreateFile writes a new file, creating parent directories.
func (o *Ops) CreateFile(ctx context.Context, path, content string) error {
	abs, _, err := o.Resolve(path)
	if err != nil {
		return err
	}
	if err := o.require(engine.PermissionFileCreate, path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.ensureParent(abs, path); err != nil {
		return err
	}
	if err := o.fs.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// UpdateFile replaces the content of an existing file.
func (o *Ops) UpdateFile(ctx context.Context, path, content string) error {
	abs, _, err := o.Resolve(path)
	if err != nil {
		return err
	}
	info, err := o.fs.Stat(abs)
	if err != nil {
		return fmt.Errorf("cannot update %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("cannot update %s: is a directory", path)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.fs.WriteFile(abs, []byte(content), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// PatchFile applies a unified diff to an existing file and returns the new content.
func (o *Ops) PatchFile(ctx context.Context, path, diff string) (string, error) {
	abs, rel, err := o.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := o.fs.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("cannot patch %s: %w", path, err)
	}
	updated, err := patch.Apply(rel, string(data), diff)
	if err != nil {
		return "", err
	}
	if err := o.UpdateFile(ctx, abs, updated); err != nil {
		return "", err
	}
	return updated, nil
}

// DeleteFile removes a file.
func (o *Ops) DeleteFile(ctx context.Context, path string) error {
	abs, _, err := o.Resolve(path)
	if err != nil {
		return err
	}
	if err := o.require(engine.PermissionFileDelete, path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.fs.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CreateDirectory creates a directory and its parents.
func (o *Ops) CreateDirectory(ctx context.Context, path string) error {
	abs, _, err := o.Resolve(path)
	if err != nil {
		return err
	}
	if err := o.require(engine.PermissionDirectoryCreate, path); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.fs.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// MoveFile renames a file within the root.
func (o *Ops) MoveFile(ctx context.Context, from, to string) error {
	src, _, err := o.Resolve(from)
	if err != nil {
		return err
	}
	dst, _, err := o.Resolve(to)
	if err != nil {
		return err
	}
	if err := o.require(engine.PermissionFileMove, from); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.ensureParent(dst, to); err != nil {
		return err
	}
	if err := o.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}
