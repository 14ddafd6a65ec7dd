package sourcemap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIDMapBijective(t *testing.T) {
	paths := make([]string, 500)
	for i := range paths {
		paths[i] = fmt.Sprintf("/repo/pkg%d/file%d.go", i%17, i)
	}
	m := NewIDMap(paths)
	require.Equal(t, len(paths), m.Len())

	seen := map[FileID]bool{}
	for _, p := range paths {
		id, ok := m.ID(p)
		require.True(t, ok)
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
		back, ok := m.Path(id)
		require.True(t, ok)
		assert.Equal(t, p, back)
	}

	// Same path set, different order: same ids.
	reversed := make([]string, len(paths))
	for i, p := range paths {
		reversed[len(paths)-1-i] = p
	}
	m2 := NewIDMap(reversed)
	for _, p := range paths {
		a, _ := m.ID(p)
		b, _ := m2.ID(p)
		assert.Equal(t, a, b)
	}
}

type fakeSources struct {
	summaries map[string]FileSummary
	files     map[string]string
}

func (f fakeSources) Summary(path string) (FileSummary, bool) {
	s, ok := f.summaries[path]
	return s, ok
}

func (f fakeSources) ReadFile(path string) ([]byte, error) {
	c, ok := f.files[path]
	if !ok {
		return nil, errors.New("missing")
	}
	return []byte(c), nil
}

func TestBuild(t *testing.T) {
	snap := NewSnapshot("/repo", []FileInfo{
		{Path: "/repo/a.go", Lang: LangGo},
		{Path: "/repo/b.go", Lang: LangGo},
		{Path: "/repo/c.go", Lang: LangGo, SizeBytes: 12},
	}, nil)
	src := fakeSources{
		summaries: map[string]FileSummary{
			"/repo/a.go": {Summary: "entry point", LocalDeps: []string{"/repo/b.go", "/elsewhere/x.go"}, ExternalDeps: []string{"fmt"}},
			"/repo/b.go": {Summary: "helpers"},
		},
		files: map[string]string{"/repo/b.go": "package b"},
	}

	m, err := Build(snap, src, map[string]bool{"/repo/b.go": true})
	require.NoError(t, err)
	require.Len(t, m, 3)

	a := m["/repo/a.go"]
	require.NotNil(t, a.Summary)
	assert.Nil(t, a.Content)
	assert.Equal(t, "entry point", *a.Summary)
	bID, _ := snap.IDs.ID("/repo/b.go")
	assert.Equal(t, []FileID{bID}, a.LocalDeps, "deps outside the snapshot are dropped")
	assert.Equal(t, []string{"fmt"}, a.ExternalDeps)

	b := m["/repo/b.go"]
	require.True(t, b.HasContent())
	assert.Equal(t, "package b", *b.Content)

	c := m["/repo/c.go"]
	require.NotNil(t, c.Summary)
	assert.Contains(t, *c.Summary, "no summary yet")

	assert.Equal(t, []string{"/repo/b.go"}, m.ContentPaths())

	parsed, err := ParseJSON(m.JSON())
	require.NoError(t, err)
	assert.Equal(t, m.Paths(), parsed.Paths())
}

func TestBuildReadError(t *testing.T) {
	snap := NewSnapshot("/repo", []FileInfo{{Path: "/repo/a.go"}}, nil)
	_, err := Build(snap, fakeSources{}, map[string]bool{"/repo/a.go": true})
	require.Error(t, err)
}

func TestWalkerSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "pkg/util.go", "package pkg")
	writeFile(t, root, "node_modules/dep/index.js", "x")
	writeFile(t, root, "secret.env", "KEY=1")
	writeFile(t, root, "gen/out.go", "package gen")
	writeFile(t, root, ".gitignore", "gen/\n")
	writeFile(t, root, "image.bin", "\x00\x01")
	writeFile(t, root, "Makefile", "all:\n\tgo build ./...\n")

	w, err := NewWalker(root, WalkerConfig{})
	require.NoError(t, err)

	snap, err := w.Snapshot(context.Background())
	require.NoError(t, err)

	var rels []string
	langs := map[string]Language{}
	for _, f := range snap.Files {
		rels = append(rels, f.RelPath)
		langs[f.RelPath] = f.Lang
		assert.NotEmpty(t, f.Checksum)
		assert.True(t, filepath.IsAbs(f.Path))
	}
	assert.Equal(t, []string{".gitignore", "Makefile", "main.go", "pkg/util.go"}, rels)
	assert.Equal(t, 4, snap.IDs.Len())
	assert.Equal(t, LangGo, langs["main.go"])
	assert.Empty(t, langs["Makefile"], "text without a known language is kept")
	_, ok := snap.IDs.ID(filepath.Join(root, "Makefile"))
	assert.True(t, ok)

	assert.True(t, w.Tracked(filepath.Join(root, "main.go")))
	assert.False(t, w.Tracked(filepath.Join(root, "gen/out.go")))
	assert.True(t, w.Ignored("/somewhere/else.go"))
}

func TestWalkerSkipsLargeFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.go", string(make([]byte, 2048)))
	writeFile(t, root, "small.go", "package x")

	w, err := NewWalker(root, WalkerConfig{MaxFileBytes: 1024})
	require.NoError(t, err)
	snap, err := w.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Files, 1)
	assert.Equal(t, "small.go", snap.Files[0].RelPath)
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0].Err.Error(), "exceeds limit")
}

func TestChecksumChangesWithContent(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, root, "a.go", "one")
	c1, err := Checksum(p)
	require.NoError(t, err)
	assert.Equal(t, ChecksumBytes([]byte("one")), c1)
	writeFile(t, root, "a.go", "two")
	c2, err := Checksum(p)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}
