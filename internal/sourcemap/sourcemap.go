// Package sourcemap builds the per-request view of the repository that is
// sent to the model: one entry per file with either full content or a summary.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// FileID is a compact numeric id for a path, stable for a given snapshot.
type FileID uint32

// DeriveFileID hashes a path to its preferred id.
func DeriveFileID(path string) FileID {
	return FileID(xxhash.Sum64String(path))
}

// IDMap is a bijection between paths and ids within one snapshot.
type IDMap struct {
	byPath map[string]FileID
	byID   map[FileID]string
}

// NewIDMap assigns ids in sorted path order. Collisions take the next free id.
func NewIDMap(paths []string) *IDMap {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	m := &IDMap{
		byPath: make(map[string]FileID, len(sorted)),
		byID:   make(map[FileID]string, len(sorted)),
	}
	for _, p := range sorted {
		if _, dup := m.byPath[p]; dup {
			continue
		}
		id := DeriveFileID(p)
		for {
			if _, taken := m.byID[id]; !taken {
				break
			}
			id++
		}
		m.byPath[p] = id
		m.byID[id] = p
	}
	return m
}

// ID returns the id of path.
func (m *IDMap) ID(path string) (FileID, bool) {
	id, ok := m.byPath[path]
	return id, ok
}

// Path returns the path of id.
func (m *IDMap) Path(id FileID) (string, bool) {
	p, ok := m.byID[id]
	return p, ok
}

// Len returns the number of mapped paths.
func (m *IDMap) Len() int { return len(m.byPath) }

// Snapshot is the set of tracked files at one point in time.
type Snapshot struct {
	Root   string
	Files  []FileInfo
	Errors []WalkError
	IDs    *IDMap

	byPath map[string]int
}

// NewSnapshot indexes files and assigns ids.
func NewSnapshot(root string, files []FileInfo, errs []WalkError) *Snapshot {
	paths := make([]string, len(files))
	byPath := make(map[string]int, len(files))
	for i, f := range files {
		paths[i] = f.Path
		byPath[f.Path] = i
	}
	return &Snapshot{Root: root, Files: files, Errors: errs, IDs: NewIDMap(paths), byPath: byPath}
}

// File returns the info for an absolute path.
func (s *Snapshot) File(path string) (FileInfo, bool) {
	i, ok := s.byPath[path]
	if !ok {
		return FileInfo{}, false
	}
	return s.Files[i], true
}

// Has reports whether path is part of the snapshot.
func (s *Snapshot) Has(path string) bool {
	_, ok := s.byPath[path]
	return ok
}

// Paths returns all file paths in sorted order.
func (s *Snapshot) Paths() []string {
	out := make([]string, len(s.Files))
	for i, f := range s.Files {
		out[i] = f.Path
	}
	return out
}

// Entry is one file in a SourceCodeMap. Exactly one of Content or Summary is set.
type Entry struct {
	FileID       FileID   `json:"fileId"`
	Content      *string  `json:"content,omitempty"`
	Summary      *string  `json:"summary,omitempty"`
	LocalDeps    []FileID `json:"localDeps,omitempty"`
	ExternalDeps []string `json:"externalDeps,omitempty"`
}

// HasContent reports whether the entry carries full file content.
func (e Entry) HasContent() bool { return e.Content != nil }

// SourceCodeMap maps absolute paths to entries.
type SourceCodeMap map[string]Entry

// Paths returns the map keys in sorted order.
func (m SourceCodeMap) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ContentPaths returns the sorted paths that carry full content.
func (m SourceCodeMap) ContentPaths() []string {
	var out []string
	for _, p := range m.Paths() {
		if m[p].HasContent() {
			out = append(out, p)
		}
	}
	return out
}

// EstimateTokens estimates the map as it would be sent to the model.
func (m SourceCodeMap) EstimateTokens() int {
	return engine.EstimateValueTokens(map[string]Entry(m))
}

// TokenBreakdown splits the estimate between content and summaries.
func (m SourceCodeMap) TokenBreakdown() (content, summary int) {
	for _, e := range m {
		if e.Content != nil {
			content += engine.EstimateTokens(*e.Content)
		}
		if e.Summary != nil {
			summary += engine.EstimateTokens(*e.Summary)
		}
	}
	return content, summary
}

// JSON encodes the map for a function response.
func (m SourceCodeMap) JSON() string {
	data, err := json.Marshal(map[string]Entry(m))
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ParseJSON decodes a map produced by JSON.
func ParseJSON(s string) (SourceCodeMap, error) {
	var m map[string]Entry
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode source map: %w", err)
	}
	return SourceCodeMap(m), nil
}

// FileSummary is the cached description of one file used when building a map.
type FileSummary struct {
	Summary      string
	LocalDeps    []string // absolute paths
	ExternalDeps []string
}

// Sources supplies what Build needs beyond the snapshot.
type Sources interface {
	// Summary returns the cached summary of path, if any.
	Summary(path string) (FileSummary, bool)
	// ReadFile returns the current content of path.
	ReadFile(path string) ([]byte, error)
}

// Build creates a SourceCodeMap for the snapshot. Paths in full get content;
// every other file gets its summary. Dependencies outside the snapshot are dropped.
func Build(snap *Snapshot, src Sources, full map[string]bool) (SourceCodeMap, error) {
	m := make(SourceCodeMap, len(snap.Files))
	for _, f := range snap.Files {
		id, _ := snap.IDs.ID(f.Path)
		entry := Entry{FileID: id}

		sum, hasSummary := src.Summary(f.Path)
		if hasSummary {
			entry.LocalDeps = resolveDeps(snap.IDs, sum.LocalDeps)
			entry.ExternalDeps = sum.ExternalDeps
		}

		if full[f.Path] {
			data, err := src.ReadFile(f.Path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f.Path, err)
			}
			content := string(data)
			entry.Content = &content
		} else {
			text := sum.Summary
			if !hasSummary || text == "" {
				kind := string(f.Lang)
				if kind == "" {
					kind = string(LangText)
				}
				text = fmt.Sprintf("%s file, %d bytes, no summary yet", kind, f.SizeBytes)
			}
			entry.Summary = &text
		}
		m[f.Path] = entry
	}
	return m, nil
}

// WithContent returns a copy of m where the listed paths carry content and
// every other entry falls back to its summary.
func WithContent(snap *Snapshot, src Sources, paths []string) (SourceCodeMap, error) {
	full := make(map[string]bool, len(paths))
	for _, p := range paths {
		full[p] = true
	}
	return Build(snap, src, full)
}

func resolveDeps(ids *IDMap, paths []string) []FileID {
	if len(paths) == 0 {
		return nil
	}
	out := make([]FileID, 0, len(paths))
	for _, p := range paths {
		if id, ok := ids.ID(p); ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
