// Package summary maintains the persistent, versioned cache of per-file
// summaries and dependency lists used to describe files not sent in full.
package summary

import (
	"context"
	"sort"
	"sync"
)

// SchemaVersion is bumped whenever the summary format changes. A store
// written with another version is discarded on open.
const SchemaVersion = "3"

// Entry is the cached description of one file.
type Entry struct {
	Path         string   `json:"path"`
	FileID       uint32   `json:"fileId"`
	Checksum     string   `json:"checksum"`
	Summary      string   `json:"summary"`
	TokenCount   int      `json:"tokenCount"`
	LocalDeps    []string `json:"localDeps,omitempty"` // absolute paths
	ExternalDeps []string `json:"externalDeps,omitempty"`
	UpdatedUnix  int64    `json:"updatedUnix"`
}

// Store persists entries.
type Store interface {
	Version(ctx context.Context) (string, error)
	// Reset drops all entries and records version.
	Reset(ctx context.Context, version string) error
	Get(ctx context.Context, path string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, path string) error
	All(ctx context.Context) ([]Entry, error)
	Close() error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	version string
	entries map[string]Entry
}

// NewMemoryStore returns an empty store at the current schema version.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{version: SchemaVersion, entries: make(map[string]Entry)}
}

func (s *MemoryStore) Version(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

func (s *MemoryStore) Reset(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	s.entries = make(map[string]Entry)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	return e, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Path] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
	return nil
}

func (s *MemoryStore) All(context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
