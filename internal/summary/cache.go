package summary

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ChamsBouzaiene/gencode/internal/sourcemap"
)

// Cache fronts a Store with an in-memory LRU. Writes to the same path are
// serialized; writes to different paths may run concurrently.
type Cache struct {
	store Store
	front *lru.Cache[string, Entry]

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	hits       atomic.Int64
	misses     atomic.Int64
	writes     atomic.Int64
	wasDropped bool
}

// Stats reports cache activity since Open.
type Stats struct {
	Hits    int64
	Misses  int64
	Writes  int64
	Entries int
	// Discarded is true when Open dropped a store written with another schema version.
	Discarded bool
}

// Open wraps store, discarding its contents if the schema version differs.
func Open(ctx context.Context, store Store, size int) (*Cache, error) {
	if size <= 0 {
		size = 1024
	}
	front, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c := &Cache{store: store, front: front, locks: make(map[string]*sync.Mutex)}

	v, err := store.Version(ctx)
	if err != nil {
		return nil, err
	}
	if v != SchemaVersion {
		if err := store.Reset(ctx, SchemaVersion); err != nil {
			return nil, fmt.Errorf("reset cache from version %q: %w", v, err)
		}
		c.wasDropped = true
	}
	return c, nil
}

func (c *Cache) lock(path string) func() {
	c.locksMu.Lock()
	m, ok := c.locks[path]
	if !ok {
		m = &sync.Mutex{}
		c.locks[path] = m
	}
	c.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

// Get returns the entry for path.
func (c *Cache) Get(ctx context.Context, path string) (Entry, bool, error) {
	if e, ok := c.front.Get(path); ok {
		c.hits.Add(1)
		return e, true, nil
	}
	e, ok, err := c.store.Get(ctx, path)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		c.misses.Add(1)
		return Entry{}, false, nil
	}
	c.hits.Add(1)
	c.front.Add(path, e)
	return e, true, nil
}

// Fresh returns the entry only if it was computed for checksum.
func (c *Cache) Fresh(ctx context.Context, path, checksum string) (Entry, bool, error) {
	e, ok, err := c.Get(ctx, path)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if e.Checksum != checksum {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put stores an entry.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	unlock := c.lock(e.Path)
	defer unlock()
	if err := c.store.Put(ctx, e); err != nil {
		return err
	}
	c.front.Add(e.Path, e)
	c.writes.Add(1)
	return nil
}

// Invalidate removes the entry for path.
func (c *Cache) Invalidate(ctx context.Context, path string) error {
	unlock := c.lock(path)
	defer unlock()
	c.front.Remove(path)
	return c.store.Delete(ctx, path)
}

// Prune removes entries whose path is not kept. It returns the number removed.
func (c *Cache) Prune(ctx context.Context, keep func(path string) bool) (int, error) {
	all, err := c.store.All(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range all {
		if keep(e.Path) {
			continue
		}
		if err := c.Invalidate(ctx, e.Path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// All returns every stored entry sorted by path.
func (c *Cache) All(ctx context.Context) ([]Entry, error) {
	return c.store.All(ctx)
}

// PopularDependencies returns the paths listed as a local dependency by at
// least threshold distinct files, sorted by path.
func (c *Cache) PopularDependencies(ctx context.Context, threshold int) ([]string, error) {
	all, err := c.store.All(ctx)
	if err != nil {
		return nil, err
	}
	return PopularDependencies(all, threshold), nil
}

// PopularDependencies counts dependents through LocalDeps only.
func PopularDependencies(entries []Entry, threshold int) []string {
	dependents := make(map[string]map[string]bool)
	for _, e := range entries {
		for _, dep := range e.LocalDeps {
			if dep == e.Path {
				continue
			}
			if dependents[dep] == nil {
				dependents[dep] = make(map[string]bool)
			}
			dependents[dep][e.Path] = true
		}
	}
	var out []string
	for dep, from := range dependents {
		if len(from) >= threshold {
			out = append(out, dep)
		}
	}
	sort.Strings(out)
	return out
}

// Stats returns activity counters.
func (c *Cache) Stats(ctx context.Context) Stats {
	n := 0
	if all, err := c.store.All(ctx); err == nil {
		n = len(all)
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Writes:    c.writes.Load(),
		Entries:   n,
		Discarded: c.wasDropped,
	}
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	c.front.Purge()
	return c.store.Close()
}

// Sources adapts the cache to sourcemap.Sources.
type Sources struct {
	Cache *Cache
	// Read defaults to os.ReadFile.
	Read func(path string) ([]byte, error)
}

// Summary implements sourcemap.Sources.
func (s Sources) Summary(path string) (sourcemap.FileSummary, bool) {
	e, ok, err := s.Cache.Get(context.Background(), path)
	if err != nil || !ok {
		return sourcemap.FileSummary{}, false
	}
	return sourcemap.FileSummary{Summary: e.Summary, LocalDeps: e.LocalDeps, ExternalDeps: e.ExternalDeps}, true
}

// ReadFile implements sourcemap.Sources.
func (s Sources) ReadFile(path string) ([]byte, error) {
	if s.Read != nil {
		return s.Read(path)
	}
	return os.ReadFile(path)
}
