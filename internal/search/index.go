// Package search provides keyword search over file paths and cached summaries.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ChamsBouzaiene/gencode/internal/summary"
)

// Hit is one search result.
type Hit struct {
	Path    string  `json:"filePath"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary,omitempty"`
}

// SourceFunc lists the entries the index should contain.
type SourceFunc func(ctx context.Context) ([]summary.Entry, error)

// Index is an in-memory BM25 index over summary entries.
type Index struct {
	index  bleve.Index
	source SourceFunc

	mu      sync.Mutex
	indexed map[string]string // path -> checksum
}

// New creates an empty index. When source is set, every search first syncs
// the index with it.
func New(source SourceFunc) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &Index{index: idx, source: source, indexed: make(map[string]string)}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	doc.AddFieldMappingsAt("path", pathField)

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = standard.Name
	nameField.Store = false
	doc.AddFieldMappingsAt("name", nameField)

	summaryField := bleve.NewTextFieldMapping()
	summaryField.Analyzer = standard.Name
	summaryField.Store = true
	doc.AddFieldMappingsAt("summary", summaryField)

	indexMapping.DefaultMapping = doc
	return indexMapping
}

var nameSplitter = strings.NewReplacer("/", " ", "\\", " ", ".", " ", "_", " ", "-", " ")

// Sync indexes new or changed entries and removes paths no longer listed.
func (x *Index) Sync(ctx context.Context, entries []summary.Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	batch := x.index.NewBatch()
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Path] = true
		if sum, ok := x.indexed[e.Path]; ok && sum == e.Checksum {
			continue
		}
		doc := map[string]any{
			"path":    e.Path,
			"name":    nameSplitter.Replace(e.Path),
			"summary": e.Summary,
		}
		if err := batch.Index(e.Path, doc); err != nil {
			return fmt.Errorf("index %s: %w", e.Path, err)
		}
		x.indexed[e.Path] = e.Checksum
	}
	for path := range x.indexed {
		if !seen[path] {
			batch.Delete(path)
			delete(x.indexed, path)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Size() == 0 {
		return nil
	}
	return x.index.Batch(batch)
}

// Len returns the number of indexed files.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.indexed)
}

// Search returns up to limit files matching q in their path or summary.
func (x *Index) Search(ctx context.Context, q string, limit int) ([]Hit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = 10
	}
	if x.source != nil {
		entries, err := x.source(ctx)
		if err != nil {
			return nil, fmt.Errorf("load entries: %w", err)
		}
		if err := x.Sync(ctx, entries); err != nil {
			return nil, err
		}
	}

	nameQuery := bleve.NewMatchQuery(nameSplitter.Replace(q))
	nameQuery.SetField("name")
	nameQuery.SetBoost(2)
	summaryQuery := bleve.NewMatchQuery(q)
	summaryQuery.SetField("summary")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery([]query.Query{nameQuery, summaryQuery}...))
	req.Size = limit
	req.Fields = []string{"path", "summary"}

	res, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{Path: h.ID, Score: h.Score}
		if s, ok := h.Fields["summary"].(string); ok {
			hit.Summary = s
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Close releases the index.
func (x *Index) Close() error {
	return x.index.Close()
}
