package summary

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/sourcemap"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

const summarizeFunction = "setSummary"

var summarizeDef = engine.FunctionDef{
	Name:        summarizeFunction,
	Description: "Record a short summary of the file and the files and packages it depends on.",
	Parameters: validation.MustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "One or two sentences describing what the file contains.",
			},
			"dependencies": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path": map[string]any{"type": "string", "description": "Repository path for local files, package name for external ones."},
						"type": map[string]any{"type": "string", "enum": []string{"local", "external"}},
					},
					"required": []string{"path", "type"},
				},
			},
		},
		"required": []string{"summary", "dependencies"},
	}),
}

const summarizeSystemPrompt = `You summarize source files for a coding assistant. Keep summaries short and factual.
List every file of this repository the file imports as a "local" dependency using its path relative to the repository root, and every third-party package as "external".`

// SummarizerOptions configures a Summarizer.
type SummarizerOptions struct {
	Concurrency int
	// MaxInputTokens truncates file content sent for summarization.
	MaxInputTokens int
	Read           func(path string) ([]byte, error)
	Notify         validation.Notifier
	Logger         *log.Logger
}

// Summarizer keeps the cache in line with a snapshot, re-summarizing files
// whose checksum changed.
type Summarizer struct {
	backend engine.ModelBackend
	cache   *Cache
	opts    SummarizerOptions
}

// NewSummarizer creates a summarizer writing to cache.
func NewSummarizer(backend engine.ModelBackend, cache *Cache, opts SummarizerOptions) *Summarizer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.MaxInputTokens <= 0 {
		opts.MaxInputTokens = 8000
	}
	if opts.Read == nil {
		opts.Read = os.ReadFile
	}
	return &Summarizer{backend: backend, cache: cache, opts: opts}
}

// RefreshReport counts what Refresh did.
type RefreshReport struct {
	Summarized int
	Unchanged  int
	Removed    int
	Failed     map[string]error
}

// Refresh summarizes every stale file of snap and drops entries for files no
// longer present. Per-file failures are reported, not returned.
func (s *Summarizer) Refresh(ctx context.Context, snap *sourcemap.Snapshot) (RefreshReport, error) {
	report := RefreshReport{Failed: map[string]error{}}

	var stale []sourcemap.FileInfo
	for _, f := range snap.Files {
		_, fresh, err := s.cache.Fresh(ctx, f.Path, f.Checksum)
		if err != nil {
			return report, err
		}
		if fresh {
			report.Unchanged++
			continue
		}
		stale = append(stale, f)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.opts.Concurrency)
	)
	for _, f := range stale {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(f sourcemap.FileInfo) {
			defer wg.Done()
			defer func() { <-sem }()
			_, err := s.SummarizeFile(ctx, snap, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[f.Path] = err
				if s.opts.Logger != nil {
					s.opts.Logger.Printf("summary: %s: %v", f.RelPath, err)
				}
				return
			}
			report.Summarized++
		}(f)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	removed, err := s.cache.Prune(ctx, snap.Has)
	if err != nil {
		return report, err
	}
	report.Removed = removed
	return report, nil
}

// SummarizeFile asks the model for the summary of one file and stores it.
func (s *Summarizer) SummarizeFile(ctx context.Context, snap *sourcemap.Snapshot, f sourcemap.FileInfo) (Entry, error) {
	data, err := s.opts.Read(f.Path)
	if err != nil {
		return Entry{}, fmt.Errorf("read: %w", err)
	}
	content := truncateToTokens(string(data), s.opts.MaxInputTokens)

	transcript := []engine.Message{
		{Role: engine.RoleSystem, Text: summarizeSystemPrompt},
		{Role: engine.RoleUser, Text: fmt.Sprintf("File: %s\n\n%s", f.RelPath, content)},
	}
	out, err := validation.RequireCall(ctx, s.backend, validation.Request{
		Transcript: transcript,
		Defs:       []engine.FunctionDef{summarizeDef},
		Required:   summarizeFunction,
		Options:    engine.GenerateOptions{Tier: engine.TierCheap, Temperature: 0.2},
	}, s.opts.Notify)
	if err != nil {
		return Entry{}, err
	}
	if out.Exhausted() {
		return Entry{}, fmt.Errorf("no valid summary: %s", strings.Join(out.Issues, "; "))
	}

	var args struct {
		Summary      string `json:"summary"`
		Dependencies []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"dependencies"`
	}
	if err := validation.DecodeArgs(*out.Call, &args); err != nil {
		return Entry{}, err
	}

	local := map[string]bool{}
	external := map[string]bool{}
	for _, d := range args.Dependencies {
		switch d.Type {
		case "local":
			if p, ok := resolveLocal(snap, f.Path, d.Path); ok && p != f.Path {
				local[p] = true
			}
		case "external":
			if d.Path != "" {
				external[d.Path] = true
			}
		}
	}

	id, _ := snap.IDs.ID(f.Path)
	entry := Entry{
		Path:         f.Path,
		FileID:       uint32(id),
		Checksum:     f.Checksum,
		Summary:      strings.TrimSpace(args.Summary),
		TokenCount:   engine.EstimateTokens(string(data)),
		LocalDeps:    sortedKeys(local),
		ExternalDeps: sortedKeys(external),
		UpdatedUnix:  time.Now().Unix(),
	}
	if err := s.cache.Put(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// resolveLocal maps a dependency path reported by the model to a snapshot path.
// Paths are tried relative to the root and to the importing file.
func resolveLocal(snap *sourcemap.Snapshot, from, dep string) (string, bool) {
	dep = strings.TrimSpace(dep)
	if dep == "" {
		return "", false
	}
	candidates := []string{dep}
	if !filepath.IsAbs(dep) {
		candidates = []string{
			filepath.Join(snap.Root, dep),
			filepath.Join(filepath.Dir(from), dep),
		}
	}
	for _, c := range candidates {
		c = filepath.Clean(c)
		if snap.Has(c) {
			return c, true
		}
	}
	return "", false
}

func truncateToTokens(s string, maxTokens int) string {
	if engine.EstimateTokens(s) <= maxTokens {
		return s
	}
	// ~4 characters per token
	limit := maxTokens * 4
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit]) + "\n... (truncated)"
	}
	return s
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
