package contextopt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	units "github.com/docker/go-units"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/sourcemap"
	"github.com/ChamsBouzaiene/gencode/internal/summary"
)

// Function names whose responses carry a SourceCodeMap.
const (
	SourceFunction       = "getSourceCode"
	FilesContentFunction = "requestFilesContent"
)

// Snapshotter produces the current file snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*sourcemap.Snapshot, error)
}

// Manager decides which files travel with full content for each conversation.
// It implements engine.ContextPreparer.
type Manager struct {
	walker     Snapshotter
	summarizer *summary.Summarizer
	sources    sourcemap.Sources
	optimizer  *Optimizer
	logger     *log.Logger

	mu      sync.Mutex
	snap    *sourcemap.Snapshot
	content map[string]map[string]bool // conversation id -> paths with content
}

// ManagerConfig wires a Manager. Summarizer and Logger may be nil.
type ManagerConfig struct {
	Walker     Snapshotter
	Summarizer *summary.Summarizer
	Sources    sourcemap.Sources
	Optimizer  *Optimizer
	Logger     *log.Logger
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Optimizer == nil {
		cfg.Optimizer = NewOptimizer(nil)
	}
	return &Manager{
		walker:     cfg.Walker,
		summarizer: cfg.Summarizer,
		sources:    cfg.Sources,
		optimizer:  cfg.Optimizer,
		logger:     cfg.Logger,
		content:    make(map[string]map[string]bool),
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// Refresh takes a new snapshot and re-summarizes changed files.
func (m *Manager) Refresh(ctx context.Context) (*sourcemap.Snapshot, error) {
	snap, err := m.walker.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if m.summarizer != nil {
		report, err := m.summarizer.Refresh(ctx, snap)
		if err != nil {
			return nil, fmt.Errorf("refresh summaries: %w", err)
		}
		if report.Summarized > 0 || report.Removed > 0 || len(report.Failed) > 0 {
			m.logf("context: summarized=%d unchanged=%d removed=%d failed=%d",
				report.Summarized, report.Unchanged, report.Removed, len(report.Failed))
		}
	}
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
	return snap, nil
}

// Snapshot returns the last snapshot, taking one if none exists.
func (m *Manager) Snapshot(ctx context.Context) (*sourcemap.Snapshot, error) {
	m.mu.Lock()
	snap := m.snap
	m.mu.Unlock()
	if snap != nil {
		return snap, nil
	}
	return m.Refresh(ctx)
}

// ContentPaths returns the paths currently sent with content to conv.
func (m *Manager) ContentPaths(conv *engine.Conversation) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.content[conv.ID])
}

func (m *Manager) setContent(conv *engine.Conversation, paths []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	m.content[conv.ID] = set
}

// Forget drops per-conversation state.
func (m *Manager) Forget(conv *engine.Conversation) {
	m.mu.Lock()
	delete(m.content, conv.ID)
	m.mu.Unlock()
}

// PrepareContext refreshes the snapshot and attaches the source map for the
// new request as a getSourceCode call/response pair. Earlier source maps are
// replaced by a short note. It returns false when the context could not be
// reduced to the budget.
func (m *Manager) PrepareContext(ctx context.Context, conv *engine.Conversation) (bool, error) {
	snap, err := m.Refresh(ctx)
	if err != nil {
		return false, err
	}
	if err := conv.Checkpoint(ctx); err != nil {
		return false, err
	}

	paths := snap.Paths()
	conv.Disclose(paths...)

	sm, report, err := m.optimizer.Optimize(ctx, conv, Request{Snapshot: snap, Sources: m.sources, Candidates: paths})
	if errors.Is(err, ErrRelevanceUnavailable) {
		conv.Notify("The source code context is too large and could not be optimized. Please narrow the request.")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	supersede(conv)
	call := engine.FunctionCall{ID: engine.NewCallID(), Name: SourceFunction, Args: map[string]any{}}
	conv.Transcript.AppendPair("", call, engine.FunctionResponse{Content: sm.JSON()}, "")
	m.setContent(conv, report.Admitted)

	if !report.Skipped {
		conv.Notify(report.String())
	}
	m.logf("context: files=%d content=%d tokens=%d->%d", len(paths), len(report.Admitted), report.TokensBefore, report.TokensAfter)
	return true, nil
}

// AddContent marks paths as sent with content and returns the map entries to
// send. Paths outside the snapshot are returned as missing.
func (m *Manager) AddContent(ctx context.Context, conv *engine.Conversation, paths []string) (sourcemap.SourceCodeMap, []string, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	var found, missing []string
	for _, p := range paths {
		if snap.Has(p) {
			found = append(found, p)
		} else {
			missing = append(missing, p)
		}
	}
	full, err := sourcemap.WithContent(snap, m.sources, found)
	if err != nil {
		return nil, missing, err
	}
	out := make(sourcemap.SourceCodeMap, len(found))
	for _, p := range found {
		out[p] = full[p]
	}

	conv.Disclose(found...)
	m.mu.Lock()
	set := m.content[conv.ID]
	if set == nil {
		set = make(map[string]bool)
		m.content[conv.ID] = set
	}
	for _, p := range found {
		set[p] = true
	}
	m.mu.Unlock()
	return out, missing, nil
}

// RemoveContent replaces the content of paths with their summary in every
// source map already in the transcript. It returns the number of rewritten responses.
func (m *Manager) RemoveContent(conv *engine.Conversation, paths []string) int {
	drop := make(map[string]bool, len(paths))
	for _, p := range paths {
		drop[p] = true
	}

	m.mu.Lock()
	if set := m.content[conv.ID]; set != nil {
		for p := range drop {
			delete(set, p)
		}
	}
	m.mu.Unlock()

	return conv.Transcript.RewriteResponses(func(resp engine.FunctionResponse) (string, bool) {
		if resp.Name != SourceFunction && resp.Name != FilesContentFunction {
			return "", false
		}
		sm, err := sourcemap.ParseJSON(resp.Content)
		if err != nil {
			return "", false
		}
		changed := false
		for path, e := range sm {
			if !drop[path] || e.Content == nil {
				continue
			}
			text := "content removed from context"
			if s, ok := m.sources.Summary(path); ok && s.Summary != "" {
				text = s.Summary
			}
			e.Content = nil
			e.Summary = &text
			sm[path] = e
			changed = true
		}
		if !changed {
			return "", false
		}
		return sm.JSON(), true
	})
}

// Reoptimize ranks the files currently sent with content and drops the ones
// that are not admitted.
func (m *Manager) Reoptimize(ctx context.Context, conv *engine.Conversation) (Report, error) {
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	current := m.ContentPaths(conv)
	_, report, err := m.optimizer.Optimize(ctx, conv, Request{
		Snapshot:   snap,
		Sources:    m.sources,
		Candidates: current,
		Force:      true,
	})
	if err != nil {
		return report, err
	}
	m.RemoveContent(conv, report.Summarized)
	return report, nil
}

const supersededNote = `{"note":"superseded by a newer source code snapshot"}`

// supersede replaces older full source maps so only the newest one is sent.
func supersede(conv *engine.Conversation) {
	conv.Transcript.RewriteResponses(func(resp engine.FunctionResponse) (string, bool) {
		if resp.Name != SourceFunction || resp.Content == supersededNote {
			return "", false
		}
		return supersededNote, true
	})
}

// String describes the optimization for the user.
func (r Report) String() string {
	return fmt.Sprintf("Context optimized from %d to %d tokens (%d in file content, %d in summaries, %s). Files sent with content: %d, summarized: %d.",
		r.TokensBefore, r.TokensAfter, r.ContentTokens, r.SummaryTokens,
		units.HumanSize(float64(r.TokensAfter*4)), len(r.Admitted), len(r.Summarized))
}
