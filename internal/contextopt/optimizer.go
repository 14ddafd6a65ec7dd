// Package contextopt keeps the source context sent to the model within a
// token budget by asking the model which disclosed files matter.
package contextopt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/sourcemap"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

// ErrRelevanceUnavailable is returned when the model gave no usable ranking.
// Callers stop the current request.
var ErrRelevanceUnavailable = errors.New("context relevance ranking unavailable")

const optimizeFunction = "optimizeContext"

var optimizeDef = engine.FunctionDef{
	Name:        optimizeFunction,
	Description: "Rate how relevant each file is to the user's request.",
	Parameters: validation.MustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"userPrompt": map[string]any{
				"type":        "string",
				"description": "The user's request, restated.",
			},
			"optimizedContext": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"filePath":  map[string]any{"type": "string"},
						"relevance": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					},
					"required": []string{"filePath", "relevance"},
				},
			},
		},
		"required": []string{"userPrompt", "optimizedContext"},
	}),
}

// Relevance is a file score in [0, 1].
type Relevance struct {
	Path  string  `json:"filePath"`
	Score float64 `json:"relevance"`
}

// Params are the thresholds of the admission rule.
type Params struct {
	Trigger int     // optimize only above this many tokens
	Budget  int     // content token budget
	Admit   float64 // minimum relevance to be considered
	High    float64 // relevance that may overflow the budget
}

// ParamsFrom reads the thresholds from conversation options.
func ParamsFrom(o engine.Options) Params {
	return Params{Trigger: o.ContextTrigger, Budget: o.ContextBudget, Admit: o.AdmitRelevance, High: o.HighRelevance}
}

// Select admits files in descending relevance. Files below p.Admit are never
// admitted. A file that would push the running total over p.Budget is admitted
// only if its relevance is at least p.High; the first one that is not ends
// admission.
func Select(ranked []Relevance, tokensOf func(path string) int, p Params) ([]string, int) {
	sorted := append([]Relevance(nil), ranked...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Path < sorted[j].Path
	})

	var admitted []string
	total := 0
	for _, r := range sorted {
		if r.Score < p.Admit {
			break
		}
		n := tokensOf(r.Path)
		if total+n > p.Budget && r.Score < p.High {
			break
		}
		admitted = append(admitted, r.Path)
		total += n
	}
	return admitted, total
}

// Report describes one optimization.
type Report struct {
	Skipped       bool
	TokensBefore  int
	TokensAfter   int
	ContentTokens int
	SummaryTokens int
	Admitted      []string
	Summarized    []string
}

// Request is the input of Optimize.
type Request struct {
	Snapshot *sourcemap.Snapshot
	Sources  sourcemap.Sources
	// Candidates are the paths currently sent with full content.
	Candidates []string
	// Force ranks even when the map is under the trigger.
	Force bool
}

// PopularFunc returns popular dependency paths.
type PopularFunc func(ctx context.Context, threshold int) ([]string, error)

// Optimizer ranks and trims source context.
type Optimizer struct {
	popular PopularFunc
}

// NewOptimizer creates an optimizer. popular may be nil.
func NewOptimizer(popular PopularFunc) *Optimizer {
	return &Optimizer{popular: popular}
}

// Optimize returns the source map to send. When the full map is within the
// trigger it is returned unchanged. Otherwise only disclosed candidates the
// model ranks as relevant keep their content.
func (o *Optimizer) Optimize(ctx context.Context, conv *engine.Conversation, req Request) (sourcemap.SourceCodeMap, Report, error) {
	opts := conv.Options()
	p := ParamsFrom(opts)

	full, err := sourcemap.WithContent(req.Snapshot, req.Sources, req.Candidates)
	if err != nil {
		return nil, Report{}, err
	}
	report := Report{TokensBefore: full.EstimateTokens()}
	if report.TokensBefore <= p.Trigger && !req.Force {
		report.Skipped = true
		report.TokensAfter = report.TokensBefore
		report.ContentTokens, report.SummaryTokens = full.TokenBreakdown()
		report.Admitted = full.ContentPaths()
		return full, report, nil
	}

	candidates := make(map[string]bool, len(req.Candidates))
	tokens := make(map[string]int, len(req.Candidates))
	for _, path := range req.Candidates {
		if !conv.IsDisclosed(path) {
			continue
		}
		e, ok := full[path]
		if !ok || e.Content == nil {
			continue
		}
		candidates[path] = true
		tokens[path] = engine.EstimateTokens(*e.Content)
	}

	ranked, err := o.rank(ctx, conv, full, candidates)
	if err != nil {
		return nil, report, err
	}

	tokensOf := func(path string) int { return tokens[path] }
	admitted, total := Select(ranked, tokensOf, p)

	if o.popular != nil {
		popular, err := o.popular(ctx, opts.PopularityThreshold)
		if err != nil {
			return nil, report, err
		}
		in := make(map[string]bool, len(admitted))
		for _, a := range admitted {
			in[a] = true
		}
		for _, path := range popular {
			if !candidates[path] || in[path] {
				continue
			}
			if total+tokens[path] <= p.Budget {
				admitted = append(admitted, path)
				total += tokens[path]
			}
		}
	}

	reduced, err := sourcemap.WithContent(req.Snapshot, req.Sources, admitted)
	if err != nil {
		return nil, report, err
	}
	report.TokensAfter = reduced.EstimateTokens()
	report.ContentTokens, report.SummaryTokens = reduced.TokenBreakdown()
	report.Admitted = reduced.ContentPaths()
	for _, path := range sortedKeys(candidates) {
		if !reduced[path].HasContent() {
			report.Summarized = append(report.Summarized, path)
		}
	}
	return reduced, report, nil
}

// rank asks the model for relevance scores and keeps only scores for candidates.
func (o *Optimizer) rank(ctx context.Context, conv *engine.Conversation, full sourcemap.SourceCodeMap, candidates map[string]bool) ([]Relevance, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("The source code context is too large. Rate the relevance of each of these files to my request, from 0 (irrelevant) to 1 (essential):\n")
	for _, path := range sortedKeys(candidates) {
		summary := ""
		if s := full[path].Summary; s != nil {
			summary = *s
		}
		fmt.Fprintf(&b, "- %s %s\n", path, summary)
	}

	transcript := append(conv.Transcript.Messages(), engine.Message{Role: engine.RoleUser, Text: b.String()})
	out, err := validation.RequireCall(ctx, conv.Backend, validation.Request{
		Transcript: transcript,
		Defs:       []engine.FunctionDef{optimizeDef},
		Required:   optimizeFunction,
		Options:    engine.GenerateOptions{Tier: engine.TierCheap, Temperature: 0.2},
	}, conv.Notify)
	if err != nil {
		return nil, err
	}
	if out.Exhausted() {
		return nil, ErrRelevanceUnavailable
	}

	var args struct {
		OptimizedContext []Relevance `json:"optimizedContext"`
	}
	if err := validation.DecodeArgs(*out.Call, &args); err != nil {
		return nil, ErrRelevanceUnavailable
	}

	seen := make(map[string]bool)
	var ranked []Relevance
	for _, r := range args.OptimizedContext {
		// Scores for paths the model was never shown are discarded.
		if !candidates[r.Path] || seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		if r.Score < 0 {
			r.Score = 0
		}
		if r.Score > 1 {
			r.Score = 1
		}
		ranked = append(ranked, r)
	}
	return ranked, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
