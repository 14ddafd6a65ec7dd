package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/contextopt"
	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

var (
	filesContentDef = engine.FunctionDef{
		Name:        contextopt.FilesContentFunction,
		Description: "Request the full content of files.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePaths": stringArray("Absolute paths of the files, as listed in the source code map."),
			},
			"required": []string{"filePaths"},
		}),
	}

	filesFragmentsDef = engine.FunctionDef{
		Name:        "requestFilesFragments",
		Description: "Request the fragments of files that answer a question.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePaths":      stringArray("Absolute paths of the files to extract from."),
				"fragmentPrompt": str("What the fragments should cover."),
			},
			"required": []string{"filePaths", "fragmentPrompt"},
		}),
	}

	extractFragmentsDef = engine.FunctionDef{
		Name:        "setFragments",
		Description: "Return the extracted fragments.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fragments": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"filePath": str("Path of the file the fragment comes from."),
							"content":  str("The fragment, copied verbatim."),
						},
						"required": []string{"filePath", "content"},
					},
				},
			},
			"required": []string{"fragments"},
		}),
	}

	removeFilesDef = engine.FunctionDef{
		Name:        "removeFilesFromContext",
		Description: "Remove file content from the context. Summaries stay available.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePaths": stringArray("Absolute paths of the files to remove."),
			},
			"required": []string{"filePaths"},
		}),
	}

	searchCodeDef = engine.FunctionDef{
		Name:        "searchCode",
		Description: "Search file paths and summaries.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": str("Keywords to search for."),
				"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 50},
			},
			"required": []string{"query"},
		}),
	}
)

type filePathsArgs struct {
	FilePaths []string `json:"filePaths"`
}

func (e *Env) requestFilesContent(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	req, err := infer(ctx, conv, call, filesContentDef, "")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if req == nil {
		return exhausted(conv, filesContentDef.Name)
	}
	var args filePathsArgs
	if err := validation.DecodeArgs(*req, &args); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}

	var allowed, rejected []string
	for _, p := range args.FilePaths {
		if conv.IsDisclosed(p) {
			allowed = append(allowed, p)
		} else {
			rejected = append(rejected, p)
		}
	}
	sm, missing, err := e.Context.AddContent(ctx, conv, allowed)
	if err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}
	respond(conv, *req, sm.JSON())

	if unknown := append(rejected, missing...); len(unknown) > 0 {
		conv.Notify(fmt.Sprintf("These files are not part of the project and were not sent: %s", strings.Join(unknown, ", ")))
	}
	e.logf("context: sent content of %d file(s)", len(sm))
	return engine.ActionResult{}, nil
}

// fragment is a verbatim excerpt of a file.
type fragment struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

const fragmentsSystemPrompt = `You extract the parts of source files that are relevant to a question. Copy fragments verbatim and keep them short.`

func (e *Env) requestFilesFragments(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	req, err := infer(ctx, conv, call, filesFragmentsDef, "")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if req == nil {
		return exhausted(conv, filesFragmentsDef.Name)
	}
	var args struct {
		FilePaths      []string `json:"filePaths"`
		FragmentPrompt string   `json:"fragmentPrompt"`
	}
	if err := validation.DecodeArgs(*req, &args); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", args.FragmentPrompt)
	read := 0
	for _, p := range args.FilePaths {
		if !conv.IsDisclosed(p) {
			continue
		}
		data, err := e.Files.ReadFile(p)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\nFile: %s\n```\n%s\n```\n", p, data)
		read++
	}
	if read == 0 {
		respond(conv, *req, errorJSON(errors.New("none of the requested files could be read")))
		return engine.ActionResult{}, nil
	}

	if err := conv.Checkpoint(ctx); err != nil {
		return engine.ActionResult{}, err
	}
	out, err := validation.RequireCall(ctx, conv.Backend, validation.Request{
		Transcript: []engine.Message{
			{Role: engine.RoleSystem, Text: fragmentsSystemPrompt},
			{Role: engine.RoleUser, Text: b.String()},
		},
		Defs:     []engine.FunctionDef{extractFragmentsDef},
		Required: extractFragmentsDef.Name,
		Options:  engine.GenerateOptions{Temperature: 0.2, Tier: engine.TierCheap},
	}, nil)
	if err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, err
	}
	if out.Exhausted() {
		respond(conv, *req, errorJSON(errors.New("fragments could not be extracted")))
		return engine.ActionResult{}, nil
	}
	var extracted struct {
		Fragments []fragment `json:"fragments"`
	}
	if err := validation.DecodeArgs(*out.Call, &extracted); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}
	respond(conv, *req, map[string]any{"fragments": extracted.Fragments})
	return engine.ActionResult{}, nil
}

func (e *Env) removeFilesFromContext(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	req, err := infer(ctx, conv, call, removeFilesDef, "")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if req == nil {
		return exhausted(conv, removeFilesDef.Name)
	}
	var args filePathsArgs
	if err := validation.DecodeArgs(*req, &args); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}
	// Answer first so the rewrite sees a closed transcript.
	respond(conv, *req, map[string]any{"removed": args.FilePaths})
	n := e.Context.RemoveContent(conv, args.FilePaths)
	e.logf("context: removed %d file(s), rewrote %d response(s)", len(args.FilePaths), n)
	return engine.ActionResult{}, nil
}

func (e *Env) contextOptimization(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	conv.Acknowledge(call, engine.MessageOf(call), "", "")
	report, err := e.Context.Reoptimize(ctx, conv)
	if errors.Is(err, contextopt.ErrRelevanceUnavailable) {
		conv.Notify("The context could not be optimized; stopping this request.")
		return engine.ActionResult{BreakLoop: true}, nil
	}
	if err != nil {
		return engine.ActionResult{}, err
	}
	if !report.Skipped {
		conv.Notify(report.String())
	}
	return engine.ActionResult{}, nil
}

func (e *Env) searchCode(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	req, err := infer(ctx, conv, call, searchCodeDef, "")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if req == nil {
		return exhausted(conv, searchCodeDef.Name)
	}
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := validation.DecodeArgs(*req, &args); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}
	hits, err := e.Search.Search(ctx, args.Query, args.Limit)
	if err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}
	paths := make([]string, len(hits))
	for i, h := range hits {
		paths[i] = h.Path
	}
	conv.Disclose(paths...)
	respond(conv, *req, map[string]any{"query": args.Query, "results": hits})
	return engine.ActionResult{}, nil
}
