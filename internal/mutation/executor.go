package mutation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	units "github.com/docker/go-units"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/fileops"
	"github.com/ChamsBouzaiene/gencode/internal/patch"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

// ConfirmFunc asks the user to approve a message.
type ConfirmFunc func(ctx context.Context, message string) (bool, error)

// Config wires an Executor.
type Config struct {
	Ops *fileops.Ops
	// Confirm gates applying generated changes. Nil applies without asking.
	Confirm     ConfirmFunc
	Downloader  Downloader
	MaxParallel int
	Logger      *log.Logger
}

// Executor generates and applies the updates of a CodegenSummary.
type Executor struct {
	cfg Config
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.Downloader == nil {
		cfg.Downloader = NewHTTPDownloader(nil)
	}
	return &Executor{cfg: cfg}
}

// Change is one generated file change ready to apply.
type Change struct {
	UpdateID    string
	Tool        string // tool that produced the change; updateFile after a patch retry, downloadFile for images
	Path        string // absolute
	RelPath     string
	Destination string // moveFile only, absolute
	Content     string
	Diff        string
	URL         string
	Data        []byte
	Explanation string
	Stats       patch.Stats
}

// Failure records an update that was not generated or applied.
type Failure struct {
	UpdateID string
	Path     string
	Err      error
}

// Result is the outcome of Execute.
type Result struct {
	Changes  []Change // generated, in processing order
	Applied  []Change
	Failures []Failure
	Rejected []*DependencyCycleError
	Declined bool
}

// Order returns the update ids in processing order.
func (r Result) Order() []string {
	out := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		out[i] = c.UpdateID
	}
	return out
}

// skipError marks a per-file failure that does not stop the batch.
type skipError struct{ err error }

func (e *skipError) Error() string { return e.err.Error() }
func (e *skipError) Unwrap() error { return e.err }

func skip(format string, args ...any) error {
	return &skipError{err: fmt.Errorf(format, args...)}
}

// generated is the outcome of one update's generation.
type generated struct {
	change Change
	pairs  []pair
	err    error
}

type pair struct {
	call     engine.FunctionCall
	response string
}

// Execute generates every scheduled update of summary layer by layer and,
// once confirmed, applies them. Updates in a layer are generated in parallel;
// a fatal error in one of them lets its siblings finish and then stops the
// batch before the next layer. Nothing is written before confirmation.
// The caller must have answered the selection call before calling Execute.
func (e *Executor) Execute(ctx context.Context, conv *engine.Conversation, summary CodegenSummary) (Result, error) {
	var res Result
	ops := e.cfg.Ops.WithPermissions(conv)

	plan := NewPlan(summary.FileUpdates)
	for _, perr := range plan.Errors {
		res.Rejected = append(res.Rejected, perr)
		conv.Notify(fmt.Sprintf("Skipping updates %s: %v", strings.Join(perr.Rejected, ", "), perr))
	}

	ov := newOverlay(ops)
	failed := make(map[string]bool)

	for _, layer := range plan.Layers {
		if err := conv.Checkpoint(ctx); err != nil {
			return res, err
		}

		var run []FileUpdate
		for _, u := range layer {
			if dep := failedDependency(u, failed); dep != "" {
				failed[u.ID] = true
				err := fmt.Errorf("dependency %s failed", dep)
				res.Failures = append(res.Failures, Failure{UpdateID: u.ID, Path: u.FilePath, Err: err})
				conv.Notify(fmt.Sprintf("Skipping %s: %v", u.FilePath, err))
				continue
			}
			run = append(run, u)
		}

		base := conv.Transcript.Messages()
		outs := make([]generated, len(run))
		sem := make(chan struct{}, e.cfg.MaxParallel)
		var wg sync.WaitGroup
		for i, u := range run {
			wg.Add(1)
			go func(i int, u FileUpdate) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outs[i] = e.generate(ctx, conv, ops, ov, base, u)
			}(i, u)
		}
		wg.Wait()

		var fatal error
		for i, out := range outs {
			u := run[i]
			for _, p := range out.pairs {
				conv.Transcript.AppendPair("", p.call, engine.FunctionResponse{Content: p.response}, "")
			}
			if out.err != nil {
				failed[u.ID] = true
				var s *skipError
				if !errors.As(out.err, &s) {
					if fatal == nil {
						fatal = out.err
					}
					continue
				}
				res.Failures = append(res.Failures, Failure{UpdateID: u.ID, Path: u.FilePath, Err: out.err})
				conv.Notify(fmt.Sprintf("Could not generate %s: %v", u.FilePath, out.err))
				continue
			}
			ov.record(out.change)
			res.Changes = append(res.Changes, out.change)
			e.logf("mutation: generated %s %s", out.change.Tool, out.change.RelPath)
		}
		conv.FlushNotices()
		if fatal != nil {
			return res, fatal
		}
	}

	err := e.confirmAndApply(ctx, conv, ops, &res)
	return res, err
}

// ExecuteDirect asks the model for one createFile, updateFile or
// generateImage call, then applies it after confirmation. The file path is
// taken from the call.
func (e *Executor) ExecuteDirect(ctx context.Context, conv *engine.Conversation, tool, prompt string) (Result, error) {
	var res Result
	switch tool {
	case ToolCreateFile, ToolUpdateFile, ToolGenerateImage:
	default:
		return res, fmt.Errorf("tool %q cannot run directly", tool)
	}
	def, _ := defFor(tool)
	ops := e.cfg.Ops.WithPermissions(conv)

	if err := conv.Checkpoint(ctx); err != nil {
		return res, err
	}
	opts := conv.Options()
	transcript := append(conv.Transcript.Messages(), engine.Message{
		Role: engine.RoleUser,
		Text: fmt.Sprintf("Call %s.\n\n%s", tool, prompt),
	})
	out, err := validation.RequireCall(ctx, conv.Backend, validation.Request{
		Transcript: transcript,
		Defs:       []engine.FunctionDef{def},
		Required:   tool,
		Options:    engine.GenerateOptions{Temperature: opts.Temperature, Tier: opts.Tier()},
	}, conv.Notify)
	if err != nil {
		return res, err
	}
	if out.Exhausted() {
		err := fmt.Errorf("model did not produce a valid %s call", tool)
		res.Failures = append(res.Failures, Failure{Err: err})
		conv.Notify(err.Error())
		return res, nil
	}

	call := *out.Call
	var args struct {
		FilePath    string `json:"filePath"`
		NewContent  string `json:"newContent"`
		Explanation string `json:"explanation"`
	}
	if err := validation.DecodeArgs(call, &args); err != nil {
		conv.Transcript.AppendPair("", call, engine.FunctionResponse{Content: errorJSON(err)}, "")
		res.Failures = append(res.Failures, Failure{UpdateID: call.ID, Err: err})
		conv.Notify(fmt.Sprintf("Rejected %s: %v", tool, err))
		return res, nil
	}
	abs, rel, err := ops.Resolve(args.FilePath)
	if err != nil {
		conv.Transcript.AppendPair("", call, engine.FunctionResponse{Content: errorJSON(err)}, "")
		res.Failures = append(res.Failures, Failure{UpdateID: call.ID, Path: args.FilePath, Err: err})
		conv.Notify(fmt.Sprintf("Rejected %s for %s: %v", tool, args.FilePath, err))
		return res, nil
	}
	callArgs := make(map[string]any, len(call.Args))
	for k, v := range call.Args {
		callArgs[k] = v
	}
	callArgs["filePath"] = rel
	call.Args = callArgs

	change := Change{UpdateID: call.ID, Tool: tool, Path: abs, RelPath: rel, Explanation: args.Explanation}
	var g generated
	if tool == ToolGenerateImage {
		g = e.renderImage(ctx, conv, ops, call, FileUpdate{ID: call.ID, FilePath: rel}, change)
	} else {
		before, _ := ops.ReadFile(abs)
		change.Content = args.NewContent
		change.Stats = patch.ContentStats(string(before), args.NewContent)
		g = generated{change: change, pairs: []pair{{call: call}}}
	}
	for _, p := range g.pairs {
		conv.Transcript.AppendPair("", p.call, engine.FunctionResponse{Content: p.response}, "")
	}
	if g.err != nil {
		var s *skipError
		if !errors.As(g.err, &s) {
			return res, g.err
		}
		res.Failures = append(res.Failures, Failure{UpdateID: call.ID, Path: rel, Err: g.err})
		conv.Notify(fmt.Sprintf("Could not generate %s: %v", rel, g.err))
		return res, nil
	}
	res.Changes = append(res.Changes, g.change)

	err = e.confirmAndApply(ctx, conv, ops, &res)
	return res, err
}

// confirmAndApply asks to apply res.Changes and writes them in order.
func (e *Executor) confirmAndApply(ctx context.Context, conv *engine.Conversation, ops *fileops.Ops, res *Result) error {
	if len(res.Changes) == 0 {
		return nil
	}
	if err := conv.Checkpoint(ctx); err != nil {
		return err
	}
	if e.cfg.Confirm != nil {
		ok, err := e.cfg.Confirm(ctx, DescribeChanges(res.Changes))
		if err != nil {
			return err
		}
		if !ok {
			res.Declined = true
			conv.Notify("The generated changes were not applied.")
			return nil
		}
	}

	for _, c := range res.Changes {
		if err := conv.Checkpoint(ctx); err != nil {
			return err
		}
		if err := e.apply(ctx, ops, c); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return &engine.AbortedError{Step: conv.Step(), Cause: err}
			}
			res.Failures = append(res.Failures, Failure{UpdateID: c.UpdateID, Path: c.RelPath, Err: err})
			var denied *engine.PermissionDeniedError
			if errors.As(err, &denied) {
				conv.Notify(fmt.Sprintf("Permission denied: %s was not changed (%s is off).", c.RelPath, denied.Permission))
			} else {
				conv.Notify(fmt.Sprintf("Failed to apply %s to %s: %v", c.Tool, c.RelPath, err))
			}
			continue
		}
		res.Applied = append(res.Applied, c)
		e.logf("mutation: applied %s %s", c.Tool, c.RelPath)
	}
	return nil
}

func failedDependency(u FileUpdate, failed map[string]bool) string {
	for _, dep := range u.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func (e *Executor) logf(format string, args ...any) {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Printf(format, args...)
	}
}

// generate produces the change for one update without touching the filesystem.
func (e *Executor) generate(ctx context.Context, conv *engine.Conversation, ops *fileops.Ops, ov *overlay, base []engine.Message, u FileUpdate) generated {
	abs, rel, err := ops.Resolve(u.FilePath)
	if err != nil {
		return generated{err: skip("invalid path: %v", err)}
	}
	if err := conv.Checkpoint(ctx); err != nil {
		return generated{err: err}
	}
	change := Change{UpdateID: u.ID, Tool: u.UpdateToolName, Path: abs, RelPath: rel}

	switch u.UpdateToolName {
	case ToolDeleteFile, ToolCreateDirectory:
		call := engine.FunctionCall{ID: engine.NewCallID(), Name: u.UpdateToolName, Args: map[string]any{"filePath": rel}}
		return generated{change: change, pairs: []pair{{call: call}}}

	case ToolCreateFile, ToolUpdateFile:
		def, _ := defFor(u.UpdateToolName)
		call, err := e.infer(ctx, conv, ops, base, u, rel, def, nil)
		if err != nil {
			return generated{err: err}
		}
		var args struct {
			NewContent  string `json:"newContent"`
			Explanation string `json:"explanation"`
		}
		if err := validation.DecodeArgs(*call, &args); err != nil {
			return generated{err: skip("%v", err)}
		}
		before, _ := ov.read(abs)
		change.Content = args.NewContent
		change.Explanation = args.Explanation
		change.Stats = patch.ContentStats(before, args.NewContent)
		return generated{change: change, pairs: []pair{{call: *call}}}

	case ToolPatchFile:
		return e.generatePatch(ctx, conv, ops, ov, base, u, change)

	case ToolMoveFile:
		call, err := e.infer(ctx, conv, ops, base, u, rel, moveFileDef, nil)
		if err != nil {
			return generated{err: err}
		}
		var args struct {
			Destination string `json:"destination"`
		}
		if err := validation.DecodeArgs(*call, &args); err != nil {
			return generated{err: skip("%v", err)}
		}
		dst, _, err := ops.Resolve(args.Destination)
		if err != nil {
			return generated{pairs: []pair{{call: *call, response: errorJSON(err)}}, err: skip("invalid destination: %v", err)}
		}
		change.Destination = dst
		return generated{change: change, pairs: []pair{{call: *call}}}

	case ToolGenerateImage:
		return e.generateImage(ctx, conv, ops, base, u, change)
	}
	return generated{err: skip("unknown update tool %q", u.UpdateToolName)}
}

// generatePatch requests a diff and dry-runs it. A diff that does not apply is
// answered with the error and replaced by one full-content update request.
func (e *Executor) generatePatch(ctx context.Context, conv *engine.Conversation, ops *fileops.Ops, ov *overlay, base []engine.Message, u FileUpdate, change Change) generated {
	call, err := e.infer(ctx, conv, ops, base, u, change.RelPath, patchFileDef, nil)
	if err != nil {
		return generated{err: err}
	}
	var args struct {
		Patch       string `json:"patch"`
		Explanation string `json:"explanation"`
	}
	if err := validation.DecodeArgs(*call, &args); err != nil {
		return generated{err: skip("%v", err)}
	}

	current, ok := ov.read(change.Path)
	if !ok {
		return generated{pairs: []pair{{call: *call, response: errorJSON(fmt.Errorf("file does not exist"))}}, err: skip("cannot patch missing file %s", change.RelPath)}
	}
	updated, perr := patch.Apply(change.RelPath, current, args.Patch)
	if perr == nil {
		change.Content = updated
		change.Diff = args.Patch
		change.Explanation = args.Explanation
		change.Stats = patch.DiffStats(args.Patch)
		return generated{change: change, pairs: []pair{{call: *call}}}
	}

	conv.Notify(fmt.Sprintf("The patch for %s did not apply (%v); requesting the full file content instead.", change.RelPath, perr))
	failedPair := pair{call: *call, response: errorJSON(perr)}
	extra := []engine.Message{
		{Role: engine.RoleAssistant, FunctionCalls: []engine.FunctionCall{failedPair.call}},
		{Role: engine.RoleUser, FunctionResponses: []engine.FunctionResponse{{ID: call.ID, Name: call.Name, Content: failedPair.response}}},
	}
	retry, err := e.infer(ctx, conv, ops, base, u, change.RelPath, updateFileDef, extra)
	if err != nil {
		var s *skipError
		if errors.As(err, &s) {
			return generated{pairs: []pair{failedPair}, err: skip("patch did not apply and full update failed: %v", err)}
		}
		return generated{pairs: []pair{failedPair}, err: err}
	}
	var full struct {
		NewContent  string `json:"newContent"`
		Explanation string `json:"explanation"`
	}
	if err := validation.DecodeArgs(*retry, &full); err != nil {
		return generated{pairs: []pair{failedPair}, err: skip("%v", err)}
	}
	change.Tool = ToolUpdateFile
	change.Content = full.NewContent
	change.Explanation = full.Explanation
	change.Stats = patch.ContentStats(current, full.NewContent)
	return generated{change: change, pairs: []pair{failedPair, {call: *retry}}}
}

// generateImage calls the image backend and records the result as a download step.
func (e *Executor) generateImage(ctx context.Context, conv *engine.Conversation, ops *fileops.Ops, base []engine.Message, u FileUpdate, change Change) generated {
	if conv.Images == nil || !conv.Options().ImagesEnabled {
		return generated{err: skip("image generation is not available")}
	}
	call, err := e.infer(ctx, conv, ops, base, u, change.RelPath, generateImageDef, nil)
	if err != nil {
		return generated{err: err}
	}
	return e.renderImage(ctx, conv, ops, *call, u, change)
}

// renderImage runs the image backend for a generateImage call and records the
// result as a download step.
func (e *Executor) renderImage(ctx context.Context, conv *engine.Conversation, ops *fileops.Ops, call engine.FunctionCall, u FileUpdate, change Change) generated {
	if conv.Images == nil || !conv.Options().ImagesEnabled {
		return generated{pairs: []pair{{call: call, response: errorJSON(fmt.Errorf("image generation is not available"))}}, err: skip("image generation is not available")}
	}
	var args struct {
		Prompt      string `json:"prompt"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		Explanation string `json:"explanation"`
	}
	if err := validation.DecodeArgs(call, &args); err != nil {
		return generated{err: skip("%v", err)}
	}
	if args.Width == 0 {
		args.Width = 1024
	}
	if args.Height == 0 {
		args.Height = 1024
	}

	req := engine.ImageRequest{Prompt: args.Prompt, Width: args.Width, Height: args.Height, Cheap: u.Cheap}
	if len(u.ContextImageAssets) > 0 {
		if img, err := readImage(ops, u.ContextImageAssets[0]); err == nil {
			req.ContextImage = &img
		}
	}
	if err := conv.Checkpoint(ctx); err != nil {
		return generated{err: err}
	}
	img, err := conv.Images.GenerateImage(ctx, req)
	if err != nil {
		return generated{pairs: []pair{{call: call, response: errorJSON(err)}}, err: err}
	}

	download := engine.FunctionCall{
		ID:   engine.NewCallID(),
		Name: ToolDownloadFile,
		Args: map[string]any{"filePath": change.RelPath, "downloadUrl": img.URL, "explanation": args.Explanation},
	}
	change.Tool = ToolDownloadFile
	change.URL = img.URL
	change.Data = img.Data
	change.Explanation = args.Explanation
	return generated{change: change, pairs: []pair{{call: call}, {call: download}}}
}

// infer requests one call to def for update u.
func (e *Executor) infer(ctx context.Context, conv *engine.Conversation, ops *fileops.Ops, base []engine.Message, u FileUpdate, rel string, def engine.FunctionDef, extra []engine.Message) (*engine.FunctionCall, error) {
	opts := conv.Options()
	genOpts := engine.GenerateOptions{Temperature: opts.Temperature, Tier: opts.Tier()}
	if u.Temperature > 0 {
		genOpts.Temperature = u.Temperature
	}
	if u.Cheap {
		genOpts.Tier = engine.TierCheap
	}

	instruction := engine.Message{
		Role: engine.RoleUser,
		Text: fmt.Sprintf("Call %s for the file %s.\n\n%s", def.Name, rel, u.Prompt),
	}
	if len(extra) > 0 {
		instruction.Text = fmt.Sprintf("The patch could not be applied. Call %s with the complete new content of %s instead.\n\n%s", def.Name, rel, u.Prompt)
	}
	for _, asset := range u.ContextImageAssets {
		if img, err := readImage(ops, asset); err == nil {
			instruction.Images = append(instruction.Images, img)
		}
	}

	transcript := make([]engine.Message, 0, len(base)+len(extra)+1)
	transcript = append(transcript, base...)
	transcript = append(transcript, extra...)
	transcript = append(transcript, instruction)

	out, err := validation.RequireCall(ctx, conv.Backend, validation.Request{
		Transcript: transcript,
		Defs:       []engine.FunctionDef{def},
		Required:   def.Name,
		Options:    genOpts,
	}, conv.Notify)
	if err != nil {
		return nil, err
	}
	if out.Exhausted() {
		return nil, skip("model did not produce a valid %s call", def.Name)
	}
	call := *out.Call
	// The planned path wins over whatever path the model echoed.
	args := make(map[string]any, len(call.Args)+1)
	for k, v := range call.Args {
		args[k] = v
	}
	if def.Name == ToolMoveFile {
		args["source"] = rel
	} else {
		args["filePath"] = rel
	}
	call.Args = args
	return &call, nil
}

// apply performs one change on disk.
func (e *Executor) apply(ctx context.Context, ops *fileops.Ops, c Change) error {
	switch c.Tool {
	case ToolPatchFile:
		// The diff was dry-run against the batch overlay. If the file on disk
		// no longer matches that base, the generated content is written.
		if c.Diff != "" {
			if updated, err := ops.PatchFile(ctx, c.Path, c.Diff); err == nil && updated == c.Content {
				return nil
			}
		}
		return write(ctx, ops, c.Path, []byte(c.Content))
	case ToolCreateFile, ToolUpdateFile:
		return write(ctx, ops, c.Path, []byte(c.Content))
	case ToolDeleteFile:
		return ops.DeleteFile(ctx, c.Path)
	case ToolCreateDirectory:
		return ops.CreateDirectory(ctx, c.Path)
	case ToolMoveFile:
		return ops.MoveFile(ctx, c.Path, c.Destination)
	case ToolDownloadFile:
		data := c.Data
		if len(data) == 0 {
			var err error
			data, err = e.cfg.Downloader.Download(ctx, c.URL)
			if err != nil {
				return err
			}
		}
		return write(ctx, ops, c.Path, data)
	}
	return fmt.Errorf("unknown change tool %q", c.Tool)
}

func write(ctx context.Context, ops *fileops.Ops, path string, data []byte) error {
	if ops.Exists(path) {
		return ops.UpdateFile(ctx, path, string(data))
	}
	return ops.CreateFile(ctx, path, string(data))
}

// DescribeChanges renders generated changes for the apply confirmation.
func DescribeChanges(changes []Change) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Apply %d generated change(s)?\n", len(changes))
	for _, c := range changes {
		switch c.Tool {
		case ToolMoveFile:
			fmt.Fprintf(&b, "  %s %s -> %s\n", c.Tool, c.RelPath, c.Destination)
		case ToolDownloadFile:
			size := ""
			if len(c.Data) > 0 {
				size = " (" + units.HumanSize(float64(len(c.Data))) + ")"
			}
			fmt.Fprintf(&b, "  %s %s%s\n", c.Tool, c.RelPath, size)
		case ToolDeleteFile, ToolCreateDirectory:
			fmt.Fprintf(&b, "  %s %s\n", c.Tool, c.RelPath)
		default:
			fmt.Fprintf(&b, "  %s %s %s\n", c.Tool, c.RelPath, c.Stats)
		}
		if c.Explanation != "" {
			fmt.Fprintf(&b, "    %s\n", c.Explanation)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func errorJSON(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

func readImage(ops *fileops.Ops, path string) (engine.ImageAttachment, error) {
	data, err := ops.ReadFile(path)
	if err != nil {
		return engine.ImageAttachment{}, err
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = "image/png"
	}
	return engine.ImageAttachment{Path: path, MediaType: mediaType, Base64: base64.StdEncoding.EncodeToString(data)}, nil
}

// overlay is the project as it will look after the changes generated so far.
type overlay struct {
	ops     *fileops.Ops
	mu      sync.RWMutex
	content map[string]*string // nil value: deleted
}

func newOverlay(ops *fileops.Ops) *overlay {
	return &overlay{ops: ops, content: make(map[string]*string)}
}

func (o *overlay) read(abs string) (string, bool) {
	o.mu.RLock()
	c, ok := o.content[abs]
	o.mu.RUnlock()
	if ok {
		if c == nil {
			return "", false
		}
		return *c, true
	}
	data, err := o.ops.ReadFile(abs)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (o *overlay) record(c Change) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch c.Tool {
	case ToolCreateFile, ToolUpdateFile, ToolPatchFile:
		content := c.Content
		o.content[c.Path] = &content
	case ToolDeleteFile:
		o.content[c.Path] = nil
	case ToolMoveFile:
		if cur, ok := o.content[c.Path]; ok {
			o.content[c.Destination] = cur
		} else if data, err := o.ops.ReadFile(c.Path); err == nil {
			s := string(data)
			o.content[c.Destination] = &s
		}
		o.content[c.Path] = nil
	}
}
