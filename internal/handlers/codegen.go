package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/contextopt"
	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/mutation"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

func (e *Env) confirmCodeGeneration(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	question := engine.MessageOf(call)
	if question == "" {
		question = "Generate the code changes?"
	}
	answer, err := e.User.AskConfirmationWithAnswer(ctx, question, "Start code generation", "Don't generate code", true)
	if err != nil {
		return engine.ActionResult{}, err
	}
	if !answer.Confirmed {
		if answer.Answer != "" {
			conv.Acknowledge(call, question, "", answer.Answer)
			return engine.ActionResult{}, nil
		}
		conv.Acknowledge(call, question, "", "")
		conv.Notify("Code generation was declined.")
		return engine.ActionResult{BreakLoop: true}, nil
	}

	plan, err := infer(ctx, conv, call, mutation.CodegenSummaryDef, "Code generation confirmed. Call codegenSummary with the planned file updates.")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if plan == nil {
		conv.Notify("The model did not produce a usable code generation plan.")
		return engine.ActionResult{BreakLoop: true}, nil
	}
	var summary mutation.CodegenSummary
	if err := validation.DecodeArgs(*plan, &summary); err != nil {
		respond(conv, *plan, errorJSON(err))
		return engine.ActionResult{BreakLoop: true}, nil
	}
	respond(conv, *plan, nil)
	if summary.Explanation != "" {
		e.User.Show(summary.Explanation)
	}

	if len(summary.ContextPaths) > 0 {
		if err := e.attachContext(ctx, conv, summary.ContextPaths); err != nil {
			return engine.ActionResult{}, err
		}
	}

	res, err := e.Executor.Execute(ctx, conv, summary)
	if err != nil {
		return engine.ActionResult{}, err
	}
	e.report(conv, res)
	return engine.ActionResult{BreakLoop: true}, nil
}

// attachContext sends the content of the plan's context files as a
// requestFilesContent pair so every update sees them.
func (e *Env) attachContext(ctx context.Context, conv *engine.Conversation, paths []string) error {
	var allowed []string
	for _, p := range paths {
		if conv.IsDisclosed(p) {
			allowed = append(allowed, p)
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	sm, _, err := e.Context.AddContent(ctx, conv, allowed)
	if err != nil {
		return err
	}
	pathArgs := make([]any, len(allowed))
	for i, p := range allowed {
		pathArgs[i] = p
	}
	req := engine.FunctionCall{ID: engine.NewCallID(), Name: contextopt.FilesContentFunction, Args: map[string]any{"filePaths": pathArgs}}
	respond(conv, req, sm.JSON())
	return nil
}

func (e *Env) cancelCodeGeneration(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	if msg := engine.MessageOf(call); msg != "" {
		e.User.Show(msg)
	}
	return engine.ActionResult{BreakLoop: true}, nil
}

// directFile handles createFile and updateFile. The user confirms before the
// content is generated and again before it is written.
func (e *Env) directFile(tool string) engine.HandlerFunc {
	return func(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
		msg := engine.MessageOf(call)
		if perm := requiredPermission(tool); perm != "" && !conv.Permissions().Allowed(perm) {
			denied := &engine.PermissionDeniedError{Permission: perm}
			conv.Acknowledge(call, msg, errorJSON(denied), "")
			conv.Notify(fmt.Sprintf("Permission denied: %s needs %s. Use requestPermissions first.", tool, perm))
			return engine.ActionResult{}, nil
		}
		ok, err := e.User.AskConfirmation(ctx, fmt.Sprintf("%s\nGenerate the content now?", msg), true)
		if err != nil {
			return engine.ActionResult{}, err
		}
		if !ok {
			conv.Acknowledge(call, msg, "", "")
			conv.Notify(fmt.Sprintf("%s was cancelled before generating content.", tool))
			return engine.ActionResult{BreakLoop: true}, nil
		}
		conv.Acknowledge(call, msg, "", "")

		res, err := e.Executor.ExecuteDirect(ctx, conv, tool, msg)
		if err != nil {
			return engine.ActionResult{}, err
		}
		e.report(conv, res)
		return engine.ActionResult{}, nil
	}
}

// requiredPermission is the flag a direct tool needs before anything is
// generated. Updates of existing files need none.
func requiredPermission(tool string) string {
	switch tool {
	case mutation.ToolCreateFile, mutation.ToolGenerateImage:
		return engine.PermissionFileCreate
	}
	return ""
}

func (e *Env) generateImage(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	if conv.Images == nil || !conv.Options().ImagesEnabled {
		conv.Acknowledge(call, engine.MessageOf(call), errorJSON(fmt.Errorf("image generation is not available")), "")
		return engine.ActionResult{}, nil
	}
	return e.directFile(mutation.ToolGenerateImage)(ctx, conv, call)
}

func (e *Env) compoundAction(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	req, err := infer(ctx, conv, call, mutation.CompoundActionDef, "")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if req == nil {
		return exhausted(conv, mutation.CompoundActionDef.Name)
	}
	var args struct {
		Summary string                `json:"summary"`
		Actions []mutation.FileUpdate `json:"actions"`
	}
	if err := validation.DecodeArgs(*req, &args); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", args.Summary)
	for _, a := range args.Actions {
		fmt.Fprintf(&b, "  %s %s\n", a.UpdateToolName, a.FilePath)
	}
	b.WriteString("Run these operations?")
	ok, err := e.User.AskConfirmation(ctx, b.String(), true)
	if err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, err
	}
	if !ok {
		respond(conv, *req, `{"declined":true}`)
		conv.Notify("The batch of file operations was declined.")
		return engine.ActionResult{BreakLoop: true}, nil
	}
	respond(conv, *req, nil)

	res, err := e.Executor.Execute(ctx, conv, mutation.CodegenSummary{Explanation: args.Summary, FileUpdates: args.Actions})
	if err != nil {
		return engine.ActionResult{}, err
	}
	e.report(conv, res)
	return engine.ActionResult{}, nil
}

// report tells the user what a batch changed.
func (e *Env) report(conv *engine.Conversation, res mutation.Result) {
	if res.Declined {
		return
	}
	for _, c := range res.Applied {
		line := fmt.Sprintf("%s %s", c.Tool, c.RelPath)
		switch c.Tool {
		case mutation.ToolCreateFile, mutation.ToolUpdateFile, mutation.ToolPatchFile:
			line += " " + c.Stats.String()
		}
		e.User.Show(line)
	}
	if len(res.Applied) > 0 || len(res.Failures) > 0 {
		e.logf("codegen: applied=%d failed=%d rejected=%d", len(res.Applied), len(res.Failures), len(res.Rejected))
	}
}
