package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

var (
	reasoningDef = engine.FunctionDef{
		Name:        "reasoningInference",
		Description: "Hand a hard problem to a reasoning model.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": str("The problem to reason about, with everything the reasoning model needs."),
			},
			"required": []string{"prompt"},
		}),
	}

	permissionNames = []string{
		engine.PermissionFileCreate,
		engine.PermissionFileDelete,
		engine.PermissionDirectoryCreate,
		engine.PermissionFileMove,
	}

	requestPermissionsDef = engine.FunctionDef{
		Name:        "requestPermissions",
		Description: "Ask the user to enable permissions for file operations.",
		Parameters: validation.MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"permissions": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string", "enum": permissionNames},
					"minItems": 1,
				},
				"reason": str("Why the permissions are needed."),
			},
			"required": []string{"permissions", "reason"},
		}),
	}
)

func (e *Env) sendMessage(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	e.User.Show(engine.MessageOf(call))
	return engine.ActionResult{BreakLoop: true}, nil
}

func (e *Env) explanation(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	e.User.Show(engine.MessageOf(call))
	return engine.ActionResult{}, nil
}

func (e *Env) reasoningInference(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	req, err := infer(ctx, conv, call, reasoningDef, "")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if req == nil {
		return exhausted(conv, reasoningDef.Name)
	}
	var args struct {
		Prompt string `json:"prompt"`
	}
	if err := validation.DecodeArgs(*req, &args); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}

	// The call is answered after the reasoning model returns.
	transcript := append(conv.Transcript.Messages(), engine.Message{Role: engine.RoleUser, Text: args.Prompt})

	if err := conv.Checkpoint(ctx); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, err
	}
	res, err := conv.Backend.GenerateContent(ctx, transcript, nil, engine.GenerateOptions{Tier: engine.TierReasoning})
	if err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, err
	}
	respond(conv, *req, map[string]string{"response": res.Text})
	return engine.ActionResult{}, nil
}

func (e *Env) requestPermissions(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall) (engine.ActionResult, error) {
	req, err := infer(ctx, conv, call, requestPermissionsDef, "")
	if err != nil {
		return engine.ActionResult{}, err
	}
	if req == nil {
		return exhausted(conv, requestPermissionsDef.Name)
	}
	var args struct {
		Permissions []string `json:"permissions"`
		Reason      string   `json:"reason"`
	}
	if err := validation.DecodeArgs(*req, &args); err != nil {
		respond(conv, *req, errorJSON(err))
		return engine.ActionResult{}, nil
	}

	current := conv.Permissions()
	granted := []string{}
	denied := []string{}
	for _, name := range args.Permissions {
		if current.Allowed(name) {
			granted = append(granted, name)
			continue
		}
		ok, err := e.User.AskConfirmation(ctx, fmt.Sprintf("The assistant asks to enable %s: %s\nAllow?", name, args.Reason), false)
		if err != nil {
			respond(conv, *req, errorJSON(err))
			return engine.ActionResult{}, err
		}
		if !ok {
			denied = append(denied, name)
			continue
		}
		if unknown := conv.GrantPermissions(name); len(unknown) > 0 {
			denied = append(denied, name)
			continue
		}
		granted = append(granted, name)
	}
	respond(conv, *req, map[string][]string{"granted": granted, "denied": denied})
	if len(denied) > 0 {
		conv.Notify(fmt.Sprintf("Permissions not granted: %s.", strings.Join(denied, ", ")))
	}
	return engine.ActionResult{}, nil
}
