// Package handlers implements the actions the model selects through askUser.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ChamsBouzaiene/gencode/internal/contextopt"
	"github.com/ChamsBouzaiene/gencode/internal/engine"
	"github.com/ChamsBouzaiene/gencode/internal/fileops"
	"github.com/ChamsBouzaiene/gencode/internal/interaction"
	"github.com/ChamsBouzaiene/gencode/internal/mutation"
	"github.com/ChamsBouzaiene/gencode/internal/search"
	"github.com/ChamsBouzaiene/gencode/internal/validation"
)

// Searcher finds files by keyword.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Hit, error)
}

// Env holds the collaborators shared by all handlers.
type Env struct {
	Context  *contextopt.Manager
	Executor *mutation.Executor
	Files    *fileops.Ops
	User     interaction.Interactor
	Search   Searcher // nil disables searchCode
	Logger   *log.Logger
}

func (e *Env) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// Register binds every action to its handler.
func Register(reg *engine.Registry, env *Env) {
	reg.Register(engine.ActionSendMessage,
		"Send a message to the user and wait for their reply.",
		engine.HandlerFunc(env.sendMessage))
	reg.Register(engine.ActionExplanation,
		"Explain what you are doing without waiting for a reply.",
		engine.HandlerFunc(env.explanation))
	reg.Register(engine.ActionRequestFilesContent,
		"Request the full content of files you only have summaries of.",
		engine.HandlerFunc(env.requestFilesContent))
	reg.Register(engine.ActionRequestFilesFragments,
		"Request only the fragments of files relevant to a question.",
		engine.HandlerFunc(env.requestFilesFragments))
	reg.Register(engine.ActionRemoveFilesFromContext,
		"Remove the content of files that are no longer needed.",
		engine.HandlerFunc(env.removeFilesFromContext))
	reg.Register(engine.ActionContextOptimization,
		"Reduce the context to the files relevant to the current request.",
		engine.HandlerFunc(env.contextOptimization))
	reg.Register(engine.ActionConfirmCodeGeneration,
		"Ask the user to confirm code generation, then plan and apply the file updates.",
		engine.HandlerFunc(env.confirmCodeGeneration))
	reg.Register(engine.ActionCancelCodeGeneration,
		"Stop without generating code.",
		engine.HandlerFunc(env.cancelCodeGeneration))
	reg.Register(engine.ActionCreateFile,
		"Create one new file.",
		engine.HandlerFunc(env.directFile(mutation.ToolCreateFile)))
	reg.Register(engine.ActionUpdateFile,
		"Replace the content of one existing file.",
		engine.HandlerFunc(env.directFile(mutation.ToolUpdateFile)))
	reg.Register(engine.ActionCompoundAction,
		"Run several file operations (create, update, patch, delete, move, mkdir) as one batch.",
		engine.HandlerFunc(env.compoundAction))
	reg.Register(engine.ActionReasoningInference,
		"Think through a hard problem with a reasoning model.",
		engine.HandlerFunc(env.reasoningInference))
	reg.Register(engine.ActionGenerateImage,
		"Generate an image and save it in the project.",
		engine.HandlerFunc(env.generateImage))
	reg.Register(engine.ActionRequestPermissions,
		"Ask the user to enable a file operation permission.",
		engine.HandlerFunc(env.requestPermissions))
	if env.Search != nil {
		reg.Register(engine.ActionSearchCode,
			"Search file paths and summaries by keyword.",
			engine.HandlerFunc(env.searchCode))
	}
}

// Confirmer adapts an Interactor to the executor's apply confirmation.
func Confirmer(user interaction.Interactor) mutation.ConfirmFunc {
	return func(ctx context.Context, message string) (bool, error) {
		return user.AskConfirmation(ctx, message, true)
	}
}

// Selector asks the model for the next askUser call.
type Selector struct {
	// User receives plain-text answers given instead of a call. May be nil.
	User interaction.Interactor
}

// SelectAction implements engine.ActionSelector.
func (s Selector) SelectAction(ctx context.Context, conv *engine.Conversation, askUser engine.FunctionDef) (*engine.FunctionCall, error) {
	opts := conv.Options()
	out, err := validation.RequireCall(ctx, conv.Backend, validation.Request{
		Transcript:  conv.Transcript.Messages(),
		Defs:        []engine.FunctionDef{askUser},
		Required:    askUser.Name,
		Options:     engine.GenerateOptions{Temperature: opts.Temperature, Tier: opts.Tier()},
		AllowNoCall: true,
	}, conv.Notify)
	if err != nil {
		return nil, err
	}
	if out.Exhausted() {
		if out.Text != "" {
			conv.Transcript.Append(engine.Message{Role: engine.RoleAssistant, Text: out.Text})
			if s.User != nil {
				s.User.Show(out.Text)
			}
		}
		return nil, nil
	}
	return out.Call, nil
}

// infer answers the selection call and asks the model for one call to def.
// A nil call means recovery was exhausted; the caller decides how to go on.
func infer(ctx context.Context, conv *engine.Conversation, call engine.FunctionCall, def engine.FunctionDef, instruction string) (*engine.FunctionCall, error) {
	if instruction == "" {
		instruction = fmt.Sprintf("Call %s to continue.", def.Name)
	}
	conv.Acknowledge(call, engine.MessageOf(call), "", instruction)
	if err := conv.Checkpoint(ctx); err != nil {
		return nil, err
	}
	opts := conv.Options()
	out, err := validation.RequireCall(ctx, conv.Backend, validation.Request{
		Transcript: conv.Transcript.Messages(),
		Defs:       []engine.FunctionDef{def},
		Required:   def.Name,
		Options:    engine.GenerateOptions{Temperature: opts.Temperature, Tier: opts.Tier()},
	}, conv.Notify)
	if err != nil {
		return nil, err
	}
	return out.Call, nil
}

// respond answers an inferred call with v encoded as JSON.
func respond(conv *engine.Conversation, call engine.FunctionCall, v any) {
	content := ""
	switch c := v.(type) {
	case nil:
	case string:
		content = c
	default:
		data, err := json.Marshal(v)
		if err != nil {
			content = errorJSON(err)
		} else {
			content = string(data)
		}
	}
	conv.Transcript.AppendPair("", call, engine.FunctionResponse{Content: content}, "")
	conv.FlushNotices()
}

func errorJSON(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

// exhausted reports a failed inference and keeps the loop going.
func exhausted(conv *engine.Conversation, name string) (engine.ActionResult, error) {
	conv.Notify(fmt.Sprintf("Skipping %s: no usable response from the model.", name))
	return engine.ActionResult{}, nil
}

func stringArray(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": desc,
	}
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}
