package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ActionType names an action the model may select through askUser.
type ActionType string

const (
	ActionSendMessage            ActionType = "sendMessage"
	ActionRequestFilesContent    ActionType = "requestFilesContent"
	ActionRequestFilesFragments  ActionType = "requestFilesFragments"
	ActionRemoveFilesFromContext ActionType = "removeFilesFromContext"
	ActionContextOptimization    ActionType = "contextOptimization"
	ActionConfirmCodeGeneration  ActionType = "confirmCodeGeneration"
	ActionCancelCodeGeneration   ActionType = "cancelCodeGeneration"
	ActionCreateFile             ActionType = "createFile"
	ActionUpdateFile             ActionType = "updateFile"
	ActionCompoundAction         ActionType = "compoundAction"
	ActionReasoningInference     ActionType = "reasoningInference"
	ActionGenerateImage          ActionType = "generateImage"
	ActionRequestPermissions     ActionType = "requestPermissions"
	ActionSearchCode             ActionType = "searchCode"
	ActionExplanation            ActionType = "explanation"
)

// AskUserFunction is the required function the model calls to select an action.
const AskUserFunction = "askUser"

// ActionItem is an assistant/user turn pair produced by a handler.
type ActionItem struct {
	Assistant Message
	User      Message
}

// ActionResult is what a handler returns to the dispatch loop.
type ActionResult struct {
	BreakLoop bool
	Items     []ActionItem
}

// ActionHandler executes one selected action.
type ActionHandler interface {
	Handle(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error)
}

// HandlerFunc adapts a function to ActionHandler.
type HandlerFunc func(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error)

func (f HandlerFunc) Handle(ctx context.Context, conv *Conversation, call FunctionCall) (ActionResult, error) {
	return f(ctx, conv, call)
}

type registeredAction struct {
	Description string
	Handler     ActionHandler
}

// Registry maps action types to handlers. It is populated at startup and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	actions map[ActionType]registeredAction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[ActionType]registeredAction)}
}

// Register binds a handler to an action type, replacing any previous binding.
func (r *Registry) Register(t ActionType, description string, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[t] = registeredAction{Description: description, Handler: h}
}

// Lookup returns the handler for t or an UnknownActionTypeError.
func (r *Registry) Lookup(t ActionType) (ActionHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[t]
	if !ok {
		return nil, &UnknownActionTypeError{ActionType: string(t)}
	}
	return a.Handler, nil
}

// Types returns the registered action types in sorted order.
func (r *Registry) Types() []ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ActionType, 0, len(r.actions))
	for t := range r.actions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AskUserDef builds the askUser declaration listing the registered actions.
// actionType is a free string so an unregistered name reaches Lookup and
// fails the request instead of being re-asked.
func (r *Registry) AskUserDef() FunctionDef {
	types := r.Types()
	names := make([]string, 0, len(types))
	var desc strings.Builder
	desc.WriteString("Select the next action. Available actions:\n")
	r.mu.RLock()
	for _, t := range types {
		names = append(names, string(t))
		fmt.Fprintf(&desc, "- %s: %s\n", t, r.actions[t].Description)
	}
	r.mu.RUnlock()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"actionType": map[string]any{
				"type":        "string",
				"description": "The action to perform next, one of: " + strings.Join(names, ", ") + ".",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message shown to the user explaining the action.",
			},
		},
		"required": []string{"actionType", "message"},
	}
	data, _ := json.Marshal(schema)
	return FunctionDef{
		Name:        AskUserFunction,
		Description: desc.String(),
		Parameters:  string(data),
	}
}

// ActionTypeOf extracts the actionType argument from an askUser call.
func ActionTypeOf(call FunctionCall) ActionType {
	s, _ := call.Args["actionType"].(string)
	return ActionType(s)
}

// MessageOf extracts the message argument from an askUser call.
func MessageOf(call FunctionCall) string {
	s, _ := call.Args["message"].(string)
	return s
}
