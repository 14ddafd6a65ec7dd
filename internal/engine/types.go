package engine

import (
	"context"
	"fmt"
)

// MessageRole represents the role of a transcript turn.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// FunctionCall is a structured invocation emitted by the model.
type FunctionCall struct {
	ID   string         // Provider call id, generated locally when the provider omits it
	Name string         // Function name, must match a declared FunctionDef
	Args map[string]any // Decoded JSON arguments
}

// FunctionResponse answers a FunctionCall from a previous assistant turn.
type FunctionResponse struct {
	ID      string // ID of the call being answered
	Name    string
	Content string // JSON or plain text; empty means accepted without output
}

// ImageAttachment is an image passed along with a user turn.
type ImageAttachment struct {
	Path      string
	MediaType string // e.g. "image/png"
	Base64    string
}

// Message is one provider-agnostic transcript turn.
type Message struct {
	Role              MessageRole
	Text              string
	FunctionCalls     []FunctionCall     // assistant turns only
	FunctionResponses []FunctionResponse // user turns only
	Images            []ImageAttachment  // user turns only
	// Cache marks the turn as a prompt-cache breakpoint for providers that support it.
	Cache bool
	// Notice marks a user turn that carries a system-level notice (provider switch, step budget).
	Notice bool
}

// Validate checks the role-specific shape of a single message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem:
		if len(m.FunctionCalls) > 0 || len(m.FunctionResponses) > 0 {
			return fmt.Errorf("system message cannot carry function calls or responses")
		}
	case RoleUser:
		if len(m.FunctionCalls) > 0 {
			return fmt.Errorf("user message cannot carry function calls")
		}
	case RoleAssistant:
		if len(m.FunctionResponses) > 0 || len(m.Images) > 0 {
			return fmt.Errorf("assistant message cannot carry function responses or images")
		}
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	return nil
}

// FunctionDef declares a callable function together with its JSON Schema.
type FunctionDef struct {
	Name        string
	Description string
	Parameters  string // JSON Schema of the arguments object
}

// ModelTier selects a model class inside a provider.
type ModelTier string

const (
	TierDefault   ModelTier = "default"
	TierCheap     ModelTier = "cheap"
	TierReasoning ModelTier = "reasoning"
)

// GenerateOptions keeps knobs forwarded to the provider SDK.
type GenerateOptions struct {
	Temperature      float32
	Tier             ModelTier
	RequiredFunction string // When set, the provider is forced to call this function
	MaxOutputTokens  int
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// GenerateResult is the normalized result of one content generation call.
// Either Calls or Text is populated; a result with neither means the model produced nothing.
type GenerateResult struct {
	Calls []FunctionCall
	Text  string
}

// ModelBackend abstracts a provider SDK.
type ModelBackend interface {
	GenerateContent(ctx context.Context, transcript []Message, defs []FunctionDef, opts GenerateOptions) (GenerateResult, error)
}

// ImageRequest describes an image generation call.
type ImageRequest struct {
	Prompt       string
	ContextImage *ImageAttachment
	Width        int
	Height       int
	Cheap        bool
}

// ImageResult carries either a URL to download or the raw image bytes.
type ImageResult struct {
	URL       string
	Data      []byte
	MediaType string
}

// ImageBackend abstracts a provider image generation API.
type ImageBackend interface {
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}

// UsageRecorder receives token usage from providers as a side channel.
type UsageRecorder interface {
	RecordUsage(provider string, usage Usage)
}

// UsageRecorderFunc adapts a function to UsageRecorder.
type UsageRecorderFunc func(provider string, usage Usage)

func (f UsageRecorderFunc) RecordUsage(provider string, usage Usage) { f(provider, usage) }
