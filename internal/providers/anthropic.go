package providers

import (
	"context"
	"encoding/json"

	"github.com/ChamsBouzaiene/gencode/internal/engine"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const anthropicMaxTokens = 8192

// AnthropicBackend implements engine.ModelBackend by calling the Anthropic SDK directly.
type AnthropicBackend struct {
	client *anthropic.Client
	models Models
	usage  engine.UsageRecorder
}

// NewAnthropicBackend creates a new Anthropic backend.
func NewAnthropicBackend(apiKey string, models Models) *AnthropicBackend {
	return &AnthropicBackend{
		client: anthropic.NewClient(apiKey),
		models: models,
	}
}

// Name returns the provider name.
func (c *AnthropicBackend) Name() string { return "anthropic" }

// SetUsageRecorder sets the sink for token usage.
func (c *AnthropicBackend) SetUsageRecorder(r engine.UsageRecorder) { c.usage = r }

// GenerateContent implements engine.ModelBackend.
func (c *AnthropicBackend) GenerateContent(ctx context.Context, transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (engine.GenerateResult, error) {
	req, err := c.buildRequest(transcript, defs, opts)
	if err != nil {
		return engine.GenerateResult{}, err
	}

	resp, err := c.client.CreateMessages(ctx, req)
	if err != nil {
		return engine.GenerateResult{}, wrapError(c.Name(), err)
	}
	if c.usage != nil {
		c.usage.RecordUsage(c.Name(), engine.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		})
	}

	var result engine.GenerateResult
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				result.Text += *block.Text
			}
		case "tool_use":
			if block.MessageContentToolUse == nil || block.Name == "" {
				continue
			}
			result.Calls = append(result.Calls, engine.FunctionCall{
				ID:   block.ID,
				Name: block.Name,
				Args: parseArgs(block.Input),
			})
		}
	}
	result.Calls = ensureCallIDs(result.Calls)
	return result, nil
}

func (c *AnthropicBackend) buildRequest(transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (anthropic.MessagesRequest, error) {
	system, turns := splitSystem(transcript)

	maxTokens := anthropicMaxTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	temperature := float32(0.1)
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(c.models.For(opts.Tier)),
		Messages:    anthropicMessages(turns),
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if system != "" {
		req.MultiSystem = []anthropic.MessageSystemPart{{
			Type:         "text",
			Text:         system,
			CacheControl: &anthropic.MessageCacheControl{Type: anthropic.CacheControlTypeEphemeral},
		}}
	}

	for _, def := range defs {
		schema, err := decodeSchema(def)
		if err != nil {
			return anthropic.MessagesRequest{}, err
		}
		req.Tools = append(req.Tools, anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}
	if opts.RequiredFunction != "" && len(req.Tools) > 0 {
		req.ToolChoice = &anthropic.ToolChoice{Type: "tool", Name: opts.RequiredFunction}
	}
	return req, nil
}

// anthropicMessages maps merged turns to Anthropic messages. Tool results lead
// the user turn that answers the preceding tool_use blocks.
func anthropicMessages(turns []engine.Message) []anthropic.Message {
	msgs := make([]anthropic.Message, 0, len(turns))
	for _, m := range turns {
		var content []anthropic.MessageContent
		switch m.Role {
		case engine.RoleAssistant:
			if m.Text != "" {
				content = append(content, anthropic.NewTextMessageContent(m.Text))
			}
			for _, call := range m.FunctionCalls {
				content = append(content, anthropic.NewToolUseMessageContent(
					call.ID,
					call.Name,
					json.RawMessage(encodeArgs(call.Args)),
				))
			}
			if len(content) == 0 {
				content = append(content, anthropic.NewTextMessageContent(" "))
			}
			msgs = append(msgs, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		case engine.RoleUser:
			for _, r := range m.FunctionResponses {
				content = append(content, anthropic.NewToolResultMessageContent(r.ID, responseContent(r), false))
			}
			for _, img := range m.Images {
				mediaType := img.MediaType
				if mediaType == "" {
					mediaType = "image/png"
				}
				content = append(content, anthropic.MessageContent{
					Type: "image",
					Source: &anthropic.MessageContentSource{
						Type:      "base64",
						MediaType: mediaType,
						Data:      img.Base64,
					},
				})
			}
			if m.Text != "" {
				content = append(content, anthropic.NewTextMessageContent(m.Text))
			}
			if len(content) == 0 {
				continue
			}
			msgs = append(msgs, anthropic.Message{Role: anthropic.RoleUser, Content: content})
		default:
			continue
		}
		if m.Cache {
			last := &msgs[len(msgs)-1].Content[len(msgs[len(msgs)-1].Content)-1]
			last.CacheControl = &anthropic.MessageCacheControl{Type: anthropic.CacheControlTypeEphemeral}
		}
	}
	return msgs
}
