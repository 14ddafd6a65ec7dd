package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ChamsBouzaiene/gencode/internal/engine"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible backend.
type OpenAIConfig struct {
	Name    string // provider name used in logs and errors, e.g. "openai" or "groq"
	APIKey  string
	BaseURL string // For OpenAI-compatible APIs like Kimi
	Models  Models
	// ImageModels enables GenerateImage. Cheap is used for ImageRequest.Cheap.
	ImageModels Models
}

// OpenAIBackend implements engine.ModelBackend and engine.ImageBackend by
// calling the OpenAI SDK directly.
type OpenAIBackend struct {
	client      *openai.Client
	name        string
	models      Models
	imageModels Models
	usage       engine.UsageRecorder
}

// NewOpenAIBackend creates a new OpenAI backend.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(config),
		name:        name,
		models:      cfg.Models,
		imageModels: cfg.ImageModels,
	}
}

// Name returns the provider name.
func (c *OpenAIBackend) Name() string { return c.name }

// SetUsageRecorder sets the sink for token usage.
func (c *OpenAIBackend) SetUsageRecorder(r engine.UsageRecorder) { c.usage = r }

// SupportsImages reports whether an image model is configured.
func (c *OpenAIBackend) SupportsImages() bool { return c.imageModels.Default != "" }

// GenerateContent implements engine.ModelBackend.
func (c *OpenAIBackend) GenerateContent(ctx context.Context, transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (engine.GenerateResult, error) {
	req, err := c.buildRequest(transcript, defs, opts)
	if err != nil {
		return engine.GenerateResult{}, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return engine.GenerateResult{}, c.wrap(err)
	}
	if c.usage != nil {
		c.usage.RecordUsage(c.name, engine.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		})
	}
	if len(resp.Choices) == 0 {
		return engine.GenerateResult{}, fmt.Errorf("empty response from %s", c.name)
	}

	choice := resp.Choices[0]
	result := engine.GenerateResult{Text: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		result.Calls = append(result.Calls, engine.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseArgs([]byte(tc.Function.Arguments)),
		})
	}
	result.Calls = ensureCallIDs(result.Calls)
	return result, nil
}

func (c *OpenAIBackend) buildRequest(transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (openai.ChatCompletionRequest, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.models.For(opts.Tier),
		Messages: openAIMessages(transcript),
	}

	for _, def := range defs {
		schema, err := decodeSchema(def)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		})
	}
	if len(req.Tools) > 0 {
		if opts.RequiredFunction != "" {
			req.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: opts.RequiredFunction},
			}
		} else {
			req.ToolChoice = "auto"
		}
	}

	if opts.MaxOutputTokens > 0 {
		req.MaxTokens = opts.MaxOutputTokens
	}
	if opts.Temperature > 0 {
		temperature := opts.Temperature
		req.Temperature = &temperature
	}
	return req, nil
}

// openAIMessages maps transcript turns to chat messages. Function responses
// become tool messages placed right after the assistant turn that issued the
// calls; user text and images follow them.
func openAIMessages(transcript []engine.Message) []openai.ChatCompletionMessage {
	system, turns := splitSystem(transcript)
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range turns {
		switch m.Role {
		case engine.RoleAssistant:
			content := m.Text
			var toolCalls []openai.ToolCall
			for _, call := range m.FunctionCalls {
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: encodeArgs(call.Args),
					},
				})
			}
			// The SDK serializes an empty string as null, which the API rejects.
			if content == "" {
				content = " "
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			})
		case engine.RoleUser:
			for _, r := range m.FunctionResponses {
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: r.ID,
					Content:    responseContent(r),
				})
			}
			if m.Text == "" && len(m.Images) == 0 {
				continue
			}
			if len(m.Images) == 0 {
				msgs = append(msgs, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: m.Text,
				})
				continue
			}
			var parts []openai.ChatMessagePart
			if m.Text != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Text})
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL(img)},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})
		}
	}
	return msgs
}

// GenerateImage implements engine.ImageBackend. The context image is not sent;
// the images endpoint only accepts it through the separate edit API.
func (c *OpenAIBackend) GenerateImage(ctx context.Context, req engine.ImageRequest) (engine.ImageResult, error) {
	if !c.SupportsImages() {
		return engine.ImageResult{}, fmt.Errorf("%s: no image model configured", c.name)
	}
	model := c.imageModels.Default
	if req.Cheap {
		model = c.imageModels.For(engine.TierCheap)
	}
	width, height := req.Width, req.Height
	if width <= 0 || height <= 0 {
		width, height = 1024, 1024
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           fmt.Sprintf("%dx%d", width, height),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return engine.ImageResult{}, c.wrap(err)
	}
	if len(resp.Data) == 0 {
		return engine.ImageResult{}, fmt.Errorf("%s returned no image", c.name)
	}
	img := resp.Data[0]
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return engine.ImageResult{}, fmt.Errorf("decode image: %w", err)
		}
		return engine.ImageResult{Data: data, MediaType: "image/png"}, nil
	}
	return engine.ImageResult{URL: img.URL}, nil
}

func (c *OpenAIBackend) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		_, retryAfter := extractErrorMetadata(err)
		return engine.WrapLLMError(c.name, err, apiErr.HTTPStatusCode, retryAfter)
	}
	return wrapError(c.name, err)
}
