package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/engine"

	genai "google.golang.org/genai"
)

// GeminiBackend implements engine.ModelBackend and engine.ImageBackend using
// the Google GenAI SDK.
type GeminiBackend struct {
	client      *genai.Client
	models      Models
	imageModels Models
	usage       engine.UsageRecorder
}

// NewGeminiBackend creates a Gemini backend. An empty imageModels.Default
// disables image generation.
func NewGeminiBackend(ctx context.Context, apiKey string, models, imageModels Models) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google GenAI client: %w", err)
	}
	return &GeminiBackend{client: client, models: models, imageModels: imageModels}, nil
}

// Name returns the provider name.
func (c *GeminiBackend) Name() string { return "gemini" }

// SetUsageRecorder sets the sink for token usage.
func (c *GeminiBackend) SetUsageRecorder(r engine.UsageRecorder) { c.usage = r }

// SupportsImages reports whether an image model is configured.
func (c *GeminiBackend) SupportsImages() bool { return c.imageModels.Default != "" }

// GenerateContent implements engine.ModelBackend.
func (c *GeminiBackend) GenerateContent(ctx context.Context, transcript []engine.Message, defs []engine.FunctionDef, opts engine.GenerateOptions) (engine.GenerateResult, error) {
	system, turns := splitSystem(transcript)
	contents, err := geminiContents(turns)
	if err != nil {
		return engine.GenerateResult{}, err
	}
	cfg, err := geminiConfig(system, defs, opts)
	if err != nil {
		return engine.GenerateResult{}, err
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.models.For(opts.Tier), contents, cfg)
	if err != nil {
		return engine.GenerateResult{}, wrapError(c.Name(), err)
	}
	if c.usage != nil && resp.UsageMetadata != nil {
		c.usage.RecordUsage(c.Name(), engine.Usage{
			Prompt:     int(resp.UsageMetadata.PromptTokenCount),
			Completion: int(resp.UsageMetadata.CandidatesTokenCount),
			Total:      int(resp.UsageMetadata.TotalTokenCount),
		})
	}

	var result engine.GenerateResult
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result, nil
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = make(map[string]any)
			}
			result.Calls = append(result.Calls, engine.FunctionCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: args,
			})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	result.Text = text.String()
	result.Calls = ensureCallIDs(result.Calls)
	return result, nil
}

func geminiConfig(system string, defs []engine.FunctionDef, opts engine.GenerateOptions) (*genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Temperature > 0 {
		temp := opts.Temperature
		cfg.Temperature = &temp
	}
	if opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxOutputTokens)
	}

	if len(defs) == 0 {
		return cfg, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		schema, err := decodeSchema(def)
		if err != nil {
			return nil, err
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 def.Name,
			Description:          def.Description,
			ParametersJsonSchema: schema,
		})
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	calling := &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
	if opts.RequiredFunction != "" {
		calling = &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{opts.RequiredFunction},
		}
	}
	cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: calling}
	return cfg, nil
}

func geminiContents(turns []engine.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		var parts []*genai.Part
		switch m.Role {
		case engine.RoleAssistant:
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			for _, call := range m.FunctionCalls {
				part := genai.NewPartFromFunctionCall(call.Name, call.Args)
				part.FunctionCall.ID = call.ID
				parts = append(parts, part)
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case engine.RoleUser:
			for _, r := range m.FunctionResponses {
				part := genai.NewPartFromFunctionResponse(r.Name, functionResponsePayload(r))
				part.FunctionResponse.ID = r.ID
				parts = append(parts, part)
			}
			for _, img := range m.Images {
				data, err := imageBytes(img)
				if err != nil {
					return nil, fmt.Errorf("decode image %s: %w", img.Path, err)
				}
				parts = append(parts, genai.NewPartFromBytes(data, img.MediaType))
			}
			if m.Text != "" {
				parts = append(parts, genai.NewPartFromText(m.Text))
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
		}
	}
	return contents, nil
}

// functionResponsePayload wraps a response body in the object Gemini expects.
func functionResponsePayload(r engine.FunctionResponse) map[string]any {
	payload := make(map[string]any)
	if strings.TrimSpace(r.Content) == "" {
		return payload
	}
	if err := json.Unmarshal([]byte(r.Content), &payload); err != nil {
		return map[string]any{"output": r.Content}
	}
	return payload
}

// GenerateImage implements engine.ImageBackend with Imagen.
func (c *GeminiBackend) GenerateImage(ctx context.Context, req engine.ImageRequest) (engine.ImageResult, error) {
	if !c.SupportsImages() {
		return engine.ImageResult{}, fmt.Errorf("gemini: no image model configured")
	}
	model := c.imageModels.Default
	if req.Cheap {
		model = c.imageModels.For(engine.TierCheap)
	}
	cfg := &genai.GenerateImagesConfig{NumberOfImages: 1}
	if ratio := aspectRatio(req.Width, req.Height); ratio != "" {
		cfg.AspectRatio = ratio
	}

	resp, err := c.client.Models.GenerateImages(ctx, model, req.Prompt, cfg)
	if err != nil {
		return engine.ImageResult{}, wrapError(c.Name(), err)
	}
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
			continue
		}
		mediaType := img.Image.MIMEType
		if mediaType == "" {
			mediaType = "image/png"
		}
		return engine.ImageResult{Data: img.Image.ImageBytes, MediaType: mediaType}, nil
	}
	return engine.ImageResult{}, fmt.Errorf("gemini returned no image")
}

// aspectRatio maps a size to the closest ratio Imagen accepts.
func aspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	r := float64(width) / float64(height)
	switch {
	case r >= 1.6:
		return "16:9"
	case r >= 1.2:
		return "4:3"
	case r > 0.85:
		return "1:1"
	case r > 0.65:
		return "3:4"
	default:
		return "9:16"
	}
}
