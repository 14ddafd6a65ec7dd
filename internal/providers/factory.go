package providers

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// compatibleProvider describes an OpenAI-compatible API.
type compatibleProvider struct {
	prefix       string // env var prefix, e.g. "DEEPSEEK"
	defaultModel string
	baseURL      string // default base URL, overridable by <PREFIX>_BASE_URL
	defaultKey   string // local servers accept any key
}

var compatibleProviders = map[string]compatibleProvider{
	"openai": {prefix: "OPENAI", defaultModel: "gpt-4o-mini"},
	// Kimi uses OpenAI-compatible API via BytePlus ModelArk
	"kimi":     {prefix: "KIMI", defaultModel: "kimi-k2-250711", baseURL: "https://ark.ap-southeast.bytepluses.com/api/v3"},
	"lmstudio": {prefix: "LMSTUDIO", defaultModel: "local-model", baseURL: "http://localhost:1234/v1", defaultKey: "lm-studio"},
	"ollama":   {prefix: "OLLAMA", defaultModel: "llama3.1", baseURL: "http://localhost:11434/v1", defaultKey: "ollama"},
	"glm":      {prefix: "GLM", defaultModel: "glm-4-plus", baseURL: "https://open.bigmodel.cn/api/paas/v4"},
	"minimax":  {prefix: "MINIMAX", defaultModel: "abab6.5s-chat", baseURL: "https://api.minimax.chat/v1"},
	"deepseek": {prefix: "DEEPSEEK", defaultModel: "deepseek-chat", baseURL: "https://api.deepseek.com/v1"},
	"groq":     {prefix: "GROQ", defaultModel: "llama-3.1-70b-versatile", baseURL: "https://api.groq.com/openai/v1"},
}

// SupportedProviders lists every provider name BackendFromEnv accepts.
func SupportedProviders() []string {
	names := []string{"anthropic", "gemini"}
	for name := range compatibleProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProvidersFromEnv returns the provider order from GENCODE_PROVIDERS
// (comma separated), falling back to LLM_PROVIDER and then "openai".
func ProvidersFromEnv() []string {
	if list := os.Getenv("GENCODE_PROVIDERS"); list != "" {
		return splitList(list)
	}
	if p := os.Getenv("LLM_PROVIDER"); p != "" {
		return []string{p}
	}
	return []string{"openai"}
}

// BackendsFromEnv creates one backend per provider, in order.
func BackendsFromEnv(ctx context.Context, providers []string) ([]Backend, error) {
	if len(providers) == 0 {
		providers = ProvidersFromEnv()
	}
	backends := make([]Backend, 0, len(providers))
	for _, name := range providers {
		b, err := BackendFromEnv(ctx, name)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// BackendFromEnv creates the backend for provider from environment variables.
// Each provider reads <PREFIX>_API_KEY and <PREFIX>_MODEL; <PREFIX>_CHEAP_MODEL
// and <PREFIX>_REASONING_MODEL select the other tiers.
func BackendFromEnv(ctx context.Context, provider string) (Backend, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	switch provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return Backend{}, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		models := modelsFromEnv("ANTHROPIC", "claude-sonnet-4-5")
		return Backend{Name: provider, ModelName: models.Default, Model: NewAnthropicBackend(apiKey, models)}, nil

	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return Backend{}, fmt.Errorf("GEMINI_API_KEY not set")
		}
		models := modelsFromEnv("GEMINI", "gemini-2.5-flash")
		images := Models{
			Default: os.Getenv("GEMINI_IMAGE_MODEL"),
			Cheap:   os.Getenv("GEMINI_CHEAP_IMAGE_MODEL"),
		}
		client, err := NewGeminiBackend(ctx, apiKey, models, images)
		if err != nil {
			return Backend{}, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		b := Backend{Name: provider, ModelName: models.Default, Model: client}
		if client.SupportsImages() {
			b.Images = client
		}
		return b, nil
	}

	p, ok := compatibleProviders[provider]
	if !ok {
		return Backend{}, fmt.Errorf("unknown provider: %s (supported: %s)", provider, strings.Join(SupportedProviders(), ", "))
	}
	apiKey := os.Getenv(p.prefix + "_API_KEY")
	if apiKey == "" {
		apiKey = p.defaultKey
	}
	if apiKey == "" {
		return Backend{}, fmt.Errorf("%s_API_KEY not set", p.prefix)
	}
	baseURL := os.Getenv(p.prefix + "_BASE_URL")
	if baseURL == "" {
		baseURL = p.baseURL
	}

	cfg := OpenAIConfig{
		Name:    provider,
		APIKey:  apiKey,
		BaseURL: baseURL,
		Models:  modelsFromEnv(p.prefix, p.defaultModel),
	}
	if provider == "openai" {
		cfg.ImageModels = Models{
			Default: envOr("OPENAI_IMAGE_MODEL", "dall-e-3"),
			Cheap:   envOr("OPENAI_CHEAP_IMAGE_MODEL", "dall-e-2"),
		}
	}
	client := NewOpenAIBackend(cfg)
	b := Backend{Name: provider, ModelName: cfg.Models.Default, Model: client}
	if client.SupportsImages() {
		b.Images = client
	}
	return b, nil
}

func modelsFromEnv(prefix, defaultModel string) Models {
	return Models{
		Default:   envOr(prefix+"_MODEL", defaultModel),
		Cheap:     os.Getenv(prefix + "_CHEAP_MODEL"),
		Reasoning: os.Getenv(prefix + "_REASONING_MODEL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
