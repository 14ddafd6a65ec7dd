package providers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// Models names the model used for each tier. Empty tiers fall back to Default.
type Models struct {
	Default   string
	Cheap     string
	Reasoning string
}

// For returns the model for tier.
func (m Models) For(tier engine.ModelTier) string {
	switch tier {
	case engine.TierCheap:
		if m.Cheap != "" {
			return m.Cheap
		}
	case engine.TierReasoning:
		if m.Reasoning != "" {
			return m.Reasoning
		}
	}
	return m.Default
}

// splitSystem separates the system prompt from the conversation turns and
// merges consecutive user turns. Providers that require alternating roles
// reject two user turns in a row, which happens when a notice follows a
// function response.
func splitSystem(transcript []engine.Message) (string, []engine.Message) {
	var system []string
	turns := make([]engine.Message, 0, len(transcript))
	for _, m := range transcript {
		if m.Role == engine.RoleSystem {
			if m.Text != "" {
				system = append(system, m.Text)
			}
			continue
		}
		if n := len(turns); n > 0 && m.Role == engine.RoleUser && turns[n-1].Role == engine.RoleUser {
			prev := &turns[n-1]
			prev.Text = joinText(prev.Text, m.Text)
			prev.FunctionResponses = append(prev.FunctionResponses, m.FunctionResponses...)
			prev.Images = append(prev.Images, m.Images...)
			prev.Cache = prev.Cache || m.Cache
			continue
		}
		turns = append(turns, cloneMessage(m))
	}
	return strings.Join(system, "\n\n"), turns
}

func cloneMessage(m engine.Message) engine.Message {
	m.FunctionCalls = append([]engine.FunctionCall(nil), m.FunctionCalls...)
	m.FunctionResponses = append([]engine.FunctionResponse(nil), m.FunctionResponses...)
	m.Images = append([]engine.ImageAttachment(nil), m.Images...)
	return m
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}

// decodeSchema parses a FunctionDef's parameter schema.
func decodeSchema(def engine.FunctionDef) (map[string]any, error) {
	schema := map[string]any{"type": "object", "properties": map[string]any{}}
	if def.Parameters == "" {
		return schema, nil
	}
	if err := json.Unmarshal([]byte(def.Parameters), &schema); err != nil {
		return nil, fmt.Errorf("invalid schema JSON for %s: %w", def.Name, err)
	}
	return schema, nil
}

// parseArgs decodes call arguments. Malformed JSON yields an empty map so the
// validator can ask the model to correct it.
func parseArgs(raw []byte) map[string]any {
	args := make(map[string]any)
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return make(map[string]any)
	}
	return args
}

func encodeArgs(args map[string]any) string {
	if args == nil {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// responseContent never returns an empty body; some providers reject it.
func responseContent(r engine.FunctionResponse) string {
	if r.Content == "" {
		return "{}"
	}
	return r.Content
}

// ensureCallIDs assigns ids to calls the provider returned without one.
func ensureCallIDs(calls []engine.FunctionCall) []engine.FunctionCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = engine.NewCallID()
		}
	}
	return calls
}

func imageBytes(img engine.ImageAttachment) ([]byte, error) {
	return base64.StdEncoding.DecodeString(img.Base64)
}

func dataURL(img engine.ImageAttachment) string {
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + img.Base64
}

// extractErrorMetadata extracts HTTP status code and Retry-After header from an error.
// SDK errors do not share a type, so the message is inspected.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	errStr := err.Error()
	var httpStatus int
	var retryAfter string

	// Common patterns: "429", "status code 429", "HTTP 429"
	switch {
	case strings.Contains(errStr, "429"):
		httpStatus = http.StatusTooManyRequests
	case strings.Contains(errStr, "529"):
		httpStatus = 529
	case strings.Contains(errStr, "500"):
		httpStatus = http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		httpStatus = http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		httpStatus = http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		httpStatus = http.StatusGatewayTimeout
	case strings.Contains(errStr, "401"):
		httpStatus = http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		httpStatus = http.StatusForbidden
	case strings.Contains(errStr, "400"):
		httpStatus = http.StatusBadRequest
	case strings.Contains(errStr, "402"):
		httpStatus = http.StatusPaymentRequired
	}

	lower := strings.ToLower(errStr)
	for _, marker := range []string{"retry-after", "retry after"} {
		if idx := strings.Index(lower, marker); idx != -1 {
			parts := strings.Fields(strings.TrimLeft(errStr[idx+len(marker):], ": "))
			if len(parts) > 0 {
				retryAfter = parts[0]
			}
			break
		}
	}

	return httpStatus, retryAfter
}

func wrapError(provider string, err error) error {
	httpStatus, retryAfter := extractErrorMetadata(err)
	return engine.WrapLLMError(provider, err, httpStatus, retryAfter)
}
