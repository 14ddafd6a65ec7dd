// Package engine provides the conversation model and the action dispatch loop.
// This file contains token counting interfaces and implementations.

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer provides token counting for text.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text for the specified model.
	CountTokens(text string, model string) (int, error)
}

// EstimateTokens provides a rough token count estimation.
// Uses a simple heuristic: ~4 characters per token for English/code.
// The estimate is deterministic and never decreases as text grows.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	charCount := len([]rune(text))

	// Whitespace-heavy text has fewer characters per token
	whitespaceCount := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (charCount / 4) + (whitespaceCount / 6)

	if estimated < 1 {
		return 1
	}

	return estimated
}

// EstimateValueTokens estimates a structured value by its JSON encoding.
// Strings are estimated directly.
func EstimateValueTokens(v any) int {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		return EstimateTokens(x)
	case []byte:
		return EstimateTokens(string(x))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return EstimateTokens(fmt.Sprintf("%v", v))
	}
	return EstimateTokens(string(data))
}

// DefaultTokenizer uses estimation as a fallback when no specific tokenizer is available.
type DefaultTokenizer struct{}

// CountTokens implements Tokenizer using estimation.
func (t DefaultTokenizer) CountTokens(text string, model string) (int, error) {
	return EstimateTokens(text), nil
}

// TiktokenCounter counts tokens with the BPE encodings used by OpenAI models.
// Encodings are loaded lazily; any failure falls back to estimation.
type TiktokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	failed    map[string]bool
}

// NewTiktokenCounter returns a counter with an empty encoding cache.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{
		encodings: make(map[string]*tiktoken.Tiktoken),
		failed:    make(map[string]bool),
	}
}

// CountTokens implements Tokenizer.
func (c *TiktokenCounter) CountTokens(text string, model string) (int, error) {
	if text == "" {
		return 0, nil
	}
	enc := c.encoding(model)
	if enc == nil {
		return EstimateTokens(text), nil
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (c *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[model]; ok {
		return enc
	}
	if c.failed[model] {
		return nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		c.failed[model] = true
		return nil
	}
	c.encodings[model] = enc
	return enc
}

// CountTokensForMessages counts tokens for transcript turns, including a small
// per-turn formatting overhead.
func CountTokensForMessages(tokenizer Tokenizer, messages []Message, model string) (int, error) {
	total := 0

	for _, msg := range messages {
		roleTokens, err := tokenizer.CountTokens(string(msg.Role), model)
		if err != nil {
			return 0, fmt.Errorf("failed to count role tokens: %w", err)
		}
		total += roleTokens

		textTokens, err := tokenizer.CountTokens(msg.Text, model)
		if err != nil {
			return 0, fmt.Errorf("failed to count text tokens: %w", err)
		}
		total += textTokens

		for _, fc := range msg.FunctionCalls {
			args, _ := json.Marshal(fc.Args)
			n, err := tokenizer.CountTokens(fc.Name+string(args), model)
			if err != nil {
				return 0, fmt.Errorf("failed to count function call tokens: %w", err)
			}
			total += n
		}
		for _, fr := range msg.FunctionResponses {
			n, err := tokenizer.CountTokens(fr.Name+fr.Content, model)
			if err != nil {
				return 0, fmt.Errorf("failed to count function response tokens: %w", err)
			}
			total += n
		}

		total += 4
	}

	return total, nil
}

// GetTokenizerForModel returns an appropriate tokenizer for the given model.
func GetTokenizerForModel(model string) Tokenizer {
	if strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") {
		return sharedTiktoken()
	}
	return DefaultTokenizer{}
}

var (
	tiktokenOnce   sync.Once
	tiktokenShared *TiktokenCounter
)

func sharedTiktoken() *TiktokenCounter {
	tiktokenOnce.Do(func() { tiktokenShared = NewTiktokenCounter() })
	return tiktokenShared
}
