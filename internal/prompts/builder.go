package prompts

import (
	"fmt"
	"strings"
)

// PromptBuilder helps compose prompts from fragments and variables.
type PromptBuilder struct {
	fragments []string
	variables map[string]string
}

// NewPromptBuilder creates a new prompt builder based on a registered prompt.
// An empty version selects the latest one.
func NewPromptBuilder(registry *PromptRegistry, id string, version PromptVersion) (*PromptBuilder, error) {
	var (
		base *Prompt
		err  error
	)
	if version == "" {
		base, err = registry.GetLatest(id)
	} else {
		base, err = registry.Get(id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get base prompt: %w", err)
	}

	return &PromptBuilder{
		fragments: []string{base.Content},
		variables: make(map[string]string),
	}, nil
}

// AddFragment appends a fragment to the prompt.
func (b *PromptBuilder) AddFragment(text string) *PromptBuilder {
	b.fragments = append(b.fragments, text)
	return b
}

// SetVariable sets a variable for template substitution.
func (b *PromptBuilder) SetVariable(key, value string) *PromptBuilder {
	b.variables[key] = value
	return b
}

// Build constructs the final prompt string. Variables left unset in the base
// prompt are an error; fragments are taken as they are.
func (b *PromptBuilder) Build() (string, error) {
	base := b.fragments[0]
	// Simple {{key}} substitution
	for key, value := range b.variables {
		base = strings.ReplaceAll(base, fmt.Sprintf("{{%s}}", key), value)
	}
	if i := strings.Index(base, "{{"); i >= 0 {
		if end := strings.Index(base[i:], "}}"); end > 0 {
			return "", fmt.Errorf("unset prompt variable %s", base[i:i+end+2])
		}
	}

	return strings.Join(append([]string{base}, b.fragments[1:]...), "\n\n"), nil
}

// BuildWithRules appends the project's custom rules, if any.
func (b *PromptBuilder) BuildWithRules(rules string) (string, error) {
	if rules = strings.TrimSpace(rules); rules != "" {
		b.AddFragment("[PROJECT RULES]\nThe project owner set these rules. They take precedence over the defaults above.\n" + rules)
	}
	return b.Build()
}
