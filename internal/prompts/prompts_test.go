package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

func TestRegistryGetLatest(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: "1.0.0", Content: "one"})
	r.Register(&Prompt{ID: "p", Version: "1.10.0", Content: "two"})
	r.Register(&Prompt{ID: "p", Version: "1.9.0", Content: "nine"})
	r.Register(&Prompt{ID: "p", Version: "2.0.0", Content: "three", Deprecated: true})
	r.Register(&Prompt{ID: "old", Version: "1.0.0", Content: "gone", Deprecated: true})

	p, err := r.GetLatest("p")
	require.NoError(t, err)
	assert.Equal(t, "two", p.Content)

	p, err = r.GetLatest("old")
	require.NoError(t, err)
	assert.Equal(t, "gone", p.Content)

	_, err = r.GetLatest("missing")
	require.Error(t, err)

	_, err = r.Get("p", "9.9.9")
	require.ErrorContains(t, err, "version 9.9.9")
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b PromptVersion
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.9.0", "1.10.0", -1},
		{"2.0.0", "1.99.9", 1},
		{"1.0", "1.0.1", -1},
		{"1.0.0-rc1", "1.0.0", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestBuilderVariablesAndRules(t *testing.T) {
	r := NewPromptRegistry()
	r.Register(&Prompt{ID: "p", Version: PromptV1, Content: "Root: {{root}}"})

	b, err := NewPromptBuilder(r, "p", PromptV1)
	require.NoError(t, err)
	out, err := b.SetVariable("root", "/src").BuildWithRules("  Use {{tabs}}.  ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Root: /src\n\n[PROJECT RULES]"))
	assert.True(t, strings.HasSuffix(out, "Use {{tabs}}."))

	b, err = NewPromptBuilder(r, "p", "")
	require.NoError(t, err)
	_, err = b.Build()
	require.ErrorContains(t, err, "{{root}}")
}

func TestSystemPrompt(t *testing.T) {
	out, err := System("/work/app", "go project (go.mod)", engine.Permissions{AllowFileCreate: true}, "")
	require.NoError(t, err)
	assert.Contains(t, out, "ONE go project (go.mod) rooted at /work/app")
	assert.Contains(t, out, "granted: allowFileCreate; not granted: allowFileDelete, allowDirectoryCreate, allowFileMove")
	assert.NotContains(t, out, "{{")
	assert.NotContains(t, out, "[PROJECT RULES]")

	all := engine.Permissions{AllowFileCreate: true, AllowFileDelete: true, AllowDirectoryCreate: true, AllowFileMove: true}
	out, err = System("/work/app", "node project", all, "No new dependencies.")
	require.NoError(t, err)
	assert.Contains(t, out, "(all granted)")
	assert.Contains(t, out, "No new dependencies.")
}
