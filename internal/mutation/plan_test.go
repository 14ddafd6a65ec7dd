package mutation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(layer []FileUpdate) []string {
	out := make([]string, len(layer))
	for i, u := range layer {
		out[i] = u.ID
	}
	return out
}

func layerIDs(p Plan) [][]string {
	var out [][]string
	for _, l := range p.Layers {
		out = append(out, ids(l))
	}
	return out
}

func TestNewPlan(t *testing.T) {
	tests := []struct {
		name     string
		updates  []FileUpdate
		want     [][]string
		rejected [][]string
	}{
		{
			name:    "chain",
			updates: []FileUpdate{{ID: "1"}, {ID: "2", DependsOn: []string{"1"}}},
			want:    [][]string{{"1"}, {"2"}},
		},
		{
			name:    "declaration order does not matter",
			updates: []FileUpdate{{ID: "2", DependsOn: []string{"1"}}, {ID: "1"}},
			want:    [][]string{{"1"}, {"2"}},
		},
		{
			name: "diamond",
			updates: []FileUpdate{
				{ID: "d", DependsOn: []string{"b", "c"}},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"a"}},
				{ID: "a"},
			},
			want: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "cycle rejects only its component",
			updates: []FileUpdate{
				{ID: "A", DependsOn: []string{"B"}},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "C"},
			},
			want:     [][]string{{"C"}},
			rejected: [][]string{{"A", "B"}},
		},
		{
			name: "dependents of a cycle are rejected with it",
			updates: []FileUpdate{
				{ID: "A", DependsOn: []string{"B"}},
				{ID: "B", DependsOn: []string{"A"}},
				{ID: "D", DependsOn: []string{"A"}},
			},
			rejected: [][]string{{"A", "B", "D"}},
		},
		{
			name: "dangling dependency",
			updates: []FileUpdate{
				{ID: "1", DependsOn: []string{"missing"}},
				{ID: "2", DependsOn: []string{"1"}},
				{ID: "3"},
			},
			want:     [][]string{{"3"}},
			rejected: [][]string{{"1", "2"}},
		},
		{
			name:     "self dependency",
			updates:  []FileUpdate{{ID: "1", DependsOn: []string{"1"}}},
			rejected: [][]string{{"1"}},
		},
		{
			name:     "duplicate id",
			updates:  []FileUpdate{{ID: "1"}, {ID: "1"}, {ID: "2"}},
			want:     [][]string{{"2"}},
			rejected: [][]string{{"1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlan(tt.updates)
			assert.Equal(t, tt.want, layerIDs(p))
			var rejected [][]string
			for _, e := range p.Errors {
				rejected = append(rejected, e.Rejected)
				assert.NotEmpty(t, e.Error())
			}
			assert.Equal(t, tt.rejected, rejected)
		})
	}
}

func TestPlanCycleError(t *testing.T) {
	p := NewPlan([]FileUpdate{{ID: "A", DependsOn: []string{"B"}}, {ID: "B", DependsOn: []string{"A", "Z"}}})
	require.Len(t, p.Errors, 1)
	e := p.Errors[0]
	assert.Equal(t, []string{"A", "B"}, e.Cycle)
	assert.Equal(t, map[string][]string{"B": {"Z"}}, e.Dangling)
	assert.Contains(t, e.Error(), "cycle between A, B")
	assert.Contains(t, e.Error(), "B depends on unknown Z")
	assert.Equal(t, 0, p.Len())
}
