package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getstubd/stubd/pkg/interaction"
)

func jsonPathPattern(conditions map[string]any) *interaction.RequestPattern {
	return &interaction.RequestPattern{Method: "POST", Path: "/x", BodyJSONPath: conditions}
}

func TestMatchJSONPath(t *testing.T) {
	body := `{"user": {"id": 42, "name": "ada"}, "items": [{"sku": "a"}, {"sku": "b"}]}`

	tests := []struct {
		name       string
		conditions map[string]any
		want       bool
		wantPaths  []string
	}{
		{
			name:       "literal value at path",
			conditions: map[string]any{"$.user.id": 42},
			want:       true,
		},
		{
			name:       "numeric coercion",
			conditions: map[string]any{"$.user.id": 42.0},
			want:       true,
		},
		{
			name:       "exists sentinel",
			conditions: map[string]any{"$.user.name": "$exists"},
			want:       true,
		},
		{
			name:       "exists fails on absent path",
			conditions: map[string]any{"$.user.email": "$exists"},
			want:       false,
			wantPaths:  []string{"body@$.user.email"},
		},
		{
			name:       "wrong value",
			conditions: map[string]any{"$.user.id": 7},
			want:       false,
			wantPaths:  []string{"body@$.user.id"},
		},
		{
			name:       "absent path with literal",
			conditions: map[string]any{"$.user.role": "admin"},
			want:       false,
			wantPaths:  []string{"body@$.user.role"},
		},
		{
			name:       "wildcard matches any element",
			conditions: map[string]any{"$.items[*].sku": "b"},
			want:       true,
		},
		{
			name: "multiple conditions all required",
			conditions: map[string]any{
				"$.user.id":   42,
				"$.user.name": "grace",
			},
			want:      false,
			wantPaths: []string{"body@$.user.name"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(jsonPathPattern(tt.conditions), bodyRequest(body), Options{})
			assert.Equal(t, tt.want, res.Matched, "mismatches: %v", res.Mismatches)
			if tt.wantPaths != nil {
				assert.Equal(t, tt.wantPaths, mismatchPaths(res))
			}
		})
	}
}

func TestMatchJSONPathUnparseableBody(t *testing.T) {
	res := Match(jsonPathPattern(map[string]any{"$.a": 1}), bodyRequest("nope{"), Options{})
	require.False(t, res.Matched)
	assert.Equal(t, []string{"body"}, mismatchPaths(res))
}

func TestJSONPathAlongsideStructuralBody(t *testing.T) {
	p := &interaction.RequestPattern{
		Method:       "POST",
		Path:         "/x",
		Body:         interaction.Contains(map[string]any{"user": interaction.Like(map[string]any{"id": 1})}),
		BodyJSONPath: map[string]any{"$.user.id": 42},
	}
	res := Match(p, bodyRequest(`{"user": {"id": 42}, "extra": true}`), Options{})
	assert.True(t, res.Matched, "mismatches: %v", res.Mismatches)
}
