package interaction

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDecodeTree(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got any)
	}{
		{
			name:  "plain values pass through",
			input: `{"name": "ada", "age": 36}`,
			check: func(t *testing.T, got any) {
				m, ok := got.(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "ada", m["name"])
			},
		},
		{
			name:  "like node",
			input: `{"id": {"$match": "like", "value": 7}}`,
			check: func(t *testing.T, got any) {
				m := got.(map[string]any)
				n, ok := m["id"].(*Node)
				require.True(t, ok)
				assert.Equal(t, NodeLike, n.Kind)
				assert.Equal(t, float64(7), n.Value)
			},
		},
		{
			name:  "term node",
			input: `{"sku": {"$match": "term", "pattern": "^SKU-\\d+$", "generate": "SKU-42"}}`,
			check: func(t *testing.T, got any) {
				n := got.(map[string]any)["sku"].(*Node)
				assert.Equal(t, NodeTerm, n.Kind)
				assert.Equal(t, `^SKU-\d+$`, n.Pattern)
				assert.Equal(t, "SKU-42", n.Generate)
			},
		},
		{
			name:  "eachLike with min",
			input: `{"items": {"$match": "eachLike", "value": {"qty": 1}, "min": 2}}`,
			check: func(t *testing.T, got any) {
				n := got.(map[string]any)["items"].(*Node)
				assert.Equal(t, NodeEachLike, n.Kind)
				assert.Equal(t, 2, n.Min)
			},
		},
		{
			name:  "eachLike min defaults to one",
			input: `{"items": {"$match": "eachLike", "value": 0}}`,
			check: func(t *testing.T, got any) {
				n := got.(map[string]any)["items"].(*Node)
				assert.Equal(t, 1, n.Min)
			},
		},
		{
			name:  "nested nodes decode",
			input: `{"$match": "contains", "value": {"role": {"$match": "term", "pattern": "admin|user", "generate": "user"}}}`,
			check: func(t *testing.T, got any) {
				n, ok := got.(*Node)
				require.True(t, ok)
				assert.Equal(t, NodeContains, n.Kind)
				inner := n.Value.(map[string]any)["role"].(*Node)
				assert.Equal(t, NodeTerm, inner.Kind)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			require.NoError(t, json.Unmarshal([]byte(tt.input), &raw))
			got, err := DecodeTree(raw)
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestDecodeTreeUnknownKind(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{"$match": "fuzzy", "value": 1}`), &raw))
	_, err := DecodeTree(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fuzzy")
}

func TestDecodeTreeFromYAML(t *testing.T) {
	src := `
user:
  id:
    $match: like
    value: 12
  tags:
    $match: eachLike
    value: billing
    min: 1
`
	var raw any
	require.NoError(t, yaml.Unmarshal([]byte(src), &raw))
	got, err := DecodeTree(raw)
	require.NoError(t, err)

	user := got.(map[string]any)["user"].(map[string]any)
	idNode, ok := user["id"].(*Node)
	require.True(t, ok)
	assert.Equal(t, NodeLike, idNode.Kind)
	tagsNode, ok := user["tags"].(*Node)
	require.True(t, ok)
	assert.Equal(t, NodeEachLike, tagsNode.Kind)
	assert.Equal(t, "billing", tagsNode.Value)
}

func TestNodeMarshalRoundTrip(t *testing.T) {
	body := map[string]any{
		"id":    Like(7),
		"sku":   Term("SKU-42", `^SKU-\d+$`),
		"items": EachLikeMin(map[string]any{"qty": 1}, 2),
	}

	data, err := json.Marshal(body)
	require.NoError(t, err)

	var raw any
	require.NoError(t, json.Unmarshal(data, &raw))
	got, err := DecodeTree(raw)
	require.NoError(t, err)

	m := got.(map[string]any)
	assert.Equal(t, NodeLike, m["id"].(*Node).Kind)
	assert.Equal(t, NodeTerm, m["sku"].(*Node).Kind)
	items := m["items"].(*Node)
	assert.Equal(t, NodeEachLike, items.Kind)
	assert.Equal(t, 2, items.Min)
}

func TestResolveExamples(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  any
	}{
		{name: "literal passes through", input: "plain", want: "plain"},
		{name: "like yields payload", input: Like(5), want: 5},
		{name: "term yields generate", input: Term("abc", "^a"), want: "abc"},
		{
			name:  "equals resolves nested",
			input: Equals(map[string]any{"id": Like(9)}),
			want:  map[string]any{"id": 9},
		},
		{
			name:  "eachLike repeats min copies",
			input: EachLikeMin(map[string]any{"qty": Like(1)}, 2),
			want:  []any{map[string]any{"qty": 1}, map[string]any{"qty": 1}},
		},
		{
			name:  "eachLike min zero still yields one example",
			input: EachLikeMin("x", 0),
			want:  []any{"x"},
		},
		{
			name:  "contains resolves payload",
			input: Contains(map[string]any{"role": "admin"}),
			want:  map[string]any{"role": "admin"},
		},
		{
			name:  "tree resolves in place",
			input: map[string]any{"user": map[string]any{"id": Like(3)}, "ok": true},
			want:  map[string]any{"user": map[string]any{"id": 3}, "ok": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveExamples(tt.input))
		})
	}
}
