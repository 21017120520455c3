package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getstubd/stubd/pkg/interaction"
)

func TestRankOrdersByScore(t *testing.T) {
	candidates := []Candidate{
		{
			ID:      "far",
			Name:    "wrong everything",
			Pattern: &interaction.RequestPattern{Method: "DELETE", Path: "/other"},
		},
		{
			ID:      "close",
			Name:    "wrong method only",
			Pattern: &interaction.RequestPattern{Method: "POST", Path: "/api/orders"},
		},
		{
			ID:      "middle",
			Name:    "wrong path only",
			Pattern: &interaction.RequestPattern{Method: "GET", Path: "/api/users"},
		},
	}
	r := live("GET", "/api/orders")

	misses := Rank(candidates, r, Options{}, 0)
	require.Len(t, misses, 3)
	assert.Equal(t, "close", misses[0].InteractionID)
	assert.Equal(t, "middle", misses[1].InteractionID)
	assert.Equal(t, "far", misses[2].InteractionID)

	assert.Greater(t, misses[0].Score, misses[1].Score)
	assert.Equal(t, misses[0].MaxScore, scoreMethod+scorePath)
	assert.Equal(t, "method differs", misses[0].Reason)
	require.Len(t, misses[0].Mismatches, 1)
	assert.Equal(t, "method", misses[0].Mismatches[0].Path)
}

func TestRankTopN(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Pattern: &interaction.RequestPattern{Method: "POST", Path: "/x"}},
		{ID: "b", Pattern: &interaction.RequestPattern{Method: "PUT", Path: "/x"}},
		{ID: "c", Pattern: &interaction.RequestPattern{Method: "DELETE", Path: "/y"}},
	}
	misses := Rank(candidates, live("GET", "/x"), Options{}, 2)
	assert.Len(t, misses, 2)
}

func TestRankSkipsFullMatches(t *testing.T) {
	candidates := []Candidate{
		{ID: "hit", Pattern: &interaction.RequestPattern{Method: "GET", Path: "/x"}},
		{ID: "miss", Pattern: &interaction.RequestPattern{Method: "POST", Path: "/x"}},
	}
	misses := Rank(candidates, live("GET", "/x"), Options{}, 0)
	require.Len(t, misses, 1)
	assert.Equal(t, "miss", misses[0].InteractionID)
}

func TestRankReasonNamesDimensions(t *testing.T) {
	candidates := []Candidate{
		{
			ID: "multi",
			Pattern: &interaction.RequestPattern{
				Method:  "POST",
				Path:    "/orders",
				Headers: map[string]any{"X-Tenant": "acme"},
				Body:    map[string]any{"sku": "a"},
			},
		},
	}
	r := withBody(live("GET", "/orders"), `{"sku": "b"}`)

	misses := Rank(candidates, r, Options{}, 0)
	require.Len(t, misses, 1)
	assert.Equal(t, "method, header and body differ", misses[0].Reason)
	assert.Equal(t, scorePath, misses[0].Score)
	assert.Equal(t, scoreMethod+scorePath+scoreHeaders+scoreBody, misses[0].MaxScore)
}
