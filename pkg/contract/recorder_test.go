package contract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getstubd/stubd/pkg/interaction"
)

func contractInteraction(id, state, uponReceiving string) *interaction.Interaction {
	return &interaction.Interaction{
		ID:            id,
		Kind:          interaction.KindContract,
		Provider:      "order-service",
		State:         state,
		UponReceiving: uponReceiving,
		Request: &interaction.RequestPattern{
			Method: "GET",
			Path:   "/api/orders",
		},
		Response: &interaction.ResponseDescriptor{Status: 200},
	}
}

func recordExercise(t *testing.T, rec *Recorder, in *interaction.Interaction, body any) {
	t.Helper()
	rec.Record(in,
		RecordedRequest{Method: in.Request.Method, Path: in.Request.Path},
		in.Response,
		interaction.ResolvedResponse{
			Status:  in.Response.Status,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    body,
		})
}

func TestBuildDocumentShape(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "orders exist", "a request for orders")
	recordExercise(t, rec, in, map[string]any{"items": []any{}})

	doc, warnings := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})

	require.Empty(t, warnings)
	assert.Equal(t, "checkout-ui", doc.Consumer.Name)
	assert.Equal(t, "order-service", doc.Provider.Name)
	assert.Equal(t, SpecVersion, doc.Metadata.PactSpecification.Version)
	require.Len(t, doc.Interactions, 1)

	entry := doc.Interactions[0]
	assert.Equal(t, "a request for orders", entry.Description)
	assert.Equal(t, "orders exist", entry.ProviderState)
	assert.Equal(t, "GET", entry.Request.Method)
	assert.Equal(t, "/api/orders", entry.Request.Path)
	assert.Equal(t, 200, entry.Response.Status)
	assert.Equal(t, map[string]any{"items": []any{}}, entry.Response.Body)
}

func TestBuildDeduplicatesKeepingLatestExercise(t *testing.T) {
	rec := NewRecorder(nil)
	first := contractInteraction("a", "orders exist", "a request for orders")
	second := contractInteraction("b", "orders exist", "a request for orders")

	recordExercise(t, rec, second, map[string]any{"rev": 2})
	recordExercise(t, rec, first, map[string]any{"rev": 1})

	doc, warnings := rec.Build("order-service", "checkout-ui",
		[]*interaction.Interaction{first, second})

	assert.Empty(t, warnings)
	require.Len(t, doc.Interactions, 1)
	assert.Equal(t, map[string]any{"rev": 1}, doc.Interactions[0].Response.Body,
		"the exercise recorded last wins, regardless of registration order")
}

func TestBuildReRecordingReplacesEarlierExercise(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "", "a request for orders")

	recordExercise(t, rec, in, map[string]any{"rev": 1})
	recordExercise(t, rec, in, map[string]any{"rev": 2})

	assert.Equal(t, 1, rec.Count())

	doc, _ := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})
	require.Len(t, doc.Interactions, 1)
	assert.Equal(t, map[string]any{"rev": 2}, doc.Interactions[0].Response.Body)
}

func TestBuildOrdersByFirstRegistration(t *testing.T) {
	rec := NewRecorder(nil)
	orders := contractInteraction("a", "", "a request for orders")
	refunds := contractInteraction("b", "", "a request for refunds")
	ordersAgain := contractInteraction("c", "", "a request for orders")

	// Only the re-registered duplicate is exercised for the first
	// description; its entry still takes the original slot.
	recordExercise(t, rec, refunds, nil)
	recordExercise(t, rec, ordersAgain, map[string]any{"rev": 3})

	doc, warnings := rec.Build("order-service", "checkout-ui",
		[]*interaction.Interaction{orders, refunds, ordersAgain})

	require.Len(t, doc.Interactions, 2)
	assert.Equal(t, "a request for orders", doc.Interactions[0].Description)
	assert.Equal(t, "a request for refunds", doc.Interactions[1].Description)
	assert.Equal(t, map[string]any{"rev": 3}, doc.Interactions[0].Response.Body)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "a request for orders")
}

func TestBuildWarnsAboutUnexercisedInteractions(t *testing.T) {
	rec := NewRecorder(nil)
	exercised := contractInteraction("a", "", "a request for orders")
	skipped := contractInteraction("b", "", "a request for refunds")
	recordExercise(t, rec, exercised, nil)

	doc, warnings := rec.Build("order-service", "checkout-ui",
		[]*interaction.Interaction{exercised, skipped})

	require.Len(t, doc.Interactions, 1)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], `"a request for refunds"`)
	assert.Contains(t, warnings[0], "never exercised")
}

func TestBuildIgnoresMockInteractions(t *testing.T) {
	rec := NewRecorder(nil)
	mock := contractInteraction("a", "", "a request for orders")
	mock.Kind = interaction.KindMock

	rec.Record(mock, RecordedRequest{Method: "GET", Path: "/api/orders"},
		mock.Response, interaction.ResolvedResponse{Status: 200})

	assert.Zero(t, rec.Count())
}

func TestBuildDerivesMatchingRules(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "orders exist", "a request for orders")
	in.Request.Headers = map[string]any{
		"Authorization": interaction.Term("Bearer abc123", `^Bearer \S+$`),
	}
	in.Request.Body = map[string]any{
		"items": interaction.EachLikeMin(map[string]any{
			"id": interaction.Like(1),
		}, 2),
	}
	in.Request.Method = "POST"
	in.Response.Body = map[string]any{"total": interaction.Like(19.99)}

	recordExercise(t, rec, in, map[string]any{"total": 19.99})

	doc, _ := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})
	require.Len(t, doc.Interactions, 1)
	entry := doc.Interactions[0]

	require.Contains(t, entry.Request.MatchingRules, "$.headers.Authorization")
	assert.Equal(t, MatchingRule{Match: "regex", Regex: `^Bearer \S+$`},
		entry.Request.MatchingRules["$.headers.Authorization"])
	assert.Equal(t, MatchingRule{Match: "type", Min: 2},
		entry.Request.MatchingRules["$.body.items"])
	assert.Equal(t, MatchingRule{Match: "type"},
		entry.Request.MatchingRules["$.body.items[*].id"])
	assert.Equal(t, MatchingRule{Match: "type"},
		entry.Response.MatchingRules["$.body.total"])

	assert.Equal(t, "Bearer abc123", entry.Request.Headers["Authorization"])
	body, ok := entry.Request.Body.(map[string]any)
	require.True(t, ok)
	items, ok := body["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2, "eachLike min dictates how many examples appear")
}

func TestBuildGraphQLRequestBody(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "", "a graphql query for orders")
	in.Request.Method = "POST"
	in.Request.Path = "/graphql"
	in.Request.GraphQL = &interaction.GraphQLRequest{
		Query:         "query Orders { orders { id } }",
		OperationName: "Orders",
		Variables:     map[string]any{"limit": interaction.Like(10)},
	}

	recordExercise(t, rec, in, nil)

	doc, _ := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})
	require.Len(t, doc.Interactions, 1)
	entry := doc.Interactions[0]

	body, ok := entry.Request.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "query Orders { orders { id } }", body["query"])
	assert.Equal(t, "Orders", body["operationName"])
	assert.Equal(t, map[string]any{"limit": 10}, body["variables"])
	assert.Equal(t, MatchingRule{Match: "type"},
		entry.Request.MatchingRules["$.body.variables.limit"])
}

func TestBuildUsesRecordedPathForTemplatedPatterns(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "order 42 exists", "a request for one order")
	in.Request.Path = "/api/orders/{id}"

	rec.Record(in, RecordedRequest{Method: "GET", Path: "/api/orders/42"},
		in.Response, interaction.ResolvedResponse{Status: 200})

	doc, _ := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})
	require.Len(t, doc.Interactions, 1)
	assert.Equal(t, "/api/orders/42", doc.Interactions[0].Request.Path)
}

func TestResetDiscardsExercises(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "", "a request for orders")
	recordExercise(t, rec, in, nil)
	require.Equal(t, 1, rec.Count())

	rec.Reset()

	assert.Zero(t, rec.Count())
	_, warnings := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})
	assert.Len(t, warnings, 1)
}

func TestWriteFile(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "orders exist", "a request for orders")
	recordExercise(t, rec, in, map[string]any{"items": []any{}})
	doc, _ := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})

	dir := t.TempDir()
	path, err := doc.WriteFile(filepath.Join(dir, "pacts"))
	require.NoError(t, err)
	assert.Equal(t, "checkout-ui-order-service.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	consumer, ok := decoded["consumer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "checkout-ui", consumer["name"])
	metadata, ok := decoded["metadata"].(map[string]any)
	require.True(t, ok)
	spec, ok := metadata["pactSpecification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, SpecVersion, spec["version"])
}

func TestWriteAll(t *testing.T) {
	rec := NewRecorder(nil)
	in := contractInteraction("a", "", "a request for orders")
	recordExercise(t, rec, in, nil)
	doc, _ := rec.Build("order-service", "checkout-ui", []*interaction.Interaction{in})

	dir := t.TempDir()
	paths, err := WriteAll(dir, []Document{doc})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	_, err = os.Stat(paths[0])
	assert.NoError(t, err)
}
