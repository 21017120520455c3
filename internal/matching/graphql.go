package matching

import (
	"bytes"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/getstubd/stubd/pkg/interaction"
)

// NormalizeQuery reduces a GraphQL query to a canonical form so that
// formatting and whitespace differences never break a match. Queries
// that do not parse fall back to whitespace collapsing, which keeps
// diagnostics useful for malformed requests.
func NormalizeQuery(query string) string {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return strings.Join(strings.Fields(query), " ")
	}
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// checkGraphQL matches the live body as a GraphQL request document:
// {"query": ..., "variables": ..., "operationName": ...}.
func checkGraphQL(g *interaction.GraphQLRequest, r *LiveRequest) []Mismatch {
	body, err := r.JSONBody()
	if err != nil {
		return []Mismatch{{Path: "body", Expected: "GraphQL request body", Actual: "unparseable: " + err.Error()}}
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return []Mismatch{{Path: "body", Expected: "GraphQL request body", Actual: describeValue(body)}}
	}

	var ms []Mismatch
	actualQuery, _ := obj["query"].(string)
	if actualQuery == "" {
		ms = append(ms, Mismatch{Path: "body.query", Expected: "a GraphQL query", Actual: "<absent>"})
	} else if NormalizeQuery(g.Query) != r.normalizedQuery() {
		ms = append(ms, Mismatch{
			Path:     "body.query",
			Expected: "query equivalent to " + describeValue(g.Query),
			Actual:   describeValue(actualQuery),
		})
	}

	if g.OperationName != "" {
		actualOp, _ := obj["operationName"].(string)
		if actualOp != g.OperationName {
			ms = append(ms, Mismatch{Path: "body.operationName", Expected: g.OperationName, Actual: describeValue(actualOp)})
		}
	}

	if g.Variables != nil {
		actualVars, _ := obj["variables"].(map[string]any)
		if actualVars == nil {
			actualVars = map[string]any{}
		}
		ms = append(ms, matchObject("body.variables", g.Variables, actualVars, false)...)
	}
	return ms
}
