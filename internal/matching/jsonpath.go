package matching

import (
	"github.com/ohler55/ojg/jp"
)

// existsSentinel requires only that a JSONPath resolves to a value.
const existsSentinel = "$exists"

// checkJSONPath evaluates JSONPath conditions against the JSON body.
// Each key is an expression such as "$.user.id"; the value is either a
// literal the resolved value must equal or the "$exists" sentinel.
func checkJSONPath(conditions map[string]any, r *LiveRequest) []Mismatch {
	body, err := r.JSONBody()
	if err != nil {
		return []Mismatch{{Path: "body", Expected: "JSON body", Actual: "unparseable: " + err.Error()}}
	}

	var ms []Mismatch
	for _, expr := range sortedKeys(conditions) {
		path := "body@" + expr
		x, err := jp.ParseString(expr)
		if err != nil {
			// Unreachable after validation.
			ms = append(ms, Mismatch{Path: path, Expected: "parseable JSONPath", Actual: err.Error()})
			continue
		}

		results := x.Get(body)
		want := conditions[expr]

		if s, ok := want.(string); ok && s == existsSentinel {
			if len(results) == 0 {
				ms = append(ms, Mismatch{Path: path, Expected: "a value at this path", Actual: "<absent>"})
			}
			continue
		}

		if len(results) == 0 {
			ms = append(ms, Mismatch{Path: path, Expected: describeValue(want), Actual: "<absent>"})
			continue
		}
		if !anyEqual(want, results) {
			ms = append(ms, Mismatch{Path: path, Expected: describeValue(want), Actual: describeValue(results[0])})
		}
	}
	return ms
}

func anyEqual(want any, results []any) bool {
	for _, got := range results {
		if structuralEqual(want, got) {
			return true
		}
	}
	return false
}
