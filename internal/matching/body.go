package matching

import (
	"strings"

	"github.com/getstubd/stubd/pkg/interaction"
)

// checkBody dispatches to the declared body dimension: GraphQL,
// structural JSON (with matcher nodes) or a raw string, plus any
// JSONPath conditions.
func checkBody(p *interaction.RequestPattern, r *LiveRequest) []Mismatch {
	var ms []Mismatch
	if p.GraphQL != nil {
		ms = append(ms, checkGraphQL(p.GraphQL, r)...)
	} else if p.Body != nil {
		ms = append(ms, matchBodyPattern(p.Body, r)...)
	}
	if len(p.BodyJSONPath) > 0 {
		ms = append(ms, checkJSONPath(p.BodyJSONPath, r)...)
	}
	return ms
}

func matchBodyPattern(expected any, r *LiveRequest) []Mismatch {
	// A string pattern matches the raw body verbatim, ignoring edge
	// whitespace. Everything else is structural JSON matching.
	if want, ok := expected.(string); ok {
		got := strings.TrimSpace(string(r.Body))
		if strings.TrimSpace(want) == got {
			return nil
		}
		return []Mismatch{{Path: "body", Expected: describeValue(want), Actual: describeValue(got)}}
	}

	if len(r.Body) == 0 {
		return []Mismatch{{Path: "body", Expected: describeValue(expected), Actual: "<empty body>"}}
	}
	actual, err := r.JSONBody()
	if err != nil {
		return []Mismatch{{Path: "body", Expected: "JSON body", Actual: "unparseable: " + err.Error()}}
	}
	return matchValue("body", expected, actual)
}
