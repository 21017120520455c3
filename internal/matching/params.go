package matching

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/getstubd/stubd/pkg/interaction"
)

func checkMethod(expected, actual string) []Mismatch {
	if strings.EqualFold(expected, actual) {
		return nil
	}
	return []Mismatch{{Path: "method", Expected: expected, Actual: actual}}
}

// checkPath compares URL paths segment by segment. A "{param}" segment
// matches any single segment, "*" likewise. Trailing slashes are not
// significant except on the root path.
func checkPath(expected, actual string) []Mismatch {
	if pathMatches(expected, actual) {
		return nil
	}
	return []Mismatch{{Path: "path", Expected: expected, Actual: actual}}
}

func pathMatches(expected, actual string) bool {
	expected = trimPath(expected)
	actual = trimPath(actual)
	if expected == actual {
		return true
	}
	if !strings.ContainsAny(expected, "{*") {
		return false
	}

	expSegs := strings.Split(expected, "/")
	actSegs := strings.Split(actual, "/")
	if len(expSegs) != len(actSegs) {
		return false
	}
	for i, seg := range expSegs {
		if seg == "*" || (strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")) {
			if actSegs[i] == "" {
				return false
			}
			continue
		}
		if seg != actSegs[i] {
			return false
		}
	}
	return true
}

func trimPath(p string) string {
	if len(p) > 1 {
		return strings.TrimSuffix(p, "/")
	}
	return p
}

// PathParams extracts "{param}" segment values from an actual path that
// matches the pattern. Used to surface captures in the request log.
func PathParams(expected, actual string) map[string]string {
	if !strings.Contains(expected, "{") || !pathMatches(expected, actual) {
		return nil
	}
	expSegs := strings.Split(trimPath(expected), "/")
	actSegs := strings.Split(trimPath(actual), "/")
	params := make(map[string]string)
	for i, seg := range expSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && i < len(actSegs) {
			params[strings.Trim(seg, "{}")] = actSegs[i]
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// checkHeaders matches declared headers by case-insensitive name.
// Headers present on the request but not declared never count against
// the match.
func checkHeaders(expected map[string]any, r *LiveRequest) []Mismatch {
	var ms []Mismatch
	for _, name := range sortedKeys(expected) {
		path := "header." + name
		values := r.Header.Values(name)
		if len(values) == 0 {
			ms = append(ms, Mismatch{Path: path, Expected: describeValue(expected[name]), Actual: "<absent>"})
			continue
		}
		ms = append(ms, matchParam(path, expected[name], values[0])...)
	}
	return ms
}

// checkQuery matches declared query parameters. Undeclared keys are
// tolerated unless strict mode is on. A declared array matches the full
// multi-value list for that key.
func checkQuery(expected map[string]any, r *LiveRequest, strict bool) []Mismatch {
	var ms []Mismatch
	for _, key := range sortedKeys(expected) {
		path := "query." + key
		values, present := r.Query[key]
		if !present || len(values) == 0 {
			ms = append(ms, Mismatch{Path: path, Expected: describeValue(expected[key]), Actual: "<absent>"})
			continue
		}
		if list, ok := expected[key].([]any); ok {
			ms = append(ms, matchParamList(path, list, values)...)
			continue
		}
		ms = append(ms, matchParam(path, expected[key], values[0])...)
	}

	if strict {
		for key, values := range r.Query {
			if _, declared := expected[key]; declared {
				continue
			}
			actual := ""
			if len(values) > 0 {
				actual = values[0]
			}
			ms = append(ms, Mismatch{Path: "query." + key, Expected: "<absent> (undeclared key)", Actual: describeValue(actual)})
		}
	}
	return ms
}

func matchParamList(path string, expected []any, actual []string) []Mismatch {
	if len(expected) != len(actual) {
		return []Mismatch{{
			Path:     path,
			Expected: fmt.Sprintf("%d value(s)", len(expected)),
			Actual:   fmt.Sprintf("%d value(s)", len(actual)),
		}}
	}
	var ms []Mismatch
	for i, ev := range expected {
		ms = append(ms, matchParam(fmt.Sprintf("%s[%d]", path, i), ev, actual[i])...)
	}
	return ms
}

// matchParam compares a declared header or query value against the raw
// string the request carried. Scalar literals compare by string form,
// so a declared number 2 matches "2".
func matchParam(path string, expected any, actual string) []Mismatch {
	switch exp := expected.(type) {
	case *interaction.Node:
		switch exp.Kind {
		case interaction.NodeEquals:
			return matchParam(path, exp.Value, actual)
		case interaction.NodeLike:
			// Raw parameters are always strings; like means presence.
			return nil
		case interaction.NodeTerm:
			re, err := regexp.Compile(exp.Pattern)
			if err == nil && re.MatchString(actual) {
				return nil
			}
			return []Mismatch{{Path: path, Expected: fmt.Sprintf("value matching %q", exp.Pattern), Actual: actual}}
		case interaction.NodeContains:
			if sub, ok := exp.Value.(string); ok && strings.Contains(actual, sub) {
				return nil
			}
			return []Mismatch{{Path: path, Expected: "value containing " + describeValue(exp.Value), Actual: actual}}
		default:
			return []Mismatch{{Path: path, Expected: "scalar matcher", Actual: string(exp.Kind) + " is not applicable here"}}
		}
	default:
		want, ok := stringForm(expected)
		if ok && want == actual {
			return nil
		}
		return []Mismatch{{Path: path, Expected: describeValue(expected), Actual: actual}}
	}
}
