package matching

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/getstubd/stubd/pkg/interaction"
)

// matchValue compares an expected pattern value against an actual
// value. Literals mean structural equality; matcher nodes relax the
// comparison per their kind.
func matchValue(path string, expected, actual any) []Mismatch {
	switch exp := expected.(type) {
	case *interaction.Node:
		return matchNode(path, exp, actual)
	case map[string]any:
		return matchObject(path, exp, actual, false)
	case []any:
		return matchArray(path, exp, actual)
	default:
		return matchScalar(path, expected, actual)
	}
}

func matchNode(path string, n *interaction.Node, actual any) []Mismatch {
	switch n.Kind {
	case interaction.NodeEquals:
		return matchValue(path, n.Value, actual)
	case interaction.NodeLike:
		return matchLike(path, n.Value, actual)
	case interaction.NodeTerm:
		return matchTerm(path, n, actual)
	case interaction.NodeEachLike:
		return matchEachLike(path, n, actual)
	case interaction.NodeContains:
		return matchContains(path, n, actual)
	default:
		// Unreachable after validation; surface rather than panic.
		return []Mismatch{{Path: path, Expected: "known matcher kind", Actual: string(n.Kind)}}
	}
}

func matchObject(path string, expected map[string]any, actual any, subset bool) []Mismatch {
	obj, ok := actual.(map[string]any)
	if !ok {
		return []Mismatch{{Path: path, Expected: "object", Actual: describeValue(actual)}}
	}

	var ms []Mismatch
	for _, k := range sortedKeys(expected) {
		child := path + "." + k
		av, present := obj[k]
		if !present {
			ms = append(ms, Mismatch{Path: child, Expected: describeValue(expected[k]), Actual: "<absent>"})
			continue
		}
		ms = append(ms, matchValue(child, expected[k], av)...)
	}

	if !subset {
		for _, k := range sortedKeys(obj) {
			if _, declared := expected[k]; !declared {
				ms = append(ms, Mismatch{Path: path + "." + k, Expected: "<absent> (undeclared key)", Actual: describeValue(obj[k])})
			}
		}
	}
	return ms
}

func matchArray(path string, expected []any, actual any) []Mismatch {
	arr, ok := actual.([]any)
	if !ok {
		return []Mismatch{{Path: path, Expected: "array", Actual: describeValue(actual)}}
	}
	if len(arr) != len(expected) {
		return []Mismatch{{
			Path:     path,
			Expected: fmt.Sprintf("array of length %d", len(expected)),
			Actual:   fmt.Sprintf("array of length %d", len(arr)),
		}}
	}

	var ms []Mismatch
	for i, ev := range expected {
		ms = append(ms, matchValue(fmt.Sprintf("%s[%d]", path, i), ev, arr[i])...)
	}
	return ms
}

func matchScalar(path string, expected, actual any) []Mismatch {
	if structuralEqual(expected, actual) {
		return nil
	}
	return []Mismatch{{Path: path, Expected: describeValue(expected), Actual: describeValue(actual)}}
}

// matchLike applies type-only comparison: scalars must share a JSON
// kind, objects and arrays keep their shape while values stay relaxed.
func matchLike(path string, template, actual any) []Mismatch {
	switch tmpl := template.(type) {
	case *interaction.Node:
		return matchNode(path, tmpl, actual)
	case map[string]any:
		obj, ok := actual.(map[string]any)
		if !ok {
			return []Mismatch{{Path: path, Expected: "object", Actual: describeValue(actual)}}
		}
		var ms []Mismatch
		for _, k := range sortedKeys(tmpl) {
			child := path + "." + k
			av, present := obj[k]
			if !present {
				ms = append(ms, Mismatch{Path: child, Expected: describeValue(tmpl[k]), Actual: "<absent>"})
				continue
			}
			ms = append(ms, matchLike(child, tmpl[k], av)...)
		}
		for _, k := range sortedKeys(obj) {
			if _, declared := tmpl[k]; !declared {
				ms = append(ms, Mismatch{Path: path + "." + k, Expected: "<absent> (undeclared key)", Actual: describeValue(obj[k])})
			}
		}
		return ms
	case []any:
		arr, ok := actual.([]any)
		if !ok {
			return []Mismatch{{Path: path, Expected: "array", Actual: describeValue(actual)}}
		}
		if len(arr) != len(tmpl) {
			return []Mismatch{{
				Path:     path,
				Expected: fmt.Sprintf("array of length %d", len(tmpl)),
				Actual:   fmt.Sprintf("array of length %d", len(arr)),
			}}
		}
		var ms []Mismatch
		for i, ev := range tmpl {
			ms = append(ms, matchLike(fmt.Sprintf("%s[%d]", path, i), ev, arr[i])...)
		}
		return ms
	default:
		if kindOf(template) == kindOf(actual) {
			return nil
		}
		return []Mismatch{{
			Path:     path,
			Expected: "value of type " + kindOf(template),
			Actual:   kindOf(actual) + " " + describeValue(actual),
		}}
	}
}

func matchTerm(path string, n *interaction.Node, actual any) []Mismatch {
	s, ok := stringForm(actual)
	if !ok {
		return []Mismatch{{Path: path, Expected: fmt.Sprintf("value matching %q", n.Pattern), Actual: describeValue(actual)}}
	}
	re, err := regexp.Compile(n.Pattern)
	if err != nil {
		// Unreachable after validation.
		return []Mismatch{{Path: path, Expected: "compilable pattern", Actual: err.Error()}}
	}
	if re.MatchString(s) {
		return nil
	}
	return []Mismatch{{Path: path, Expected: fmt.Sprintf("value matching %q", n.Pattern), Actual: describeValue(actual)}}
}

func matchEachLike(path string, n *interaction.Node, actual any) []Mismatch {
	arr, ok := actual.([]any)
	if !ok {
		return []Mismatch{{Path: path, Expected: "array", Actual: describeValue(actual)}}
	}
	if len(arr) < n.Min {
		return []Mismatch{{
			Path:     path,
			Expected: fmt.Sprintf("array with at least %d element(s)", n.Min),
			Actual:   fmt.Sprintf("array of length %d", len(arr)),
		}}
	}

	var ms []Mismatch
	for i, elem := range arr {
		ms = append(ms, matchValue(fmt.Sprintf("%s[%d]", path, i), n.Value, elem)...)
	}
	return ms
}

func matchContains(path string, n *interaction.Node, actual any) []Mismatch {
	switch sub := n.Value.(type) {
	case map[string]any:
		return matchObject(path, sub, actual, true)
	case []any:
		arr, ok := actual.([]any)
		if !ok {
			return []Mismatch{{Path: path, Expected: "array", Actual: describeValue(actual)}}
		}
		var ms []Mismatch
		for _, want := range sub {
			if !arrayHas(arr, want) {
				ms = append(ms, Mismatch{Path: path, Expected: "array containing " + describeValue(want), Actual: describeValue(actual)})
			}
		}
		return ms
	case string:
		s, ok := stringForm(actual)
		if !ok || !strings.Contains(s, sub) {
			return []Mismatch{{Path: path, Expected: fmt.Sprintf("value containing %q", sub), Actual: describeValue(actual)}}
		}
		return nil
	default:
		return matchScalar(path, n.Value, actual)
	}
}

func arrayHas(arr []any, want any) bool {
	for _, elem := range arr {
		if len(matchValue("", want, elem)) == 0 {
			return true
		}
	}
	return false
}

// structuralEqual compares two JSON values with numeric coercion, so 2
// equals 2.0 equals int64(2) regardless of which decoder produced it.
func structuralEqual(a, b any) bool {
	if af, ok := toFloat64(a); ok {
		bf, ok := toFloat64(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, present := bv[k]
			if !present || !structuralEqual(v, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !structuralEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// kindOf names the JSON kind of a decoded value.
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		if _, ok := toFloat64(v); ok {
			return "number"
		}
		return reflect.TypeOf(v).String()
	}
}

// stringForm renders scalars the way they appear in URLs and headers.
func stringForm(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case nil:
		return "", false
	default:
		if f, ok := toFloat64(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return "", false
	}
}

// describeValue renders a value for mismatch text, truncated so huge
// bodies stay readable.
func describeValue(v any) string {
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	const limit = 120
	s := string(data)
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
