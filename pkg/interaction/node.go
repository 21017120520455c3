package interaction

import (
	"encoding/json"
	"fmt"
)

// NodeKind names a matcher node variant.
type NodeKind string

const (
	// NodeEquals matches by deep structural equality. Literals behave
	// the same; the explicit node exists for symmetry and overrides.
	NodeEquals NodeKind = "equals"
	// NodeLike matches by JSON type only, recursing into objects and
	// arrays.
	NodeLike NodeKind = "like"
	// NodeTerm matches the string form of the actual value against a
	// regular expression; Generate is the example value served and
	// recorded.
	NodeTerm NodeKind = "term"
	// NodeEachLike matches an array whose every element matches the
	// template, with a minimum length.
	NodeEachLike NodeKind = "eachLike"
	// NodeContains matches a subset: declared object keys, array
	// elements or a substring must be present, extras are ignored.
	NodeContains NodeKind = "contains"
)

// nodeTag is the wire key marking a JSON/YAML object as a matcher node.
const nodeTag = "$match"

// Node is a matcher embedded in a pattern tree in place of a literal.
// Exactly one variant applies, selected by Kind. The zero Node is not
// valid; use the constructors.
type Node struct {
	Kind NodeKind

	// Value is the payload for equals, like, eachLike and contains.
	// It may itself contain nested nodes.
	Value any

	// Pattern and Generate belong to term.
	Pattern  string
	Generate any

	// Min is the minimum array length for eachLike.
	Min int
}

// Equals matches v by deep structural equality.
func Equals(v any) *Node {
	return &Node{Kind: NodeEquals, Value: v}
}

// Like matches any value of the same JSON type as v, recursing into
// objects and arrays.
func Like(v any) *Node {
	return &Node{Kind: NodeLike, Value: v}
}

// Term matches string forms against the regular expression pattern.
// The generate value is served by responses and recorded in contracts.
func Term(generate any, pattern string) *Node {
	return &Node{Kind: NodeTerm, Pattern: pattern, Generate: generate}
}

// EachLike matches a non-empty array whose elements all match v.
func EachLike(v any) *Node {
	return &Node{Kind: NodeEachLike, Value: v, Min: 1}
}

// EachLikeMin matches an array of at least min elements, each matching
// v. A min of zero accepts an empty array.
func EachLikeMin(v any, min int) *Node {
	return &Node{Kind: NodeEachLike, Value: v, Min: min}
}

// Contains matches a subset of the actual value: for objects only the
// declared keys are checked, for arrays each declared element must
// appear, for strings v must be a substring.
func Contains(v any) *Node {
	return &Node{Kind: NodeContains, Value: v}
}

// MarshalJSON emits the wire form, a tagged object such as
// {"$match":"like","value":5}.
func (n *Node) MarshalJSON() ([]byte, error) {
	m := map[string]any{nodeTag: string(n.Kind)}
	switch n.Kind {
	case NodeTerm:
		m["pattern"] = n.Pattern
		if n.Generate != nil {
			m["generate"] = n.Generate
		}
	case NodeEachLike:
		m["value"] = n.Value
		m["min"] = n.Min
	default:
		m["value"] = n.Value
	}
	return json.Marshal(m)
}

// Example returns the concrete value a node stands for: the generate
// value for term, min copies of the element example for eachLike (at
// least one), and the resolved payload otherwise.
func (n *Node) Example() any {
	switch n.Kind {
	case NodeTerm:
		return n.Generate
	case NodeEachLike:
		count := n.Min
		if count < 1 {
			count = 1
		}
		elem := ResolveExamples(n.Value)
		out := make([]any, count)
		for i := range out {
			out[i] = elem
		}
		return out
	default:
		return ResolveExamples(n.Value)
	}
}

// ResolveExamples walks a pattern tree and replaces every matcher node
// with its example value. The result is plain JSON-marshalable data.
func ResolveExamples(v any) any {
	switch tv := v.(type) {
	case *Node:
		return tv.Example()
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = ResolveExamples(val)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = ResolveExamples(val)
		}
		return out
	default:
		return v
	}
}

// DecodeTree converts matcher node wire forms into *Node values,
// recursing through objects and arrays. Values produced by the Go
// constructors pass through untouched, so mixing styles is fine.
func DecodeTree(v any) (any, error) {
	switch tv := v.(type) {
	case *Node:
		value, err := DecodeTree(tv.Value)
		if err != nil {
			return nil, err
		}
		cp := *tv
		cp.Value = value
		return &cp, nil
	case map[string]any:
		if tag, ok := tv[nodeTag]; ok {
			return decodeNode(tag, tv)
		}
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			decoded, err := DecodeTree(val)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			decoded, err := DecodeTree(val)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return v, nil
	}
}

func decodeNode(tag any, m map[string]any) (*Node, error) {
	kindStr, ok := tag.(string)
	if !ok {
		return nil, fmt.Errorf("%s tag must be a string, got %T", nodeTag, tag)
	}

	switch kind := NodeKind(kindStr); kind {
	case NodeEquals, NodeLike, NodeContains:
		value, err := DecodeTree(m["value"])
		if err != nil {
			return nil, err
		}
		return &Node{Kind: kind, Value: value}, nil
	case NodeTerm:
		pattern, _ := m["pattern"].(string)
		return &Node{Kind: NodeTerm, Pattern: pattern, Generate: m["generate"]}, nil
	case NodeEachLike:
		value, err := DecodeTree(m["value"])
		if err != nil {
			return nil, err
		}
		min := 1
		if raw, ok := m["min"]; ok {
			min, ok = toInt(raw)
			if !ok {
				return nil, fmt.Errorf("eachLike min must be an integer, got %T", raw)
			}
		}
		return &Node{Kind: NodeEachLike, Value: value, Min: min}, nil
	default:
		return nil, fmt.Errorf("unknown matcher kind %q", kindStr)
	}
}

// toInt accepts the integer representations the JSON and YAML decoders
// produce.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
