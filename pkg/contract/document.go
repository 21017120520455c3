// Package contract records exercised contract interactions and builds
// consumer-driven contract documents from them, one per
// (provider, consumer) pair.
package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/getstubd/stubd/pkg/interaction"
)

// SpecVersion is the pact specification version the documents declare.
const SpecVersion = "2.0.0"

// Document is a pact-style contract between one consumer and one
// provider.
type Document struct {
	Consumer     Participant `json:"consumer"`
	Provider     Participant `json:"provider"`
	Interactions []Entry     `json:"interactions"`
	Metadata     Metadata    `json:"metadata"`
}

// Participant names one side of a contract.
type Participant struct {
	Name string `json:"name"`
}

// Entry is one recorded interaction. Description is the uponReceiving
// text; ProviderState is the precondition the provider must satisfy.
type Entry struct {
	Description   string   `json:"description"`
	ProviderState string   `json:"providerState,omitempty"`
	Request       Request  `json:"request"`
	Response      Response `json:"response"`
}

// Request is the expected request shape, with matcher nodes resolved
// to example values and expressed as matching rules.
type Request struct {
	Method        string                  `json:"method"`
	Path          string                  `json:"path"`
	Query         map[string]any          `json:"query,omitempty"`
	Headers       map[string]string       `json:"headers,omitempty"`
	Body          any                     `json:"body,omitempty"`
	MatchingRules map[string]MatchingRule `json:"matchingRules,omitempty"`
}

// Response is the response the consumer saw, resolved to concrete
// values.
type Response struct {
	Status        int                     `json:"status"`
	Headers       map[string]string       `json:"headers,omitempty"`
	Body          any                     `json:"body,omitempty"`
	MatchingRules map[string]MatchingRule `json:"matchingRules,omitempty"`
}

// MatchingRule is a pact v2 rule: type matching, regex matching, or
// type matching with an array minimum.
type MatchingRule struct {
	Match string `json:"match"`
	Regex string `json:"regex,omitempty"`
	Min   int    `json:"min,omitempty"`
}

// Metadata carries the pact specification version.
type Metadata struct {
	PactSpecification Specification `json:"pactSpecification"`
}

// Specification pins the document format version.
type Specification struct {
	Version string `json:"version"`
}

// Filename returns the conventional contract file name,
// "<consumer>-<provider>.json" with spaces dashed.
func (d Document) Filename() string {
	slug := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "-"))
	}
	return slug(d.Consumer.Name) + "-" + slug(d.Provider.Name) + ".json"
}

// WriteFile writes the document as indented JSON under dir, creating
// the directory if needed, and returns the file path.
func (d Document) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating contract dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding contract: %w", err)
	}
	path := filepath.Join(dir, d.Filename())
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing contract: %w", err)
	}
	return path, nil
}

// rulesForPattern derives pact matching rules from the matcher nodes in
// a request pattern: body, declared headers and query values.
func rulesForPattern(p *interaction.RequestPattern) map[string]MatchingRule {
	rules := make(map[string]MatchingRule)
	if p.Body != nil {
		walkRules("$.body", p.Body, rules)
	}
	for name, v := range p.Headers {
		walkRules("$.headers."+name, v, rules)
	}
	for key, v := range p.Query {
		walkRules("$.query."+key, v, rules)
	}
	if p.GraphQL != nil {
		for name, v := range p.GraphQL.Variables {
			walkRules("$.body.variables."+name, v, rules)
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return rules
}

// rulesForDescriptor derives rules from a response descriptor body.
func rulesForDescriptor(d *interaction.ResponseDescriptor) map[string]MatchingRule {
	if d == nil || d.Body == nil {
		return nil
	}
	rules := make(map[string]MatchingRule)
	walkRules("$.body", d.Body, rules)
	if len(rules) == 0 {
		return nil
	}
	return rules
}

func walkRules(path string, v any, rules map[string]MatchingRule) {
	switch tv := v.(type) {
	case *interaction.Node:
		switch tv.Kind {
		case interaction.NodeLike:
			rules[path] = MatchingRule{Match: "type"}
		case interaction.NodeTerm:
			rules[path] = MatchingRule{Match: "regex", Regex: tv.Pattern}
		case interaction.NodeEachLike:
			rules[path] = MatchingRule{Match: "type", Min: tv.Min}
			walkRules(path+"[*]", tv.Value, rules)
		case interaction.NodeEquals, interaction.NodeContains:
			// No pact v2 equivalent; nested nodes still contribute.
			walkRules(path, tv.Value, rules)
		}
	case map[string]any:
		for _, k := range sortedRuleKeys(tv) {
			walkRules(path+"."+k, tv[k], rules)
		}
	case []any:
		for i, elem := range tv {
			walkRules(fmt.Sprintf("%s[%d]", path, i), elem, rules)
		}
	}
}

func sortedRuleKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// paramString renders a resolved header or query example the way it
// travels on the wire.
func paramString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
