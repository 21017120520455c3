package interaction

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ValidationError reports an invalid interaction at registration time.
// Matching never produces one of these; every configuration problem is
// rejected eagerly by Validate.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// maxDelayMs caps response delays so a misconfigured interaction cannot
// stall a test suite indefinitely.
const maxDelayMs = 30000

var validHTTPMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"PATCH":   true,
	"HEAD":    true,
	"OPTIONS": true,
	"CONNECT": true,
	"TRACE":   true,
}

// Validate checks the interaction for configuration errors. Normalize
// must run first so matcher nodes are decoded. Returns a
// *ValidationError naming the offending field.
func (in *Interaction) Validate() error {
	switch in.Kind {
	case KindMock, KindContract:
	default:
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", in.Kind)}
	}

	if in.Kind == KindContract {
		if in.Provider == "" {
			return &ValidationError{Field: "provider", Message: "contract interactions require a provider"}
		}
		if in.UponReceiving == "" {
			return &ValidationError{Field: "uponReceiving", Message: "contract interactions require uponReceiving"}
		}
	}

	if in.Request == nil {
		return &ValidationError{Field: "request", Message: "request pattern is required"}
	}
	if in.Kind == KindContract {
		// A contract entry must describe the full request it records.
		if in.Request.IgnoreQuery {
			return &ValidationError{Field: "request.ignoreQuery", Message: "ignoreQuery is not allowed on contract interactions"}
		}
		if in.Request.IgnoreBody {
			return &ValidationError{Field: "request.ignoreBody", Message: "ignoreBody is not allowed on contract interactions"}
		}
	}
	if err := in.Request.Validate(); err != nil {
		return err
	}

	if in.Response == nil {
		return &ValidationError{Field: "response", Message: "response descriptor is required"}
	}
	return in.Response.validate("response", true)
}

// Validate checks the request pattern in isolation.
func (p *RequestPattern) Validate() error {
	if p.Method == "" {
		return &ValidationError{Field: "request.method", Message: "method is required"}
	}
	if !validHTTPMethods[strings.ToUpper(p.Method)] {
		return &ValidationError{Field: "request.method", Message: fmt.Sprintf("invalid HTTP method %q", p.Method)}
	}

	if p.Path == "" {
		return &ValidationError{Field: "request.path", Message: "path is required"}
	}
	if !strings.HasPrefix(p.Path, "/") {
		return &ValidationError{Field: "request.path", Message: "path must start with /"}
	}

	if p.GraphQL != nil && p.Body != nil {
		return &ValidationError{Field: "request.body", Message: "body and graphql are mutually exclusive"}
	}
	if p.IgnoreBody && (p.Body != nil || p.GraphQL != nil || len(p.BodyJSONPath) > 0) {
		return &ValidationError{Field: "request.ignoreBody", Message: "ignoreBody set but a body pattern is declared"}
	}
	if p.IgnoreQuery && len(p.Query) > 0 {
		return &ValidationError{Field: "request.ignoreQuery", Message: "ignoreQuery set but a query pattern is declared"}
	}

	if p.GraphQL != nil {
		if p.GraphQL.Query == "" {
			return &ValidationError{Field: "request.graphql.query", Message: "query is required"}
		}
		if _, err := parser.ParseQuery(&ast.Source{Input: p.GraphQL.Query}); err != nil {
			return &ValidationError{Field: "request.graphql.query", Message: fmt.Sprintf("invalid GraphQL query: %v", err)}
		}
		if err := validateTree("request.graphql.variables", p.GraphQL.Variables); err != nil {
			return err
		}
	}

	for _, expr := range sortedKeys(p.BodyJSONPath) {
		if !strings.HasPrefix(expr, "$") {
			return &ValidationError{Field: "request.bodyJSONPath", Message: fmt.Sprintf("expression %q must start with $", expr)}
		}
		if _, err := jp.ParseString(expr); err != nil {
			return &ValidationError{Field: "request.bodyJSONPath", Message: fmt.Sprintf("invalid expression %q: %v", expr, err)}
		}
	}

	if err := validateTree("request.headers", p.Headers); err != nil {
		return err
	}
	if err := validateTree("request.query", p.Query); err != nil {
		return err
	}
	return validateTree("request.body", p.Body)
}

func (d *ResponseDescriptor) validate(field string, topLevel bool) error {
	if len(d.OnCall) > 0 {
		if !topLevel {
			return &ValidationError{Field: field + ".onCall", Message: "onCall cannot nest"}
		}
		if err := d.validateOnCall(field); err != nil {
			return err
		}
	} else if d.Status < 100 || d.Status > 599 {
		return &ValidationError{Field: field + ".status", Message: fmt.Sprintf("status %d out of range 100-599", d.Status)}
	}

	if err := d.validateDelay(field); err != nil {
		return err
	}
	if err := validateTree(field+".headers", d.Headers); err != nil {
		return err
	}
	return validateTree(field+".body", d.Body)
}

func (d *ResponseDescriptor) validateOnCall(field string) error {
	keys := make([]int, 0, len(d.OnCall))
	for k := range d.OnCall {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for i, k := range keys {
		if k != i {
			return &ValidationError{
				Field:   field + ".onCall",
				Message: fmt.Sprintf("indexes must be contiguous from 0, missing %d", i),
			}
		}
		sub := d.OnCall[k]
		if sub == nil {
			return &ValidationError{Field: onCallField(field, k), Message: "descriptor is required"}
		}
		if err := sub.validate(onCallField(field, k), false); err != nil {
			return err
		}
	}
	return nil
}

func (d *ResponseDescriptor) validateDelay(field string) error {
	if d.FixedDelay < 0 {
		return &ValidationError{Field: field + ".fixedDelay", Message: "delay cannot be negative"}
	}
	if d.FixedDelay > maxDelayMs {
		return &ValidationError{Field: field + ".fixedDelay", Message: fmt.Sprintf("delay cannot exceed %dms", maxDelayMs)}
	}
	if d.RandomDelay == nil {
		return nil
	}
	if d.FixedDelay > 0 {
		return &ValidationError{Field: field + ".fixedDelay", Message: "fixedDelay and randomDelay are mutually exclusive"}
	}
	if d.RandomDelay.Min < 0 {
		return &ValidationError{Field: field + ".randomDelay", Message: "min cannot be negative"}
	}
	if d.RandomDelay.Max < d.RandomDelay.Min {
		return &ValidationError{Field: field + ".randomDelay", Message: "max cannot be less than min"}
	}
	if d.RandomDelay.Max > maxDelayMs {
		return &ValidationError{Field: field + ".randomDelay", Message: fmt.Sprintf("max cannot exceed %dms", maxDelayMs)}
	}
	return nil
}

// validateTree walks a pattern tree and checks every matcher node:
// term patterns must compile, eachLike minimums cannot be negative.
func validateTree(field string, v any) error {
	switch tv := v.(type) {
	case *Node:
		return tv.validate(field)
	case map[string]any:
		for _, k := range sortedKeys(tv) {
			if err := validateTree(field+"."+k, tv[k]); err != nil {
				return err
			}
		}
	case []any:
		for i, elem := range tv {
			if err := validateTree(fmt.Sprintf("%s[%d]", field, i), elem); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *Node) validate(field string) error {
	switch n.Kind {
	case NodeTerm:
		if n.Pattern == "" {
			return &ValidationError{Field: field, Message: "term matcher requires a pattern"}
		}
		if _, err := regexp.Compile(n.Pattern); err != nil {
			return &ValidationError{Field: field, Message: fmt.Sprintf("invalid term pattern: %v", err)}
		}
		return nil
	case NodeEachLike:
		if n.Min < 0 {
			return &ValidationError{Field: field, Message: "eachLike min cannot be negative"}
		}
		return validateTree(field, n.Value)
	case NodeEquals, NodeLike, NodeContains:
		return validateTree(field, n.Value)
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("unknown matcher kind %q", n.Kind)}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
