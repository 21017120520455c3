// Package interaction defines the data model for stubd: the interaction
// (request pattern plus response descriptor) registered by tests and
// served by the mock engine, and the matcher nodes that relax parts of
// a pattern from literal equality.
package interaction

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes plain stubs from contract-bearing interactions.
type Kind string

const (
	// KindMock is a plain stub with no contract metadata.
	KindMock Kind = "mock"
	// KindContract additionally feeds the contract recorder.
	KindContract Kind = "contract"
)

// Interaction pairs a request pattern with a response descriptor.
// Contract interactions also carry provider, state and uponReceiving,
// which key the recorded contract documents.
type Interaction struct {
	ID   string `json:"id,omitempty" yaml:"id,omitempty"`
	Kind Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`

	// Name is an optional label used in diagnostics and logs.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Contract metadata. Provider and UponReceiving are required for
	// contract interactions; State is the provider state, may be empty.
	Provider      string `json:"provider,omitempty" yaml:"provider,omitempty"`
	State         string `json:"state,omitempty" yaml:"state,omitempty"`
	UponReceiving string `json:"uponReceiving,omitempty" yaml:"uponReceiving,omitempty"`

	// Enabled defaults to true when nil. Disabled interactions are
	// kept in the registry but never matched.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	Request  *RequestPattern     `json:"request" yaml:"request"`
	Response *ResponseDescriptor `json:"response" yaml:"response"`

	// Stamped by the registry on Add.
	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`

	// CallCount is the number of times this interaction served a
	// response. Snapshot value on reads; the registry owns the live
	// counter.
	CallCount int64 `json:"callCount,omitempty" yaml:"-"`

	// Seq is the registration sequence number, used for ordering
	// contract document entries.
	Seq int64 `json:"-" yaml:"-"`
}

// IsEnabled reports whether the interaction participates in matching.
func (in *Interaction) IsEnabled() bool {
	return in.Enabled == nil || *in.Enabled
}

// IsContract reports whether the interaction feeds the contract recorder.
func (in *Interaction) IsContract() bool {
	return in.Kind == KindContract
}

// DisplayName returns the best human label available: the explicit
// name, then uponReceiving, then "METHOD path".
func (in *Interaction) DisplayName() string {
	if in.Name != "" {
		return in.Name
	}
	if in.UponReceiving != "" {
		return in.UponReceiving
	}
	if in.Request != nil {
		return strings.TrimSpace(in.Request.Method + " " + in.Request.Path)
	}
	return in.ID
}

// Clone returns a copy of the interaction. The nested pattern and
// descriptor values are shared; callers must treat them as read-only.
func (in *Interaction) Clone() *Interaction {
	cp := *in
	return &cp
}

// RequestPattern describes the requests an interaction responds to.
// Header, query and body values may be literals or matcher nodes.
type RequestPattern struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`

	// Headers are matched by case-insensitive name. Undeclared request
	// headers are always tolerated.
	Headers map[string]any `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Query parameters are matched by key. Undeclared keys are
	// tolerated unless the registry runs with strict query matching.
	Query map[string]any `json:"query,omitempty" yaml:"query,omitempty"`

	// Body is a JSON tree (possibly containing matcher nodes) or a
	// raw string compared verbatim.
	Body any `json:"body,omitempty" yaml:"body,omitempty"`

	// BodyJSONPath holds JSONPath conditions evaluated against the
	// JSON body, e.g. {"$.user.id": 42}. The sentinel "$exists" only
	// requires the path to resolve.
	BodyJSONPath map[string]any `json:"bodyJSONPath,omitempty" yaml:"bodyJSONPath,omitempty"`

	// GraphQL matches the body as a GraphQL request. Mutually
	// exclusive with Body.
	GraphQL *GraphQLRequest `json:"graphql,omitempty" yaml:"graphql,omitempty"`

	// IgnoreQuery skips query matching entirely.
	IgnoreQuery bool `json:"ignoreQuery,omitempty" yaml:"ignoreQuery,omitempty"`

	// IgnoreBody skips body matching entirely.
	IgnoreBody bool `json:"ignoreBody,omitempty" yaml:"ignoreBody,omitempty"`
}

// GraphQLRequest matches a GraphQL body. Queries compare after
// canonical normalization, so formatting and whitespace differences do
// not break the match.
type GraphQLRequest struct {
	Query         string         `json:"query" yaml:"query"`
	OperationName string         `json:"operationName,omitempty" yaml:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// ResponseDescriptor describes the response an interaction serves.
// With OnCall set, the descriptor for a request is keyed by the
// interaction's call count at selection time; calls beyond the highest
// key repeat the highest-keyed descriptor.
type ResponseDescriptor struct {
	Status  int            `json:"status,omitempty" yaml:"status,omitempty"`
	Headers map[string]any `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    any            `json:"body,omitempty" yaml:"body,omitempty"`

	// FixedDelay delays the response by a fixed number of
	// milliseconds. Mutually exclusive with RandomDelay.
	FixedDelay int `json:"fixedDelay,omitempty" yaml:"fixedDelay,omitempty"`

	// RandomDelay delays the response by a duration sampled uniformly
	// from [Min, Max] milliseconds on every call.
	RandomDelay *DelayRange `json:"randomDelay,omitempty" yaml:"randomDelay,omitempty"`

	// OnCall sequences responses by call index, 0-based. Keys must be
	// contiguous from 0. Only valid on the top-level descriptor.
	OnCall map[int]*ResponseDescriptor `json:"onCall,omitempty" yaml:"onCall,omitempty"`
}

// DelayRange bounds a random delay in milliseconds, inclusive.
type DelayRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// ResolvedResponse is a response descriptor with matcher nodes replaced
// by their example values and headers flattened to strings. This is
// what the engine writes and the contract recorder stores.
type ResolvedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// Normalize decodes matcher node wire forms ({"$match": ...} maps) in
// every pattern and descriptor tree, and fills defaults. Must be called
// before Validate; the registry does both on Add.
func (in *Interaction) Normalize() error {
	if in.Kind == "" {
		in.Kind = KindMock
	}
	if in.Request != nil {
		if err := in.Request.normalize(); err != nil {
			return err
		}
	}
	if in.Response != nil {
		if err := in.Response.normalize("response"); err != nil {
			return err
		}
	}
	return nil
}

func (p *RequestPattern) normalize() error {
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))

	var err error
	if p.Headers, err = decodeMap(p.Headers, "request.headers"); err != nil {
		return err
	}
	if p.Query, err = decodeMap(p.Query, "request.query"); err != nil {
		return err
	}
	if p.Body != nil {
		if p.Body, err = decodeField(p.Body, "request.body"); err != nil {
			return err
		}
	}
	if p.GraphQL != nil {
		if p.GraphQL.Variables, err = decodeMap(p.GraphQL.Variables, "request.graphql.variables"); err != nil {
			return err
		}
	}
	return nil
}

func (d *ResponseDescriptor) normalize(field string) error {
	var err error
	if d.Headers, err = decodeMap(d.Headers, field+".headers"); err != nil {
		return err
	}
	if d.Body != nil {
		if d.Body, err = decodeField(d.Body, field+".body"); err != nil {
			return err
		}
	}
	for idx, sub := range d.OnCall {
		if sub == nil {
			continue
		}
		if err := sub.normalize(onCallField(field, idx)); err != nil {
			return err
		}
	}
	return nil
}

func onCallField(field string, idx int) string {
	return fmt.Sprintf("%s.onCall[%d]", field, idx)
}

func decodeMap(m map[string]any, field string) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	decoded, err := DecodeTree(m)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: err.Error()}
	}
	dm, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: field, Message: "must be an object"}
	}
	return dm, nil
}

func decodeField(v any, field string) (any, error) {
	decoded, err := DecodeTree(v)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: err.Error()}
	}
	return decoded, nil
}
