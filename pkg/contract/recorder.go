package contract

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/logging"
)

// Recorder accumulates exercised contract interactions. Recording a
// contract interaction again replaces its earlier exercise, so the
// built document always reflects the latest observed exchange.
type Recorder struct {
	mu      sync.Mutex
	records map[string]*exercise
	nextSeq int64
	log     *slog.Logger
}

// RecordedRequest is the concrete request that exercised an
// interaction.
type RecordedRequest struct {
	Method string    `json:"method"`
	Path   string    `json:"path"`
	At     time.Time `json:"at"`
}

type exercise struct {
	seq      int64
	req      RecordedRequest
	in       *interaction.Interaction
	selected *interaction.ResponseDescriptor
	resolved interaction.ResolvedResponse
}

// NewRecorder returns an empty recorder. A nil logger disables
// logging.
func NewRecorder(log *slog.Logger) *Recorder {
	if log == nil {
		log = logging.Nop()
	}
	return &Recorder{
		records: make(map[string]*exercise),
		log:     log,
	}
}

// Record stores the exchange that exercised in. The interaction is a
// snapshot, selected is the response descriptor that served the call,
// and resolved is the concrete response sent to the consumer.
// Non-contract interactions are ignored.
func (r *Recorder) Record(in *interaction.Interaction, req RecordedRequest, selected *interaction.ResponseDescriptor, resolved interaction.ResolvedResponse) {
	if in == nil || !in.IsContract() {
		return
	}
	if req.At.IsZero() {
		req.At = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	r.records[in.ID] = &exercise{
		seq:      r.nextSeq,
		req:      req,
		in:       in,
		selected: selected,
		resolved: resolved,
	}
	r.log.Debug("recorded contract exercise",
		"id", in.ID,
		"provider", in.Provider,
		"uponReceiving", in.UponReceiving)
}

// Count reports how many distinct interactions have been exercised.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Reset discards all recorded exercises.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*exercise)
}

type entryKey struct {
	state         string
	uponReceiving string
}

// Build assembles the contract document for one (provider, consumer)
// pair from the registered contract interactions and their recorded
// exercises. Interactions sharing a (state, uponReceiving) pair
// collapse to the most recently exercised one. Entries keep the order
// in which their pair was first registered. Registered interactions
// that were never exercised are omitted and reported as warnings.
func (r *Recorder) Build(provider, consumer string, registered []*interaction.Interaction) (Document, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type slot struct {
		ex *exercise
	}
	slots := make(map[entryKey]*slot)
	var order []entryKey
	var warnings []string

	for _, in := range registered {
		if !in.IsContract() || in.Provider != provider {
			continue
		}
		key := entryKey{state: in.State, uponReceiving: in.UponReceiving}
		s, seen := slots[key]
		if !seen {
			s = &slot{}
			slots[key] = s
			order = append(order, key)
		}
		ex, exercised := r.records[in.ID]
		if !exercised {
			warnings = append(warnings, fmt.Sprintf("contract interaction %q was never exercised", in.DisplayName()))
			continue
		}
		if s.ex == nil || ex.seq > s.ex.seq {
			s.ex = ex
		}
	}

	doc := Document{
		Consumer: Participant{Name: consumer},
		Provider: Participant{Name: provider},
		Metadata: Metadata{PactSpecification: Specification{Version: SpecVersion}},
	}
	for _, key := range order {
		s := slots[key]
		if s.ex == nil {
			continue
		}
		doc.Interactions = append(doc.Interactions, entryFrom(s.ex))
	}
	return doc, warnings
}

// WriteAll writes each document into dir and returns the written
// paths.
func WriteAll(dir string, docs []Document) ([]string, error) {
	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		path, err := doc.WriteFile(dir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func entryFrom(ex *exercise) Entry {
	in := ex.in
	entry := Entry{
		Description:   in.UponReceiving,
		ProviderState: in.State,
		Request:       requestFrom(in.Request, ex.req),
		Response: Response{
			Status:        ex.resolved.Status,
			Headers:       ex.resolved.Headers,
			Body:          ex.resolved.Body,
			MatchingRules: rulesForDescriptor(ex.selected),
		},
	}
	if len(entry.Response.Headers) == 0 {
		entry.Response.Headers = nil
	}
	return entry
}

func requestFrom(p *interaction.RequestPattern, rec RecordedRequest) Request {
	req := Request{
		Method:        p.Method,
		Path:          examplePath(p.Path, rec.Path),
		MatchingRules: rulesForPattern(p),
	}
	if len(p.Headers) > 0 {
		req.Headers = make(map[string]string, len(p.Headers))
		for name, v := range p.Headers {
			req.Headers[name] = paramString(interaction.ResolveExamples(v))
		}
	}
	if len(p.Query) > 0 && !p.IgnoreQuery {
		req.Query = make(map[string]any, len(p.Query))
		for key, v := range p.Query {
			req.Query[key] = queryExample(v)
		}
	}
	switch {
	case p.GraphQL != nil:
		body := map[string]any{"query": p.GraphQL.Query}
		if p.GraphQL.OperationName != "" {
			body["operationName"] = p.GraphQL.OperationName
		}
		if len(p.GraphQL.Variables) > 0 {
			vars := make(map[string]any, len(p.GraphQL.Variables))
			for k, v := range p.GraphQL.Variables {
				vars[k] = interaction.ResolveExamples(v)
			}
			body["variables"] = vars
		}
		req.Body = body
	case p.Body != nil && !p.IgnoreBody:
		req.Body = interaction.ResolveExamples(p.Body)
	}
	return req
}

// examplePath prefers the declared path unless it is templated, in
// which case the concrete path from the recorded request stands in.
func examplePath(pattern, actual string) string {
	if strings.ContainsAny(pattern, "{*") && actual != "" {
		return actual
	}
	return pattern
}

func queryExample(v any) any {
	resolved := interaction.ResolveExamples(v)
	if list, ok := resolved.([]any); ok {
		values := make([]string, len(list))
		for i, elem := range list {
			values[i] = paramString(elem)
		}
		return values
	}
	return paramString(resolved)
}
