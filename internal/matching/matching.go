// Package matching compares registered request patterns against live
// HTTP requests. A comparison yields a full mismatch list rather than a
// bare boolean so no-match responses can explain what was off.
package matching

import "github.com/getstubd/stubd/pkg/interaction"

// Options tune registry-wide matching behavior.
type Options struct {
	// StrictQuery flags query parameters present on the request but
	// absent from the pattern. Off by default; a pattern's IgnoreQuery
	// always wins.
	StrictQuery bool
}

// Mismatch describes one way a live request diverged from a pattern.
type Mismatch struct {
	// Path locates the divergence: "method", "path", "header.<name>",
	// "query.<key>" or a body path such as "body.items[2].id".
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Result is the outcome of matching one pattern against one request.
type Result struct {
	Matched    bool       `json:"matched"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Match evaluates every dimension of the pattern against the request.
// It never short-circuits, so the mismatch list is complete.
func Match(p *interaction.RequestPattern, r *LiveRequest, opts Options) Result {
	var all []Mismatch
	for _, dim := range evaluate(p, r, opts) {
		all = append(all, dim.mismatches...)
	}
	return Result{Matched: len(all) == 0, Mismatches: all}
}

// dimension is one weighted aspect of a pattern, used both for the
// overall verdict and for ranking near-misses.
type dimension struct {
	weight     int
	mismatches []Mismatch
}

func evaluate(p *interaction.RequestPattern, r *LiveRequest, opts Options) []dimension {
	dims := []dimension{
		{scoreMethod, checkMethod(p.Method, r.Method)},
		{scorePath, checkPath(p.Path, r.Path)},
	}
	if len(p.Headers) > 0 {
		dims = append(dims, dimension{scoreHeaders, checkHeaders(p.Headers, r)})
	}
	if !p.IgnoreQuery && (len(p.Query) > 0 || opts.StrictQuery) {
		dims = append(dims, dimension{scoreQuery, checkQuery(p.Query, r, opts.StrictQuery)})
	}
	if !p.IgnoreBody && (p.Body != nil || p.GraphQL != nil || len(p.BodyJSONPath) > 0) {
		dims = append(dims, dimension{scoreBody, checkBody(p, r)})
	}
	return dims
}
