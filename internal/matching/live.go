package matching

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/ohler55/ojg/oj"
)

// LiveRequest is the matcher's view of an incoming HTTP request. The
// body is captured up front; JSON and GraphQL parses are cached because
// every candidate pattern may need them.
type LiveRequest struct {
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   []byte

	jsonOnce sync.Once
	jsonVal  any
	jsonErr  error

	gqlOnce sync.Once
	gqlNorm string
}

// FromHTTP builds a LiveRequest from an http.Request whose body has
// already been read.
func FromHTTP(r *http.Request, body []byte) *LiveRequest {
	return &LiveRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header,
		Query:  r.URL.Query(),
		Body:   body,
	}
}

// JSONBody parses the body as JSON once and caches the result.
func (r *LiveRequest) JSONBody() (any, error) {
	r.jsonOnce.Do(func() {
		r.jsonVal, r.jsonErr = oj.Parse(r.Body)
	})
	return r.jsonVal, r.jsonErr
}

// normalizedQuery returns the canonical form of the GraphQL query
// carried in the body, or "" when the body holds none.
func (r *LiveRequest) normalizedQuery() string {
	r.gqlOnce.Do(func() {
		body, err := r.JSONBody()
		if err != nil {
			return
		}
		obj, ok := body.(map[string]any)
		if !ok {
			return
		}
		query, ok := obj["query"].(string)
		if !ok {
			return
		}
		r.gqlNorm = NormalizeQuery(query)
	})
	return r.gqlNorm
}
