// Package requestlog stores a bounded history of requests served by
// the mock server for inspection through the control API.
package requestlog

import "time"

// maxBodyCapture caps how much of a request body is kept in a log
// entry.
const maxBodyCapture = 10 * 1024

// Entry captures one request/response exchange.
type Entry struct {
	// ID is a unique identifier for the log entry.
	ID string `json:"id"`

	// Timestamp is when the request was received.
	Timestamp time.Time `json:"timestamp"`

	// Method is the HTTP method.
	Method string `json:"method"`

	// Path is the request URL path.
	Path string `json:"path"`

	// QueryString is the raw query string.
	QueryString string `json:"queryString,omitempty"`

	// Headers are the request headers (multi-value).
	Headers map[string][]string `json:"headers,omitempty"`

	// Body is the request body content, truncated at 10KB.
	Body string `json:"body,omitempty"`

	// BodySize is the original body size in bytes.
	BodySize int `json:"bodySize"`

	// RemoteAddr is the client address.
	RemoteAddr string `json:"remoteAddr,omitempty"`

	// MatchedID is the ID of the interaction that matched, empty when
	// nothing matched.
	MatchedID string `json:"matchedId,omitempty"`

	// NoMatch reports whether the request fell through to the
	// diagnostic response.
	NoMatch bool `json:"noMatch,omitempty"`

	// NearMisses summarizes the closest candidates when nothing
	// matched.
	NearMisses []NearMissRef `json:"nearMisses,omitempty"`

	// ResponseStatus is the status code returned.
	ResponseStatus int `json:"responseStatus"`

	// DurationMs is the request processing time in milliseconds,
	// including any configured response delay.
	DurationMs int `json:"durationMs"`

	// Error contains an error message if serving the request failed.
	Error string `json:"error,omitempty"`
}

// NearMissRef points at an interaction that almost matched.
type NearMissRef struct {
	InteractionID string `json:"interactionId"`
	Name          string `json:"name,omitempty"`
	Score         int    `json:"score"`
	MaxScore      int    `json:"maxScore"`
	Reason        string `json:"reason"`
}

// CaptureBody returns the loggable form of a request body and its
// original size. Bodies beyond the capture cap are cut off.
func CaptureBody(body []byte) (string, int) {
	size := len(body)
	if size > maxBodyCapture {
		return string(body[:maxBodyCapture]), size
	}
	return string(body), size
}
