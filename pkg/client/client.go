// Package client is a typed Go client for the stubd control API. Test
// suites use it to register interactions on a remote stubd process,
// assert usage, and fetch contract documents.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/requestlog"
)

// pollInterval is the delay between attempts in the Wait helpers.
const pollInterval = 100 * time.Millisecond

// Client talks to a stubd control API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the control API at baseURL, e.g.
// "http://127.0.0.1:4291".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the control API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do issues a request and decodes the JSON response into out (when out
// is non-nil). Non-2xx responses decode into an ErrorResponse and map
// to an error; 404 wraps ErrNotFound and 409 wraps ErrDuplicate so
// callers can detect them with errors.Is.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.decodeError(resp, method, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response, method, path string) error {
	var apiErr ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w: %s", method, path, ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %w: %s", method, path, ErrDuplicate, msg)
	}
	return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
}

// Health checks control API liveness.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the mock server status summary.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register registers a single interaction and returns the stored copy,
// with the server-assigned id filled in.
func (c *Client) Register(ctx context.Context, in *interaction.Interaction) (*interaction.Interaction, error) {
	var out interaction.Interaction
	if err := c.do(ctx, http.MethodPost, "/interactions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterBatch registers interactions in one call, stopping at the
// first rejected one. With replace set, the registry is cleared first.
func (c *Client) RegisterBatch(ctx context.Context, ins []*interaction.Interaction, replace bool) (*RegisterBatchResponse, error) {
	path := "/interactions"
	if replace {
		path += "?replace=true"
	}
	var out RegisterBatchResponse
	if err := c.do(ctx, http.MethodPost, path, ins, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListInteractions lists registered interactions. Status filters to
// "pending" or "exercised"; empty lists everything.
func (c *Client) ListInteractions(ctx context.Context, status string) ([]*interaction.Interaction, error) {
	path := "/interactions"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out InteractionListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Interactions, nil
}

// Pending lists interactions that never served a response.
func (c *Client) Pending(ctx context.Context) ([]*interaction.Interaction, error) {
	return c.ListInteractions(ctx, "pending")
}

// Exercised lists interactions that served at least once.
func (c *Client) Exercised(ctx context.Context) ([]*interaction.Interaction, error) {
	return c.ListInteractions(ctx, "exercised")
}

// GetInteraction fetches one interaction by id.
func (c *Client) GetInteraction(ctx context.Context, id string) (*interaction.Interaction, error) {
	var out interaction.Interaction
	if err := c.do(ctx, http.MethodGet, "/interactions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveInteraction deletes one interaction by id.
func (c *Client) RemoveInteraction(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/interactions/"+url.PathEscape(id), nil, nil)
}

// RemoveAllInteractions clears the registry and returns how many
// interactions were removed.
func (c *Client) RemoveAllInteractions(ctx context.Context) (int, error) {
	var out ClearedResponse
	if err := c.do(ctx, http.MethodDelete, "/interactions", nil, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

// CallCount returns how many responses an interaction has served.
func (c *Client) CallCount(ctx context.Context, id string) (int64, error) {
	var out CallCountResponse
	if err := c.do(ctx, http.MethodGet, "/interactions/"+url.PathEscape(id)+"/calls", nil, &out); err != nil {
		return 0, err
	}
	return out.CallCount, nil
}

// Providers lists the providers with registered contract interactions.
func (c *Client) Providers(ctx context.Context) ([]string, error) {
	var out ProviderListResponse
	if err := c.do(ctx, http.MethodGet, "/contracts", nil, &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

// GetContract builds and fetches the contract document for a provider.
// An empty consumer uses the server's configured default.
func (c *Client) GetContract(ctx context.Context, provider, consumer string) (*ContractResponse, error) {
	path := "/contracts/" + url.PathEscape(provider)
	if consumer != "" {
		path += "/" + url.PathEscape(consumer)
	}
	var out ContractResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetContracts discards all recorded contract exercises.
func (c *Client) ResetContracts(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/contracts", nil, nil)
}

// ListRequests fetches request history entries matching the filter.
// A nil filter returns the server's default page.
func (c *Client) ListRequests(ctx context.Context, filter *requestlog.Filter) (*RequestListResponse, error) {
	path := "/requests"
	if filter != nil {
		path += "?" + filterQuery(filter).Encode()
	}
	var out RequestListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRequest fetches one request history entry by id.
func (c *Client) GetRequest(ctx context.Context, id string) (*requestlog.Entry, error) {
	var out requestlog.Entry
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearRequests empties the request history and returns how many
// entries were dropped.
func (c *Client) ClearRequests(ctx context.Context) (int, error) {
	var out ClearedResponse
	if err := c.do(ctx, http.MethodDelete, "/requests", nil, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

func filterQuery(f *requestlog.Filter) url.Values {
	q := url.Values{}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Method != "" {
		q.Set("method", f.Method)
	}
	if f.Path != "" {
		q.Set("path", f.Path)
	}
	if f.MatchedID != "" {
		q.Set("matched", f.MatchedID)
	}
	if f.Status != 0 {
		q.Set("status", strconv.Itoa(f.Status))
	}
	if f.NoMatch != nil {
		q.Set("noMatch", strconv.FormatBool(*f.NoMatch))
	}
	return q
}

// WaitForHealthy polls /health until the control API answers or the
// timeout elapses.
func (c *Client) WaitForHealthy(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := retry.Do(
		func() error {
			_, err := c.Health(ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("control API at %s not healthy within %s: %w", c.baseURL, timeout, err)
	}
	return nil
}

// WaitForCalls polls until the interaction has served at least n
// responses or the timeout elapses. Useful after firing asynchronous
// traffic at the mock server.
func (c *Client) WaitForCalls(ctx context.Context, id string, n int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last int64
	err := retry.Do(
		func() error {
			count, err := c.CallCount(ctx, id)
			if err != nil {
				return err
			}
			last = count
			if count < n {
				return fmt.Errorf("interaction %s served %d of %d calls", id, count, n)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("waiting for %d calls on %s (saw %d): %w", n, id, last, err)
	}
	return nil
}
