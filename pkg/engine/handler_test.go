package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getstubd/stubd/internal/registry"
	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/contract"
	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/requestlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInteraction builds a minimal interaction for handler and
// selector tests.
func stubInteraction(method, path string, status int, body any) *interaction.Interaction {
	return &interaction.Interaction{
		Request:  &interaction.RequestPattern{Method: method, Path: path},
		Response: &interaction.ResponseDescriptor{Status: status, Body: body},
	}
}

type handlerFixture struct {
	handler  *Handler
	reg      *registry.Registry
	recorder *contract.Recorder
	history  requestlog.Store
}

func newHandlerFixture(cfg *config.Settings) *handlerFixture {
	if cfg == nil {
		cfg = config.DefaultSettings()
	}
	reg := registry.New(registry.WithStrictQuery(cfg.StrictQuery))
	recorder := contract.NewRecorder(nil)
	history := requestlog.NewInMemoryStore(cfg.MaxLogEntries)
	return &handlerFixture{
		handler:  NewHandler(reg, recorder, history, cfg),
		reg:      reg,
		recorder: recorder,
		history:  history,
	}
}

func (f *handlerFixture) add(t *testing.T, in *interaction.Interaction) string {
	t.Helper()
	id, err := f.reg.Add(in)
	require.NoError(t, err)
	return id
}

func TestHandlerProbes(t *testing.T) {
	t.Parallel()

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		req := httptest.NewRequest(http.MethodGet, "/__stubd/health", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.NotEmpty(t, body["timestamp"])
	})

	t.Run("ready reports interaction count", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/api/users", 200, nil))

		req := httptest.NewRequest(http.MethodGet, "/__stubd/ready", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ready", body["status"])
		checks := body["checks"].(map[string]any)
		interactions := checks["interactions"].(map[string]any)
		assert.Equal(t, float64(1), interactions["count"])
	})

	t.Run("registered interaction shadows the probe path", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/__stubd/health", 503, map[string]any{"status": "down"}))

		req := httptest.NewRequest(http.MethodGet, "/__stubd/health", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "down")
	})
}

func TestHandlerServesMatch(t *testing.T) {
	t.Parallel()

	t.Run("json body", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		id := f.add(t, stubInteraction("GET", "/api/users", 200, map[string]any{"users": []any{"alice", "bob"}}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"users":["alice","bob"]}`, rec.Body.String())
		assert.Equal(t, int64(1), f.reg.CallCount(id))
	})

	t.Run("string body is written verbatim", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/ping", 200, "pong"))

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, "pong", rec.Body.String())
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	})

	t.Run("matcher nodes resolve to examples", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/api/orders/7", 200, map[string]any{
			"id":    interaction.Like(7),
			"total": interaction.Term("12.50", `^\d+\.\d{2}$`),
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/orders/7", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.JSONEq(t, `{"id":7,"total":"12.50"}`, rec.Body.String())
	})

	t.Run("pattern with body matcher", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, &interaction.Interaction{
			Request: &interaction.RequestPattern{
				Method: "POST",
				Path:   "/api/orders",
				Body: map[string]any{
					"sku":      interaction.Like("A-100"),
					"quantity": interaction.Like(1),
				},
			},
			Response: &interaction.ResponseDescriptor{Status: 201, Body: map[string]any{"ok": true}},
		})

		req := httptest.NewRequest(http.MethodPost, "/api/orders",
			strings.NewReader(`{"sku":"B-7","quantity":3}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("default headers apply unless the descriptor sets them", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultSettings()
		cfg.DefaultHeaders = map[string]string{
			"X-Powered-By":  "stubd",
			"Cache-Control": "no-store",
		}
		f := newHandlerFixture(cfg)
		f.add(t, &interaction.Interaction{
			Request: &interaction.RequestPattern{Method: "GET", Path: "/api/cached"},
			Response: &interaction.ResponseDescriptor{
				Status:  200,
				Headers: map[string]any{"Cache-Control": "max-age=60"},
				Body:    "ok",
			},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/cached", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, "stubd", rec.Header().Get("X-Powered-By"))
		assert.Equal(t, "max-age=60", rec.Header().Get("Cache-Control"))
	})

	t.Run("newest registration wins on overlap", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/api/users", 200, "old"))
		f.add(t, stubInteraction("GET", "/api/users", 200, "new"))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, "new", rec.Body.String())
	})
}

func TestHandlerOnCallSequencing(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(nil)
	id := f.add(t, &interaction.Interaction{
		Request: &interaction.RequestPattern{Method: "GET", Path: "/api/jobs/1"},
		Response: &interaction.ResponseDescriptor{
			OnCall: map[int]*interaction.ResponseDescriptor{
				0: {Status: 202, Body: map[string]any{"state": "queued"}},
				1: {Status: 200, Body: map[string]any{"state": "done"}},
			},
		},
	})

	statuses := make([]int, 0, 4)
	for range 4 {
		req := httptest.NewRequest(http.MethodGet, "/api/jobs/1", nil)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{202, 200, 200, 200}, statuses)
	assert.Equal(t, int64(4), f.reg.CallCount(id))
}

func TestHandlerNoMatchDiagnostic(t *testing.T) {
	t.Parallel()

	t.Run("names near misses", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/api/users", 200, nil))

		req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-Stubd-Near-Misses"))

		var diag map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diag))
		assert.Equal(t, "no_match", diag["error"])
		assert.Equal(t, "POST", diag["method"])
		assert.Equal(t, "/api/users", diag["path"])
		misses := diag["nearMisses"].([]any)
		require.Len(t, misses, 1)
		miss := misses[0].(map[string]any)
		assert.Contains(t, miss["reason"], "method")
	})

	t.Run("empty registry omits near misses", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)

		req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-Stubd-Near-Misses"))
		var diag map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diag))
		assert.NotContains(t, diag, "nearMisses")
	})

	t.Run("configured status", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultSettings()
		cfg.NoMatchStatus = 501
		f := newHandlerFixture(cfg)

		req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, 501, rec.Code)
	})
}

func TestHandlerBodyTooLarge(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultSettings()
	cfg.MaxBodyBytes = 16
	f := newHandlerFixture(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/upload",
		strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()

	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "body_too_large")
}

func TestHandlerDelay(t *testing.T) {
	t.Parallel()

	t.Run("fixed delay holds the response", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, &interaction.Interaction{
			Request:  &interaction.RequestPattern{Method: "GET", Path: "/api/slow"},
			Response: &interaction.ResponseDescriptor{Status: 200, Body: "ok", FixedDelay: 60},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/slow", nil)
		rec := httptest.NewRecorder()

		start := time.Now()
		f.handler.ServeHTTP(rec, req)
		elapsed := time.Since(start)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
	})

	t.Run("canceled request abandons the delay but still counts", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		id := f.add(t, &interaction.Interaction{
			Request:  &interaction.RequestPattern{Method: "GET", Path: "/api/slow"},
			Response: &interaction.ResponseDescriptor{Status: 200, Body: "ok", FixedDelay: 5000},
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequest(http.MethodGet, "/api/slow", nil).WithContext(ctx)
		rec := httptest.NewRecorder()

		start := time.Now()
		f.handler.ServeHTTP(rec, req)
		elapsed := time.Since(start)

		assert.Less(t, elapsed, time.Second)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, int64(1), f.reg.CallCount(id))
	})
}

func TestHandlerConcurrentCallCounting(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(nil)
	in := stubInteraction("GET", "/api/hot", 200, map[string]any{"ok": true})
	in.Response.FixedDelay = 2
	id := f.add(t, in)

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	const n = 50
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(ts.URL + "/api/hot")
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(n), f.reg.CallCount(id))
	require.Len(t, f.reg.Exercised(), 1)
}

func TestHandlerContractRecording(t *testing.T) {
	t.Parallel()

	t.Run("contract interactions feed the recorder", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		in := stubInteraction("GET", "/api/orders", 200, map[string]any{"orders": []any{}})
		in.Kind = interaction.KindContract
		in.Provider = "order-service"
		in.UponReceiving = "a request for orders"
		f.add(t, in)

		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, f.recorder.Count())
	})

	t.Run("mock interactions do not", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/api/orders", 200, nil))

		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		assert.Equal(t, 0, f.recorder.Count())
	})
}

func TestHandlerRequestHistory(t *testing.T) {
	t.Parallel()

	t.Run("matched request is logged", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		id := f.add(t, stubInteraction("POST", "/api/orders", 201, nil))

		req := httptest.NewRequest(http.MethodPost, "/api/orders?dry=1",
			strings.NewReader(`{"sku":"A-1"}`))
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		entries := f.history.List(nil)
		require.Len(t, entries, 1)
		entry := entries[0]
		assert.Equal(t, "POST", entry.Method)
		assert.Equal(t, "/api/orders", entry.Path)
		assert.Equal(t, "dry=1", entry.QueryString)
		assert.Equal(t, `{"sku":"A-1"}`, entry.Body)
		assert.Equal(t, id, entry.MatchedID)
		assert.False(t, entry.NoMatch)
		assert.Equal(t, 201, entry.ResponseStatus)
	})

	t.Run("no-match request carries near misses", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)
		f.add(t, stubInteraction("GET", "/api/users", 200, nil))

		req := httptest.NewRequest(http.MethodGet, "/api/userz", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		entries := f.history.List(nil)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].NoMatch)
		assert.Empty(t, entries[0].MatchedID)
		require.NotEmpty(t, entries[0].NearMisses)
		assert.NotEmpty(t, entries[0].NearMisses[0].InteractionID)
	})

	t.Run("probe hits are logged under reserved ids", func(t *testing.T) {
		t.Parallel()
		f := newHandlerFixture(nil)

		req := httptest.NewRequest(http.MethodGet, "/__stubd/health", nil)
		rec := httptest.NewRecorder()

		f.handler.ServeHTTP(rec, req)

		entries := f.history.List(nil)
		require.Len(t, entries, 1)
		assert.Equal(t, "__stubd:health", entries[0].MatchedID)
	})

	t.Run("nil history store disables logging", func(t *testing.T) {
		t.Parallel()
		reg := registry.New()
		h := NewHandler(reg, nil, nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
		rec := httptest.NewRecorder()

		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
