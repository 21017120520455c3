package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"time"

	"github.com/getstubd/stubd/internal/id"
	"github.com/getstubd/stubd/internal/matching"
	"github.com/getstubd/stubd/internal/registry"
	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/contract"
	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/requestlog"
)

const (
	// healthPath and readyPath are fallback probe endpoints. A
	// registered interaction on the same path takes precedence.
	healthPath = "/__stubd/health"
	readyPath  = "/__stubd/ready"

	// nearMissHeader carries the near-miss count on diagnostic
	// responses so test assertions can check it without parsing the
	// body.
	nearMissHeader = "X-Stubd-Near-Misses"
)

// Handler matches incoming requests against the registry and writes
// the selected mock responses. No-match requests get a JSON diagnostic
// with near-miss analysis instead of a bare 404.
type Handler struct {
	reg      *registry.Registry
	recorder *contract.Recorder
	history  requestlog.Store
	cfg      *config.Settings
	log      *slog.Logger
}

// NewHandler creates a request handler. A nil history disables request
// logging; a nil recorder gets a private one.
func NewHandler(reg *registry.Registry, recorder *contract.Recorder, history requestlog.Store, cfg *config.Settings) *Handler {
	if cfg == nil {
		cfg = config.DefaultSettings()
	}
	if recorder == nil {
		recorder = contract.NewRecorder(nil)
	}
	return &Handler{
		reg:      reg,
		recorder: recorder,
		history:  history,
		cfg:      cfg,
		log:      logging.Nop(),
	}
}

// SetLogger replaces the handler's operational logger.
func (h *Handler) SetLogger(log *slog.Logger) {
	if log != nil {
		h.log = log
	}
}

// ServeHTTP implements the mock serving flow: read the body, find a
// matching interaction, honor its delay, write the resolved response,
// bump the call counter, and feed the contract recorder. Requests
// nothing matches fall through to the probe endpoints and finally to
// the no-match diagnostic.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic while serving request",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec)
			writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "internal error while serving request")
		}
	}()

	var bodyBytes []byte
	if r.Body != nil {
		// MaxBytesReader returns an error when the limit is exceeded,
		// unlike LimitReader which silently truncates.
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				h.log.Warn("request body exceeds limit",
					"method", r.Method,
					"path", r.URL.Path,
					"limit", maxBytesErr.Limit)
				writeErrorJSON(w, http.StatusRequestEntityTooLarge, "body_too_large",
					fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit))
				h.logRequest(startTime, r, bodyBytes, http.StatusRequestEntityTooLarge, "", false, nil, "body too large")
				return
			}
			h.log.Warn("failed to read request body", "path", r.URL.Path, "error", err)
			writeErrorJSON(w, http.StatusBadRequest, "body_read_failed", "failed to read request body")
			h.logRequest(startTime, r, bodyBytes, http.StatusBadRequest, "", false, nil, err.Error())
			return
		}
	}

	live := matching.FromHTTP(r, bodyBytes)
	if match, ok := h.reg.FindMatch(live); ok {
		h.serveMatch(w, r, match, bodyBytes, startTime)
		return
	}

	// No match. Probe endpoints act as fallbacks so a registered
	// interaction on the same path can shadow them.
	switch r.URL.Path {
	case healthPath:
		h.handleHealth(w, r)
		h.logRequest(startTime, r, bodyBytes, http.StatusOK, "__stubd:health", false, nil, "")
		return
	case readyPath:
		h.handleReady(w, r)
		h.logRequest(startTime, r, bodyBytes, http.StatusOK, "__stubd:ready", false, nil, "")
		return
	}

	h.serveNoMatch(w, r, live, bodyBytes, startTime)
}

// serveMatch selects the descriptor for this call, waits out any
// configured delay, and writes the resolved response. The call counter
// increments after the response is written; contract interactions then
// notify the recorder with what was actually served.
func (h *Handler) serveMatch(w http.ResponseWriter, r *http.Request, match *interaction.Interaction, bodyBytes []byte, startTime time.Time) {
	selected, err := selectDescriptor(match, match.CallCount)
	if err != nil {
		h.log.Error("selecting response descriptor", "interaction", match.ID, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "failed to select a response")
		h.logRequest(startTime, r, bodyBytes, http.StatusInternalServerError, match.ID, false, nil, err.Error())
		return
	}

	if delay := selectDelay(selected, match.Response); delay > 0 {
		if !sleepContext(r.Context(), delay) {
			// Client gave up mid-delay. The interaction was selected
			// and would have served, so the call still counts.
			h.reg.IncrementCallCount(match.ID)
			h.log.Debug("client canceled during response delay",
				"interaction", match.ID,
				"delay", delay)
			h.logRequest(startTime, r, bodyBytes, 0, match.ID, false, nil, "client canceled during delay")
			return
		}
	}

	resolved := resolveResponse(selected, h.cfg.DefaultHeaders)
	for name, value := range resolved.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(resolved.Status)
	switch body := resolved.Body.(type) {
	case nil:
	case string:
		_, _ = io.WriteString(w, body)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			h.log.Error("encoding response body", "interaction", match.ID, "error", err)
		} else {
			_, _ = w.Write(data)
		}
	}

	h.reg.IncrementCallCount(match.ID)
	if match.IsContract() {
		h.recorder.Record(match, contract.RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			At:     startTime,
		}, selected, resolved)
	}

	h.log.Debug("served interaction",
		"interaction", match.ID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", resolved.Status)
	h.logRequest(startTime, r, bodyBytes, resolved.Status, match.ID, false, nil, "")
}

// serveNoMatch writes the configured no-match status with a diagnostic
// body naming the closest candidates and why each one failed.
func (h *Handler) serveNoMatch(w http.ResponseWriter, r *http.Request, live *matching.LiveRequest, bodyBytes []byte, startTime time.Time) {
	misses := h.reg.NearMisses(live, h.cfg.NearMissLimit)
	status := h.cfg.NoMatchStatus

	h.log.Debug("no interaction matched",
		"method", r.Method,
		"path", r.URL.Path,
		"nearMisses", len(misses))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(nearMissHeader, strconv.Itoa(len(misses)))
	w.WriteHeader(status)

	diag := map[string]any{
		"error":   "no_match",
		"message": "no registered interaction matched this request",
		"method":  r.Method,
		"path":    r.URL.Path,
	}
	if len(misses) > 0 {
		diag["nearMisses"] = misses
	}
	if data, err := json.Marshal(diag); err == nil {
		_, _ = w.Write(data)
	} else {
		_, _ = io.WriteString(w, `{"error":"no_match","message":"no registered interaction matched this request"}`)
	}

	h.logRequest(startTime, r, bodyBytes, status, "", true, nearMissRefs(misses), "")
}

// logRequest appends an exchange to the request history.
func (h *Handler) logRequest(startTime time.Time, r *http.Request, bodyBytes []byte, status int, matchedID string, noMatch bool, misses []requestlog.NearMissRef, errMsg string) {
	if h.history == nil {
		return
	}
	headers := make(map[string][]string, len(r.Header))
	maps.Copy(headers, r.Header)
	captured, size := requestlog.CaptureBody(bodyBytes)
	h.history.Log(&requestlog.Entry{
		ID:             id.Short(),
		Timestamp:      startTime,
		Method:         r.Method,
		Path:           r.URL.Path,
		QueryString:    r.URL.RawQuery,
		Headers:        headers,
		Body:           captured,
		BodySize:       size,
		RemoteAddr:     r.RemoteAddr,
		MatchedID:      matchedID,
		NoMatch:        noMatch,
		NearMisses:     misses,
		ResponseStatus: status,
		DurationMs:     int(time.Since(startTime).Milliseconds()),
		Error:          errMsg,
	})
}

func nearMissRefs(misses []matching.NearMiss) []requestlog.NearMissRef {
	if len(misses) == 0 {
		return nil
	}
	refs := make([]requestlog.NearMissRef, len(misses))
	for i, nm := range misses {
		refs[i] = requestlog.NearMissRef{
			InteractionID: nm.InteractionID,
			Name:          nm.Name,
			Score:         nm.Score,
			MaxScore:      nm.MaxScore,
			Reason:        nm.Reason,
		}
	}
	return refs
}

// sleepContext waits out a response delay. Returns false when the
// request context is canceled before the delay elapses.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
