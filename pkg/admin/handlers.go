package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/requestlog"
)

// maxRequestBodySize limits control API request bodies to 10MB.
const maxRequestBodySize = 10 * 1024 * 1024

// defaultRequestLimit caps request log listings when no limit is given.
const defaultRequestLimit = 100

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// readBody reads the request body with the standard size limit.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return io.ReadAll(r.Body)
}

// writeReadError maps a body read failure to an error response.
func writeReadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large",
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return
	}
	writeError(w, http.StatusBadRequest, "body_read_failed", "failed to read request body")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := "stopped"
	if s.engine.IsRunning() {
		status = "running"
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:           status,
		Uptime:           s.engine.Uptime(),
		InteractionCount: s.engine.CountInteractions(),
		PendingCount:     len(s.engine.Pending()),
		ExercisedCount:   len(s.engine.Exercised()),
		RequestCount:     s.engine.RequestLogCount(),
	})
}

// handleRegisterInteractions accepts a single interaction object or a
// JSON array of interactions. On success it returns the stored
// interaction (single) or a batch summary (array).
func (s *Server) handleRegisterInteractions(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		writeReadError(w, err)
		return
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is required")
		return
	}

	if data[0] == '[' {
		s.registerBatch(w, r, data)
		return
	}

	var in interaction.Interaction
	if err := json.Unmarshal(data, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON in request body")
		return
	}

	if in.ID != "" {
		if _, exists := s.engine.GetInteraction(in.ID); exists {
			writeError(w, http.StatusConflict, "duplicate_id",
				fmt.Sprintf("interaction with ID '%s' already exists", in.ID))
			return
		}
	}

	id, err := s.engine.Register(&in)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	created, ok := s.engine.GetInteraction(id)
	if !ok {
		created = &in
	}

	s.log.Info("interaction registered", "id", id, "name", in.Name)
	writeJSON(w, http.StatusCreated, created)
}

// registerBatch registers every interaction in the array, stopping at
// the first failure. The ?replace=true query clears the registry first.
func (s *Server) registerBatch(w http.ResponseWriter, r *http.Request, data []byte) {
	var ins []*interaction.Interaction
	if err := json.Unmarshal(data, &ins); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON in request body")
		return
	}

	if r.URL.Query().Get("replace") == "true" {
		removed := s.engine.RemoveAllInteractions()
		s.log.Info("registry cleared for batch replace", "removed", removed)
	}

	ids := make([]string, 0, len(ins))
	for i, in := range ins {
		id, err := s.engine.Register(in)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error",
				fmt.Sprintf("interactions[%d]: %v", i, err))
			return
		}
		ids = append(ids, id)
	}

	s.log.Info("interactions registered", "count", len(ids))
	writeJSON(w, http.StatusCreated, RegisterBatchResponse{Registered: len(ids), IDs: ids})
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	var ins []*interaction.Interaction
	switch status := r.URL.Query().Get("status"); status {
	case "":
		ins = s.engine.ListInteractions()
	case "pending":
		ins = s.engine.Pending()
	case "exercised":
		ins = s.engine.Exercised()
	default:
		writeError(w, http.StatusBadRequest, "invalid_filter",
			fmt.Sprintf("unknown status filter %q, expected pending or exercised", status))
		return
	}
	if ins == nil {
		ins = []*interaction.Interaction{}
	}
	writeJSON(w, http.StatusOK, InteractionListResponse{Interactions: ins, Count: len(ins)})
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in, ok := s.engine.GetInteraction(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found",
			fmt.Sprintf("interaction with ID '%s' not found", id))
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleRemoveInteraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.RemoveInteraction(id) {
		writeError(w, http.StatusNotFound, "not_found",
			fmt.Sprintf("interaction with ID '%s' not found", id))
		return
	}
	s.log.Info("interaction removed", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAllInteractions(w http.ResponseWriter, r *http.Request) {
	removed := s.engine.RemoveAllInteractions()
	s.log.Info("all interactions removed", "count", removed)
	writeJSON(w, http.StatusOK, ClearedResponse{
		Cleared: removed,
		Message: "all interactions removed",
	})
}

func (s *Server) handleInteractionCalls(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.engine.GetInteraction(id); !ok {
		writeError(w, http.StatusNotFound, "not_found",
			fmt.Sprintf("interaction with ID '%s' not found", id))
		return
	}
	writeJSON(w, http.StatusOK, CallCountResponse{ID: id, CallCount: s.engine.CallCount(id)})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.engine.ContractProviders()
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, ProviderListResponse{Providers: providers, Count: len(providers)})
}

// handleGetContract builds the pact document for a provider. The
// consumer path segment is optional; without it the configured default
// consumer applies.
func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	consumer := r.PathValue("consumer")

	known := false
	for _, p := range s.engine.ContractProviders() {
		if p == provider {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "not_found",
			fmt.Sprintf("no contract interactions registered for provider '%s'", provider))
		return
	}

	doc, warnings := s.engine.GetContractDocument(provider, consumer)
	writeJSON(w, http.StatusOK, ContractResponse{Document: doc, Warnings: warnings})
}

func (s *Server) handleResetContracts(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetContracts()
	s.log.Info("contract exercises reset")
	writeJSON(w, http.StatusOK, map[string]string{"message": "contract exercises reset"})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	filter := &requestlog.Filter{Limit: defaultRequestLimit}

	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_filter", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_filter", "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}
	filter.Method = q.Get("method")
	filter.Path = q.Get("path")
	filter.MatchedID = q.Get("matched")
	if v := q.Get("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", "status must be an integer")
			return
		}
		filter.Status = n
	}
	if v := q.Get("noMatch"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_filter", "noMatch must be a boolean")
			return
		}
		filter.NoMatch = &b
	}

	entries := s.engine.RequestLogs(filter)
	if entries == nil {
		entries = []*requestlog.Entry{}
	}
	writeJSON(w, http.StatusOK, RequestListResponse{
		Requests: entries,
		Count:    len(entries),
		Total:    s.engine.RequestLogCount(),
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry := s.engine.RequestLog(id)
	if entry == nil {
		writeError(w, http.StatusNotFound, "not_found",
			fmt.Sprintf("request log entry '%s' not found", id))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleClearRequests(w http.ResponseWriter, r *http.Request) {
	count := s.engine.RequestLogCount()
	s.engine.ClearRequestLogs()
	s.log.Info("request logs cleared", "count", count)
	writeJSON(w, http.StatusOK, ClearedResponse{
		Cleared: count,
		Message: "request logs cleared",
	})
}
