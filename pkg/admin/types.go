package admin

import (
	"time"

	"github.com/getstubd/stubd/pkg/contract"
	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/requestlog"
)

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse reports control API liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse summarizes the mock server state.
type StatusResponse struct {
	Status           string `json:"status"`
	Uptime           int    `json:"uptime"`
	InteractionCount int    `json:"interactionCount"`
	PendingCount     int    `json:"pendingCount"`
	ExercisedCount   int    `json:"exercisedCount"`
	RequestCount     int    `json:"requestCount"`
}

// InteractionListResponse wraps a list of interactions.
type InteractionListResponse struct {
	Interactions []*interaction.Interaction `json:"interactions"`
	Count        int                        `json:"count"`
}

// RegisterBatchResponse reports the outcome of a batch registration.
type RegisterBatchResponse struct {
	Registered int      `json:"registered"`
	IDs        []string `json:"ids"`
}

// CallCountResponse reports how often an interaction has been served.
type CallCountResponse struct {
	ID        string `json:"id"`
	CallCount int64  `json:"callCount"`
}

// ProviderListResponse lists providers with recorded contract
// interactions.
type ProviderListResponse struct {
	Providers []string `json:"providers"`
	Count     int      `json:"count"`
}

// ContractResponse carries a pact document together with the warnings
// produced while building it.
type ContractResponse struct {
	Document contract.Document `json:"document"`
	Warnings []string          `json:"warnings,omitempty"`
}

// RequestListResponse wraps a page of request log entries.
type RequestListResponse struct {
	Requests []*requestlog.Entry `json:"requests"`
	Count    int                 `json:"count"`
	Total    int                 `json:"total"`
}

// ClearedResponse reports how many records a clear operation removed.
type ClearedResponse struct {
	Cleared int    `json:"cleared"`
	Message string `json:"message"`
}
