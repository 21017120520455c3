package client

import (
	"errors"

	"github.com/getstubd/stubd/pkg/admin"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an interaction ID is already registered.
	ErrDuplicate = errors.New("interaction already registered")
)

// Response payloads shared with the control API.
type (
	ErrorResponse           = admin.ErrorResponse
	HealthResponse          = admin.HealthResponse
	StatusResponse          = admin.StatusResponse
	InteractionListResponse = admin.InteractionListResponse
	RegisterBatchResponse   = admin.RegisterBatchResponse
	CallCountResponse       = admin.CallCountResponse
	ProviderListResponse    = admin.ProviderListResponse
	ContractResponse        = admin.ContractResponse
	RequestListResponse     = admin.RequestListResponse
	ClearedResponse         = admin.ClearedResponse
)
