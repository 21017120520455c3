// Package admin provides the control API for a running stubd server.
//
// The API carries no authentication and is intended for the loopback
// interface during a test run: register interactions, inspect usage,
// fetch contract documents, and read the request history. Binding it
// to a public address exposes every registered stub for modification.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getstubd/stubd/pkg/contract"
	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/requestlog"
)

// Controller is the interface the control API uses to drive the mock
// server. It is implemented by engine.Server.
type Controller interface {
	IsRunning() bool
	Uptime() int
	CountInteractions() int

	Register(in *interaction.Interaction) (string, error)
	GetInteraction(id string) (*interaction.Interaction, bool)
	ListInteractions() []*interaction.Interaction
	RemoveInteraction(id string) bool
	RemoveAllInteractions() int
	CallCount(id string) int64
	Pending() []*interaction.Interaction
	Exercised() []*interaction.Interaction

	ContractProviders() []string
	GetContractDocument(provider, consumer string) (contract.Document, []string)
	ResetContracts()

	RequestLogs(filter *requestlog.Filter) []*requestlog.Entry
	RequestLog(id string) *requestlog.Entry
	RequestLogCount() int
	ClearRequestLogs()
}

// Server exposes the control API over HTTP.
type Server struct {
	engine  Controller
	log     *slog.Logger
	handler http.Handler

	host string
	port int

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	boundAddr  string
}

// NewServer creates a control API server for the given controller.
// A port of 0 binds an ephemeral port; Addr reports the bound address
// after Start.
func NewServer(engine Controller, host string, port int) *Server {
	s := &Server{
		engine: engine,
		log:    logging.Nop(),
		host:   host,
		port:   port,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.withMiddleware(mux)

	return s
}

// SetLogger sets the logger used by the server.
func (s *Server) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// registerRoutes wires up all control API endpoints.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /interactions", s.handleRegisterInteractions)
	mux.HandleFunc("GET /interactions", s.handleListInteractions)
	mux.HandleFunc("DELETE /interactions", s.handleRemoveAllInteractions)
	mux.HandleFunc("GET /interactions/{id}", s.handleGetInteraction)
	mux.HandleFunc("DELETE /interactions/{id}", s.handleRemoveInteraction)
	mux.HandleFunc("GET /interactions/{id}/calls", s.handleInteractionCalls)

	mux.HandleFunc("GET /contracts", s.handleListProviders)
	mux.HandleFunc("DELETE /contracts", s.handleResetContracts)
	mux.HandleFunc("GET /contracts/{provider}", s.handleGetContract)
	mux.HandleFunc("GET /contracts/{provider}/{consumer}", s.handleGetContract)

	mux.HandleFunc("GET /requests", s.handleListRequests)
	mux.HandleFunc("DELETE /requests", s.handleClearRequests)
	mux.HandleFunc("GET /requests/{id}", s.handleGetRequest)
}

// withMiddleware wraps the mux with common middleware.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	})
}

// Start begins listening and serving in a background goroutine. It
// returns the bound address once the listener is open.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.boundAddr, nil
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("binding control API to %s: %w", addr, err)
	}

	s.listener = ln
	s.boundAddr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.log.Info("control API listening", "addr", s.boundAddr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control API error", "error", err)
		}
	}()

	return s.boundAddr, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	s.log.Info("stopping control API")
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.listener = nil
	s.boundAddr = ""
	return err
}

// Addr returns the bound address, or the empty string before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Handler returns the control API handler for serving without a
// dedicated listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}
