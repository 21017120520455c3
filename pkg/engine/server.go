// Package engine hosts the stubd mock server: an in-process HTTP
// server that matches requests against registered interactions, serves
// their responses, and records contract exercises.
package engine

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

	"github.com/getstubd/stubd/internal/registry"
	"github.com/getstubd/stubd/pkg/config"
	"github.com/getstubd/stubd/pkg/contract"
	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/logging"
	"github.com/getstubd/stubd/pkg/requestlog"
)

// State names a point in the server lifecycle.
type State string

const (
	StateStopped   State = "stopped"
	StateStarting  State = "starting"
	StateListening State = "listening"
	StateStopping  State = "stopping"
)

// Server is the mock engine facade. It owns the interaction registry,
// the contract recorder, the request history store and the HTTP
// listener, and is safe for concurrent use.
type Server struct {
	cfg      *config.Settings
	log      *slog.Logger
	reg      *registry.Registry
	recorder *contract.Recorder
	history  requestlog.Store
	handler  *Handler

	mu         sync.Mutex
	state      State
	httpServer *http.Server
	listener   net.Listener
	boundAddr  string
	startTime  time.Time
}

// ServerOption configures a Server during construction.
type ServerOption func(*Server)

// WithLogger sets the operational logger. Nil keeps the no-op default.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates a mock server from settings. Nil settings use the
// defaults. The server starts in the Stopped state; interactions can be
// registered before Start.
func NewServer(cfg *config.Settings, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = config.DefaultSettings()
	}
	s := &Server{
		cfg:   cfg,
		log:   logging.Nop(),
		state: StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.reg = registry.New(
		registry.WithStrictQuery(cfg.StrictQuery),
		registry.WithLogger(s.log.With("component", "registry")),
	)
	s.recorder = contract.NewRecorder(s.log.With("component", "contract"))
	if cfg.LogRequests {
		s.history = requestlog.NewInMemoryStore(cfg.MaxLogEntries)
	}
	s.handler = NewHandler(s.reg, s.recorder, s.history, cfg)
	s.handler.SetLogger(s.log.With("component", "handler"))
	return s
}

// SetLogger replaces the operational logger on the server and its
// handler.
func (s *Server) SetLogger(log *slog.Logger) {
	if log == nil {
		return
	}
	s.log = log
	s.handler.SetLogger(log.With("component", "handler"))
}

// Start binds a TCP listener on the configured host and the given port
// (0 picks a free one) and serves in a goroutine. It returns the bound
// address. Starting a listening server is a no-op that returns the
// existing address; a negative port falls back to the configured one.
func (s *Server) Start(port int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateListening:
		return s.boundAddr, nil
	case StateStarting, StateStopping:
		return "", fmt.Errorf("mock server is %s", s.state)
	}
	s.state = StateStarting

	if port < 0 {
		port = s.cfg.Port
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.state = StateStopped
		return "", fmt.Errorf("binding mock server to %s: %w", addr, err)
	}

	s.listener = ln
	s.boundAddr = ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	go func(srv *http.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("mock server terminated", "error", err)
		}
	}(s.httpServer, ln)

	s.state = StateListening
	s.startTime = time.Now()
	s.log.Info("mock server listening", "addr", s.boundAddr)
	return s.boundAddr, nil
}

// Stop gracefully shuts the listener down, giving in-flight handlers
// the configured grace period before closing their connections.
// Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	srv := s.httpServer
	grace := time.Duration(s.cfg.ShutdownGrace) * time.Second
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		// Grace expired; drop whatever is still in flight.
		_ = srv.Close()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.httpServer = nil
	s.listener = nil
	s.boundAddr = ""
	s.startTime = time.Time{}
	s.mu.Unlock()

	s.log.Info("mock server stopped")
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutting down mock server: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the server is listening.
func (s *Server) IsRunning() bool {
	return s.State() == StateListening
}

// Uptime returns seconds since Start, 0 when not listening.
func (s *Server) Uptime() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return 0
	}
	return int(time.Since(s.startTime).Seconds())
}

// URL returns the base URL of the listening server, with wildcard bind
// addresses rewritten to loopback so the result is directly dialable.
// Empty when the server is not listening.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening || s.boundAddr == "" {
		return ""
	}
	return "http://" + dialableAddr(s.boundAddr)
}

// Port returns the bound port, 0 when not listening.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Handler exposes the request handler for in-process use, e.g. mounting
// the mock server inside an httptest.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Settings returns the server's configuration.
func (s *Server) Settings() *config.Settings {
	return s.cfg
}

// RegisterMock registers a plain stub interaction and returns its id.
func (s *Server) RegisterMock(in *interaction.Interaction) (string, error) {
	if in == nil {
		return "", errors.New("nil interaction")
	}
	in.Kind = interaction.KindMock
	return s.reg.Add(in)
}

// RegisterContract registers a contract interaction: besides serving
// like a mock, its exercises feed the recorded contract document for
// its provider.
func (s *Server) RegisterContract(in *interaction.Interaction) (string, error) {
	if in == nil {
		return "", errors.New("nil interaction")
	}
	in.Kind = interaction.KindContract
	return s.reg.Add(in)
}

// Register registers an interaction honoring its declared kind. An
// empty kind defaults to mock.
func (s *Server) Register(in *interaction.Interaction) (string, error) {
	if in == nil {
		return "", errors.New("nil interaction")
	}
	return s.reg.Add(in)
}

// LoadCollection registers every interaction from a collection.
// Returns how many were registered; registration stops at the first
// rejected interaction.
func (s *Server) LoadCollection(col *config.Collection) (int, error) {
	if col == nil {
		return 0, nil
	}
	for i, in := range col.Interactions {
		if _, err := s.reg.Add(in); err != nil {
			return i, fmt.Errorf("interactions[%d]: %w", i, err)
		}
	}
	return len(col.Interactions), nil
}

// GetInteraction returns a snapshot of the interaction with the given
// id.
func (s *Server) GetInteraction(id string) (*interaction.Interaction, bool) {
	return s.reg.Get(id)
}

// ListInteractions returns snapshots of all interactions in
// registration order.
func (s *Server) ListInteractions() []*interaction.Interaction {
	return s.reg.List()
}

// RemoveInteraction removes an interaction by id.
func (s *Server) RemoveInteraction(id string) bool {
	return s.reg.Remove(id)
}

// RemoveAllInteractions clears the registry and returns how many
// interactions were removed. Recorded contract exercises survive.
func (s *Server) RemoveAllInteractions() int {
	return s.reg.RemoveAll()
}

// RemoveProvider removes all interactions registered for a provider.
func (s *Server) RemoveProvider(provider string) int {
	return s.reg.RemoveByProvider(provider)
}

// CountInteractions returns the number of registered interactions.
func (s *Server) CountInteractions() int {
	return s.reg.Count()
}

// CallCount returns how many responses the interaction has served.
func (s *Server) CallCount(id string) int64 {
	return s.reg.CallCount(id)
}

// Pending returns interactions that never served a response. Test
// suites assert this is empty at teardown.
func (s *Server) Pending() []*interaction.Interaction {
	return s.reg.Pending()
}

// Exercised returns interactions that served at least once.
func (s *Server) Exercised() []*interaction.Interaction {
	return s.reg.Exercised()
}

// GetContractDocument builds the pact-style document for a provider.
// An empty consumer falls back to the configured consumer name. The
// second return value lists warnings for contract interactions that
// were registered but never exercised.
func (s *Server) GetContractDocument(provider, consumer string) (contract.Document, []string) {
	if consumer == "" {
		consumer = s.cfg.Consumer
	}
	return s.recorder.Build(provider, consumer, s.reg.ListByProvider(provider))
}

// ContractProviders returns the providers named by registered contract
// interactions, in first-registration order.
func (s *Server) ContractProviders() []string {
	var providers []string
	seen := make(map[string]bool)
	for _, in := range s.reg.List() {
		if !in.IsContract() || in.Provider == "" || seen[in.Provider] {
			continue
		}
		seen[in.Provider] = true
		providers = append(providers, in.Provider)
	}
	return providers
}

// ContractDocuments builds one document per registered provider for
// the given consumer, skipping providers with no exercised entries.
// An empty consumer falls back to the configured consumer name.
func (s *Server) ContractDocuments(consumer string) ([]contract.Document, []string) {
	var docs []contract.Document
	var warnings []string
	for _, provider := range s.ContractProviders() {
		doc, warns := s.GetContractDocument(provider, consumer)
		warnings = append(warnings, warns...)
		if len(doc.Interactions) == 0 {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, warnings
}

// WriteContracts builds one document per provider and writes each to
// dir as <consumer>-<provider>.json. An empty dir falls back to the
// configured contract directory. Returns the written paths and the
// accumulated unexercised-interaction warnings.
func (s *Server) WriteContracts(dir string) ([]string, []string, error) {
	if dir == "" {
		dir = s.cfg.ContractDir
	}
	docs, warnings := s.ContractDocuments("")
	for _, w := range warnings {
		s.log.Warn(w)
	}
	paths, err := contract.WriteAll(dir, docs)
	if err != nil {
		return paths, warnings, fmt.Errorf("writing contracts: %w", err)
	}
	return paths, warnings, nil
}

// ResetContracts discards all recorded contract exercises.
func (s *Server) ResetContracts() {
	s.recorder.Reset()
}

// RequestLogs returns request history entries newest first. Nil when
// request logging is disabled.
func (s *Server) RequestLogs(filter *requestlog.Filter) []*requestlog.Entry {
	if s.history == nil {
		return nil
	}
	return s.history.List(filter)
}

// RequestLog returns a single history entry by id.
func (s *Server) RequestLog(id string) *requestlog.Entry {
	if s.history == nil {
		return nil
	}
	return s.history.Get(id)
}

// ClearRequestLogs empties the request history.
func (s *Server) ClearRequestLogs() {
	if s.history != nil {
		s.history.Clear()
	}
}

// RequestLogCount returns the number of stored history entries.
func (s *Server) RequestLogCount() int {
	if s.history == nil {
		return 0
	}
	return s.history.Count()
}

// dialableAddr rewrites wildcard bind addresses to loopback.
func dialableAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
