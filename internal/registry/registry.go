// Package registry holds registered interactions and answers match
// queries for the engine. Registries are plain injected values; several
// can coexist in one process, each backing its own server.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getstubd/stubd/internal/id"
	"github.com/getstubd/stubd/internal/matching"
	"github.com/getstubd/stubd/pkg/interaction"
	"github.com/getstubd/stubd/pkg/logging"
)

// record pairs a stored interaction with its live call counter. The
// counter is atomic so serving never takes the registry write lock.
type record struct {
	in    *interaction.Interaction
	calls atomic.Int64
}

// Registry is a concurrency-safe, ordered collection of interactions.
// Reads during serving take the read lock only; registration order is
// preserved because the newest matching interaction wins.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*record
	ordered []*record
	nextSeq int64

	opts matching.Options
	log  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrictQuery flags undeclared query parameters as mismatches.
// Per-interaction ignoreQuery still bypasses query matching entirely.
func WithStrictQuery(strict bool) Option {
	return func(g *Registry) { g.opts.StrictQuery = strict }
}

// WithLogger sets the registry logger. Defaults to a nop logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Registry) {
		if log != nil {
			g.log = log
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	g := &Registry{
		byID: make(map[string]*record),
		log:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Options returns the matching options this registry applies.
func (g *Registry) Options() matching.Options {
	return g.opts
}

// Add normalizes, validates and stores an interaction, assigning an id
// when the caller did not provide one. Configuration problems surface
// here as *interaction.ValidationError, never at match time. The
// registry owns the interaction after a successful Add; callers must
// not mutate it.
func (g *Registry) Add(in *interaction.Interaction) (string, error) {
	if in == nil {
		return "", fmt.Errorf("interaction is required")
	}
	if err := in.Normalize(); err != nil {
		return "", err
	}
	if err := in.Validate(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if in.ID == "" {
		in.ID = id.UUID()
	} else if _, exists := g.byID[in.ID]; exists {
		return "", fmt.Errorf("interaction %q already registered", in.ID)
	}
	g.nextSeq++
	in.Seq = g.nextSeq
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	rec := &record{in: in}
	g.byID[in.ID] = rec
	g.ordered = append(g.ordered, rec)

	g.log.Debug("interaction registered",
		"id", in.ID,
		"kind", string(in.Kind),
		"method", in.Request.Method,
		"path", in.Request.Path)
	return in.ID, nil
}

// Get returns a snapshot of the interaction, including its current
// call count.
func (g *Registry) Get(interactionID string) (*interaction.Interaction, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.byID[interactionID]
	if !ok {
		return nil, false
	}
	return g.snapshot(rec), true
}

// List returns snapshots of all interactions in registration order.
func (g *Registry) List() []*interaction.Interaction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*interaction.Interaction, 0, len(g.ordered))
	for _, rec := range g.ordered {
		out = append(out, g.snapshot(rec))
	}
	return out
}

// ListByProvider returns contract interactions for a provider in
// registration order.
func (g *Registry) ListByProvider(provider string) []*interaction.Interaction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*interaction.Interaction
	for _, rec := range g.ordered {
		if rec.in.IsContract() && rec.in.Provider == provider {
			out = append(out, g.snapshot(rec))
		}
	}
	return out
}

// Remove deletes an interaction. Removing an unknown id is a no-op;
// the boolean reports whether anything was removed.
func (g *Registry) Remove(interactionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.byID[interactionID]; !ok {
		return false
	}
	delete(g.byID, interactionID)
	g.ordered = g.filterOrdered(func(rec *record) bool {
		return rec.in.ID != interactionID
	})
	g.log.Debug("interaction removed", "id", interactionID)
	return true
}

// RemoveAll clears the registry and returns how many interactions were
// dropped. Idempotent.
func (g *Registry) RemoveAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.ordered)
	g.byID = make(map[string]*record)
	g.ordered = nil
	return n
}

// RemoveByProvider drops every contract interaction registered for the
// provider and returns the count. Idempotent.
func (g *Registry) RemoveByProvider(provider string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	g.ordered = g.filterOrdered(func(rec *record) bool {
		if rec.in.IsContract() && rec.in.Provider == provider {
			delete(g.byID, rec.in.ID)
			removed++
			return false
		}
		return true
	})
	return removed
}

// Count returns the number of registered interactions.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.ordered)
}

// FindMatch evaluates enabled interactions newest-first and returns a
// snapshot of the first full match. The most recently registered
// matching interaction always wins.
func (g *Registry) FindMatch(r *matching.LiveRequest) (*interaction.Interaction, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for i := len(g.ordered) - 1; i >= 0; i-- {
		rec := g.ordered[i]
		if !rec.in.IsEnabled() {
			continue
		}
		if matching.Match(rec.in.Request, r, g.opts).Matched {
			return g.snapshot(rec), true
		}
	}
	return nil, false
}

// NearMisses ranks enabled interactions by how close they came to
// matching. Only called on the no-match path, so full evaluation cost
// is paid on failures, never on hits.
func (g *Registry) NearMisses(r *matching.LiveRequest, topN int) []matching.NearMiss {
	g.mu.RLock()
	candidates := make([]matching.Candidate, 0, len(g.ordered))
	for i := len(g.ordered) - 1; i >= 0; i-- {
		rec := g.ordered[i]
		if !rec.in.IsEnabled() {
			continue
		}
		candidates = append(candidates, matching.Candidate{
			ID:      rec.in.ID,
			Name:    rec.in.DisplayName(),
			Pattern: rec.in.Request,
		})
	}
	g.mu.RUnlock()

	return matching.Rank(candidates, r, g.opts, topN)
}

// IncrementCallCount atomically bumps the served counter and returns
// the new value. Unknown ids return 0.
func (g *Registry) IncrementCallCount(interactionID string) int64 {
	g.mu.RLock()
	rec, ok := g.byID[interactionID]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	return rec.calls.Add(1)
}

// CallCount returns how many times the interaction served a response.
func (g *Registry) CallCount(interactionID string) int64 {
	g.mu.RLock()
	rec, ok := g.byID[interactionID]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	return rec.calls.Load()
}

// Pending returns interactions that never served a response, in
// registration order. Suites assert this is empty at teardown.
func (g *Registry) Pending() []*interaction.Interaction {
	return g.filterSnapshots(func(rec *record) bool {
		return rec.calls.Load() == 0
	})
}

// Exercised returns interactions that served at least one response, in
// registration order.
func (g *Registry) Exercised() []*interaction.Interaction {
	return g.filterSnapshots(func(rec *record) bool {
		return rec.calls.Load() > 0
	})
}

func (g *Registry) filterSnapshots(keep func(*record) bool) []*interaction.Interaction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*interaction.Interaction
	for _, rec := range g.ordered {
		if keep(rec) {
			out = append(out, g.snapshot(rec))
		}
	}
	return out
}

// filterOrdered rebuilds the ordered slice; callers hold the write lock.
func (g *Registry) filterOrdered(keep func(*record) bool) []*record {
	out := g.ordered[:0:0]
	for _, rec := range g.ordered {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (g *Registry) snapshot(rec *record) *interaction.Interaction {
	cp := rec.in.Clone()
	cp.CallCount = rec.calls.Load()
	return cp
}
