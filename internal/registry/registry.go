// Package registry holds the shared, concurrently-mutated store of tracked
// borrowers plus the per-borrower advisory locks that gate prepare and
// execute.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/statemachine"
)

// Stats is a snapshot count of borrowers per state.
type Stats struct {
	Safe         int
	Watch        int
	Critical     int
	Liquidatable int
	Total        int
}

// Registry is a keyed store from lowercased address to *domain.Borrower,
// plus an independent set of per-key advisory locks. The record map and the
// lock map are protected by separate mutexes: a lock may transiently exist
// without a backing record during Remove.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*domain.Borrower
	lockMu   sync.Mutex
	locks    map[string]*sync.Mutex
	acquired map[string]bool
	bands    statemachine.Bands
	logger   *slog.Logger
}

// New returns an empty Registry classifying HF against the given bands.
func New(bands statemachine.Bands, logger *slog.Logger) *Registry {
	return &Registry{
		records:  make(map[string]*domain.Borrower),
		locks:    make(map[string]*sync.Mutex),
		acquired: make(map[string]bool),
		bands:    bands,
		logger:   logger.With(slog.String("component", "registry")),
	}
}

// Get looks up a borrower, case-insensitive.
func (r *Registry) Get(addr string) (*domain.Borrower, bool) {
	key := domain.NormalizeAddress(addr)
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.records[key]
	return b, ok
}

// Upsert inserts the borrower if absent, initialized SAFE and unhydrated,
// and returns the live record either way.
func (r *Registry) Upsert(addr string, now time.Time) *domain.Borrower {
	key := domain.NormalizeAddress(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.records[key]; ok {
		return b
	}
	b := domain.NewBorrower(key, now)
	r.records[key] = b
	return b
}

// Remove deletes a borrower record and its advisory lock entry.
func (r *Registry) Remove(addr string) {
	key := domain.NormalizeAddress(addr)
	r.mu.Lock()
	delete(r.records, key)
	r.mu.Unlock()

	r.lockMu.Lock()
	delete(r.locks, key)
	delete(r.acquired, key)
	r.lockMu.Unlock()
}

// All returns every tracked borrower in a newly allocated slice. The slice
// is the caller's own, but its elements are the registry's live records:
// later updates to a borrower are visible through them.
func (r *Registry) All() []*domain.Borrower {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Borrower, 0, len(r.records))
	for _, b := range r.records {
		out = append(out, b)
	}
	return out
}

// ByState returns the borrowers currently in the given state, as a newly
// allocated slice of live records (see All).
func (r *Registry) ByState(state domain.BorrowerState) []*domain.Borrower {
	return r.ByStates(map[domain.BorrowerState]bool{state: true})
}

// ByStates returns the borrowers currently in any of the given states, as a
// newly allocated slice of live records (see All).
func (r *Registry) ByStates(states map[domain.BorrowerState]bool) []*domain.Borrower {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Borrower, 0)
	for _, b := range r.records {
		if states[b.State] {
			out = append(out, b)
		}
	}
	return out
}

// Stats returns counts per state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	for _, b := range r.records {
		s.Total++
		switch b.State {
		case domain.StateSafe:
			s.Safe++
		case domain.StateWatch:
			s.Watch++
		case domain.StateCritical:
			s.Critical++
		case domain.StateLiquidatable:
			s.Liquidatable++
		}
	}
	return s
}

// InvalidateCache clears CachedTx, swap payload (embedded in CachedTx), and
// PreparedBlock. No-op if the borrower is absent or already has no cache.
func (r *Registry) InvalidateCache(addr string, reason string) {
	key := domain.NormalizeAddress(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.records[key]
	if !ok || b.CachedTx == nil {
		return
	}
	b.CachedTx = nil
	b.PreparedBlock = 0
	b.LastSkipReason = reason
}

// IsCacheStale reports whether the borrower has a CachedTx whose age
// exceeds ttlBlocks as of currentBlock.
func (r *Registry) IsCacheStale(addr string, currentBlock, ttlBlocks uint64) bool {
	key := domain.NormalizeAddress(addr)
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.records[key]
	if !ok || b.CachedTx == nil {
		return false
	}
	return currentBlock-b.PreparedBlock > ttlBlocks
}

// MarkHydrated sets Hydrated true. Idempotent, monotonic false->true.
func (r *Registry) MarkHydrated(addr string) {
	key := domain.NormalizeAddress(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.records[key]; ok {
		b.Hydrated = true
	}
}

// TryAcquire attempts to take the per-borrower advisory lock without
// blocking. Returns true if acquired. A lock is created lazily if this is
// the first time addr has been referenced.
func (r *Registry) TryAcquire(addr string) bool {
	key := domain.NormalizeAddress(addr)
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	if r.acquired[key] {
		return false
	}
	if _, ok := r.locks[key]; !ok {
		r.locks[key] = &sync.Mutex{}
	}
	r.acquired[key] = true
	return true
}

// Release releases the per-borrower advisory lock. No-op if not held.
func (r *Registry) Release(addr string) {
	key := domain.NormalizeAddress(addr)
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	r.acquired[key] = false
}

// IsLocked reports whether the per-borrower advisory lock is currently held.
func (r *Registry) IsLocked(addr string) bool {
	key := domain.NormalizeAddress(addr)
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	return r.acquired[key]
}

// UpdateHF writes the new predicted and (optional) oracle HF, computes the
// new band, and if the band changed appends to history and reports the
// transition. When the transition moves a borrower out of
// CRITICAL/LIQUIDATABLE into SAFE/WATCH the cached transaction is cleared.
// Skipped entirely while the borrower is unhydrated (invariant 3).
func (r *Registry) UpdateHF(addr string, predicted float64, oracle *float64, now time.Time) (changed bool, from, to domain.BorrowerState) {
	key := domain.NormalizeAddress(addr)
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.records[key]
	if !ok || !b.Hydrated {
		return false, "", ""
	}

	b.PredictedHF = predicted
	if oracle != nil {
		b.OracleHF = *oracle
	}
	b.LastUpdatedAt = now

	newState := statemachine.Classify(predicted, r.bands)
	from = b.State
	if newState == from {
		return false, from, from
	}

	b.State = newState
	b.AppendHistory(domain.HistoryEntry{State: newState, Timestamp: now, HF: predicted})

	if statemachine.ClearsCache(from, newState) {
		b.CachedTx = nil
		b.PreparedBlock = 0
	}

	r.logger.Info("borrower state transition",
		slog.String("address", key),
		slog.String("from", string(from)),
		slog.String("to", string(newState)),
		slog.Float64("predicted_hf", predicted),
	)

	return true, from, newState
}
