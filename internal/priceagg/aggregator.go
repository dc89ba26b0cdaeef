// Package priceagg fans two independent price feeds into a single
// per-asset latest-value table, debounces the resulting update
// notification, and exposes the staleness and fail-closed policy
// predicates the prepare/execute pipeline consults before any outbound
// call.
package priceagg

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
)

// sourceState tracks per-source liveness.
type sourceState struct {
	connected    bool
	lastUpdateAt time.Time
}

// pendingEmit mirrors the debounce-timer-per-key pattern: a slot write
// (re)starts a timer that fires the fan-out notification once the quiet
// period elapses.
type pendingEmit struct {
	timer *time.Timer
}

// Aggregator is the channel-backed publisher described for event-emitting
// components: feed connectors push into it, and one goroutine per
// subscriber receives asset-update notifications.
type Aggregator struct {
	mu     sync.Mutex
	latest domain.PriceMap
	pend   map[string]*pendingEmit

	sourcesMu sync.Mutex
	sources   map[domain.PriceSourceName]*sourceState

	debounce  time.Duration
	staleness time.Duration

	subsMu sync.Mutex
	subs   []chan string // one independent fan-out channel per subscriber

	logger *slog.Logger
}

// New builds an Aggregator. debounce is PRICE_UPDATE_DEBOUNCE, staleness is
// PRICE_STALE_MS, both already converted to time.Duration by the caller.
func New(debounce, staleness time.Duration, configuredSources []domain.PriceSourceName, logger *slog.Logger) *Aggregator {
	a := &Aggregator{
		latest:    make(domain.PriceMap),
		pend:      make(map[string]*pendingEmit),
		sources:   make(map[domain.PriceSourceName]*sourceState),
		debounce:  debounce,
		staleness: staleness,
		logger:    logger.With(slog.String("component", "price_aggregator")),
	}
	for _, s := range configuredSources {
		a.sources[s] = &sourceState{}
	}
	return a
}

// Subscribe returns a new, independent channel of asset addresses whose
// debounce window has elapsed. Every subscriber receives every update; a
// single shared channel would split updates across competing receivers
// instead of delivering the notification to each of them. Callers must keep
// draining the returned channel for the lifetime of the Aggregator.
func (a *Aggregator) Subscribe() <-chan string {
	ch := make(chan string, 256)
	a.subsMu.Lock()
	a.subs = append(a.subs, ch)
	a.subsMu.Unlock()
	return ch
}

// Ingest is called by a feed connector for every price tick. The slot is
// replaced unconditionally (last-writer-wins by arrival order), source
// liveness is refreshed, and the debounce timer for that asset is
// (re)started.
func (a *Aggregator) Ingest(p domain.Price) {
	key := domain.NormalizeAddress(p.Asset)

	a.sourcesMu.Lock()
	st, ok := a.sources[p.Source]
	if !ok {
		st = &sourceState{}
		a.sources[p.Source] = st
	}
	st.connected = true
	st.lastUpdateAt = p.CapturedAt
	a.sourcesMu.Unlock()

	a.mu.Lock()
	a.latest[key] = p

	if pend, exists := a.pend[key]; exists {
		pend.timer.Stop()
		pend.timer.Reset(a.debounce)
	} else {
		pe := &pendingEmit{}
		pe.timer = time.AfterFunc(a.debounce, func() { a.fire(key) })
		a.pend[key] = pe
	}
	a.mu.Unlock()
}

// fire emits exactly one recompute-fan-out notification per quiet period
// per asset, matching the debounce-idempotence law.
func (a *Aggregator) fire(assetAddr string) {
	a.mu.Lock()
	delete(a.pend, assetAddr)
	a.mu.Unlock()

	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for _, sub := range a.subs {
		select {
		case sub <- assetAddr:
		default:
			a.logger.Warn("price update channel full, dropping notification", slog.String("asset", assetAddr))
		}
	}
}

// MarkDisconnected flags a source as disconnected, used by feed connectors
// on unrecoverable read errors before they begin reconnecting.
func (a *Aggregator) MarkDisconnected(source domain.PriceSourceName) {
	a.sourcesMu.Lock()
	defer a.sourcesMu.Unlock()
	if st, ok := a.sources[source]; ok {
		st.connected = false
	}
}

// Snapshot returns an independent copy of the latest per-asset prices.
func (a *Aggregator) Snapshot() domain.PriceMap {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(domain.PriceMap, len(a.latest))
	for k, v := range a.latest {
		out[k] = v
	}
	return out
}

func (a *Aggregator) isLive(st *sourceState, now time.Time) bool {
	return st.connected && now.Sub(st.lastUpdateAt) <= a.staleness
}

// CanExecute is the fail-closed policy gate: allowed iff at least one
// configured source is live.
func (a *Aggregator) CanExecute(now time.Time) bool {
	a.sourcesMu.Lock()
	defer a.sourcesMu.Unlock()
	for _, st := range a.sources {
		if a.isLive(st, now) {
			return true
		}
	}
	return false
}

// AnyConnected reports whether at least one configured source is currently
// connected, regardless of staleness.
func (a *Aggregator) AnyConnected() bool {
	a.sourcesMu.Lock()
	defer a.sourcesMu.Unlock()
	for _, st := range a.sources {
		if st.connected {
			return true
		}
	}
	return false
}

// IsStale is the warn-signal used during preparation: true iff any
// configured and connected source's last update predates the staleness
// window. Distinct from CanExecute on purpose (see package docs).
func (a *Aggregator) IsStale(now time.Time) bool {
	a.sourcesMu.Lock()
	defer a.sourcesMu.Unlock()
	for _, st := range a.sources {
		if st.connected && now.Sub(st.lastUpdateAt) > a.staleness {
			return true
		}
	}
	return false
}

// Run wires each configured PriceSource's stream into Ingest, restarting
// each on failure with the source's own reconnect policy (feed connectors
// own their backoff; Run just supervises the goroutines).
func (a *Aggregator) Run(ctx context.Context, sources []domain.PriceSource) error {
	out := make(chan domain.Price, 256)

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(s domain.PriceSource) {
			defer wg.Done()
			if err := s.Run(ctx, out); err != nil && ctx.Err() == nil {
				a.logger.Error("price source exited", slog.String("source", string(s.Name())), slog.String("error", err.Error()))
			}
			a.MarkDisconnected(s.Name())
		}(src)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-out:
			if !ok {
				return nil
			}
			a.Ingest(p)
		}
	}
}
