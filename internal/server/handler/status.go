package handler

import (
	"net/http"

	"github.com/liqguard/liquidator/internal/domain"
	"github.com/liqguard/liquidator/internal/registry"
)

// ExecutionStats is the narrow surface the status handler needs from the
// execution pipeline: the current count of in-flight liquidation attempts.
type ExecutionStats interface {
	ActiveExecutions() int
}

// StatusHandler serves borrower-population and pipeline status for
// operators. It never mutates the registry.
type StatusHandler struct {
	reg      *registry.Registry
	pipeline ExecutionStats
}

func NewStatusHandler(reg *registry.Registry, pipeline ExecutionStats) *StatusHandler {
	return &StatusHandler{reg: reg, pipeline: pipeline}
}

// GetStatus responds with borrower-population counts by band and the number
// of liquidations currently in flight.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := h.reg.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"safe":              s.Safe,
		"watch":             s.Watch,
		"critical":          s.Critical,
		"liquidatable":      s.Liquidatable,
		"total":             s.Total,
		"active_executions": h.pipeline.ActiveExecutions(),
	})
}

// ListBorrowers returns a paginated view of tracked borrowers, optionally
// filtered by ?state=WATCH|CRITICAL|LIQUIDATABLE|SAFE.
// GET /api/borrowers
func (h *StatusHandler) ListBorrowers(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var borrowers []*domain.Borrower
	if st := r.URL.Query().Get("state"); st != "" {
		borrowers = h.reg.ByState(domain.BorrowerState(st))
	} else {
		borrowers = h.reg.All()
	}

	start := opts.Offset
	if start > len(borrowers) {
		start = len(borrowers)
	}
	end := start + opts.Limit
	if end > len(borrowers) {
		end = len(borrowers)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"borrowers": borrowers[start:end],
		"total":     len(borrowers),
	})
}

// GetBorrower returns the full tracked state for one borrower address.
// GET /api/borrowers/{address}
func (h *StatusHandler) GetBorrower(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	b, ok := h.reg.Get(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "borrower not tracked")
		return
	}
	writeJSON(w, http.StatusOK, b)
}
