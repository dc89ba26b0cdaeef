package handler

import (
	"log/slog"
	"net/http"

	"github.com/liqguard/liquidator/internal/domain"
)

// AuditHandler exposes the append-only audit trail for operator review.
type AuditHandler struct {
	store  domain.AuditStore
	logger *slog.Logger
}

func NewAuditHandler(store domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{store: store, logger: logger}
}

// ListEntries returns a paginated slice of audit log entries, newest first.
// GET /api/audit?limit=&offset=
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.store.List(r.Context(), opts)
	if err != nil {
		logHandler(h.logger, "audit.list").Error("list audit entries failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
