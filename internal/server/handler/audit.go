package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

// AuditHandler exposes the append-only audit log for the admin API.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler backed by audit.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// List responds with a page of audit entries, newest first.
// GET /api/audit
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	rows, err := h.audit.List(r.Context(), opts)
	if err != nil {
		logHandler(h.logger, "audit.list").Error("list audit entries failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
