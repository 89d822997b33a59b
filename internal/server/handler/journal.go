package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

// JournalHandler exposes read-only views over the Durability Journal for the
// admin API (spec §4.9): in-flight and recently completed transaction
// intents.
type JournalHandler struct {
	journal domain.Journal
	logger  *slog.Logger
}

// NewJournalHandler creates a JournalHandler backed by journal.
func NewJournalHandler(journal domain.Journal, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{journal: journal, logger: logger}
}

// ListActive responds with every in-flight transaction intent.
// GET /api/transactions/active
func (h *JournalHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	rows, err := h.journal.ListActive(r.Context())
	if err != nil {
		logHandler(h.logger, "journal.list_active").Error("list active failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list active transactions")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// ListCompleted responds with a page of completed transactions, newest first.
// GET /api/transactions/completed
func (h *JournalHandler) ListCompleted(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	rows, err := h.journal.ListCompleted(r.Context(), opts)
	if err != nil {
		logHandler(h.logger, "journal.list_completed").Error("list completed failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list completed transactions")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// GetActive responds with one in-flight transaction by id.
// GET /api/transactions/active/{id}
func (h *JournalHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	tx, err := h.journal.GetActive(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "active transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}
