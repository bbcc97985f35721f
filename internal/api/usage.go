package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/database"
)

// UsageHandler serves the usage log.
type UsageHandler struct {
	db  *database.DB
	log zerolog.Logger
}

func NewUsageHandler(db *database.DB, log zerolog.Logger) *UsageHandler {
	return &UsageHandler{db: db, log: log.With().Str("handler", "usage").Logger()}
}

func (h *UsageHandler) Routes(r chi.Router) {
	r.Get("/usage", h.List)
}

// List handles GET /api/v1/usage.
func (h *UsageHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		WriteError(w, http.StatusNotFound, "usage log is not configured")
		return
	}

	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.db.ListUsage(r.Context(), p.Limit, p.Offset)
	if err != nil {
		h.log.Error().Err(err).Msg("usage list query failed")
		WriteError(w, http.StatusInternalServerError, "failed to query usage log")
		return
	}
	if rows == nil {
		rows = []database.UsageAPI{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"usage":  rows,
		"limit":  p.Limit,
		"offset": p.Offset,
	})
}
