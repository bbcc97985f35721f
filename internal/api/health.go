package api

import (
	"net/http"
	"time"

	"github.com/snarg/scribe-engine/internal/database"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	db        *database.DB // nil = usage log disabled
	providers map[string]bool
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health endpoint. providers maps provider
// name to whether its credential is configured.
func NewHealthHandler(db *database.DB, providers map[string]bool, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		providers: providers,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	configured := 0
	for name, ok := range h.providers {
		if ok {
			checks["provider_"+name] = "configured"
			configured++
		} else {
			checks["provider_"+name] = "no_api_key"
		}
	}
	if configured == 0 && status == "healthy" {
		// The service is up but can't transcribe anything.
		status = "degraded"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
