package handlers

import (
	"net/http"

	"github.com/gluk-w/termhub/internal/database"
	"github.com/gluk-w/termhub/internal/shellhost"
)

// Health serves /api/health: database connectivity plus shell host
// reachability.
type Health struct {
	Host shellhost.Host
}

func (h *Health) Check(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	hostStatus := "unavailable"
	if h.Host != nil {
		if _, err := h.Host.List(r.Context()); err == nil {
			hostStatus = "available"
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     status,
		"database":   dbStatus,
		"shell_host": hostStatus,
	})
}
