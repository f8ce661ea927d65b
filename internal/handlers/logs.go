package handlers

import (
	"net/http"
	"strconv"

	"github.com/gluk-w/termhub/internal/logging"
)

// ServerLogs returns the tail of the server log file.
// GET /api/logs?lines=200
func ServerLogs(w http.ResponseWriter, r *http.Request) {
	n := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 10000 {
			writeError(w, http.StatusBadRequest, "lines must be between 1 and 10000")
			return
		}
		n = parsed
	}

	tail, err := logging.ReadTail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": tail})
}
