package handlers

import (
	"net/http"

	"github.com/gluk-w/termhub/internal/buffer"
	"github.com/gluk-w/termhub/internal/cleanup"
	"github.com/gluk-w/termhub/internal/session"
	"github.com/go-chi/chi/v5"
)

// clientCounter is satisfied by the gateway; declared here so the stats
// handler does not import it.
type clientCounter interface {
	ClientCount() int
}

// Stats serves /api/stats and /api/sessions/{id}/buffer.
type Stats struct {
	Mgr     *session.Manager
	Buffers *buffer.Engine
	Cleanup *cleanup.Service
	Gateway clientCounter
}

func (h *Stats) Overview(w http.ResponseWriter, r *http.Request) {
	infos := h.Mgr.List()
	byState := make(map[session.State]int)
	for _, info := range infos {
		byState[info.Status]++
	}

	out := map[string]any{
		"sessions":          len(infos),
		"sessions_by_state": byState,
		"orphan_shells":     len(h.Mgr.Orphans()),
		"cleanup":           h.Cleanup.Stats(),
	}
	if h.Gateway != nil {
		out["connected_clients"] = h.Gateway.ClientCount()
	}
	writeJSON(w, http.StatusOK, out)
}

// Buffer reports one session's scrollback usage.
func (h *Stats) Buffer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, ok := h.Buffers.GetStats(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no buffer for session")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Sessions lists every tracked session.
func (h *Stats) Sessions(w http.ResponseWriter, r *http.Request) {
	infos := h.Mgr.List()
	if infos == nil {
		infos = []session.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}
