package api

import (
	"net/http"
	"runtime"
	"time"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
		"go":      runtime.Version(),
	})
}
