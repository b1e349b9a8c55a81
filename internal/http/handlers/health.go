package handlers

import (
	"net/http"
)

// Health reports liveness plus a coarse view of the service's collaborators:
// whether a dispatch broker is wired and how many provider credentials are
// currently usable.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	available := 0
	for _, pool := range a.Pools {
		available += pool.Status().Available
	}
	a.json(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"queue":                 a.Queue != nil,
		"credentials_available": available,
	})
}
