package handlers

import (
	"net/http"
	"sort"

	"mediaforge/internal/engine"
)

// Providers reports credential pool occupancy per provider, sorted by name.
func (a *App) Providers(w http.ResponseWriter, r *http.Request) {
	statuses := make([]engine.PoolStatus, 0, len(a.Pools))
	for _, pool := range a.Pools {
		statuses = append(statuses, pool.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Provider < statuses[j].Provider
	})
	a.json(w, http.StatusOK, map[string]any{"providers": statuses})
}
