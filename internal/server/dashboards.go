package server

import (
	"net/http"
	"sort"
)

// DashboardsHandler serves plugin dashboards by path. /dashboards/ itself
// returns the sorted list of available paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	index := make([]string, 0, len(dashboards))
	for path := range dashboards {
		index = append(index, path)
	}
	sort.Strings(index)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/dashboards/" {
			writeJSON(w, index)
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})
}
