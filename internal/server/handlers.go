package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/smartslydr/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyHandler reports 200 only while every plugin is healthy.
func ReadyHandler(registry *core.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for _, p := range registry.List() {
			if p.Status != core.HealthHealthy {
				http.Error(w, p.PluginID+" "+string(p.Status), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// RegisterRegistry exposes plugin discovery on /plugins and /plugins/{id}.
func RegisterRegistry(mux *http.ServeMux, registry *core.Registry) {
	mux.HandleFunc("GET /plugins", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, registry.List())
	})
	mux.HandleFunc("GET /plugins/{id}", func(w http.ResponseWriter, r *http.Request) {
		desc, ok := registry.Describe(r.PathValue("id"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, desc)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
