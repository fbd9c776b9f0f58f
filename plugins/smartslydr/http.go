package smartslydr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/joshp123/smartslydr/internal/blob"
)

const routePrefix = "/smartslydr"

// CoverView is the JSON rendering of one cover.
type CoverView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Room        string `json:"room"`
	State       string `json:"state"`
	Position    int    `json:"position"`
	Online      bool   `json:"online"`
	Temperature int    `json:"temperature"`
	Humidity    int    `json:"humidity"`
	WifiSignal  int    `json:"wlansignal"`
	PetPass     string `json:"petpass,omitempty"`
	Error       string `json:"error,omitempty"`
}

type positionRequest struct {
	Position *int `json:"position"`
}

func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	var covers CoverSource
	if p.session != nil {
		covers = p.session
	}
	registerRoutes(mux, covers, p.archive)
}

func registerRoutes(mux *http.ServeMux, covers CoverSource, archive blob.Store) {
	unavailable := func(w http.ResponseWriter) bool {
		if covers == nil {
			http.Error(w, "smartslydr unavailable", http.StatusServiceUnavailable)
			return true
		}
		return false
	}

	mux.HandleFunc("GET "+routePrefix+"/covers", func(w http.ResponseWriter, r *http.Request) {
		if unavailable(w) {
			return
		}
		out := make([]CoverView, 0)
		for _, cover := range covers.Covers() {
			out = append(out, coverView(cover))
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET "+routePrefix+"/covers/{id}", func(w http.ResponseWriter, r *http.Request) {
		if unavailable(w) {
			return
		}
		cover, err := covers.Cover(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, coverView(cover))
	})

	command := func(target func(*http.Request) (int, error)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if unavailable(w) {
				return
			}
			cover, err := covers.Cover(r.PathValue("id"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			position, err := target(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
			defer cancel()
			if err := cover.SetPosition(ctx, position); err != nil {
				status := http.StatusBadGateway
				if errors.Is(err, ErrInvalidPosition) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}
			writeJSON(w, http.StatusAccepted, coverView(cover))
		}
	}

	mux.HandleFunc("POST "+routePrefix+"/covers/{id}/open", command(func(*http.Request) (int, error) {
		return 100, nil
	}))
	mux.HandleFunc("POST "+routePrefix+"/covers/{id}/close", command(func(*http.Request) (int, error) {
		return 0, nil
	}))
	mux.HandleFunc("POST "+routePrefix+"/covers/{id}/position", command(func(r *http.Request) (int, error) {
		var req positionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return 0, err
		}
		if req.Position == nil {
			return 0, errors.New("position is required")
		}
		return *req.Position, nil
	}))

	mux.HandleFunc("POST "+routePrefix+"/refresh", func(w http.ResponseWriter, r *http.Request) {
		if unavailable(w) {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		if err := covers.Coordinator().Refresh(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET "+routePrefix+"/snapshots/latest", func(w http.ResponseWriter, r *http.Request) {
		if archive == nil {
			http.Error(w, "archive not configured", http.StatusNotFound)
			return
		}
		snap, err := LatestSnapshot(r.Context(), archive)
		if errors.Is(err, blob.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
}

func coverView(cover *Cover) CoverView {
	view := CoverView{ID: cover.ID(), Name: cover.Name(), State: cover.State(), Position: cover.Position()}
	if dev, ok := cover.Device(); ok {
		view.Room = dev.RoomName
		view.Online = dev.Online()
		view.Temperature = dev.Temperature
		view.Humidity = dev.Humidity
		view.WifiSignal = dev.WifiSignal
		view.PetPass = dev.PetPass
		view.Error = dev.Error
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
