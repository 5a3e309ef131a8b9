package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwhittle/esplink/internal/directory"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	// WebSocket endpoint for devices and frontends
	r.Get(s.cfg.WebSocket.Path, s.handleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns a summary of the relay: connection counts, online
// device ids, uptime, and the health of optional backing services.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	devices, frontends := s.registry.Counts()

	components := map[string]string{}
	if s.db != nil {
		components["database"] = healthString(s.db.HealthCheck(r.Context()))
	}
	if s.mqtt != nil {
		components["mqtt"] = healthString(s.mqtt.HealthCheck(r.Context()))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"devices":        devices,
		"frontends":      frontends,
		"online_devices": s.registry.OnlineDeviceIDs(),
		"components":     components,
	})
}

// healthString renders a component health check result for the status body.
func healthString(err error) string {
	if err != nil {
		return "unhealthy: " + err.Error()
	}
	return "ok"
}

// deviceView is the REST representation of a device: directory metadata
// joined with live registry membership.
type deviceView struct {
	directory.Device
	Online bool `json:"online"`
}

// handleListDevices returns every device the relay has ever seen, with a
// live online flag from the registry. Without a directory only the
// currently online ids are known.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	online := make(map[string]bool)
	for _, id := range s.registry.OnlineDeviceIDs() {
		online[id] = true
	}

	if s.directory == nil {
		views := make([]deviceView, 0, len(online))
		for _, id := range s.registry.OnlineDeviceIDs() {
			views = append(views, deviceView{Device: directory.Device{DeviceID: id}, Online: true})
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": views})
		return
	}

	known, err := s.directory.List(r.Context())
	if err != nil {
		s.logger.Error("directory list failed", "error", err)
		writeInternalError(w, "listing devices")
		return
	}

	views := make([]deviceView, 0, len(known))
	for _, dev := range known {
		views = append(views, deviceView{Device: dev, Online: online[dev.DeviceID]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views})
}

// handleGetDevice returns one device's directory entry, online flag, and
// cached last known state when the device is connected.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, online := s.registry.DeviceState(id)

	var dev directory.Device
	if s.directory != nil {
		entry, err := s.directory.Get(r.Context(), id)
		switch {
		case err == nil:
			dev = *entry
		case errors.Is(err, directory.ErrNotFound):
			if !online {
				writeNotFound(w, "device not found")
				return
			}
			dev = directory.Device{DeviceID: id}
		default:
			s.logger.Error("directory lookup failed", "device_id", id, "error", err)
			writeInternalError(w, "loading device")
			return
		}
	} else {
		if !online {
			writeNotFound(w, "device not found")
			return
		}
		dev = directory.Device{DeviceID: id}
	}

	body := map[string]any{
		"device": deviceView{Device: dev, Online: online},
	}
	if online && state != nil {
		body["state"] = state
	}
	writeJSON(w, http.StatusOK, body)
}
