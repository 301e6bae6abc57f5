// Package ops provides the /ops control plane: health, request inspection,
// state export and import, and reset of the in-memory backend.
package ops

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dukkan-app/dukkan/internal/config"
	"github.com/dukkan-app/dukkan/internal/push"
	"github.com/dukkan-app/dukkan/internal/server"
)

// StateStore is implemented by backends whose full state can be exported
// and replaced at runtime.
type StateStore interface {
	// Snapshot returns the full state as a JSON-serializable value.
	Snapshot() any
	// LoadState replaces the full state from a JSON body.
	LoadState(data []byte) error
	// Reset clears all state and reloads seed data.
	Reset()
}

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the control plane. State and Health are optional.
type Deps struct {
	State    StateStore
	Health   Pinger
	Mw       *server.Middleware
	Push     *push.Client
	Settings *config.Settings
	// Initial is what Settings returns to on reset.
	Initial config.SettingsView
	// Require guards everything except /ops/health.
	Require func(http.Handler) http.Handler
}

// Handler serves the /ops endpoints.
type Handler struct {
	d Deps
}

// NewHandler creates a new ops handler.
func NewHandler(d Deps) *Handler {
	return &Handler{d: d}
}

// Routes mounts the ops endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/ops", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Group(func(r chi.Router) {
			if h.d.Require != nil {
				r.Use(h.d.Require)
			}
			r.Get("/requests", h.handleGetRequests)
			r.Get("/state", h.handleGetState)
			r.Post("/state", h.handleLoadState)
			r.Post("/reset", h.handleReset)
			r.Get("/push/deliveries", h.handlePushDeliveries)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.d.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.d.Health.Ping(ctx); err != nil {
			server.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.d.Mw.ReqLog.Entries())
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	if h.d.State == nil {
		server.Error(w, http.StatusNotImplemented, "state export requires the memory backend")
		return
	}
	server.JSON(w, http.StatusOK, h.d.State.Snapshot())
}

func (h *Handler) handleLoadState(w http.ResponseWriter, r *http.Request) {
	if h.d.State == nil {
		server.Error(w, http.StatusNotImplemented, "state import requires the memory backend")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		server.Error(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if err := h.d.State.LoadState(body); err != nil {
		server.Error(w, http.StatusBadRequest, "failed to load state: "+err.Error())
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if h.d.State == nil {
		server.Error(w, http.StatusNotImplemented, "reset requires the memory backend")
		return
	}
	h.d.State.Reset()
	h.d.Mw.ReqLog.Clear()
	h.d.Mw.Idempotent.Reset()
	if h.d.Push != nil {
		h.d.Push.Reset()
	}
	if h.d.Settings != nil {
		h.d.Settings.Replace(h.d.Initial)
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) handlePushDeliveries(w http.ResponseWriter, r *http.Request) {
	if h.d.Push == nil {
		server.JSON(w, http.StatusOK, []push.Delivery{})
		return
	}
	server.JSON(w, http.StatusOK, h.d.Push.Deliveries())
}
