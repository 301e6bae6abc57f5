// Package api mounts the storefront's public and back-office HTTP endpoints.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dukkan-app/dukkan/internal/config"
	"github.com/dukkan-app/dukkan/internal/push"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
)

// Deps is everything the handlers need. Nothing is read from globals.
type Deps struct {
	Store    store.Backend
	Carts    store.CartStore
	Config   config.AppConfig
	Settings *config.Settings
	Push     *push.Client
	Auth     *Authenticator
	Mw       *server.Middleware
	Logger   *slog.Logger
	Now      func() time.Time
}

// Handler holds all API handler state.
type Handler struct {
	store    store.Backend
	carts    store.CartStore
	cfg      config.AppConfig
	settings *config.Settings
	push     *push.Client
	auth     *Authenticator
	mw       *server.Middleware
	logger   *slog.Logger
	now      func() time.Time

	// locks serializes read-modify-write on one cart, order or account.
	locks *server.KeyedMutex
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Settings == nil {
		d.Settings = config.NewSettings(d.Config)
	}
	if d.Mw == nil {
		d.Mw = server.NewMiddleware(&server.Config{}, d.Logger)
	}
	if d.Push == nil {
		d.Push = push.NewClient(push.Config{Logger: d.Logger})
	}
	return &Handler{
		store:    d.Store,
		carts:    d.Carts,
		cfg:      d.Config,
		settings: d.Settings,
		push:     d.Push,
		auth:     d.Auth,
		mw:       d.Mw,
		logger:   d.Logger,
		now:      d.Now,
		locks:    server.NewKeyedMutex(),
	}
}

// Routes mounts the API endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Storefront
		r.Get("/status", h.GetStatus)
		r.Get("/categories", h.ListCategories)
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Get("/delivery-fees", h.ListDeliveryFees)

		// Carts
		r.Post("/cart/total", h.ComputeCartTotal)
		r.Post("/carts", h.CreateCart)
		r.Get("/carts/{id}", h.GetCart)
		r.Post("/carts/{id}/actions", h.ApplyCartAction)
		r.Delete("/carts/{id}", h.DeleteCart)
		r.With(h.mw.Idempotency).Post("/carts/{id}/checkout", h.Checkout)

		// Loyalty
		r.Get("/rewards", h.ListRewards)
		r.Get("/loyalty/{phone}", h.GetLoyalty)
		r.Get("/loyalty/{phone}/history", h.GetLoyaltyHistory)
		r.With(h.mw.Idempotency).Post("/loyalty/{phone}/redeem", h.Redeem)

		// Back-office
		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", h.Login)

			r.With(h.auth.Require(RoleAdmin, RoleStats)).Get("/stats", h.GetStats)

			r.Group(func(r chi.Router) {
				r.Use(h.auth.Require(RoleAdmin))

				r.Get("/orders", h.ListOrders)
				r.Get("/orders/{id}", h.GetOrder)
				r.Patch("/orders/{id}", h.UpdateOrderStatus)

				r.Post("/products", h.CreateProduct)
				r.Put("/products/{id}", h.UpdateProduct)
				r.Delete("/products/{id}", h.DeleteProduct)

				r.Put("/delivery-fees/{city}", h.PutDeliveryFee)

				r.Get("/settings", h.GetSettings)
				r.Patch("/settings", h.UpdateSettings)

				r.Get("/notifications", h.ListNotifications)
				r.Post("/notifications", h.CreateNotification)
				r.Post("/notifications/{id}/send", h.SendNotification)
			})
		})
	})
}

// storeError maps a store failure onto an HTTP error.
func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		server.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		server.Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("store failure", "method", r.Method, "path", r.URL.Path, "error", err)
		server.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// pagination reads limit and offset, applying a default and a cap.
func pagination(r *http.Request, def, maxLimit int) (limit, offset int, err error) {
	limit, offset = def, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
