package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dukkan-app/dukkan/internal/config"
	"github.com/dukkan-app/dukkan/internal/loyalty"
	"github.com/dukkan-app/dukkan/internal/order"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
	"github.com/dukkan-app/dukkan/internal/whatsapp"
)

// topProducts is how many best sellers the dashboard shows.
const topProducts = 5

// ListOrders handles GET /api/v1/admin/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r, 50, 500)
	if err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	q := store.OrderQuery{Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("status"); s != "" {
		q.Status = order.Status(s)
		if !q.Status.Valid() {
			server.Error(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", s))
			return
		}
	}
	if p := r.URL.Query().Get("phone"); p != "" {
		if q.Phone, err = whatsapp.NormalizePhone(p, h.cfg.CountryCode); err != nil {
			server.Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	orders, err := h.store.ListOrders(r.Context(), q)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/admin/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, o)
}

// UpdateOrderStatus handles PATCH /api/v1/admin/orders/{id}. Moving an
// order to delivered credits the customer's loyalty account exactly once.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	var req struct {
		Status order.Status `json:"status"`
	}
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Status.Valid() {
		server.Error(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	unlock := h.locks.Lock("order:" + id)
	defer unlock()

	o, err := h.store.GetOrder(ctx, id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if !order.CanTransition(o.Status, req.Status) {
		server.TypedError(w, http.StatusConflict, "invalid_transition",
			fmt.Sprintf("cannot move order from %s to %s", o.Status, req.Status))
		return
	}
	from := o.Status
	o.Status = req.Status

	points := 0
	if o.Status == order.StatusDelivered && !o.PointsAwarded {
		unlockAcct := h.locks.Lock("acct:" + o.Phone)
		defer unlockAcct()

		a, err := h.account(ctx, o.Phone)
		if err != nil {
			h.storeError(w, r, err)
			return
		}
		a, entry := loyalty.Earn(a, o.GrandTotal, o.ID, h.now())
		o.PointsAwarded = true
		if err := h.store.ApplyLoyalty(ctx, a, entry, &o); err != nil {
			h.storeError(w, r, err)
			return
		}
		points = entry.Points
	} else if err := h.store.UpdateOrder(ctx, o); err != nil {
		h.storeError(w, r, err)
		return
	}
	if o, err = h.store.GetOrder(ctx, id); err != nil {
		h.storeError(w, r, err)
		return
	}

	h.logger.Info("order status changed", "order_id", o.ID, "from", from, "to", o.Status, "points", points, "by", actor(r))
	server.JSON(w, http.StatusOK, map[string]any{
		"order":          o,
		"points_awarded": points,
	})
}

type productRequest struct {
	CategoryID    string          `json:"category_id"`
	Name          string          `json:"name"`
	NameEn        string          `json:"name_en"`
	Description   string          `json:"description"`
	DescriptionEn string          `json:"description_en"`
	Price         decimal.Decimal `json:"price"`
	ImageURL      string          `json:"image_url"`
	Available     *bool           `json:"available"`
	Featured      bool            `json:"featured"`
}

func (req productRequest) product(id string) (store.Product, error) {
	if strings.TrimSpace(req.Name) == "" {
		return store.Product{}, errors.New("name is required")
	}
	if req.Price.IsNegative() {
		return store.Product{}, errors.New("price must not be negative")
	}
	if !store.ExactMoney(req.Price) {
		return store.Product{}, fmt.Errorf("price must have at most %d decimal places", store.MoneyScale)
	}
	available := true
	if req.Available != nil {
		available = *req.Available
	}
	return store.Product{
		ID:            id,
		CategoryID:    req.CategoryID,
		Name:          strings.TrimSpace(req.Name),
		NameEn:        strings.TrimSpace(req.NameEn),
		Description:   req.Description,
		DescriptionEn: req.DescriptionEn,
		Price:         req.Price,
		ImageURL:      req.ImageURL,
		Available:     available,
		Featured:      req.Featured,
	}, nil
}

// CreateProduct handles POST /api/v1/admin/products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.product("")
	if err != nil {
		server.TypedError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	p, err = h.store.SaveProduct(r.Context(), p)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.Info("product created", "product_id", p.ID)
	server.JSON(w, http.StatusCreated, p)
}

// UpdateProduct handles PUT /api/v1/admin/products/{id}.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req productRequest
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.product(id)
	if err != nil {
		server.TypedError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	if _, err := h.store.GetProduct(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	p, err = h.store.SaveProduct(r.Context(), p)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, p)
}

// DeleteProduct handles DELETE /api/v1/admin/products/{id}.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteProduct(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.Info("product deleted", "product_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// PutDeliveryFee handles PUT /api/v1/admin/delivery-fees/{city}.
func (h *Handler) PutDeliveryFee(w http.ResponseWriter, r *http.Request) {
	city, err := url.PathUnescape(chi.URLParam(r, "city"))
	if err != nil || strings.TrimSpace(city) == "" {
		server.Error(w, http.StatusBadRequest, "invalid city")
		return
	}
	var req struct {
		CityEn string          `json:"city_en"`
		Fee    decimal.Decimal `json:"fee"`
		Active *bool           `json:"active"`
	}
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Fee.IsNegative() {
		server.TypedError(w, http.StatusUnprocessableEntity, "validation_error", "fee must not be negative")
		return
	}
	if !store.ExactMoney(req.Fee) {
		server.TypedError(w, http.StatusUnprocessableEntity, "validation_error",
			fmt.Sprintf("fee must have at most %d decimal places", store.MoneyScale))
		return
	}
	fee := store.DeliveryFee{City: strings.TrimSpace(city), CityEn: req.CityEn, Fee: req.Fee, Active: true}
	if req.Active != nil {
		fee.Active = *req.Active
	}
	if err := h.store.SaveDeliveryFee(r.Context(), fee); err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, fee)
}

// GetSettings handles GET /api/v1/admin/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.settings.Get())
}

// UpdateSettings handles PATCH /api/v1/admin/settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := server.DecodeJSON(w, r, &updates); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.settings.Update(updates)
	if errors.Is(err, config.ErrInvalid) {
		server.TypedError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	if err != nil {
		server.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("settings updated", "open", view.Open, "by", actor(r))
	server.JSON(w, http.StatusOK, view)
}

// GetStats handles GET /api/v1/admin/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.ListOrders(r.Context(), store.OrderQuery{})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, order.Summarize(orders, topProducts))
}
