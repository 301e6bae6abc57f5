package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dukkan-app/dukkan/internal/order"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
	"github.com/dukkan-app/dukkan/internal/whatsapp"
)

// cartView is a cart together with its derived totals.
type cartView struct {
	store.Cart
	Total        order.OrderTotal `json:"total"`
	ItemCount    int              `json:"item_count"`
	DeliveryCity string           `json:"delivery_city,omitempty"`
}

func viewCart(c store.Cart, fee decimal.Decimal, city string) cartView {
	return cartView{
		Cart:         c,
		Total:        order.ComputeTotal(c.Lines, fee),
		ItemCount:    order.ItemCount(c.Lines),
		DeliveryCity: city,
	}
}

// writeFeeError reports a failed delivery fee lookup.
func (h *Handler) writeFeeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnknownCity) {
		server.TypedError(w, http.StatusUnprocessableEntity, "unknown_city", err.Error())
		return
	}
	h.storeError(w, r, err)
}

// ComputeCartTotal handles POST /api/v1/cart/total.
func (h *Handler) ComputeCartTotal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lines []order.CartLine `json:"lines"`
		City  string           `json:"city"`
	}
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	fee, city, err := h.deliveryFee(r.Context(), req.City)
	if err != nil {
		h.writeFeeError(w, r, err)
		return
	}
	total := order.ComputeTotal(req.Lines, fee)
	server.JSON(w, http.StatusOK, map[string]any{
		"subtotal":      total.Subtotal,
		"delivery_fee":  total.DeliveryFee,
		"grand_total":   total.GrandTotal,
		"item_count":    order.ItemCount(req.Lines),
		"delivery_city": city,
	})
}

// CreateCart handles POST /api/v1/carts.
func (h *Handler) CreateCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.CreateCart(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, viewCart(c, decimal.Zero, ""))
}

// GetCart handles GET /api/v1/carts/{id}. An optional ?city= prices delivery.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetCart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	fee, city, err := h.deliveryFee(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		h.writeFeeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, viewCart(c, fee, city))
}

// ApplyCartAction handles POST /api/v1/carts/{id}/actions.
func (h *Handler) ApplyCartAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Type      order.ActionType `json:"type"`
		ProductID string           `json:"product_id"`
		Quantity  int              `json:"quantity"`
	}
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	action := order.Action{Type: req.Type, ID: req.ProductID, Quantity: req.Quantity}
	if req.Type == order.ActionAdd {
		if req.ProductID == "" {
			server.Error(w, http.StatusBadRequest, "product_id is required")
			return
		}
		p, err := h.store.GetProduct(r.Context(), req.ProductID)
		if err != nil {
			h.storeError(w, r, err)
			return
		}
		if !p.Available {
			server.TypedError(w, http.StatusUnprocessableEntity, "product_unavailable", fmt.Sprintf("product %s is not available", p.ID))
			return
		}
		action.Line = p.CartLine(req.Quantity)
	}
	if err := action.Validate(); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	unlock := h.locks.Lock("cart:" + id)
	defer unlock()

	c, err := h.carts.GetCart(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	c.Lines = order.Reduce(c.Lines, action)
	if err := h.carts.SaveCart(r.Context(), c); err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, viewCart(c, decimal.Zero, ""))
}

// DeleteCart handles DELETE /api/v1/carts/{id}.
func (h *Handler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.DeleteCart(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutRequest struct {
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	City         string `json:"city"`
	Address      string `json:"address"`
	Notes        string `json:"notes"`
	Locale       string `json:"locale"`
}

func (req checkoutRequest) validate() error {
	var missing []string
	if strings.TrimSpace(req.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	if strings.TrimSpace(req.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(req.City) != "" && strings.TrimSpace(req.Address) == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Checkout handles POST /api/v1/carts/{id}/checkout. The cart is turned
// into a pending order, priced from the current catalog, and destroyed.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	settings := h.settings.Get()
	if !settings.Open {
		msg := settings.ClosedMessage
		if msg == "" {
			msg = "store is closed"
		}
		server.TypedError(w, http.StatusServiceUnavailable, "store_closed", msg)
		return
	}

	var req checkoutRequest
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		server.TypedError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}
	phone, err := whatsapp.NormalizePhone(req.Phone, h.cfg.CountryCode)
	if err != nil {
		server.TypedError(w, http.StatusUnprocessableEntity, "invalid_phone", err.Error())
		return
	}

	unlock := h.locks.Lock("cart:" + id)
	defer unlock()

	c, err := h.carts.GetCart(ctx, id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if order.ItemCount(c.Lines) == 0 {
		server.TypedError(w, http.StatusUnprocessableEntity, "empty_cart", "cart is empty")
		return
	}

	lines := make([]order.CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		p, err := h.store.GetProduct(ctx, l.ID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !p.Available) {
			server.TypedError(w, http.StatusUnprocessableEntity, "product_unavailable",
				fmt.Sprintf("%s is no longer available", l.Name))
			return
		}
		if err != nil {
			h.storeError(w, r, err)
			return
		}
		lines = append(lines, p.CartLine(l.Quantity))
	}

	fee, city, err := h.deliveryFee(ctx, req.City)
	if err != nil {
		h.writeFeeError(w, r, err)
		return
	}
	total := order.ComputeTotal(lines, fee)

	o, err := h.store.CreateOrder(ctx, order.Order{
		CustomerName: strings.TrimSpace(req.CustomerName),
		Phone:        phone,
		City:         city,
		Address:      strings.TrimSpace(req.Address),
		Notes:        strings.TrimSpace(req.Notes),
		Lines:        lines,
		Subtotal:     total.Subtotal,
		DeliveryFee:  total.DeliveryFee,
		GrandTotal:   total.GrandTotal,
		Status:       order.StatusPending,
	})
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	locale := order.ParseLocale(req.Locale)
	if req.Locale == "" {
		locale = order.ParseLocale(r.Header.Get("Accept-Language"))
	}
	summary := order.FormatSummary(order.Summary{
		OrderID:      o.ID,
		CustomerName: o.CustomerName,
		Phone:        o.Phone,
		City:         o.City,
		Address:      o.Address,
		Notes:        o.Notes,
		Lines:        o.Lines,
		Currency:     h.cfg.Currency,
	}, o.DeliveryFee, locale)

	resp := map[string]any{
		"order":   o,
		"summary": summary,
	}
	if settings.WhatsAppNumber != "" {
		link, err := whatsapp.Link(settings.WhatsAppNumber, summary, h.cfg.CountryCode)
		if err != nil {
			h.logger.Warn("store whatsapp number rejected", "error", err)
		} else {
			resp["whatsapp_url"] = link
		}
	}

	if err := h.carts.DeleteCart(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Warn("deleting checked-out cart", "cart_id", id, "error", err)
	}

	h.logger.Info("order placed",
		"order_id", o.ID,
		"items", order.ItemCount(o.Lines),
		"grand_total", o.GrandTotal.String(),
		"city", o.City,
	)
	server.JSON(w, http.StatusCreated, resp)
}
