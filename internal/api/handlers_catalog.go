package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
)

// GetStatus handles GET /api/v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Get()
	resp := map[string]any{
		"open":          s.Open,
		"store_name":    h.cfg.StoreName,
		"store_name_en": h.cfg.StoreNameEn,
		"currency":      h.cfg.Currency,
	}
	if !s.Open {
		resp["closed_message"] = s.ClosedMessage
		resp["closed_message_en"] = s.ClosedMessageEn
	}
	server.JSON(w, http.StatusOK, resp)
}

// ListCategories handles GET /api/v1/categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.store.ListCategories(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, cats)
}

// productQuery parses the catalog filter form from the query string.
func productQuery(r *http.Request) (store.ProductQuery, error) {
	qs := r.URL.Query()
	q := store.ProductQuery{
		CategoryID:    qs.Get("category"),
		Search:        qs.Get("q"),
		Sort:          qs.Get("sort"),
		AvailableOnly: qs.Get("include_unavailable") != "true",
		FeaturedOnly:  qs.Get("featured") == "true",
	}

	switch q.Sort {
	case "", store.SortNewest, store.SortPriceAsc, store.SortPriceDesc, store.SortName:
	default:
		return q, fmt.Errorf("unknown sort %q", q.Sort)
	}

	for param, dst := range map[string]**decimal.Decimal{"min_price": &q.MinPrice, "max_price": &q.MaxPrice} {
		v := qs.Get(param)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return q, fmt.Errorf("%s must be a non-negative number", param)
		}
		*dst = &d
	}
	if q.MinPrice != nil && q.MaxPrice != nil && q.MinPrice.GreaterThan(*q.MaxPrice) {
		return q, errors.New("min_price must not exceed max_price")
	}

	limit, offset, err := pagination(r, 50, 200)
	if err != nil {
		return q, err
	}
	q.Limit, q.Offset = limit, offset
	return q, nil
}

// ListProducts handles GET /api/v1/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q, err := productQuery(r)
	if err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	products, err := h.store.ListProducts(r.Context(), q)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	w.Header().Set("X-Result-Count", strconv.Itoa(len(products)))
	server.JSON(w, http.StatusOK, products)
}

// GetProduct handles GET /api/v1/products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, p)
}

// ListDeliveryFees handles GET /api/v1/delivery-fees.
func (h *Handler) ListDeliveryFees(w http.ResponseWriter, r *http.Request) {
	fees, err := h.store.ListDeliveryFees(r.Context(), true)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, fees)
}

var errUnknownCity = errors.New("unknown delivery city")

// deliveryFee resolves the fee for city. An empty city is store pickup.
func (h *Handler) deliveryFee(ctx context.Context, city string) (decimal.Decimal, string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return decimal.Zero, "", nil
	}
	fee, err := h.store.DeliveryFee(ctx, city)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !fee.Active) {
		return decimal.Zero, "", fmt.Errorf("%w: %s", errUnknownCity, city)
	}
	if err != nil {
		return decimal.Zero, "", err
	}
	return fee.Fee, fee.City, nil
}
