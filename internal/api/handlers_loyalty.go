package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dukkan-app/dukkan/internal/loyalty"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
	"github.com/dukkan-app/dukkan/internal/whatsapp"
)

// phoneParam normalizes the {phone} URL parameter into a loyalty key.
func (h *Handler) phoneParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	phone, err := whatsapp.NormalizePhone(chi.URLParam(r, "phone"), h.cfg.CountryCode)
	if err != nil {
		server.TypedError(w, http.StatusUnprocessableEntity, "invalid_phone", err.Error())
		return "", false
	}
	return phone, true
}

// account loads the account for phone, opening a bronze one on first access.
// Callers hold the account lock.
func (h *Handler) account(ctx context.Context, phone string) (loyalty.Account, error) {
	a, err := h.store.GetAccount(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		a = loyalty.NewAccount(phone, h.now())
		if err := h.store.SaveAccount(ctx, a); err != nil {
			return loyalty.Account{}, err
		}
		h.logger.Info("loyalty account opened", "phone", phone)
		return a, nil
	}
	return a, err
}

// GetLoyalty handles GET /api/v1/loyalty/{phone}.
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	phone, ok := h.phoneParam(w, r)
	if !ok {
		return
	}
	unlock := h.locks.Lock("acct:" + phone)
	defer unlock()

	a, err := h.account(r.Context(), phone)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, loyalty.Describe(a))
}

// GetLoyaltyHistory handles GET /api/v1/loyalty/{phone}/history.
func (h *Handler) GetLoyaltyHistory(w http.ResponseWriter, r *http.Request) {
	phone, ok := h.phoneParam(w, r)
	if !ok {
		return
	}
	entries, err := h.store.Ledger(r.Context(), phone)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, entries)
}

// ListRewards handles GET /api/v1/rewards.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.store.ListRewards(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, rewards)
}

// redemptionCode is the short code the customer shows at the counter.
func redemptionCode(e loyalty.LedgerEntry) string {
	id := strings.ToUpper(strings.ReplaceAll(e.ID, "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return "R-" + id
}

// Redeem handles POST /api/v1/loyalty/{phone}/redeem.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phone, ok := h.phoneParam(w, r)
	if !ok {
		return
	}
	var req struct {
		RewardID string `json:"reward_id"`
	}
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RewardID == "" {
		server.Error(w, http.StatusBadRequest, "reward_id is required")
		return
	}
	reward, err := h.store.GetReward(ctx, req.RewardID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	unlock := h.locks.Lock("acct:" + phone)
	defer unlock()

	a, err := h.account(ctx, phone)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	a, entry, err := loyalty.Redeem(a, reward, h.now())
	if errors.Is(err, loyalty.ErrInsufficientPoints) {
		server.TypedError(w, http.StatusUnprocessableEntity, "insufficient_points", err.Error())
		return
	}
	if err != nil {
		server.TypedError(w, http.StatusUnprocessableEntity, "invalid_reward", err.Error())
		return
	}
	if err := h.store.ApplyLoyalty(ctx, a, entry, nil); err != nil {
		h.storeError(w, r, err)
		return
	}

	h.logger.Info("reward redeemed", "phone", phone, "reward_id", reward.ID, "points", reward.PointsCost)
	server.JSON(w, http.StatusOK, map[string]any{
		"account": loyalty.Describe(a),
		"entry":   entry,
		"reward":  reward,
		"code":    redemptionCode(entry),
	})
}
