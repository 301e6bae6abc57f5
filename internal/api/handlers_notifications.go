package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dukkan-app/dukkan/internal/push"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/store"
)

// ListNotifications handles GET /api/v1/admin/notifications.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := h.store.ListNotifications(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusOK, ns)
}

// CreateNotification handles POST /api/v1/admin/notifications.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		TitleEn string `json:"title_en"`
		Body    string `json:"body"`
		BodyEn  string `json:"body_en"`
	}
	if err := server.DecodeJSON(w, r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Body) == "" {
		server.TypedError(w, http.StatusUnprocessableEntity, "validation_error", "title and body are required")
		return
	}
	n, err := h.store.CreateNotification(r.Context(), store.Notification{
		Title:   strings.TrimSpace(req.Title),
		TitleEn: strings.TrimSpace(req.TitleEn),
		Body:    strings.TrimSpace(req.Body),
		BodyEn:  strings.TrimSpace(req.BodyEn),
	})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	server.JSON(w, http.StatusCreated, n)
}

// SendNotification handles POST /api/v1/admin/notifications/{id}/send.
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	unlock := h.locks.Lock("ntf:" + id)
	defer unlock()

	n, err := h.store.GetNotification(ctx, id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if n.Status == store.NotificationSent {
		server.TypedError(w, http.StatusConflict, "already_sent", "notification was already sent")
		return
	}

	res, err := h.push.Send(ctx, push.Message{
		Title:   n.Title,
		TitleEn: n.TitleEn,
		Body:    n.Body,
		BodyEn:  n.BodyEn,
	})
	if errors.Is(err, push.ErrNotConfigured) {
		server.TypedError(w, http.StatusServiceUnavailable, "push_not_configured", err.Error())
		return
	}
	if err != nil {
		n.Status = store.NotificationFailed
		if uerr := h.store.UpdateNotification(ctx, n); uerr != nil {
			h.logger.Error("recording failed notification", "notification_id", id, "error", uerr)
		}
		h.logger.Warn("push send failed", "notification_id", id, "error", err)
		server.TypedError(w, http.StatusBadGateway, "push_failed", err.Error())
		return
	}

	sentAt := h.now()
	n.Status = store.NotificationSent
	n.Sent = res.Sent
	n.Failed = res.Failed
	n.SentAt = &sentAt
	if err := h.store.UpdateNotification(ctx, n); err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.Info("notification sent", "notification_id", id, "sent", res.Sent, "failed", res.Failed)
	server.JSON(w, http.StatusOK, map[string]any{
		"notification": n,
		"sent":         res.Sent,
		"failed":       res.Failed,
	})
}
