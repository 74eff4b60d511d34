package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/localspeed/internal/push"
	"github.com/dukerupert/localspeed/internal/store"
)

// Alerter sends a notification to every subscribed browser.
type Alerter interface {
	Notify(ctx context.Context, payload push.Payload) (int, error)
}

type PushHandler struct {
	pushStore *store.PushStore
	alerter   Alerter
	publicKey string
	logger    *slog.Logger
}

func NewPushHandler(ps *store.PushStore, alerter Alerter, publicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{pushStore: ps, alerter: alerter, publicKey: publicKey, logger: logger}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh, and auth are required")
		return
	}
	if !strings.HasPrefix(req.Endpoint, "https://") {
		writeError(w, http.StatusBadRequest, "endpoint must be an https URL")
		return
	}

	sub, err := h.pushStore.Subscribe(r.Context(), req.Endpoint, req.P256dh, req.Auth, strings.TrimSpace(req.DeviceName))
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	found, err := h.pushStore.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.pushStore.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.publicKey})
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	sent, err := h.alerter.Notify(r.Context(), push.Payload{
		Title: "LocalSpeed",
		Body:  "Backup alerts are working.",
		URL:   "/",
		Tag:   "localspeed-test",
	})
	if err != nil {
		h.logger.Error("send test notification", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send test notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
