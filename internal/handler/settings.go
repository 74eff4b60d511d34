package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/localspeed/internal/model"
	"github.com/dukerupert/localspeed/internal/store"
	"github.com/dukerupert/localspeed/internal/websocket"
)

type SettingsHandler struct {
	settings *store.SettingsStore
	hub      Publisher
	logger   *slog.Logger
}

func NewSettingsHandler(ss *store.SettingsStore, hub Publisher, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: ss, hub: hub, logger: logger}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Load(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.PreferencesPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	settings, err := h.settings.Load(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get settings")
		return
	}
	patch.Apply(settings)
	if err := h.settings.SavePreferences(r.Context(), settings); err != nil {
		h.logger.Error("failed to save settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	publish(h.hub, websocket.TypeSettings, settings)
	writeJSON(w, http.StatusOK, settings)
}
