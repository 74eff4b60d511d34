package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
	"github.com/dukerupert/localspeed/internal/store"
	"github.com/dukerupert/localspeed/internal/websocket"
)

const maxHistoryLimit = 100

var historySortColumns = map[string]bool{
	"date":     true,
	"ping":     true,
	"download": true,
	"upload":   true,
}

type HistoryHandler struct {
	results *store.ResultStore
	hub     Publisher
	logger  *slog.Logger
}

func NewHistoryHandler(rs *store.ResultStore, hub Publisher, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{results: rs, hub: hub, logger: logger}
}

type historyResponse struct {
	Results []model.Result `json:"results"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := queryInt(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := queryInt(q.Get("limit"), 10)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxHistoryLimit)

	sortBy := q.Get("sort_by")
	if sortBy == "" {
		sortBy = "date"
	}
	if !historySortColumns[sortBy] {
		writeError(w, http.StatusBadRequest, "sort_by must be one of date, ping, download, upload")
		return
	}

	var desc bool
	switch q.Get("order") {
	case "", "desc":
		desc = true
	case "asc":
	default:
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	results, total, err := h.results.List(r.Context(), store.ListParams{Page: page, Limit: limit, SortBy: sortBy, Desc: desc})
	if err != nil {
		h.logger.Error("failed to list results", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Results: results, Total: total, Page: page, Limit: limit})
}

type resultRequest struct {
	Ping     float64 `json:"ping"`
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`
	Lang     string  `json:"lang"`
	Theme    string  `json:"theme"`
	Mode     *string `json:"mode"`
}

func (h *HistoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Ping < 0 || req.Download < 0 || req.Upload < 0 {
		writeError(w, http.StatusBadRequest, "measurements must not be negative")
		return
	}

	result, err := h.results.Create(r.Context(), model.Result{
		Date:     time.Now().UTC(),
		Ping:     req.Ping,
		Download: req.Download,
		Upload:   req.Upload,
		Lang:     req.Lang,
		Theme:    req.Theme,
		Mode:     req.Mode,
	})
	if err != nil {
		h.logger.Error("failed to create result", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save result")
		return
	}

	publish(h.hub, websocket.TypeResult, result)
	writeJSON(w, http.StatusCreated, result)
}

func queryInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
