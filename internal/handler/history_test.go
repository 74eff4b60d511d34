package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/localspeed/internal/model"
	"github.com/dukerupert/localspeed/internal/websocket"
)

func seedResults(t *testing.T, f *fixture, downloads ...float64) {
	t.Helper()
	for i, d := range downloads {
		_, err := f.results.Create(t.Context(), model.Result{Date: testNow.Add(timeStep(i)), Ping: float64(10 + i), Download: d, Upload: 5})
		if err != nil {
			t.Fatalf("seed result: %v", err)
		}
	}
}

func listHistory(t *testing.T, h *HistoryHandler, query string) (int, historyResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest("GET", "/api/history"+query, nil))
	var resp historyResponse
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rec.Code, resp
}

func TestHistoryList(t *testing.T) {
	f := newFixture(t)
	seedResults(t, f, 50, 80, 20)
	h := NewHistoryHandler(f.results, f.hub, testLogger())

	code, resp := listHistory(t, h, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if resp.Total != 3 || len(resp.Results) != 3 || resp.Page != 1 || resp.Limit != 10 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Results[0].Download != 20 {
		t.Errorf("default order should be newest first, got %v", resp.Results[0].Download)
	}

	_, resp = listHistory(t, h, "?sort_by=download&order=desc&limit=2")
	if len(resp.Results) != 2 || resp.Results[0].Download != 80 || resp.Results[1].Download != 50 {
		t.Errorf("sorted page = %+v", resp.Results)
	}

	_, resp = listHistory(t, h, "?sort_by=download&order=asc&limit=2&page=2")
	if len(resp.Results) != 1 || resp.Results[0].Download != 80 {
		t.Errorf("second page = %+v", resp.Results)
	}

	_, resp = listHistory(t, h, "?limit=1000")
	if resp.Limit != maxHistoryLimit {
		t.Errorf("limit = %d, want capped at %d", resp.Limit, maxHistoryLimit)
	}
}

func TestHistoryListRejectsBadQuery(t *testing.T) {
	f := newFixture(t)
	h := NewHistoryHandler(f.results, f.hub, testLogger())

	for _, q := range []string{"?page=0", "?page=x", "?limit=-1", "?sort_by=lang", "?order=sideways"} {
		if code, _ := listHistory(t, h, q); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, code)
		}
	}
}

func TestHistoryCreate(t *testing.T) {
	f := newFixture(t)
	h := NewHistoryHandler(f.results, f.hub, testLogger())

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest("POST", "/api/history", jsonBody(`{"ping":14.2,"download":310.5,"upload":41}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	all, err := f.results.All(t.Context())
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 || all[0].Download != 310.5 || all[0].Lang != "en" {
		t.Errorf("stored = %+v", all)
	}
	if got := f.hub.types(); len(got) != 1 || got[0] != websocket.TypeResult {
		t.Errorf("published = %v", got)
	}
}

func TestHistoryCreateRejectsNegative(t *testing.T) {
	f := newFixture(t)
	h := NewHistoryHandler(f.results, f.hub, testLogger())

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest("POST", "/api/history", jsonBody(`{"ping":-1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
