package handler

import (
	"encoding/json"
	"net/http"
)

// Publisher pushes change notifications to connected clients.
type Publisher interface {
	Publish(typ string, data any)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func publish(p Publisher, typ string, data any) {
	if p != nil {
		p.Publish(typ, data)
	}
}
