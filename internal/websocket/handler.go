package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades connections and runs them as Hub clients. An
// empty originPatterns accepts any origin; the app is served on a LAN.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	opts := &ws.AcceptOptions{OriginPatterns: originPatterns}
	if len(originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, opts)
		if err != nil {
			logger.Warn("websocket accept", "remote", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(hub, conn)
		client.Run(r.Context())
	}
}
