package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/dukerupert/localspeed/internal/handler"
	"github.com/dukerupert/localspeed/internal/middleware"
	"github.com/dukerupert/localspeed/internal/scheduler"
	"github.com/dukerupert/localspeed/internal/store"
	ws "github.com/dukerupert/localspeed/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manual backups and restores are expensive; allow a small burst per client.
const (
	backupBurst  = 3
	backupPeriod = time.Minute
)

// Config wires a Server.
type Config struct {
	DB         *sql.DB
	Settings   *store.SettingsStore
	Results    *store.ResultStore
	Runner     handler.Runner
	Dumper     *backup.Dumper
	State      *scheduler.State
	Hub        *ws.Hub
	Registry   *prometheus.Registry
	Passphrase string
	PublicURL  string
	AdminToken string
	// OriginPatterns are the extra hosts allowed to open /ws.
	OriginPatterns []string
	// Push routes are registered only when Alerter is set.
	PushStore      *store.PushStore
	Alerter        handler.Alerter
	VAPIDPublicKey string
	StaticDir      string
	MetricsPath    string
	Logger         *slog.Logger
}

type Server struct {
	hub         *ws.Hub
	registry    *prometheus.Registry
	backupH     *handler.BackupHandler
	settingsH   *handler.SettingsHandler
	historyH    *handler.HistoryHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	adminToken  string
	origins     []string
	staticDir   string
	metricsPath string
	logger      *slog.Logger
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	var pushH *handler.PushHandler
	if cfg.Alerter != nil && cfg.PushStore != nil {
		pushH = handler.NewPushHandler(cfg.PushStore, cfg.Alerter, cfg.VAPIDPublicKey, logger.With("component", "push_handler"))
	}

	return &Server{
		hub:      cfg.Hub,
		registry: cfg.Registry,
		backupH: handler.NewBackupHandler(handler.BackupConfig{
			DB:         cfg.DB,
			Settings:   cfg.Settings,
			Runner:     cfg.Runner,
			Dumper:     cfg.Dumper,
			State:      cfg.State,
			Hub:        cfg.Hub,
			Passphrase: cfg.Passphrase,
			PublicURL:  cfg.PublicURL,
			Logger:     logger.With("component", "backup_handler"),
		}),
		settingsH:   handler.NewSettingsHandler(cfg.Settings, cfg.Hub, logger.With("component", "settings")),
		historyH:    handler.NewHistoryHandler(cfg.Results, cfg.Hub, logger.With("component", "history")),
		pushH:       pushH,
		rateLimiter: middleware.NewRateLimiter(backupBurst, backupPeriod),
		adminToken:  cfg.AdminToken,
		origins:     cfg.OriginPatterns,
		staticDir:   cfg.StaticDir,
		metricsPath: metricsPath,
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	if s.registry != nil {
		mux.Handle("GET "+s.metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.origins, s.logger.With("component", "websocket")))
	}

	guard := middleware.RequireToken(s.adminToken)

	// Backup API
	mux.Handle("GET /api/backup/status", middleware.NoCache(http.HandlerFunc(s.backupH.Status)))
	mux.Handle("POST /api/backup/run", guard(s.rateLimited(s.backupH.Run)))
	mux.Handle("POST /api/backup/policy", guard(http.HandlerFunc(s.backupH.UpdatePolicy)))
	mux.Handle("GET /api/backup/download", guard(middleware.NoCache(http.HandlerFunc(s.backupH.Download))))
	mux.Handle("POST /api/backup/restore", guard(s.rateLimited(s.backupH.Restore)))
	mux.Handle("POST /api/backup/s3/connect", guard(http.HandlerFunc(s.backupH.ConnectS3)))
	mux.Handle("POST /api/backup/disconnect", guard(http.HandlerFunc(s.backupH.Disconnect)))

	// The consent flow is a browser redirect and cannot carry the admin
	// token; the callback is bound to the state cookie instead.
	mux.HandleFunc("GET /api/backup/google/auth", s.backupH.GoogleAuth)
	mux.HandleFunc("GET /api/backup/google/callback", s.backupH.GoogleCallback)

	// Settings API
	mux.HandleFunc("GET /api/settings", s.settingsH.Get)
	mux.Handle("POST /api/settings", guard(http.HandlerFunc(s.settingsH.Update)))

	// History API
	mux.HandleFunc("GET /api/history", s.historyH.List)
	mux.HandleFunc("POST /api/history", s.historyH.Create)

	// Push notification API
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.Handle("POST /api/push/subscribe", guard(http.HandlerFunc(s.pushH.Subscribe)))
		mux.Handle("GET /api/push/subscriptions", guard(http.HandlerFunc(s.pushH.ListSubscriptions)))
		mux.Handle("DELETE /api/push/subscriptions/{id}", guard(http.HandlerFunc(s.pushH.Unsubscribe)))
		mux.Handle("POST /api/push/test", guard(s.rateLimited(s.pushH.TestNotification)))
	}

	if s.staticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP)(h)
}
