package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/dukerupert/localspeed/internal/model"
	"github.com/dukerupert/localspeed/internal/scheduler"
	"github.com/dukerupert/localspeed/internal/store"
	"github.com/dukerupert/localspeed/internal/websocket"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const maxRestoreBytes = 64 << 20

// Runner performs one backup attempt.
type Runner interface {
	Run(ctx context.Context) backup.Run
}

// BackupConfig wires a BackupHandler.
type BackupConfig struct {
	DB         *sql.DB
	Settings   *store.SettingsStore
	Runner     Runner
	Dumper     *backup.Dumper
	State      *scheduler.State
	Hub        Publisher
	Passphrase string
	// PublicURL is the externally visible base URL used for the OAuth
	// redirect. Empty derives it from the request.
	PublicURL string
	// Endpoint overrides the Google OAuth endpoint.
	Endpoint *oauth2.Endpoint
	Now      func() time.Time
	Logger   *slog.Logger
}

type BackupHandler struct {
	db         *sql.DB
	settings   *store.SettingsStore
	runner     Runner
	dumper     *backup.Dumper
	state      *scheduler.State
	hub        Publisher
	passphrase string
	publicURL  string
	endpoint   oauth2.Endpoint
	now        func() time.Time
	logger     *slog.Logger
}

func NewBackupHandler(cfg BackupConfig) *BackupHandler {
	h := &BackupHandler{
		db:         cfg.DB,
		settings:   cfg.Settings,
		runner:     cfg.Runner,
		dumper:     cfg.Dumper,
		state:      cfg.State,
		hub:        cfg.Hub,
		passphrase: cfg.Passphrase,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		endpoint:   google.Endpoint,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if cfg.Endpoint != nil {
		h.endpoint = *cfg.Endpoint
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

type runResponse struct {
	Status    backup.Outcome `json:"status"`
	Message   string         `json:"message"`
	FileID    string         `json:"file_id,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// Run triggers a backup now. Success maps to 200, a skip to 400 and a
// failure to 500.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	// The attempt outlives a client that hangs up mid-upload.
	run := h.runner.Run(context.WithoutCancel(r.Context()))

	resp := runResponse{Status: run.Outcome, Message: run.Message, FileID: run.FileID}
	if !run.Timestamp.IsZero() {
		ts := run.Timestamp
		resp.Timestamp = &ts
	}

	status := http.StatusOK
	switch run.Outcome {
	case backup.OutcomeSkipped:
		status = http.StatusBadRequest
	case backup.OutcomeFailed:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

type statusResponse struct {
	LastBackupAt *time.Time          `json:"last_backup_at"`
	Message      string              `json:"message"`
	NextDueAt    *time.Time          `json:"next_due_at"`
	Connected    bool                `json:"connected"`
	Enabled      bool                `json:"enabled"`
	Policy       model.BackupPolicy  `json:"policy"`
	Scheduler    *scheduler.Snapshot `json:"scheduler,omitempty"`
}

func (h *BackupHandler) status(ctx context.Context) (statusResponse, error) {
	policy, status, err := h.settings.LoadPolicy(ctx)
	if err != nil {
		return statusResponse{}, err
	}
	resp := statusResponse{
		LastBackupAt: status.LastBackupAt,
		Message:      status.Message,
		NextDueAt:    backup.NextDue(h.now(), policy, status.LastBackupAt),
		Connected:    policy.Enabled && policy.HasCredential(),
		Enabled:      policy.Enabled,
		Policy:       policy,
	}
	if h.state != nil {
		snap := h.state.Snapshot()
		resp.Scheduler = &snap
	}
	return resp, nil
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.status(r.Context())
	if err != nil {
		h.logger.Error("failed to load backup status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load backup status")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BackupHandler) publishStatus(ctx context.Context) {
	if h.hub == nil {
		return
	}
	resp, err := h.status(ctx)
	if err != nil {
		h.logger.Warn("failed to load status for broadcast", "error", err)
		return
	}
	h.hub.Publish(websocket.TypeBackupPolicy, resp)
}

// UpdatePolicy applies a partial policy update.
func (h *BackupHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var patch model.PolicyPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	policy, err := h.settings.ApplyPolicyPatch(r.Context(), patch)
	if err != nil {
		h.logger.Error("failed to update backup policy", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update backup policy")
		return
	}
	h.logger.Info("backup policy updated",
		"enabled", policy.Enabled,
		"frequency_days", policy.FrequencyDays,
		"backup_time", policy.TargetTime,
		"retention_days", policy.RetentionDays,
	)

	h.publishStatus(r.Context())
	writeJSON(w, http.StatusOK, policy)
}

// Download streams a dump of the database, encrypted when a passphrase is
// configured.
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	dump, err := h.dumper.Generate(r.Context())
	if err != nil {
		h.logger.Error("failed to generate dump", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate dump")
		return
	}

	encrypted := h.passphrase != ""
	if encrypted {
		dump, err = backup.Encrypt(dump, h.passphrase)
		if err != nil {
			h.logger.Error("failed to encrypt dump", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to encrypt dump")
			return
		}
	}

	name := backup.ObjectName(h.now(), encrypted)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(dump)
}

// Restore replaces the database contents with an uploaded dump.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRestoreBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "dump too large")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty dump")
		return
	}

	if backup.IsEncrypted(body) {
		if h.passphrase == "" {
			writeError(w, http.StatusBadRequest, "dump is encrypted but no backup passphrase is configured")
			return
		}
		body, err = backup.Decrypt(body, h.passphrase)
		if errors.Is(err, backup.ErrWrongPassphrase) {
			writeError(w, http.StatusBadRequest, "wrong passphrase or corrupted dump")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	n, err := backup.Restore(r.Context(), h.db, body)
	if err != nil {
		h.logger.Warn("restore rejected", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("database restored", "statements", n)

	publish(h.hub, websocket.TypeSettings, nil)
	h.publishStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"restored": n})
}

type s3ConnectRequest struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// ConnectS3 stores static access keys and enables backups.
func (h *BackupHandler) ConnectS3(w http.ResponseWriter, r *http.Request) {
	var req s3ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.AccessKeyID = strings.TrimSpace(req.AccessKeyID)
	req.SecretAccessKey = strings.TrimSpace(req.SecretAccessKey)
	if req.AccessKeyID == "" || req.SecretAccessKey == "" {
		writeError(w, http.StatusBadRequest, "access_key_id and secret_access_key are required")
		return
	}

	blob, err := backup.Credential{AccessKeyID: req.AccessKeyID, SecretAccessKey: req.SecretAccessKey}.Encode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode credential")
		return
	}
	if err := h.settings.Connect(r.Context(), blob, backup.StatusConnected); err != nil {
		h.logger.Error("failed to store s3 credential", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	h.logger.Info("s3 backup connected")

	h.publishStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": backup.StatusConnected})
}

// Disconnect forgets the credential and disables backups.
func (h *BackupHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Disconnect(r.Context(), backup.StatusDisconnected); err != nil {
		h.logger.Error("failed to disconnect backup", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disconnect")
		return
	}
	h.logger.Info("backup disconnected")

	h.publishStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": backup.StatusDisconnected})
}
