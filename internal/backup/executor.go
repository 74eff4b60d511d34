package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/localspeed/internal/model"
	"github.com/google/uuid"
)

// PolicyStore is the part of the settings store the executor reads and writes.
type PolicyStore interface {
	LoadPolicy(ctx context.Context) (model.BackupPolicy, model.RunStatus, error)
	SaveStatus(ctx context.Context, message string, lastBackupAt *time.Time) error
	Disable(ctx context.Context, message string) error
}

// ResultCallback is called after every attempt, including skipped ones.
type ResultCallback func(Run)

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Store     PolicyStore
	Tokens    *TokenManager
	Dialer    Dialer
	Dumper    *Dumper
	Retention *RetentionManager
	// Passphrase, when set, encrypts the dump before upload.
	Passphrase string
	Now        func() time.Time
	Metrics    *Metrics
	Logger     *slog.Logger
	OnResult   ResultCallback
}

// Executor performs one backup attempt at a time. It is shared by the
// scheduler and the manual trigger; attempts in one process are serialized.
type Executor struct {
	mu sync.Mutex

	store      PolicyStore
	tokens     *TokenManager
	dialer     Dialer
	dumper     *Dumper
	retention  *RetentionManager
	passphrase string
	now        func() time.Time
	metrics    *Metrics
	logger     *slog.Logger
	onResult   ResultCallback
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := cfg.Retention
	if retention == nil {
		retention = NewRetentionManager(logger)
	}
	return &Executor{
		store:      cfg.Store,
		tokens:     cfg.Tokens,
		dialer:     cfg.Dialer,
		dumper:     cfg.Dumper,
		retention:  retention,
		passphrase: cfg.Passphrase,
		now:        now,
		metrics:    cfg.Metrics,
		logger:     logger,
		onResult:   cfg.OnResult,
	}
}

// Run performs one backup attempt and never returns an error: every path
// ends in a Run value, and every failure is written to the status row.
func (e *Executor) Run(ctx context.Context) Run {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	log := e.logger.With("run_id", id)
	start := e.now()

	run := e.attempt(ctx, id, log)

	e.metrics.observe(run)
	switch run.Outcome {
	case OutcomeSuccess:
		log.Info("backup completed", "file", run.FileName, "file_id", run.FileID, "pruned", run.Pruned, "duration", e.now().Sub(start))
	case OutcomeSkipped:
		log.Info("backup skipped", "reason", run.Message, "category", run.Category)
	default:
		log.Error("backup failed", "category", run.Category, "message", run.Message)
	}
	if e.onResult != nil {
		e.onResult(run)
	}
	return run
}

func (e *Executor) attempt(ctx context.Context, id string, log *slog.Logger) Run {
	policy, status, err := e.store.LoadPolicy(ctx)
	if err != nil {
		return e.fail(ctx, id, log, &LocalError{Op: "load backup policy", Err: err})
	}

	if !policy.Enabled {
		return skipped(id, CategoryNone, "Backup disabled")
	}
	if !policy.HasCredential() {
		return skipped(id, CategoryNotConfigured, "Not connected")
	}
	if strings.TrimSpace(policy.FolderName) == "" {
		return skipped(id, CategoryNotConfigured, "Backup folder name not set")
	}

	cred, err := e.tokens.Resolve(ctx, policy)
	if err != nil {
		return e.fail(ctx, id, log, err)
	}

	remote, err := e.dialer.Dial(ctx, cred)
	if err != nil {
		return e.fail(ctx, id, log, err)
	}

	folders := newFolderCache(remote)
	folderID, err := folders.Resolve(ctx, policy.FolderName)
	if err != nil {
		return e.fail(ctx, id, log, err)
	}

	dump, err := e.dumper.Generate(ctx)
	if err != nil {
		return e.fail(ctx, id, log, &LocalError{Op: "generate dump", Err: err})
	}
	encrypted := e.passphrase != ""
	if encrypted {
		dump, err = Encrypt(dump, e.passphrase)
		if err != nil {
			return e.fail(ctx, id, log, &LocalError{Op: "encrypt dump", Err: err})
		}
	}

	now := e.now()
	name := ObjectName(now, encrypted)
	fileID, err := remote.Upload(ctx, folderID, name, dump)
	if err != nil {
		return e.fail(ctx, id, log, err)
	}
	log.Debug("dump uploaded", "file", name, "bytes", len(dump))

	pruned, err := e.retention.Prune(ctx, remote, folderID, policy.RetentionDays, now)
	if err != nil {
		log.Warn("retention skipped", "error", err)
	}

	completed := e.now()
	if last := status.LastBackupAt; last != nil && last.After(completed) {
		completed = *last
	}
	if err := e.store.SaveStatus(context.WithoutCancel(ctx), StatusSuccess, &completed); err != nil {
		// The object is uploaded; the next tick may upload again.
		log.Error("save backup status", "error", err)
	}
	return success(id, fileID, name, completed, pruned)
}

// fail records a failed attempt. Credential failures also disable the
// feature so the same error does not repeat on every tick. A missing
// setting is a skip and leaves the status row alone.
func (e *Executor) fail(ctx context.Context, id string, log *slog.Logger, err error) Run {
	category := Classify(err)
	if category == CategoryNotConfigured {
		return skipped(id, category, err.Error())
	}

	log.Error("backup attempt", "category", category, "error", err)
	msg := StatusMessage(err)
	persistCtx := context.WithoutCancel(ctx)

	var saveErr error
	if category == CategoryInvalidGrant {
		saveErr = e.store.Disable(persistCtx, msg)
	} else {
		saveErr = e.store.SaveStatus(persistCtx, msg, nil)
	}
	if saveErr != nil {
		log.Error("save backup status", "error", fmt.Errorf("after %s failure: %w", category, saveErr))
	}
	return failed(id, category, msg)
}
