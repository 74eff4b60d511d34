package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/localspeed/internal/backup"
	"github.com/dukerupert/localspeed/internal/config"
	"github.com/dukerupert/localspeed/internal/database"
	"github.com/dukerupert/localspeed/internal/handler"
	"github.com/dukerupert/localspeed/internal/leader"
	"github.com/dukerupert/localspeed/internal/logging"
	"github.com/dukerupert/localspeed/internal/push"
	"github.com/dukerupert/localspeed/internal/scheduler"
	"github.com/dukerupert/localspeed/internal/server"
	"github.com/dukerupert/localspeed/internal/store"
	"github.com/dukerupert/localspeed/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintf(os.Stderr, "localspeed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("LOCALSPEED_VAPID_PUBLIC_KEY=%s\nLOCALSPEED_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "localspeed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("LOCALSPEED_CONFIG"))
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	settings := store.NewSettingsStore(db)
	results := store.NewResultStore(db)
	hub := websocket.NewHub(logger.With("component", "websocket"))

	pushStore := store.NewPushStore(db)
	pushCfg := push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subject:         cfg.VAPIDSubject,
	}
	var notifier *push.Notifier
	if pushCfg.Enabled() {
		notifier = push.NewNotifier(push.NewService(pushCfg, nil), pushStore, logger.With("component", "push"))
	}

	backupLogger := logger.With("component", "backup")
	dumper := backup.NewDumper(settings, results, time.Now)
	executor := backup.NewExecutor(backup.ExecutorConfig{
		Store:      settings,
		Tokens:     backup.NewTokenManager(backup.NewGoogleRefresher(cfg.RemoteTimeout), settings, time.Now, backupLogger),
		Dialer:     newDialer(cfg),
		Dumper:     dumper,
		Retention:  backup.NewRetentionManager(backupLogger),
		Passphrase: cfg.BackupPassphrase,
		Metrics:    backup.NewMetrics(reg),
		Logger:     backupLogger,
		OnResult: func(r backup.Run) {
			hub.Publish(websocket.TypeBackupStatus, r)
			if notifier != nil {
				notifier.BackupFinished(r)
			}
		},
	})

	elector := leader.NewElector(leader.NewFileLock(cfg.LockPath), logger.With("component", "leader"), reg)
	if _, err := elector.TryBecomeLeader(); err != nil {
		logger.Warn("leader election failed, running as follower", "lock", cfg.LockPath, "error", err)
	}
	defer func() {
		if err := elector.Resign(); err != nil {
			logger.Warn("failed to release leader lock", "error", err)
		}
	}()

	state := scheduler.NewState(elector)
	sched := scheduler.New(scheduler.Config{
		Interval: cfg.SchedulerInterval,
		Jitter:   cfg.SchedulerJitter,
	}, state, settings, executor, time.Now, logger.With("component", "scheduler"))

	var alerter handler.Alerter
	if notifier != nil {
		alerter = notifier
	}
	srv := server.New(server.Config{
		DB:             db,
		Settings:       settings,
		Results:        results,
		Runner:         executor,
		Dumper:         dumper,
		State:          state,
		Hub:            hub,
		Registry:       reg,
		Passphrase:     cfg.BackupPassphrase,
		PublicURL:      cfg.PublicURL,
		AdminToken:     cfg.AdminToken,
		OriginPatterns: originPatterns(cfg.PublicURL),
		PushStore:      pushStore,
		Alerter:        alerter,
		VAPIDPublicKey: cfg.VAPIDPublicKey,
		StaticDir:      cfg.StaticDir,
		MetricsPath:    cfg.MetricsPath,
		Logger:         logger,
	})

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.Router(),
		ReadTimeout: 30 * time.Second,
		// Manual backups and dump downloads can take as long as an upload.
		WriteTimeout: cfg.UploadTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("localspeed running", "addr", httpServer.Addr, "provider", cfg.BackupProvider, "leader", elector.IsLeader())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				srv.RateLimiter().Cleanup(30 * time.Minute)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if notifier != nil {
		notifier.Wait()
	}
	return err
}

func newDialer(cfg config.Config) backup.Dialer {
	if cfg.BackupProvider == config.ProviderS3 {
		return backup.S3Dialer{
			Config: backup.S3Config{
				Endpoint: cfg.S3Endpoint,
				Bucket:   cfg.S3Bucket,
				Region:   cfg.S3Region,
			},
			Timeout:       cfg.RemoteTimeout,
			UploadTimeout: cfg.UploadTimeout,
		}
	}
	return backup.DriveDialer{
		Timeout:       cfg.RemoteTimeout,
		UploadTimeout: cfg.UploadTimeout,
	}
}

// originPatterns allows the public host to open websockets when the UI is
// served behind a proxy with a different Host header.
func originPatterns(publicURL string) []string {
	if publicURL == "" {
		return nil
	}
	u, err := url.Parse(publicURL)
	if err != nil || u.Host == "" {
		slog.Warn("ignoring unparseable public-url for websocket origins", "public_url", publicURL)
		return nil
	}
	return []string{u.Host}
}
