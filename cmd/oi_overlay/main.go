package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/oi_overlay/internal/api"
	"github.com/dgnsrekt/oi_overlay/internal/browser"
	"github.com/dgnsrekt/oi_overlay/internal/cdp"
	"github.com/dgnsrekt/oi_overlay/internal/cdpcontrol"
	"github.com/dgnsrekt/oi_overlay/internal/config"
	"github.com/dgnsrekt/oi_overlay/internal/controller"
	"github.com/dgnsrekt/oi_overlay/internal/history"
	"github.com/dgnsrekt/oi_overlay/internal/metrics"
	"github.com/dgnsrekt/oi_overlay/internal/netutil"
	"github.com/dgnsrekt/oi_overlay/internal/notify"
	"github.com/dgnsrekt/oi_overlay/internal/scheduler"
	"github.com/dgnsrekt/oi_overlay/internal/snapshot"
	"github.com/dgnsrekt/oi_overlay/internal/storage"
	"github.com/dgnsrekt/oi_overlay/internal/store"
	"github.com/dgnsrekt/oi_overlay/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load overlay config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("overlay config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"bind_addr", cfg.BindAddr,
		"store_backend", cfg.StoreBackend,
		"radius", cfg.Radius,
		"centering", cfg.Centering,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := run(cfg); err != nil {
		slog.Error("overlay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schema, err := cfg.Schema()
	if err != nil {
		return err
	}

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   cfg.BrowserHeadless,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	tab, err := cdp.NewOpener(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.StartURL, cfg.OpenTab, nil).Ensure(ctx)
	if err != nil {
		return err
	}
	slog.Info("option chain tab ready", "target_id", tab.TargetID, "browser_id", tab.BrowserID, "scope", tab.Scope)

	kv, err := store.Open(ctx, store.Config{
		Backend:    cfg.StoreBackend,
		Dir:        cfg.StoreDir,
		SQLitePath: cfg.SQLitePath,
		RedisAddr:  cfg.RedisAddr,
	})
	if err != nil {
		return err
	}
	defer func() { _ = kv.Close() }()

	var trackerOpts []history.Option
	if cfg.JournalDir != "" {
		journal := storage.NewJournal(cfg.JournalDir, tab.Scope, "oi_snapshots", 256, 50)
		defer func() { _ = journal.Close() }()
		trackerOpts = append(trackerOpts, history.WithJournal(journal))
	}
	tracker := history.NewTracker(history.Config{
		Window:       cfg.HistoryWindow(),
		Margin:       cfg.HistoryMargin(),
		MinInterval:  cfg.HistoryMinInterval(),
		MaxSnapshots: cfg.HistoryMax,
		Key:          storage.ScopedKey(tab.Scope, "history"),
	}, kv, trackerOpts...)

	snaps, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		return err
	}

	client := cdpcontrol.NewClient(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.EvalTimeout())
	if err := client.Connect(ctx); err != nil {
		slog.Error("failed to connect CDP controller", "cdp_url", cfg.GetCDPURL(), "error", err)
		return err
	}
	defer func() { _ = client.Close() }()

	m := metrics.New()
	broker := stream.NewBroker()
	sched := scheduler.New(client, scheduler.Config{
		Debounce:      cfg.Debounce(),
		RefreshSettle: cfg.RefreshSettle(),
		LockRelease:   cfg.LockRelease(),
		Retry:         cfg.LocatePolicy(),
		Radius:        cfg.Radius,
		MaxRadius:     cfg.MaxRadius,
		Centering:     cfg.Centering,
		SymmetricPad:  cfg.SymmetricPad,
		DeltaWindow:   cfg.HistoryWindow(),
		WindowKey:     storage.ScopedKey(tab.Scope, "last_window"),
	}, scheduler.Deps{
		Schema:    schema,
		Readiness: cfg.Readiness(),
		Tracker:   tracker,
		Store:     kv,
		Notifier:  notify.New(nil, cfg.NotifyEndpoint, "OI overlay"),
		Publisher: broker,
		Metrics:   m,
	})
	svc := controller.NewService(sched, client, snaps)

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scheduler stopped", "error", err)
		}
	}()
	go svc.Pump(ctx, client.Events())

	maint := cron.New()
	if _, err := maint.AddFunc(cfg.MaintenanceSpec, func() {
		svc.Maintain(ctx, cfg.SnapshotMaxAge())
		if !svc.Tick() {
			slog.Debug("maintenance tick dropped, scheduler busy")
		}
	}); err != nil {
		return err
	}
	maint.Start()
	defer func() { <-maint.Stop().Done() }()

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		return err
	}
	h := api.NewServer(svc, api.Extras{
		Metrics: m.Handler(),
		Stream:  stream.SSEHandler(broker, 15*time.Second),
	})
	srv := &http.Server{Addr: bindAddr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("overlay API listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("overlay API shutdown failed", "error", err)
	}
	return nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
