// Command dentalsync is the order-ingestion daemon. It drives one headless
// browser session per enabled dental portal, pulls the incoming case lists
// into SQLite and serves the collected orders over a small HTTP API.
//
// Usage:
//
//	dentalsync -config dentalsync.yaml
//	dentalsync -once              # one sweep over every portal, then exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/onescan/dentalsync/browser"
	"github.com/onescan/dentalsync/config"
	"github.com/onescan/dentalsync/connector"
	"github.com/onescan/dentalsync/ingest"
	"github.com/onescan/dentalsync/order"
	"github.com/onescan/dentalsync/session"
	"github.com/onescan/dentalsync/store"
)

func main() {
	configPath := flag.String("config", "", "path to dentalsync.yaml config file")
	once := flag.Bool("once", false, "run one ingestion sweep and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *once); err != nil {
		logger.Error("dentalsync: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, once bool) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	db, err := store.Open(cfg.Database.Path, store.WithMkdirAll())
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.New(db)

	orch := buildOrchestrator(cfg, st, logger)
	defer logoutAll(orch)

	if once {
		report := orch.RunAll(ctx)
		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("sweep finished with failures: %v", failed)
		}
		return nil
	}

	if cfg.Ingest.Interval > 0 {
		go sweep(ctx, logger, orch, cfg.Ingest.Interval)
	}

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: newRouter(st, orch, logger),
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func buildOrchestrator(cfg *config.Config, st *store.Store, logger *slog.Logger) *ingest.Orchestrator {
	creds := cfg.Credentials()
	browserCfg := browser.Config{
		Headful:        cfg.Browser.Headful,
		WindowWidth:    cfg.Browser.WindowWidth,
		WindowHeight:   cfg.Browser.WindowHeight,
		RemoteURL:      cfg.Browser.Remote,
		NavTimeout:     cfg.Browser.NavTimeout,
		ElementTimeout: cfg.Browser.ElementTimeout,
		Logger:         logger,
	}

	var managers []*session.Manager
	for _, p := range cfg.EnabledPlatforms() {
		var conn connector.Connector
		switch p {
		case order.MeditLink:
			conn = connector.NewMeditLink(creds, logger)
		case order.Dexis:
			conn = connector.NewDexis(creds, logger)
		case order.ThreeShape:
			conn = connector.NewThreeShape(creds, logger)
		case order.Itero:
			conn = connector.NewItero(creds, logger)
		}
		managers = append(managers, session.NewManager(session.Config{
			Connector: conn,
			Dial:      session.BrowserDial(browserCfg),
			Logger:    logger,
		}))
	}

	return ingest.New(ingest.Config{
		Store:          st,
		Managers:       managers,
		Logger:         logger,
		LogoutAfterRun: cfg.Ingest.LogoutAfterRun,
		MaxParallel:    cfg.Ingest.MaxParallel,
	})
}

// sweep runs periodic full ingestions until the context ends.
func sweep(ctx context.Context, logger *slog.Logger, orch *ingest.Orchestrator, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := orch.RunAll(ctx)
			if failed := report.Failed(); len(failed) > 0 {
				logger.Warn("periodic sweep had failures", "platforms", failed)
			}
		}
	}
}

// logoutAll drops every live portal session on shutdown so no account stays
// signed in on an orphaned browser.
func logoutAll(orch *ingest.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, p := range orch.Platforms() {
		orch.Manager(p).Logout(ctx)
	}
}
