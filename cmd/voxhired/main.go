package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxhire/voxhire/internal/config"
	"github.com/voxhire/voxhire/internal/dotenv"
	"github.com/voxhire/voxhire/internal/oracle"
	"github.com/voxhire/voxhire/internal/server"
	"github.com/voxhire/voxhire/internal/session"
	"github.com/voxhire/voxhire/internal/store"
)

type serviceDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, func(), error)
	newOracle    func(ctx context.Context, cfg config.Config) (session.Oracle, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServiceDeps() serviceDeps {
	return serviceDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		newOracle: func(ctx context.Context, cfg config.Config) (session.Oracle, error) {
			return oracle.NewGemini(ctx, oracle.GeminiConfig{
				APIKey:      cfg.GeminiAPIKey,
				TextModel:   cfg.GeminiTextModel,
				SpeechModel: cfg.GeminiSpeechModel,
				Voice:       cfg.GeminiVoice,
			})
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// openStore selects Postgres when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, interviews will not survive a restart")
		return store.NewMemory(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database pool: %w", err)
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrating database: %w", err)
	}
	return store.NewPostgres(pool), pool.Close, nil
}

func runService(ctx context.Context, logger *slog.Logger, deps serviceDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newOracle == nil {
		return errors.New("missing service dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ora, err := deps.newOracle(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}

	srv, err := server.New(server.Dependencies{
		Config: cfg,
		Logger: logger,
		Store:  st,
		Oracle: ora,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting interview service", "addr", cfg.Addr, "live_mode", cfg.RealtimeAPIKey != "")

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	srv.SetDraining()
	srv.WarnSessions("the interview service is shutting down shortly, please wrap up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !srv.WaitSessions(waitCtx) {
		canceled := srv.CancelSessions()
		logger.Warn("canceled sessions that outlived the grace period", "count", canceled)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("interview service stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serviceDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voxhired: %v\n", err)
		return 1
	}

	if err := runService(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voxhired: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServiceDeps()))
}
