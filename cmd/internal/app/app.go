// Package app wires the sessiond runtime: config, logging, storage, the
// session lifecycle service, and the operational HTTP surface.
//
// It is intentionally small and deterministic: every collaborator is
// composed explicitly at construction time, never discovered at runtime, so
// a missing piece fails startup instead of failing a request.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"sessiond/cmd/internal/audit"
	"sessiond/cmd/internal/directory"
	"sessiond/cmd/internal/session"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the sessiond runtime: it owns the HTTP server and the lifecycle of
// the database pool backing the credential store.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	dbEnabled bool

	sessions *session.Service
}

// New constructs a fully wired App instance from config and logger.
//
// When SESSIOND_DATABASE_URL is unset the app runs on the in-memory store
// with a static directory and log-only auditing; that mode is for
// development, not production.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	issuer, err := session.NewAccessTokenIssuer(sessCfg)
	if err != nil {
		return nil, err
	}

	var (
		store     session.Store
		users     directory.Directory
		sink      audit.Sink
		pool      *pgxpool.Pool
		dbEnabled bool
	)

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		store = session.NewMemoryStore()
		users = directory.NewStaticDirectory()
		sink = audit.LogSink{Log: log}
	} else {
		pool, err = NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")
		store = session.NewPostgresStore(pool)
		users = directory.NewPostgresDirectory(pool)
		sink = audit.NewPostgresSink(pool, log)
		dbEnabled = true
	}

	svc, err := session.NewService(sessCfg, store, issuer, users, sink)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		dbEnabled: dbEnabled,
		sessions:  svc,
	}, nil
}

// Sessions exposes the lifecycle service for embedding hosts.
func (a *App) Sessions() *session.Service { return a.sessions }

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.dbEnabled)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
