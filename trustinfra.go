// Package trustinfra is the public API for embedding the trust audit-trail
// server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := trustinfra.New(
//	    trustinfra.WithVersion(version),
//	    trustinfra.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: trustinfra (root)
// imports internal/*, but internal/* never imports the root.
package trustinfra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wrentheai/trust-infra/internal/auth"
	"github.com/wrentheai/trust-infra/internal/capability"
	"github.com/wrentheai/trust-infra/internal/config"
	"github.com/wrentheai/trust-infra/internal/ledger"
	"github.com/wrentheai/trust-infra/internal/ratelimit"
	"github.com/wrentheai/trust-infra/internal/reputation"
	"github.com/wrentheai/trust-infra/internal/server"
	"github.com/wrentheai/trust-infra/internal/storage"
	"github.com/wrentheai/trust-infra/internal/telemetry"
	"github.com/wrentheai/trust-infra/migrations"
)

// capabilitySweepInterval is how often overdue active capabilities are
// marked expired. The validator treats elapsed expiry as invalid
// regardless, so sweep lag is cosmetic.
const capabilitySweepInterval = time.Minute

// App is the trust server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg           config.Config
	db            *storage.DB
	srv           *server.Server
	limiter       ratelimit.Limiter
	capabilitySvc *capability.Service
	otelShutdown  telemetry.Shutdown
	logger        *slog.Logger
	version       string
}

// New initialises the trust server. It connects to the database, runs
// migrations, and wires all subsystems. It does NOT accept HTTP
// connections or start the capability sweep — call Run(). The in-memory
// rate limiter's eviction goroutine starts here and stops in Shutdown.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.serviceKey != "" {
		cfg.ServiceAPIKey = o.serviceKey
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel(cfg.LogLevel),
		}))
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, storage.PoolConfig{
		MaxConns:       cfg.PoolMaxConns,
		IdleTimeout:    cfg.IdleTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, err
	}

	authn := auth.New(db, cfg.ServiceAPIKey, cfg.TimestampWindow)
	ledgerSvc := ledger.New(db, logger)
	capabilitySvc := capability.New(db, logger)
	reputationSvc := reputation.New(db, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitMax > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		DB:                  db,
		Authn:               authn,
		LedgerSvc:           ledgerSvc,
		CapabilitySvc:       capabilitySvc,
		ReputationSvc:       reputationSvc,
		Logger:              logger,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})
	srv := server.New(server.Config{
		Handlers:     handlers,
		Authn:        authn,
		Limiter:      limiter,
		Logger:       logger,
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ExtraRoutes:  o.extraRoutes,
		Middlewares:  o.middlewares,
	})

	return &App{
		cfg:           cfg,
		db:            db,
		srv:           srv,
		limiter:       limiter,
		capabilitySvc: capabilitySvc,
		otelShutdown:  otelShutdown,
		logger:        logger,
		version:       version,
	}, nil
}

// Run starts the HTTP listener and background loops, blocking until ctx is
// cancelled or the server fails. On cancellation it performs a graceful
// shutdown and returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	errCh := make(chan error, 1)
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.capabilitySweepLoop(gctx)
		return nil
	})

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	err := a.Shutdown(context.Background())
	_ = g.Wait()
	return err
}

// Shutdown drains the HTTP server, stops the limiter, flushes telemetry,
// and closes the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("trustd shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("trustd stopped")
	return nil
}

// capabilitySweepLoop periodically expires overdue capabilities.
func (a *App) capabilitySweepLoop(ctx context.Context) {
	ticker := time.NewTicker(capabilitySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.capabilitySvc.ExpireDue(ctx); err != nil {
				a.logger.Warn("capability expiry sweep failed", "error", err)
			}
		}
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
