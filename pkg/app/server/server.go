// Package server implements app.Runner for the registry middleware processes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	apphttp "github.com/chainsafe/registry-middleware/pkg/app/http"
	"github.com/chainsafe/registry-middleware/pkg/auth"
	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/journal"
	"github.com/chainsafe/registry-middleware/pkg/pgutil"
	"github.com/chainsafe/registry-middleware/pkg/reconciler"
	"github.com/chainsafe/registry-middleware/pkg/registry"
	"github.com/chainsafe/registry-middleware/pkg/rpc"
	"github.com/chainsafe/registry-middleware/pkg/tracing"
)

const defaultRequestTimeout = 60 * time.Second

// Server holds cfg to init the registry server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new registry server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts the reconciliation engine and the HTTP facade.
// It blocks until an OS shutdown signal is received or a fatal server error occurs.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting registry server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	tp, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	db, store, err := s.openJournal(ctx, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	c, err := newCore(ctx, cfg, tp.Tracer(), store, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("start reconciliation engine: %w", err)
	}

	validator := auth.NewJWTValidator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
	opts := []rpc.Option{
		rpc.WithDeployer(c.deployer),
		rpc.WithJWTValidator(validator),
	}
	if store != nil {
		opts = append(opts, rpc.WithJournal(store))
	}
	rpcServer := rpc.NewServer(c.dispatcher, c.engine, logger, opts...)

	router := s.setupRouter(c.index, c.engine, rpcServer, validator, logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	// Pending deployments are abandoned; their watchers drain before the
	// engine and ledger client close.
	c.deployer.Stop()
	rpcServer.Wait()

	return err
}

func (s *Server) openJournal(ctx context.Context, logger *zap.Logger) (*bun.DB, *journal.Store, error) {
	if !s.cfg.Database.Enabled {
		return nil, nil, nil
	}

	db, err := pgutil.ConnectDB(ctx, &s.cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal db: %w", err)
	}
	logger.Info("Connected to journal database",
		zap.String("host", s.cfg.Database.Host),
		zap.String("database", s.cfg.Database.Database),
	)
	return db, journal.NewStore(db), nil
}

func (s *Server) setupRouter(
	index *registry.Index,
	engine *reconciler.Engine,
	rpcServer *rpc.Server,
	validator *auth.JWTValidator,
	logger *zap.Logger,
) chi.Router {
	timeout := s.cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		status := engine.Status()
		w.Header().Set("Content-Type", "application/json")
		if !status.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	r.Post("/rpc", rpcServer.ServeHTTP)

	// Lookups require a bearer token once jwt_secret is set.
	r.Group(func(r chi.Router) {
		r.Use(validator.Middleware)
		registry.NewHandler(index, logger).RegisterRoutes(r)
	})

	return r
}
