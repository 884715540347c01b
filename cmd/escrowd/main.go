package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keyescrow/internal/authz"
	"keyescrow/internal/config"
	"keyescrow/internal/escrow"
	"keyescrow/internal/observability/logging"
	"keyescrow/internal/observability/metrics"
	"keyescrow/internal/service"
	"keyescrow/internal/store"
	transport "keyescrow/internal/transport/http"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "escrow",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	metrics.MustRegister("escrow")

	logger.Info("starting service")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	src, err := cfg.EscrowSource()
	if err != nil {
		logger.Error("escrow key source", "error", err)
		os.Exit(1)
	}
	keys, err := escrow.Load(src)
	if err != nil {
		logger.Error("load escrow keys", "error", err)
		os.Exit(1)
	}
	logger.Info("escrow keys loaded", "count", keys.Len(), "key_ids", keys.IDs(), "active_key_id", keys.ActiveID(), "legacy_key", keys.HasLegacy())

	db, err := store.Open(store.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.DBLogSQL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	var authMW func(http.Handler) http.Handler
	if cfg.JWKSURL != "" {
		jv, err := authz.NewJWKSValidator(cfg.JWKSURL, cfg.JWTIssuer, cfg.JWTAudience)
		if err != nil {
			logger.Error("init jwks validator", "error", err, "jwks_url", cfg.JWKSURL)
			os.Exit(1)
		}
		defer jv.Close()
		logger.Info("using JWKS token validation", "jwks_url", cfg.JWKSURL)
		authMW = jv.Handler()
	} else {
		logger.Info("using HS256 shared-secret token validation")
		authMW = authz.NewHMACValidator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience).Handler()
	}

	svc := service.New(st, keys, service.Options{
		RecentDays: cfg.RotationRecentDays,
		BatchLimit: cfg.RotationBatchLimit,
	})
	handler := transport.NewRouter(svc, transport.Options{
		Auth:                 authMW,
		Store:                st,
		Keys:                 keys,
		CORSOrigins:          cfg.CORSOrigins,
		StaleRepairPerMinute: cfg.StaleRepairPerMin,
		Metrics:              true,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("escrow service listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stopped")
}
