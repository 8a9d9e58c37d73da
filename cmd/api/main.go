package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/genesisplatform/auth-api/internal/auth"
	"github.com/genesisplatform/auth-api/internal/background"
	"github.com/genesisplatform/auth-api/internal/cache"
	"github.com/genesisplatform/auth-api/internal/config"
	"github.com/genesisplatform/auth-api/internal/database"
	"github.com/genesisplatform/auth-api/internal/handlers"
	"github.com/genesisplatform/auth-api/internal/middleware"
	"github.com/genesisplatform/auth-api/internal/repositories"
	"github.com/genesisplatform/auth-api/internal/routes"
	"github.com/genesisplatform/auth-api/internal/services"
	pkgauth "github.com/genesisplatform/auth-api/pkg/auth"
	pkglogger "github.com/genesisplatform/auth-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Redis backs the access-token blacklist only. A missing or unreachable
	// Redis degrades logout to refresh-revocation-only rather than failing
	// startup.
	cacheClient, err := cache.New(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("redis unavailable, access-token blacklist disabled", slog.Any("error", err))
		cacheClient = nil
	}
	defer cacheClient.Close()

	userRepo := repositories.NewUserRepository(db)
	refreshRepo := repositories.NewRefreshTokenRepository(db)

	codec := auth.NewTokenCodec(
		cfg.Auth.AccessSecret,
		cfg.Auth.RefreshSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.Issuer,
		cfg.Auth.Audience,
	)
	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.MinPasswordLength)
	lockout := auth.NewLockoutPolicy(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration)
	audit := pkglogger.NewAuditLogger(logger)

	mailer, err := services.NewSESMailer(cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.BaseURL, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	mfaService := services.NewMFAService(userRepo, cfg.Auth.Issuer, logger)

	var blacklist services.TokenBlacklist
	var blacklistChecker auth.BlacklistChecker
	if cacheClient != nil {
		blacklist = cacheClient
		blacklistChecker = cacheClient
	}

	authService := services.NewAuthService(
		userRepo,
		refreshRepo,
		codec,
		hasher,
		lockout,
		mfaService,
		mailer,
		blacklist,
		cfg.Auth,
		logger,
		audit,
	)

	authHandler := handlers.NewAuthHandler(authService, cfg.Server.TrustedProxies)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	adminHandler := handlers.NewAdminHandler(authService, cfg.Server.TrustedProxies)

	// Bootstrap admin account if configured.
	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 10*time.Second)
	if err := authService.EnsureAdmin(bootstrapCtx, os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancelBootstrap()

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, mfaHandler, adminHandler, codec, blacklistChecker)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		cacheStatus := "disabled"
		if cacheClient != nil {
			cacheStatus = "up"
			if err := cacheClient.HealthCheck(ctx); err != nil {
				cacheStatus = "down"
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up","cache":"` + cacheStatus + `"}`))
	})

	cleanupManager := background.NewCleanupManager(refreshRepo, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go cleanupManager.Start(cleanupCtx)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
