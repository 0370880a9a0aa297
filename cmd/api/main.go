package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/BradenHooton/custodia/internal/background"
	"github.com/BradenHooton/custodia/internal/config"
	"github.com/BradenHooton/custodia/internal/database"
	"github.com/BradenHooton/custodia/internal/handlers"
	middlewareCustom "github.com/BradenHooton/custodia/internal/middleware"
	"github.com/BradenHooton/custodia/internal/models"
	"github.com/BradenHooton/custodia/internal/repositories"
	"github.com/BradenHooton/custodia/internal/routes"
	"github.com/BradenHooton/custodia/internal/services"
	pkghttp "github.com/BradenHooton/custodia/pkg/http"
	pkglogger "github.com/BradenHooton/custodia/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("session_store", cfg.TwoFactor.SessionStore),
	)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Initialize database
	db, err := database.NewConnection(startupCtx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(startupCtx, db.Pool, logger); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)

	var sessionStore services.PendingSessionStore
	switch cfg.TwoFactor.SessionStore {
	case config.SessionStoreRedis:
		redisClient, err := database.ConnectRedis(startupCtx, &cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		sessionStore = repositories.NewRedisPendingSessionStore(redisClient)
	default:
		sessionStore = repositories.NewPendingSessionRepository(db)
	}

	// Initialize security primitives
	cipher, err := auth.NewSecretCipher(cfg.TwoFactor.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize secret cipher", slog.Any("error", err))
		os.Exit(1)
	}
	totpManager := auth.NewTOTPManager(cfg.TwoFactor.Issuer)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingBaseDelayMs,
		RandomDelayMs:  cfg.Auth.TimingRandomDelayMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Security notifications
	var notifier services.SecurityNotifier = services.NoopNotifier{}
	if cfg.Email.Enabled {
		sesNotifier, err := services.NewSESNotifier(startupCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize SES notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	// Initialize services
	twoFactorService := services.NewTwoFactorService(userRepo, cipher, totpManager, notifier, logger, auditLogger)
	sessionManager := services.NewPendingSessionManager(sessionStore, cfg.TwoFactor.PendingSessionTTL, logger)
	authService := services.NewAuthService(userRepo, twoFactorService, sessionManager, tokenManager, timingDelay, logger, auditLogger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: pkghttp.ParseTrustedProxies(cfg.Server.TrustedProxies)}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, logger)

	// Bootstrap a seed user if configured
	if err := ensureSeedUser(startupCtx, authService, cfg.Auth, logger); err != nil {
		logger.Error("failed to ensure seed user", slog.Any("error", err))
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, twoFactorHandler, tokenManager, routes.Limits{
		Login:     middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.LoginRateLimit},
		TwoFactor: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.TwoFactorRateLimit},
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start expired-session sweeper
	cleanupManager := background.NewCleanupManager(sessionManager, logger, cfg.TwoFactor.SweepInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// ensureSeedUser creates the account named by SEED_USER_EMAIL and
// SEED_USER_PASSWORD if it does not exist yet
func ensureSeedUser(ctx context.Context, authService *services.AuthService, cfg config.AuthConfig, logger *slog.Logger) error {
	if cfg.SeedUserEmail == "" || cfg.SeedUserPassword == "" {
		logger.Info("no SEED_USER_EMAIL or SEED_USER_PASSWORD set, skipping seed user creation")
		return nil
	}

	_, err := authService.Register(ctx, cfg.SeedUserEmail, cfg.SeedUserPassword, "Seed User")
	switch {
	case err == nil:
		logger.Info("seed user created", slog.String("email", pkglogger.SanitizedEmail(cfg.SeedUserEmail)))
		return nil
	case errors.Is(err, models.ErrConflict):
		logger.Info("seed user already exists")
		return nil
	default:
		return fmt.Errorf("failed to create seed user: %w", err)
	}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
