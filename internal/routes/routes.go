package routes

import (
	"github.com/BradenHooton/custodia/internal/auth"
	"github.com/BradenHooton/custodia/internal/handlers"
	"github.com/BradenHooton/custodia/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Limits holds the per-minute request budgets for rate limited routes
type Limits struct {
	Login     middleware.RateLimitConfig // per IP, /auth/login*
	TwoFactor middleware.RateLimitConfig // per user, /2fa/*
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	twoFactorHandler *handlers.TwoFactorHandler,
	tokenManager *auth.TokenManager,
	limits Limits,
) {
	// Public routes; both login steps share one per-IP budget
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(limits.Login))
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/login/2fa", authHandler.VerifyLogin)
	})

	// Protected routes - authentication required
	router.Route("/2fa", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(middleware.RateLimitByUser(limits.TwoFactor))

		r.Post("/setup", twoFactorHandler.Setup)
		r.Post("/enable", twoFactorHandler.Enable)
		r.Post("/disable", twoFactorHandler.Disable)
		r.Post("/verify", twoFactorHandler.Verify)
		r.Get("/status", twoFactorHandler.Status)
	})
}
