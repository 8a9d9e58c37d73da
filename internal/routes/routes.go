package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/genesisplatform/auth-api/internal/auth"
	"github.com/genesisplatform/auth-api/internal/handlers"
	"github.com/genesisplatform/auth-api/internal/middleware"
	"github.com/genesisplatform/auth-api/internal/models"
)

// RegisterRoutes mounts the versioned API surface. Credential endpoints are
// rate-limited per IP; everything under the authenticated group requires a
// valid, non-blacklisted access token.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MFAHandler,
	adminHandler *handlers.AdminHandler,
	codec *auth.TokenCodec,
	blacklist auth.BlacklistChecker,
) {
	authLimit := middleware.RateLimitByIP(middleware.DefaultAuthRateLimit())
	refreshLimit := middleware.RateLimitByIP(middleware.DefaultRefreshRateLimit())

	router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authLimit)
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/resend-verification", authHandler.ResendVerification)
			r.Post("/auth/forgot-password", authHandler.ForgotPassword)
			r.Post("/auth/reset-password", authHandler.ResetPassword)
		})

		// Verification links arrive as GETs from email clients; the POST
		// form serves API clients.
		r.Get("/auth/verify-email", authHandler.VerifyEmail)
		r.Post("/auth/verify-email", authHandler.VerifyEmail)

		r.With(refreshLimit).Post("/auth/refresh", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(codec, blacklist))

			r.Post("/auth/logout", authHandler.Logout)
			r.Post("/auth/logout-all", authHandler.LogoutAll)
			r.Post("/auth/change-password", authHandler.ChangePassword)
			r.Get("/auth/me", authHandler.Me)

			r.Post("/auth/mfa/setup", mfaHandler.Setup)
			r.Post("/auth/mfa/enable", mfaHandler.Enable)
			r.Post("/auth/mfa/disable", mfaHandler.Disable)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Get("/admin/users/{id}", adminHandler.GetUser)
				r.Post("/admin/users/{id}/deactivate", adminHandler.DeactivateUser)
			})
		})
	})
}
