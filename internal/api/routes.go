package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// routes builds the router. Three surfaces:
//
//   - public: health plus the token-addressed check-in and trustee
//     endpoints. No session; rate-limited by IP because the tokens are
//     bearer secrets.
//   - /api: the account owner's management surface, behind the session.
//   - /api/admin: support overrides, behind the admin role.
func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	// Token-addressed endpoints. These are what check-in emails and
	// trustee notifications link to, so they must work without a session.
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.Get("/checkin/{token}", s.handleCheckInStatus)
		r.Post("/checkin/{token}/confirm", s.handleCheckInConfirm)

		r.Get("/trustee/verify/{token}", s.handleTrusteeVerifyStatus)
		r.Post("/trustee/verify/{token}", s.handleTrusteeVerify)

		r.Get("/trustee/access/{token}", s.handleTrusteeAccessStatus)
		r.Post("/trustee/access/{token}", s.handleTrusteeAccess)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/dashboard", s.handleDashboard)

		r.Get("/polling", s.handleGetPolling)
		r.Put("/polling", s.handleUpdatePolling)
		r.Post("/polling/pause", s.handlePause)
		r.Post("/polling/resume", s.handleResume)

		r.Post("/checkin", s.handleManualCheckIn)
		r.Get("/checkins", s.handleListCheckIns)

		r.Route("/trustees", func(r chi.Router) {
			r.Get("/", s.handleListTrustees)
			r.Post("/", s.handleCreateTrustee)
			r.Delete("/{trusteeID}", s.handleRevokeTrustee)
		})

		r.Route("/letters", func(r chi.Router) {
			r.Get("/", s.handleListLetters)
			r.Post("/", s.handleCreateLetter)
			r.Get("/{letterID}", s.handleGetLetter)
			r.Put("/{letterID}", s.handleUpdateLetter)
			r.Delete("/{letterID}", s.handleDeleteLetter)
		})

		r.Route("/vault", func(r chi.Router) {
			r.Get("/", s.handleGetVault)
			r.Put("/", s.handleUpdateVault)
			r.Post("/items", s.handleCreateVaultItem)
			r.Get("/items", s.handleListVaultItems)
			r.Delete("/items/{itemID}", s.handleDeleteVaultItem)
		})

		r.Get("/audit", s.handleListAudit)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/users/{userID}/checkin", s.handleAdminForceCheckIn)
			r.Post("/users/{userID}/trigger", s.handleAdminTrigger)
		})
	})

	return r
}
