package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/fedid/fedid/internal/logger"
	"github.com/fedid/fedid/pkg/api/auth"
	"github.com/fedid/fedid/pkg/api/handlers"
	"github.com/fedid/fedid/pkg/api/middleware"
	"github.com/fedid/fedid/pkg/claim"
	"github.com/fedid/fedid/pkg/domain"
	"github.com/fedid/fedid/pkg/store"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Health and login routes are unauthenticated; everything else requires a
// valid access token.
func NewRouter(s *store.VirtualStore, jwtService *auth.JWTService, profiles *claim.ProfileSet) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	var registry *domain.Registry
	if s != nil {
		registry = s.Registry()
	}
	healthHandler := handlers.NewHealthHandler(registry)
	authHandler := handlers.NewAuthHandler(s, jwtService)
	userHandler := handlers.NewUserHandler(s, profiles)
	groupHandler := handlers.NewGroupHandler(s, profiles)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
		r.Get("/domains", healthHandler.Domains)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtService))

			r.Get("/auth/me", authHandler.Me)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.Post("/", userHandler.Create)
				r.Post("/bulk", userHandler.CreateBulk)
				r.Route("/{userID}", func(r chi.Router) {
					r.Get("/", userHandler.Get)
					r.Delete("/", userHandler.Delete)
					r.Put("/claims", userHandler.UpdateClaims)
					r.Get("/groups", userHandler.Groups)
					r.Put("/groups", userHandler.UpdateGroups)
				})
			})

			r.Route("/groups", func(r chi.Router) {
				r.Get("/", groupHandler.List)
				r.Post("/", groupHandler.Create)
				r.Route("/{groupID}", func(r chi.Router) {
					r.Get("/", groupHandler.Get)
					r.Delete("/", groupHandler.Delete)
					r.Put("/claims", groupHandler.UpdateClaims)
					r.Get("/members", groupHandler.Members)
					r.Put("/members", groupHandler.UpdateMembers)
				})
			})
		})
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger is a custom middleware that logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
