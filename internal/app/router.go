package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"watportal/internal/app/apiresp"
	"watportal/internal/app/observability"
	"watportal/internal/auth"
	"watportal/internal/wat"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the router wires together. DB is only used for
// health checks and pool metrics and may be nil.
type Deps struct {
	Logger  zerolog.Logger
	Repo    wat.Repository
	DB      *sql.DB
	Limiter *IPRateLimiter
	Now     func() time.Time
}

func NewRouter(cfg Config, deps Deps) http.Handler {
	if deps.Limiter == nil {
		deps.Limiter = NewIPRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	collector := observability.NewCollector(deps.Logger, deps.DB)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(collector.Middleware)
	r.Use(middleware.Recoverer)

	authHandler := auth.NewHandler(auth.NewVerifier(cfg.JWTSecret))

	watSvc := wat.NewService(deps.Repo, wat.ServiceConfig{
		RepoTimeout: cfg.RepoTimeout,
		Now:         deps.Now,
	})
	watHandler := wat.NewHandler(watSvc, deps.Now)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.PingContext(ctx); err != nil {
				apiresp.WriteError(w, r, http.StatusServiceUnavailable, "database unreachable")
				return
			}
		}
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok", "store": cfg.Store})
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RateLimitMiddleware(deps.Limiter))
		api.Use(authHandler.RequireAuth)

		api.Get("/auth/me", authHandler.Me)
		api.Get("/wats/{id}", watHandler.Get)

		api.Group(func(faculty chi.Router) {
			faculty.Use(authHandler.RequireRoles(auth.RoleFaculty))
			faculty.Post("/wats", watHandler.Create)
			faculty.Put("/wats/{id}", watHandler.Update)
			faculty.Get("/wats/{id}/submissions", watHandler.Results)
		})

		api.Group(func(student chi.Router) {
			student.Use(authHandler.RequireRoles(auth.RoleStudent))
			student.Get("/wats/active", watHandler.Active)
			student.Post("/wats/{id}/submissions", watHandler.Submit)
			student.Get("/me/submissions", watHandler.MySubmissions)
		})
	})

	return r
}
