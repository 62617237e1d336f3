package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/upb/audit-collector/app"
	"github.com/upb/audit-collector/handlers"
	"github.com/upb/audit-collector/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger.Named("http")

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	var redisClient redis.Cmdable
	if deps.Redis != nil {
		redisClient = deps.Redis
	}
	health := handlers.NewHealthHandler(db, redisClient, logger)

	// Health check endpoints
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	runs := handlers.NewRunHandler(deps.Runner, deps.Repositories.Collectors, logger)
	results := handlers.NewResultHandler(deps.Repositories.Dashboards, deps.Repositories.AuditResults, logger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs/latest", runs.HandleLatestRun)
		r.Get("/dashboards/{title}/audit-results", results.HandleListResults)

		// Manual trigger (require admin role)
		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole(middleware.RoleAdmin))
			r.Post("/runs", runs.HandleTriggerRun)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
