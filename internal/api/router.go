// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/ostiarius/internal/auth"
	"github.com/tomtom215/ostiarius/internal/config"
	"github.com/tomtom215/ostiarius/internal/metrics"
	"github.com/tomtom215/ostiarius/internal/middleware"
)

// Health probes get a generous fixed budget; the configured RPS applies to
// the data endpoints.
const healthRequestsPerMinute = 1000

// Router wires handlers, auth middleware and the middleware stack.
type Router struct {
	handler  *Handler
	verifier *auth.Verifier
	authLog  *AuthLog
	config   *config.Config
}

// NewRouter creates the router. authLog may be nil to skip auth-trail rows.
func NewRouter(handler *Handler, verifier *auth.Verifier, authLog *AuthLog, cfg *config.Config) *Router {
	return &Router{
		handler:  handler,
		verifier: verifier,
		authLog:  authLog,
		config:   cfg,
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	// Applied to ALL routes in order
	r.Use(middleware.RequestID)      // X-Request-ID plus logging context
	r.Use(chimiddleware.RealIP)      // Extract real IP from X-Forwarded-For
	r.Use(chimiddleware.Recoverer)   // Recover from panics
	r.Use(middleware.RequestLogger)  // One structured line per request
	r.Use(router.corsMiddleware())   // CORS must be global to handle OPTIONS preflight
	r.Use(chimiddleware.Compress(5)) // gzip for the larger dataset payloads

	// ========================
	// Health Endpoints
	// ========================
	// Public: load balancers and probes poll these without credentials.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(healthRequestsPerMinute, time.Minute))
		r.Get("/api/v1/health", router.handler.Health)
		r.Get("/api/v1/ready", router.handler.Ready)
	})

	// ========================
	// Dataset Endpoints
	// ========================
	r.Route("/api/v1/datasets", func(r chi.Router) {
		r.Use(router.rateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.verifier.Require)
		r.Use(router.authTrail())

		r.Post("/", router.handler.CreateDataset)
		r.Get("/", router.handler.Datasets)
		r.Get("/search-local", router.handler.SearchLocal)
		r.Get("/streets/suggestions", router.handler.StreetSuggestions)
		r.Get("/streets/{streetName}", router.handler.StreetDatasets)
		r.Put("/residents", router.handler.UpdateResident)
		r.Put("/bulk-residents", router.handler.BulkUpdateResidents)
		r.Get("/history/{username}/{date}", router.handler.UserHistory)
		r.Post("/match", router.handler.MatchNames)
		r.Get("/{id}", router.handler.DatasetByID)
	})

	// ========================
	// Tracking Endpoints
	// ========================
	// The external push authenticates with the shared tracker API key; the
	// in-app push paths carry user JWTs.
	r.Route("/api/v1/tracking", func(r chi.Router) {
		r.Use(router.rateLimit())
		r.Use(middleware.PrometheusMetrics)

		if router.handler.external != nil {
			r.With(auth.RequireAPIKey(router.config.ExternalPush.APIKey)).
				Post("/external", router.handler.ExternalPush)
		}

		r.Group(func(r chi.Router) {
			r.Use(router.verifier.Require)
			r.Use(router.authTrail())

			r.Post("/location", router.handler.TrackLocations)
			r.Post("/actions", router.handler.TrackActions)
		})
	})

	// ========================
	// Monitoring Endpoints
	// ========================
	r.Route("/api/v1/monitoring", func(r chi.Router) {
		r.Use(router.rateLimit())
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.verifier.Require)

		r.Get("/geocode", router.handler.MonitorGeocode)
		r.Get("/writer", router.handler.MonitorWriter)
		r.Get("/daylog", router.handler.MonitorDaylog)
	})

	// ========================
	// Observability
	// ========================
	if router.config.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// corsMiddleware builds the CORS handler from the configured origins.
func (router *Router) corsMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: router.config.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Api-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	})
}

// rateLimit limits by client IP at the configured requests-per-second.
// Rejections answer in the envelope format and count into the rate-limit
// metric under the matched route pattern.
func (router *Router) rateLimit() func(http.Handler) http.Handler {
	rps := router.config.RateLimit.HTTPRPS
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		rps,
		time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}
			metrics.APIRateLimitHits.WithLabelValues(endpoint).Inc()
			respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Zu viele Anfragen, bitte kurz warten", nil)
		}),
	)
}

// authTrail returns the auth-log middleware, or a pass-through when the
// recorder is absent.
func (router *Router) authTrail() func(http.Handler) http.Handler {
	if router.authLog == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return router.authLog.Middleware
}
