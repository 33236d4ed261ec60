// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carelog/carelog/internal/audit"
	"github.com/carelog/carelog/internal/auth"
	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/middleware"
)

// Router assembles the HTTP surface.
type Router struct {
	cfg     *config.Config
	service *audit.Service
	auditor *middleware.Auditor
	db      *sql.DB
}

// NewRouter creates the router. db is only used by the health probe and may
// be nil.
func NewRouter(cfg *config.Config, service *audit.Service, auditor *middleware.Auditor, db *sql.DB) *Router {
	return &Router{cfg: cfg, service: service, auditor: auditor, db: db}
}

// Handler builds the full middleware stack and route table.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	auditHandler := NewAuditHandler(rt.service)
	healthHandler := NewHealthHandler(rt.db)

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	// Bearer before the auditor so entries carry the acting user.
	r.Use(auth.Bearer(rt.cfg.Security.JWTSecret))
	r.Use(rt.auditor.Middleware)

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/audit", func(r chi.Router) {
		if !rt.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(rt.cfg.Security.RateLimitReqs, rt.cfg.Security.RateLimitWindow))
		}
		r.Use(middleware.PrometheusMetrics)
		r.Use(auth.RequireActor(rejectUnauthenticated))

		r.Get("/logs", auditHandler.Logs)
		r.Get("/users/{userId}/history", auditHandler.UserHistory)
		r.Get("/resources/{resource}/history", auditHandler.ResourceHistory)
		r.Get("/recent", auditHandler.Recent)
		r.Get("/statistics", auditHandler.Statistics)
		r.Get("/export", auditHandler.Export)
		r.Get("/my-history", auditHandler.MyHistory)
	})

	return r
}

func rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Error(http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
}
