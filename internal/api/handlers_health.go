// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"
)

// HealthHandler serves liveness and readiness probes. Health endpoints are
// on the audit skip-list, so probes never generate trail entries.
type HealthHandler struct {
	db      *sql.DB
	started time.Time
}

// NewHealthHandler creates the handler. db may be nil for stores that do
// not use a database connection.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db, started: time.Now()}
}

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	UptimeS  int64  `json:"uptime_seconds"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := healthStatus{
		Status:  "ok",
		UptimeS: int64(time.Since(h.started).Seconds()),
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status.Status = "degraded"
			status.Database = "unreachable"
		} else {
			status.Database = "ok"
		}
	}
	rw.Success(status)
}
