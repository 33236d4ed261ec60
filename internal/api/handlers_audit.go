// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carelog/carelog/internal/audit"
	"github.com/carelog/carelog/internal/auth"
	"github.com/carelog/carelog/internal/logging"
)

// Per-endpoint read-path error codes. Each handler owns exactly one so a
// failure in a dashboard is attributable without a stack trace.
const (
	ErrCodeAuditFetch     = "AUDIT_FETCH_ERROR"
	ErrCodeUserAudit      = "USER_AUDIT_ERROR"
	ErrCodeResourceAudit  = "RESOURCE_AUDIT_ERROR"
	ErrCodeRecentActivity = "RECENT_ACTIVITY_ERROR"
	ErrCodeStatistics     = "STATISTICS_ERROR"
	ErrCodeExport         = "EXPORT_ERROR"
	ErrCodeMyAudit        = "MY_AUDIT_ERROR"
)

// AuditHandler serves the audit query API.
type AuditHandler struct {
	service *audit.Service
}

// NewAuditHandler creates the handler over the audit service.
func NewAuditHandler(service *audit.Service) *AuditHandler {
	return &AuditHandler{service: service}
}

// Logs handles GET /api/v1/audit/logs.
func (h *AuditHandler) Logs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseFilter(r)
	if err != nil {
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "Invalid filter parameters", err.Error())
		return
	}
	page, limit := parsePaging(r)

	result, err := h.service.Logs(r.Context(), audit.LogsQuery{Filter: filter, Page: page, Limit: limit})
	if err != nil {
		h.fail(rw, r, ErrCodeAuditFetch, "Failed to fetch audit logs", err)
		return
	}
	rw.Success(result)
}

// UserHistory handles GET /api/v1/audit/users/{userId}/history.
func (h *AuditHandler) UserHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := chi.URLParam(r, "userId")
	page, limit := parsePaging(r)

	result, err := h.service.UserHistory(r.Context(), userID, page, limit)
	if err != nil {
		h.fail(rw, r, ErrCodeUserAudit, "Failed to fetch user audit history", err)
		return
	}
	rw.Success(result)
}

// ResourceHistory handles GET /api/v1/audit/resources/{resource}/history.
func (h *AuditHandler) ResourceHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	resource := chi.URLParam(r, "resource")
	resourceID := r.URL.Query().Get("resourceId")
	page, limit := parsePaging(r)

	result, err := h.service.ResourceHistory(r.Context(), resource, resourceID, page, limit)
	if err != nil {
		h.fail(rw, r, ErrCodeResourceAudit, "Failed to fetch resource audit history", err)
		return
	}
	rw.Success(result)
}

// Recent handles GET /api/v1/audit/recent.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	hours := queryInt(r, "hours")
	limit := queryInt(r, "limit")

	result, err := h.service.Recent(r.Context(), hours, limit)
	if err != nil {
		h.fail(rw, r, ErrCodeRecentActivity, "Failed to fetch recent activity", err)
		return
	}
	rw.Success(result)
}

// Statistics handles GET /api/v1/audit/statistics.
func (h *AuditHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	start, err := queryTime(r, "startDate")
	if err != nil {
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "Invalid startDate", err.Error())
		return
	}
	end, err := queryTime(r, "endDate")
	if err != nil {
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "Invalid endDate", err.Error())
		return
	}

	result, err := h.service.Statistics(r.Context(), start, end)
	if err != nil {
		h.fail(rw, r, ErrCodeStatistics, "Failed to compute audit statistics", err)
		return
	}
	rw.Success(result)
}

// Export handles GET /api/v1/audit/export. Format defaults to CSV.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseFilter(r)
	if err != nil {
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, "Invalid filter parameters", err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	var data []byte
	var contentType string
	switch format {
	case "csv":
		data, err = h.service.ExportCSV(r.Context(), filter)
		contentType = "text/csv"
	case "json":
		data, err = h.service.ExportJSON(r.Context(), filter)
		contentType = "application/json"
	default:
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, fmt.Sprintf("Unsupported export format %q", format))
		return
	}
	if err != nil {
		h.fail(rw, r, ErrCodeExport, "Failed to export audit logs", err)
		return
	}

	filename := fmt.Sprintf("audit_logs_%s.%s", time.Now().UTC().Format("2006-01-02"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write export body")
	}
}

// MyHistory handles GET /api/v1/audit/my-history. The user filter is the
// caller's own identity, never a parameter.
func (h *AuditHandler) MyHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}
	page, limit := parsePaging(r)

	result, err := h.service.UserHistory(r.Context(), actor.ID, page, limit)
	if err != nil {
		h.fail(rw, r, ErrCodeMyAudit, "Failed to fetch your audit history", err)
		return
	}
	rw.Success(result)
}

// fail logs the underlying error and writes the endpoint's stable code. The
// error itself never reaches the wire.
func (h *AuditHandler) fail(rw *ResponseWriter, r *http.Request, code, message string, err error) {
	logging.Error().Err(err).
		Str("code", code).
		Str("path", r.URL.Path).
		Msg("Audit query failed")
	rw.Error(http.StatusInternalServerError, code, message)
}

// parseFilter reads the shared filter parameters. Dates must be ISO-8601
// and ipAddress must be a valid IP literal.
func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		UserID:   q.Get("userId"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
	}

	if ip := q.Get("ipAddress"); ip != "" {
		if net.ParseIP(ip) == nil {
			return audit.Filter{}, fmt.Errorf("ipAddress %q is not a valid IP literal", ip)
		}
		filter.IPAddress = ip
	}

	start, err := queryTime(r, "startDate")
	if err != nil {
		return audit.Filter{}, err
	}
	end, err := queryTime(r, "endDate")
	if err != nil {
		return audit.Filter{}, err
	}
	filter.Start = start
	filter.End = end
	return filter, nil
}

func parsePaging(r *http.Request) (page, limit int) {
	return queryInt(r, "page"), queryInt(r, "limit")
}

// queryInt parses an integer parameter; absent or malformed values yield
// zero and fall back to the service's defaults.
func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s %q is not an ISO-8601 timestamp", name, raw)
	}
	utc := t.UTC()
	return &utc, nil
}
