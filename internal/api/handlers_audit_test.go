// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carelog/carelog/internal/audit"
	"github.com/carelog/carelog/internal/auth"
)

const testActorID = "5b8f7e6d-4c3b-4a29-9d18-444444444444"

// brokenStore fails every operation, for exercising the per-endpoint error
// codes.
type brokenStore struct{}

var errBroken = errors.New("store exploded")

func (brokenStore) Insert(context.Context, *audit.Entry) error { return errBroken }
func (brokenStore) Find(context.Context, audit.Filter) ([]audit.Entry, error) {
	return nil, errBroken
}
func (brokenStore) Count(context.Context, audit.Filter) (int64, error) { return 0, errBroken }
func (brokenStore) GroupCount(context.Context, audit.Filter, audit.GroupField) ([]audit.BucketCount, error) {
	return nil, errBroken
}
func (brokenStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, errBroken }

func withTestActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := &auth.Actor{ID: testActorID, Email: "auditor@clinic.example", Role: "admin"}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithActor(r.Context(), actor)))
	})
}

// newQueryRouter mounts the audit handlers the way the production router
// does, with a fixed test actor.
func newQueryRouter(t *testing.T, store audit.Store) chi.Router {
	t.Helper()
	service := audit.NewService(store, nil, nil)
	t.Cleanup(func() { _ = service.Close() })
	h := NewAuditHandler(service)

	r := chi.NewRouter()
	r.Use(withTestActor)
	r.Get("/audit/logs", h.Logs)
	r.Get("/audit/users/{userId}/history", h.UserHistory)
	r.Get("/audit/resources/{resource}/history", h.ResourceHistory)
	r.Get("/audit/recent", h.Recent)
	r.Get("/audit/statistics", h.Statistics)
	r.Get("/audit/export", h.Export)
	r.Get("/audit/my-history", h.MyHistory)
	return r
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not a valid envelope: %v\n%s", err, rec.Body.String())
	}
	return resp
}

func seededStore(t *testing.T) *audit.MemoryStore {
	t.Helper()
	store := audit.NewMemoryStore()
	now := time.Now().UTC()
	entries := []audit.Entry{
		{ID: "1", UserID: testActorID, Action: audit.ActionUpdate, Resource: "patients", ResourceID: "p1", CreatedAt: now},
		{ID: "2", UserID: testActorID, Action: audit.ActionCreate, Resource: "users", CreatedAt: now.Add(-time.Minute)},
		{ID: "3", Action: audit.ActionRead, Resource: "audit", CreatedAt: now.Add(-2 * time.Minute)},
	}
	for i := range entries {
		if err := store.Insert(context.Background(), &entries[i]); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	return store
}

func TestLogsEndpoint(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, seededStore(t))
	rec := get(t, router, "/audit/logs?limit=2")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Fatalf("success = false: %+v", resp.Error)
	}

	data, _ := json.Marshal(resp.Data)
	var page audit.LogPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("data is not a log page: %v", err)
	}
	if len(page.Logs) != 2 {
		t.Errorf("len(logs) = %d, want 2", len(page.Logs))
	}
	if page.Pagination.Total != 3 || page.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v", page.Pagination)
	}
}

func TestLogsEndpointFilters(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, seededStore(t))
	rec := get(t, router, "/audit/logs?action=UPDATE&resource=patients")

	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var page audit.LogPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("data is not a log page: %v", err)
	}
	if len(page.Logs) != 1 || page.Logs[0].ID != "1" {
		t.Errorf("filtered logs = %+v", page.Logs)
	}
}

func TestValidationFailures(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, seededStore(t))

	tests := []struct {
		name string
		path string
	}{
		{"bad ip filter", "/audit/logs?ipAddress=not-an-ip"},
		{"bad start date", "/audit/logs?startDate=yesterday"},
		{"bad statistics date", "/audit/statistics?endDate=2026-13-45"},
		{"bad export format", "/audit/export?format=xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, router, tt.path)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			resp := decodeResponse(t, rec)
			if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeValidationFailed {
				t.Errorf("error envelope = %+v", resp.Error)
			}
		})
	}
}

func TestPerEndpointErrorCodes(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, brokenStore{})

	tests := []struct {
		path     string
		wantCode string
	}{
		{"/audit/logs", ErrCodeAuditFetch},
		{"/audit/users/" + testActorID + "/history", ErrCodeUserAudit},
		{"/audit/resources/patients/history", ErrCodeResourceAudit},
		{"/audit/recent", ErrCodeRecentActivity},
		{"/audit/statistics", ErrCodeStatistics},
		{"/audit/export", ErrCodeExport},
		{"/audit/my-history", ErrCodeMyAudit},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rec := get(t, router, tt.path)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			resp := decodeResponse(t, rec)
			if resp.Success {
				t.Fatal("success = true on failure")
			}
			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("error code = %+v, want %s", resp.Error, tt.wantCode)
			}
			if resp.Error != nil && strings.Contains(resp.Error.Message, "exploded") {
				t.Error("internal error leaked to the wire")
			}
		})
	}
}

func TestExportEndpointHeaders(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, seededStore(t))

	csvRec := get(t, router, "/audit/export")
	if csvRec.Code != http.StatusOK {
		t.Fatalf("status = %d", csvRec.Code)
	}
	if ct := csvRec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	disposition := csvRec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, `attachment; filename="audit_logs_`) || !strings.HasSuffix(disposition, `.csv"`) {
		t.Errorf("Content-Disposition = %q", disposition)
	}
	if !strings.HasPrefix(csvRec.Body.String(), `"Timestamp","User Email"`) {
		t.Errorf("csv body = %q", csvRec.Body.String()[:40])
	}

	jsonRec := get(t, router, "/audit/export?format=json")
	if ct := jsonRec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasSuffix(jsonRec.Header().Get("Content-Disposition"), `.json"`) {
		t.Errorf("Content-Disposition = %q", jsonRec.Header().Get("Content-Disposition"))
	}
	var envelope audit.ExportEnvelope
	if err := json.Unmarshal(jsonRec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("json export invalid: %v", err)
	}
	if len(envelope.Logs) != 3 || envelope.ExportedAt.IsZero() {
		t.Errorf("envelope = %d logs, exportedAt %v", len(envelope.Logs), envelope.ExportedAt)
	}
}

func TestMyHistoryScopedToCaller(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, seededStore(t))
	// The userId query parameter must be ignored; scope comes from the token.
	rec := get(t, router, "/audit/my-history?userId=someone-else")

	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var page audit.LogPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("data is not a log page: %v", err)
	}
	if len(page.Logs) != 2 {
		t.Fatalf("got %d logs, want the caller's 2", len(page.Logs))
	}
	for _, e := range page.Logs {
		if e.UserID != testActorID {
			t.Errorf("foreign entry leaked into my-history: %+v", e)
		}
	}
}

func TestMyHistoryUnauthenticated(t *testing.T) {
	t.Parallel()

	service := audit.NewService(audit.NewMemoryStore(), nil, nil)
	t.Cleanup(func() { _ = service.Close() })
	h := NewAuditHandler(service)

	r := chi.NewRouter()
	r.Get("/audit/my-history", h.MyHistory)

	rec := get(t, r, "/audit/my-history")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRecentEndpoint(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, seededStore(t))
	rec := get(t, router, "/audit/recent?hours=48&limit=10")

	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var recent audit.RecentActivity
	if err := json.Unmarshal(data, &recent); err != nil {
		t.Fatalf("data is not a recent-activity envelope: %v", err)
	}
	if recent.Hours != 48 || recent.Count != 3 {
		t.Errorf("recent = hours %d count %d", recent.Hours, recent.Count)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	t.Parallel()

	router := newQueryRouter(t, seededStore(t))
	rec := get(t, router, "/audit/statistics")

	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var stats audit.Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("data is not a statistics envelope: %v", err)
	}
	if stats.TotalLogs != 3 {
		t.Errorf("totalLogs = %d, want 3", stats.TotalLogs)
	}
	var sum int64
	for _, s := range stats.ActionStats {
		sum += s.Count
	}
	if sum != stats.TotalLogs {
		t.Errorf("sum(actionStats) = %d, want %d", sum, stats.TotalLogs)
	}
}
