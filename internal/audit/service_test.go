// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	testUserAlice = "6f1c1e9a-9a1f-4a64-9a1a-111111111111"
	testUserBob   = "7a2d2f8b-8b2e-4b75-8b2b-222222222222"
)

// failingStore rejects every write, for exercising the fire-and-forget
// contract under store outage.
type failingStore struct {
	MemoryStore
}

func (f *failingStore) Insert(context.Context, *Entry) error {
	return errors.New("store is down")
}

func newTestService(t *testing.T, store Store, directory UserDirectory) *Service {
	t.Helper()
	svc := NewService(store, directory, nil)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestRecordNeverFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store Store
	}{
		{"healthy store", NewMemoryStore()},
		{"failing store", &failingStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.store, nil, nil)

			for i := 0; i < 10; i++ {
				svc.Record(&Entry{Action: ActionCreate, Resource: "appointments"})
			}
			// Close drains the buffer; neither path may panic or block.
			if err := svc.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
		})
	}
}

func TestRecordStampsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := NewService(store, nil, nil)

	svc.Record(&Entry{Action: ActionCreate, Resource: "appointments", UserID: testUserAlice})
	_ = svc.Close()

	entries, err := store.Find(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].ID == "" {
		t.Error("ID was not assigned")
	}
	if entries[0].CreatedAt.IsZero() {
		t.Error("CreatedAt was not assigned")
	}
}

func TestRecordDropsMalformedEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry *Entry
	}{
		{"missing action", &Entry{Resource: "users"}},
		{"missing resource", &Entry{Action: ActionCreate}},
		{"bad email", &Entry{Action: ActionCreate, Resource: "users", UserEmail: "not-an-email"}},
		{"bad ip", &Entry{Action: ActionCreate, Resource: "users", IPAddress: "999.999.1.1"}},
		{"bad user id", &Entry{Action: ActionCreate, Resource: "users", UserID: "not-a-uuid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			svc := NewService(store, nil, nil)
			svc.Record(tt.entry)
			_ = svc.Close()

			count, err := store.Count(context.Background(), Filter{})
			if err != nil {
				t.Fatalf("Count failed: %v", err)
			}
			if count != 0 {
				t.Errorf("malformed entry was stored")
			}
		})
	}
}

func TestRecordAcceptsUnknownIPPlaceholder(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := NewService(store, nil, nil)
	svc.Record(&Entry{Action: ActionCreate, Resource: "users", IPAddress: "unknown"})
	_ = svc.Close()

	count, err := store.Count(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("entry with placeholder IP was dropped")
	}
}

func TestRecordDisabled(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	cfg := DefaultConfig()
	cfg.Enabled = false
	svc := NewService(store, nil, cfg)
	svc.Record(&Entry{Action: ActionCreate, Resource: "users"})
	_ = svc.Close()

	count, _ := store.Count(context.Background(), Filter{})
	if count != 0 {
		t.Error("disabled service recorded an entry")
	}
}

func TestLogsPagination(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	for i := 0; i < 25; i++ {
		seedEntries(t, store, []Entry{{
			ID:        string(rune('a' + i)),
			Action:    ActionCreate,
			Resource:  "appointments",
			CreatedAt: now.Add(time.Duration(-i) * time.Minute),
		}})
	}
	svc := newTestService(t, store, nil)

	tests := []struct {
		name           string
		page, limit    int
		wantLen        int
		wantTotalPages int
		wantPage       int
		wantLimit      int
	}{
		{"first page", 1, 10, 10, 3, 1, 10},
		{"last partial page", 3, 10, 5, 3, 3, 10},
		{"defaults", 0, 0, 20, 2, 1, 20},
		{"limit clamped to max", 1, 5000, 25, 1, 1, 100},
		{"page past end", 9, 10, 0, 3, 9, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.Logs(context.Background(), LogsQuery{Page: tt.page, Limit: tt.limit})
			if err != nil {
				t.Fatalf("Logs failed: %v", err)
			}
			if len(page.Logs) != tt.wantLen {
				t.Errorf("len(logs) = %d, want %d", len(page.Logs), tt.wantLen)
			}
			if page.Pagination.TotalPages != tt.wantTotalPages {
				t.Errorf("totalPages = %d, want %d", page.Pagination.TotalPages, tt.wantTotalPages)
			}
			if page.Pagination.Total != 25 {
				t.Errorf("total = %d, want 25", page.Pagination.Total)
			}
			if page.Pagination.Page != tt.wantPage || page.Pagination.Limit != tt.wantLimit {
				t.Errorf("pagination = %+v", page.Pagination)
			}
			if len(page.Logs) > page.Pagination.Limit {
				t.Error("page exceeds its limit")
			}
		})
	}
}

func TestLogsNewestFirst(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "oldest", Action: ActionCreate, Resource: "users", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "newest", Action: ActionCreate, Resource: "users", CreatedAt: now},
		{ID: "middle", Action: ActionCreate, Resource: "users", CreatedAt: now.Add(-1 * time.Hour)},
	})
	svc := newTestService(t, store, nil)

	page, err := svc.Logs(context.Background(), LogsQuery{})
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	want := []string{"newest", "middle", "oldest"}
	for i, id := range want {
		if page.Logs[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, page.Logs[i].ID, id)
		}
	}
}

func TestLogsEnrichment(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "known", UserID: testUserAlice, Action: ActionUpdate, Resource: "patients", CreatedAt: now},
		{ID: "ghost", UserID: testUserBob, Action: ActionUpdate, Resource: "patients", CreatedAt: now.Add(-time.Minute)},
		{ID: "anon", Action: ActionUpdate, Resource: "patients", CreatedAt: now.Add(-2 * time.Minute)},
	})
	directory := NewStaticDirectory(UserRef{ID: testUserAlice, Email: "alice@clinic.example", Name: "Alice", Role: "admin"})
	svc := newTestService(t, store, directory)

	page, err := svc.Logs(context.Background(), LogsQuery{})
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}

	byID := map[string]*EnrichedEntry{}
	for i := range page.Logs {
		byID[page.Logs[i].ID] = &page.Logs[i]
	}
	if byID["known"].User == nil || byID["known"].User.Name != "Alice" {
		t.Errorf("known user not enriched: %+v", byID["known"].User)
	}
	if byID["ghost"].User != nil {
		t.Error("unresolvable user must stay nil, not fail the read")
	}
	if byID["anon"].User != nil {
		t.Error("anonymous entry must not be enriched")
	}
}

func TestUserAndResourceHistory(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "1", UserID: testUserAlice, Action: ActionUpdate, Resource: "patients", ResourceID: "p1", CreatedAt: now},
		{ID: "2", UserID: testUserBob, Action: ActionUpdate, Resource: "patients", ResourceID: "p2", CreatedAt: now},
		{ID: "3", UserID: testUserAlice, Action: ActionRead, Resource: "users", CreatedAt: now},
	})
	svc := newTestService(t, store, nil)

	users, err := svc.UserHistory(context.Background(), testUserAlice, 0, 0)
	if err != nil {
		t.Fatalf("UserHistory failed: %v", err)
	}
	if len(users.Logs) != 2 {
		t.Errorf("user history returned %d entries, want 2", len(users.Logs))
	}
	if users.Pagination.Limit != 50 {
		t.Errorf("history default limit = %d, want 50", users.Pagination.Limit)
	}

	scoped, err := svc.ResourceHistory(context.Background(), "patients", "p2", 0, 0)
	if err != nil {
		t.Fatalf("ResourceHistory failed: %v", err)
	}
	if len(scoped.Logs) != 1 || scoped.Logs[0].ID != "2" {
		t.Errorf("resource-scoped history = %+v", scoped.Logs)
	}

	all, err := svc.ResourceHistory(context.Background(), "patients", "", 0, 0)
	if err != nil {
		t.Fatalf("ResourceHistory failed: %v", err)
	}
	if len(all.Logs) != 2 {
		t.Errorf("resource history returned %d entries, want 2", len(all.Logs))
	}
}

func TestRecentWindowClamps(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "fresh", Action: ActionCreate, Resource: "users", CreatedAt: now.Add(-time.Hour)},
		{ID: "stale", Action: ActionCreate, Resource: "users", CreatedAt: now.Add(-80 * time.Hour)},
	})
	svc := newTestService(t, store, nil)

	recent, err := svc.Recent(context.Background(), 24, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if recent.Count != 1 || recent.Logs[0].ID != "fresh" {
		t.Errorf("24h window = %+v", recent.Logs)
	}
	if recent.Hours != 24 {
		t.Errorf("hours = %d, want 24", recent.Hours)
	}

	clamped, err := svc.Recent(context.Background(), 10000, 10000)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if clamped.Hours != 168 {
		t.Errorf("hours = %d, want clamp to 168", clamped.Hours)
	}
	if clamped.Count != 2 {
		t.Errorf("168h window count = %d, want 2", clamped.Count)
	}

	defaulted, err := svc.Recent(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if defaulted.Hours != 24 {
		t.Errorf("default hours = %d, want 24", defaulted.Hours)
	}
}

func TestStatisticsInvariants(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "1", UserID: testUserAlice, Action: ActionCreate, Resource: "patients", CreatedAt: now},
		{ID: "2", UserID: testUserAlice, Action: ActionCreate, Resource: "users", CreatedAt: now},
		{ID: "3", UserID: testUserBob, Action: ActionUpdate, Resource: "patients", CreatedAt: now},
		{ID: "4", Action: ActionRead, Resource: "audit", CreatedAt: now},
	})
	directory := NewStaticDirectory(UserRef{ID: testUserAlice, Name: "Alice"})
	svc := newTestService(t, store, directory)

	stats, err := svc.Statistics(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}

	if stats.TotalLogs != 4 {
		t.Errorf("totalLogs = %d, want 4", stats.TotalLogs)
	}

	var actionSum, resourceSum int64
	for _, s := range stats.ActionStats {
		actionSum += s.Count
	}
	for _, s := range stats.ResourceStats {
		resourceSum += s.Count
	}
	if actionSum != stats.TotalLogs {
		t.Errorf("sum(actionStats) = %d, want %d", actionSum, stats.TotalLogs)
	}
	if resourceSum != stats.TotalLogs {
		t.Errorf("sum(resourceStats) = %d, want %d", resourceSum, stats.TotalLogs)
	}

	if len(stats.UserStats) != 2 {
		t.Fatalf("got %d user stats, want 2 (anonymous excluded)", len(stats.UserStats))
	}
	if stats.UserStats[0].UserID != testUserAlice || stats.UserStats[0].Count != 2 {
		t.Errorf("top actor = %+v", stats.UserStats[0])
	}
	if stats.UserStats[0].User == nil || stats.UserStats[0].User.Name != "Alice" {
		t.Error("top actor not enriched")
	}
	if stats.UserStats[1].User != nil {
		t.Error("unresolvable actor must appear with nil user")
	}
}

func TestStatisticsDateWindow(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "in", Action: ActionCreate, Resource: "users", CreatedAt: now.Add(-time.Hour)},
		{ID: "out", Action: ActionCreate, Resource: "users", CreatedAt: now.Add(-50 * time.Hour)},
	})
	svc := newTestService(t, store, nil)

	start := now.Add(-24 * time.Hour)
	stats, err := svc.Statistics(context.Background(), &start, nil)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalLogs != 1 {
		t.Errorf("windowed totalLogs = %d, want 1", stats.TotalLogs)
	}
}

func TestDeleteOldLogs(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "ancient", Action: ActionCreate, Resource: "users", CreatedAt: now.AddDate(0, 0, -40)},
		{ID: "older", Action: ActionCreate, Resource: "users", CreatedAt: now.AddDate(0, 0, -31)},
		{ID: "recent", Action: ActionCreate, Resource: "users", CreatedAt: now.AddDate(0, 0, -10)},
	})
	svc := newTestService(t, store, nil)

	deleted, err := svc.DeleteOldLogs(context.Background(), 30)
	if err != nil {
		t.Fatalf("DeleteOldLogs failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	remaining, _ := store.Find(context.Background(), Filter{})
	for _, e := range remaining {
		if e.CreatedAt.Before(cutoff) {
			t.Errorf("entry %s older than retention cutoff survived", e.ID)
		}
	}

	if _, err := svc.DeleteOldLogs(context.Background(), 0); err == nil {
		t.Error("expected error for zero retention age")
	}
}

func TestEmitters(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	svc := NewService(store, nil, nil)

	svc.LogAuth(ActionLoginFailed, "", "intruder@clinic.example", "10.0.0.9", "curl/8")
	svc.LogDataModification(testUserAlice, "alice@clinic.example", ActionUpdate, "patients", "p1",
		map[string]string{"status": "ACTIVE"}, map[string]string{"status": "SUSPENDED"})
	svc.LogAdminAction(testUserAlice, "alice@clinic.example", "role_change", "users", testUserBob,
		map[string]string{"role": "doctor"})
	svc.LogLGPDEvent(testUserBob, "bob@clinic.example", "data_export", map[string]string{"scope": "full"})
	_ = svc.Close()

	entries, err := store.Find(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	byAction := map[string]*Entry{}
	for i := range entries {
		byAction[entries[i].Action] = &entries[i]
	}

	if e := byAction[ActionLoginFailed]; e == nil {
		t.Fatal("missing LOGIN_FAILED entry")
	} else {
		if e.Resource != ResourceAuthentication {
			t.Errorf("login resource = %q", e.Resource)
		}
		if e.UserID != "" || e.UserEmail != "intruder@clinic.example" {
			t.Errorf("failed login must keep email but no user id: %+v", e)
		}
	}

	if e := byAction[ActionUpdate]; e == nil {
		t.Fatal("missing modification entry")
	} else if string(e.OldValues) == "" || string(e.NewValues) == "" {
		t.Error("modification snapshots missing")
	}

	if byAction["ADMIN_ROLE_CHANGE"] == nil {
		t.Error("admin action not namespaced as ADMIN_ROLE_CHANGE")
	}
	if e := byAction["LGPD_DATA_EXPORT"]; e == nil {
		t.Error("lgpd event not namespaced as LGPD_DATA_EXPORT")
	} else if e.Resource != ResourceDataSubjectRights {
		t.Errorf("lgpd resource = %q", e.Resource)
	}
}
