// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestExportCSVHeader(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, NewMemoryStore(), nil)

	data, err := svc.ExportCSV(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	want := `"Timestamp","User Email","Action","Resource","Resource ID","IP Address","User Agent","Old Values","New Values"` + "\n"
	if string(data) != want {
		t.Errorf("empty export = %q, want header only %q", data, want)
	}
}

func TestExportCSVQuoting(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{{
		ID:         "q",
		UserEmail:  "alice@clinic.example",
		Action:     ActionUpdate,
		Resource:   "patients",
		ResourceID: "p1",
		IPAddress:  "10.0.0.1",
		UserAgent:  `Mozilla/5.0 "quoted"`,
		NewValues:  json.RawMessage(`{"status":"SUSPENDED"}`),
		CreatedAt:  now,
	}})
	svc := newTestService(t, store, nil)

	data, err := svc.ExportCSV(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	row := lines[1]
	if !strings.Contains(row, `"Mozilla/5.0 ""quoted"""`) {
		t.Errorf("embedded quotes not doubled: %s", row)
	}
	if !strings.Contains(row, `"{""status"":""SUSPENDED""}"`) {
		t.Errorf("JSON payload not quote-escaped: %s", row)
	}
	if !strings.HasPrefix(row, `"2026-08-30T12:00:00Z"`) {
		t.Errorf("timestamp field = %s", row)
	}
	// Every field is quoted, so the raw row must start and end with quotes
	// and contain no unquoted separators.
	if !strings.HasPrefix(row, `"`) || !strings.HasSuffix(row, `"`) {
		t.Errorf("row not fully quoted: %s", row)
	}
}

func TestExportCSVRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC().Truncate(time.Second)
	store := NewMemoryStore()
	entries := []Entry{
		{ID: "1", UserEmail: "a@clinic.example", Action: ActionCreate, Resource: "users", CreatedAt: now},
		{ID: "2", UserEmail: "b@clinic.example", Action: ActionUpdate, Resource: "patients", ResourceID: "p,1",
			NewValues: json.RawMessage(`{"note":"says \"hi\""}`), CreatedAt: now.Add(-time.Minute)},
		{ID: "3", Action: ActionDelete, Resource: "appointments", IPAddress: "10.1.2.3", CreatedAt: now.Add(-2 * time.Minute)},
	}
	seedEntries(t, store, entries)
	svc := newTestService(t, store, nil)

	data, err := svc.ExportCSV(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("exported CSV does not re-parse: %v", err)
	}
	if len(records) != len(entries)+1 {
		t.Fatalf("got %d rows, want %d", len(records), len(entries)+1)
	}

	// Newest-first: row 1 is entry "1".
	if records[1][1] != "a@clinic.example" || records[1][2] != ActionCreate {
		t.Errorf("row 1 = %v", records[1])
	}
	if records[2][4] != "p,1" {
		t.Errorf("comma-containing field corrupted: %v", records[2])
	}
	if records[2][8] != `{"note":"says \"hi\""}` {
		t.Errorf("JSON payload corrupted: %q", records[2][8])
	}
	if records[3][5] != "10.1.2.3" {
		t.Errorf("row 3 = %v", records[3])
	}
}

func TestExportJSONEnvelope(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := NewMemoryStore()
	seedEntries(t, store, []Entry{
		{ID: "1", Action: ActionCreate, Resource: "users", CreatedAt: now},
		{ID: "2", Action: ActionUpdate, Resource: "users", CreatedAt: now.Add(-time.Minute)},
	})
	svc := newTestService(t, store, nil)

	data, err := svc.ExportJSON(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	var envelope ExportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(envelope.Logs) != 2 {
		t.Errorf("got %d logs, want 2", len(envelope.Logs))
	}
	if envelope.Pagination.Total != 2 {
		t.Errorf("total = %d, want 2", envelope.Pagination.Total)
	}
	if envelope.ExportedAt.IsZero() {
		t.Error("exportedAt missing")
	}
}

func TestExportHonorsLimit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		seedEntries(t, store, []Entry{{
			ID:        string(rune('a' + i)),
			Action:    ActionCreate,
			Resource:  "users",
			CreatedAt: now.Add(time.Duration(-i) * time.Second),
		}})
	}

	cfg := DefaultConfig()
	cfg.ExportLimit = 5
	svc := NewService(store, nil, cfg)
	t.Cleanup(func() { _ = svc.Close() })

	data, err := svc.ExportJSON(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}
	var envelope ExportEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(envelope.Logs) != 5 {
		t.Errorf("export returned %d logs, want cap of 5", len(envelope.Logs))
	}
	if envelope.Pagination.Total != 8 {
		t.Errorf("total = %d, want 8", envelope.Pagination.Total)
	}
}
