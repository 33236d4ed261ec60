// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// csvHeader is the fixed export header. Column order is part of the export
// contract consumed by downstream compliance tooling.
const csvHeader = `"Timestamp","User Email","Action","Resource","Resource ID","IP Address","User Agent","Old Values","New Values"`

// ExportCSV renders the filtered trail as CSV, capped at ExportLimit
// entries. Every field is double-quoted, with embedded quotes doubled, so
// JSON payload columns survive any spreadsheet import.
func (s *Service) ExportCSV(ctx context.Context, filter Filter) ([]byte, error) {
	page, err := s.exportPage(ctx, filter)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(csvHeader)
	b.WriteString("\n")
	for i := range page.Logs {
		entry := &page.Logs[i].Entry
		fields := []string{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.UserEmail,
			entry.Action,
			entry.Resource,
			entry.ResourceID,
			entry.IPAddress,
			entry.UserAgent,
			string(entry.OldValues),
			string(entry.NewValues),
		}
		for j, f := range fields {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString(csvField(f))
		}
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

// ExportJSON renders the filtered trail as a JSON envelope, capped at
// ExportLimit entries.
func (s *Service) ExportJSON(ctx context.Context, filter Filter) ([]byte, error) {
	page, err := s.exportPage(ctx, filter)
	if err != nil {
		return nil, err
	}

	envelope := ExportEnvelope{
		Logs:       page.Logs,
		Pagination: page.Pagination,
		ExportedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

// exportPage fetches the export window directly: exports are capped at
// ExportLimit, which deliberately exceeds the interactive MaxPageSize clamp.
func (s *Service) exportPage(ctx context.Context, filter Filter) (*LogPage, error) {
	filter.Limit = s.config.ExportLimit
	filter.Offset = 0

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries for export: %w", err)
	}
	entries, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entries for export: %w", err)
	}

	return &LogPage{
		Logs: s.enrich(ctx, entries),
		Pagination: Pagination{
			Page:       1,
			Limit:      s.config.ExportLimit,
			Total:      total,
			TotalPages: totalPages(total, s.config.ExportLimit),
		},
	}, nil
}

// csvField quotes one field unconditionally, doubling embedded quotes.
func csvField(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
