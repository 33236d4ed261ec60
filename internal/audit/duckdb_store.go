// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DuckDBStore persists audit entries in an embedded DuckDB database.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates a store backed by the given connection and ensures
// the audit schema exists.
func NewDuckDBStore(ctx context.Context, db *sql.DB) (*DuckDBStore, error) {
	s := &DuckDBStore{db: db}
	if err := s.createTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return s, nil
}

func (s *DuckDBStore) createTable(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id VARCHAR PRIMARY KEY,
			user_id VARCHAR,
			user_email VARCHAR,
			ip_address VARCHAR,
			user_agent VARCHAR,
			action VARCHAR NOT NULL,
			resource VARCHAR NOT NULL,
			resource_id VARCHAR,
			old_values JSON,
			new_values JSON,
			created_at TIMESTAMP NOT NULL
		)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit_logs table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_logs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs(action)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_logs(resource)`,
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Insert persists one entry.
func (s *DuckDBStore) Insert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO audit_logs (
			id, user_id, user_email, ip_address, user_agent,
			action, resource, resource_id, old_values, new_values, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		nullString(entry.UserID),
		nullString(entry.UserEmail),
		nullString(entry.IPAddress),
		nullString(entry.UserAgent),
		entry.Action,
		entry.Resource,
		nullString(entry.ResourceID),
		nullString(string(entry.OldValues)),
		nullString(string(entry.NewValues)),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Find returns entries matching the filter, newest-first.
func (s *DuckDBStore) Find(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, user_id, user_email, ip_address, user_agent,
		       action, resource, resource_id, old_values, new_values, created_at
		FROM audit_logs`

	conditions, args := buildFilterConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of matching entries, ignoring Limit and Offset.
func (s *DuckDBStore) Count(ctx context.Context, filter Filter) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_logs`
	conditions, args := buildFilterConditions(filter)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// GroupCount returns per-value counts for the field over the filtered
// entries, descending by count. The column name comes from a fixed map, not
// from caller input.
func (s *DuckDBStore) GroupCount(ctx context.Context, filter Filter, field GroupField) ([]BucketCount, error) {
	column, ok := groupColumns[field]
	if !ok {
		return nil, errUnknownGroupField(field)
	}

	conditions, args := buildFilterConditions(filter)
	if field == GroupByUser {
		conditions = append(conditions, "user_id IS NOT NULL AND user_id != ''")
	}

	query := fmt.Sprintf("SELECT %s, COUNT(*) AS cnt FROM audit_logs", column)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" GROUP BY %s ORDER BY cnt DESC, %s ASC", column, column)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group audit entries by %s: %w", column, err)
	}
	defer func() { _ = rows.Close() }()

	buckets := []BucketCount{}
	for rows.Next() {
		var key sql.NullString
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan group bucket: %w", err)
		}
		buckets = append(buckets, BucketCount{Key: key.String, Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group buckets: %w", err)
	}
	return buckets, nil
}

// DeleteBefore removes entries older than the cutoff.
func (s *DuckDBStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit entries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}
	return deleted, nil
}

var groupColumns = map[GroupField]string{
	GroupByAction:   "action",
	GroupByResource: "resource",
	GroupByUser:     "user_id",
}

func errUnknownGroupField(field GroupField) error {
	return fmt.Errorf("unknown group field: %q", field)
}

// buildFilterConditions builds parameterized WHERE conditions from a Filter.
func buildFilterConditions(filter Filter) ([]string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Resource != "" {
		conditions = append(conditions, "resource = ?")
		args = append(args, filter.Resource)
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.IPAddress != "" {
		conditions = append(conditions, "ip_address = ?")
		args = append(args, filter.IPAddress)
	}
	if filter.Start != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.End.UTC())
	}
	return conditions, args
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var entry Entry
	var userID, userEmail, ipAddress, userAgent, resourceID, oldValues, newValues sql.NullString

	err := rows.Scan(
		&entry.ID,
		&userID,
		&userEmail,
		&ipAddress,
		&userAgent,
		&entry.Action,
		&entry.Resource,
		&resourceID,
		&oldValues,
		&newValues,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.UserID = userID.String
	entry.UserEmail = userEmail.String
	entry.IPAddress = ipAddress.String
	entry.UserAgent = userAgent.String
	entry.ResourceID = resourceID.String
	if oldValues.Valid && oldValues.String != "" {
		entry.OldValues = []byte(oldValues.String)
	}
	if newValues.Valid && newValues.String != "" {
		entry.NewValues = []byte(newValues.String)
	}
	return &entry, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
