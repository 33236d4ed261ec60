// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// NopDirectory resolves no users. Used when Carelog runs without access to
// the clinic's user table; reads simply come back unenriched.
type NopDirectory struct{}

// Lookup always reports the user as unknown.
func (NopDirectory) Lookup(context.Context, string) (*UserRef, error) {
	return nil, nil
}

// DuckDBDirectory resolves users from the clinic's users table. The table is
// owned by the clinic application; Carelog only reads it.
type DuckDBDirectory struct {
	db *sql.DB
}

// NewDuckDBDirectory creates a directory over the given connection.
func NewDuckDBDirectory(db *sql.DB) *DuckDBDirectory {
	return &DuckDBDirectory{db: db}
}

// Lookup resolves one user id. A missing user yields (nil, nil).
func (d *DuckDBDirectory) Lookup(ctx context.Context, userID string) (*UserRef, error) {
	var ref UserRef
	var email, name, role sql.NullString

	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, name, role FROM users WHERE id = ?`, userID,
	).Scan(&ref.ID, &email, &name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ref.Email = email.String
	ref.Name = name.String
	ref.Role = role.String
	return &ref, nil
}

// StaticDirectory serves a fixed user set. Used in tests and demos.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]UserRef
}

// NewStaticDirectory creates a directory over the given users, keyed by ID.
func NewStaticDirectory(users ...UserRef) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]UserRef, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Add registers or replaces a user.
func (d *StaticDirectory) Add(user UserRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

// Lookup resolves one user id. A missing user yields (nil, nil).
func (d *StaticDirectory) Lookup(_ context.Context, userID string) (*UserRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[userID]; ok {
		ref := u
		return &ref, nil
	}
	return nil, nil
}
