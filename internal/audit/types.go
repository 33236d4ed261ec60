// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Conventional action tags. Action is deliberately a plain string, not an
// enum: emitters introduce new tags (API_*, ADMIN_*, LGPD_*) without a
// schema migration.
const (
	ActionCreate      = "CREATE"
	ActionRead        = "READ"
	ActionUpdate      = "UPDATE"
	ActionDelete      = "DELETE"
	ActionLogin       = "LOGIN"
	ActionLoginFailed = "LOGIN_FAILED"
	ActionLogout      = "LOGOUT"

	// Namespaced prefixes for emitter-defined tags.
	ActionPrefixAPI   = "API_"
	ActionPrefixAdmin = "ADMIN_"
	ActionPrefixLGPD  = "LGPD_"
)

// Well-known resources used by the built-in emitters.
const (
	ResourceAuthentication    = "authentication"
	ResourceDataSubjectRights = "data_subject_rights"
)

// Entry is one immutable record of an action taken against the system.
// Action and Resource are always present; every other field is optional so
// the model tolerates anonymous and system-originated events.
type Entry struct {
	// ID is a unique identifier, assigned by the write path.
	ID string `json:"id"`

	// UserID identifies the acting principal; empty for anonymous events.
	UserID string `json:"userId,omitempty"`

	// UserEmail is a denormalized actor label, kept for historical
	// readability even if the user record is later removed.
	UserEmail string `json:"userEmail,omitempty"`

	// IPAddress and UserAgent record request provenance.
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	// Action is a short uppercase verb/tag (CREATE, LOGIN_FAILED, API_READ, ...).
	Action string `json:"action"`

	// Resource is the logical subject of the action (users, appointments, ...).
	Resource string `json:"resource"`

	// ResourceID identifies the specific instance acted upon, when known.
	ResourceID string `json:"resourceId,omitempty"`

	// OldValues and NewValues hold before/after snapshots for mutations.
	// For reads, NewValues typically carries request metadata instead.
	OldValues json.RawMessage `json:"oldValues,omitempty"`
	NewValues json.RawMessage `json:"newValues,omitempty"`

	// CreatedAt is the server-assigned write timestamp, the record's only
	// notion of ordering.
	CreatedAt time.Time `json:"createdAt"`
}

// Filter selects entries. All set fields are combined conjunctively.
type Filter struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	IPAddress  string

	// Start and End bound CreatedAt inclusively.
	Start *time.Time
	End   *time.Time

	// Limit and Offset page through results; Limit <= 0 means no limit.
	Limit  int
	Offset int
}

// GroupField names a column entries can be grouped by.
type GroupField string

const (
	GroupByAction   GroupField = "action"
	GroupByResource GroupField = "resource"
	GroupByUser     GroupField = "user_id"
)

// BucketCount is one group-by bucket, ordered by descending count.
type BucketCount struct {
	Key   string
	Count int64
}

// Store persists and queries audit entries. It owns no audit semantics;
// the Service is the only caller.
type Store interface {
	// Insert persists one entry.
	Insert(ctx context.Context, entry *Entry) error

	// Find returns entries matching the filter, newest-first.
	Find(ctx context.Context, filter Filter) ([]Entry, error)

	// Count returns the number of entries matching the filter,
	// ignoring Limit and Offset.
	Count(ctx context.Context, filter Filter) (int64, error)

	// GroupCount returns per-value counts for the given field over the
	// filtered entries, descending by count. Empty values are excluded
	// when grouping by user.
	GroupCount(ctx context.Context, filter Filter, field GroupField) ([]BucketCount, error)

	// DeleteBefore removes entries with CreatedAt before the cutoff and
	// returns the number removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRef is the denormalized view of an acting user attached to reads.
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UserDirectory resolves a user id to display information. Resolution is
// best-effort: a missing user yields (nil, nil) and must never fail a read.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (*UserRef, error)
}

// EnrichedEntry is an Entry plus the best-effort resolved acting user.
type EnrichedEntry struct {
	Entry
	User *UserRef `json:"user,omitempty"`
}

// Pagination describes one page of a filtered result set.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// LogPage is the paginated log envelope returned by the read path.
type LogPage struct {
	Logs       []EnrichedEntry `json:"logs"`
	Pagination Pagination      `json:"pagination"`
}

// RecentActivity is the bounded recent-window envelope.
type RecentActivity struct {
	Hours int             `json:"hours"`
	Since time.Time       `json:"since"`
	Count int             `json:"count"`
	Logs  []EnrichedEntry `json:"logs"`
}

// ActionStat is one action bucket in the statistics envelope.
type ActionStat struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// ResourceStat is one resource bucket in the statistics envelope.
type ResourceStat struct {
	Resource string `json:"resource"`
	Count    int64  `json:"count"`
}

// UserStat is one actor bucket in the statistics envelope. User is nil when
// the actor has no resolvable user record.
type UserStat struct {
	UserID string   `json:"userId"`
	Count  int64    `json:"count"`
	User   *UserRef `json:"user,omitempty"`
}

// Statistics aggregates the trail over a date-bounded window.
type Statistics struct {
	TotalLogs     int64          `json:"totalLogs"`
	ActionStats   []ActionStat   `json:"actionStats"`
	ResourceStats []ResourceStat `json:"resourceStats"`
	UserStats     []UserStat     `json:"userStats"`
}

// ExportEnvelope is the JSON export payload.
type ExportEnvelope struct {
	Logs       []EnrichedEntry `json:"logs"`
	Pagination Pagination      `json:"pagination"`
	ExportedAt time.Time       `json:"exportedAt"`
}
