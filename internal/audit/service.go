// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/carelog/carelog/internal/logging"
	"github.com/carelog/carelog/internal/metrics"
	"github.com/carelog/carelog/internal/validation"
)

// Config holds configuration for the audit service.
type Config struct {
	// Enabled controls whether new entries are recorded at all.
	Enabled bool `json:"enabled"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `json:"buffer_size"`

	// StoreTimeout bounds each store write.
	StoreTimeout time.Duration `json:"store_timeout"`

	// DefaultPageSize and MaxPageSize govern the general log listing.
	DefaultPageSize int `json:"default_page_size"`
	MaxPageSize     int `json:"max_page_size"`

	// HistoryPageSize is the default page size for per-user and
	// per-resource history views.
	HistoryPageSize int `json:"history_page_size"`

	// ExportLimit caps the number of entries in one export.
	ExportLimit int `json:"export_limit"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		BufferSize:      1000,
		StoreTimeout:    5 * time.Second,
		DefaultPageSize: 20,
		MaxPageSize:     100,
		HistoryPageSize: 50,
		ExportLimit:     10000,
	}
}

// Recent-activity window bounds.
const (
	recentDefaultHours = 24
	recentMaxHours     = 168
	recentDefaultLimit = 100
	recentMaxLimit     = 500
)

const topActorCount = 10

// Service is the audit trail service: a fire-and-forget write path over a
// buffered async writer, and a synchronous read path.
type Service struct {
	config    *Config
	store     Store
	directory UserDirectory
	breaker   *gobreaker.CircuitBreaker[struct{}]

	entryChan chan *Entry
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewService creates the audit service and starts its async writer. The
// directory may be nil, in which case reads come back unenriched.
func NewService(store Store, directory UserDirectory, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if directory == nil {
		directory = NopDirectory{}
	}

	s := &Service{
		config:    config,
		store:     store,
		directory: directory,
		entryChan: make(chan *Entry, config.BufferSize),
		stopChan:  make(chan struct{}),
	}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Audit store circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	s.wg.Add(1)
	go s.asyncWriter()

	return s
}

// entryShape is the validated subset of an Entry. The middleware's "unknown"
// IP placeholder is treated as absent, not as a malformed address.
type entryShape struct {
	Action    string `validate:"required"`
	Resource  string `validate:"required"`
	UserID    string `validate:"omitempty,uuid"`
	UserEmail string `validate:"omitempty,email"`
	IPAddress string `validate:"omitempty,ip"`
}

// Record accepts one audit entry. It never returns an error and never
// blocks: a malformed entry or a full buffer drops the entry with a warning,
// nothing more. ID and CreatedAt are stamped here if unset.
func (s *Service) Record(entry *Entry) {
	if !s.config.Enabled || entry == nil {
		return
	}

	shape := entryShape{
		Action:    entry.Action,
		Resource:  entry.Resource,
		UserID:    entry.UserID,
		UserEmail: entry.UserEmail,
		IPAddress: entry.IPAddress,
	}
	if shape.IPAddress == "unknown" {
		shape.IPAddress = ""
	}
	if err := validation.ValidateStruct(shape); err != nil {
		metrics.AuditEntriesDropped.WithLabelValues("validation").Inc()
		logging.Warn().Err(err).
			Str("action", entry.Action).
			Str("resource", entry.Resource).
			Msg("Dropping malformed audit entry")
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case s.entryChan <- entry:
	default:
		metrics.AuditEntriesDropped.WithLabelValues("buffer_full").Inc()
		logging.Warn().
			Str("entry_id", entry.ID).
			Str("action", entry.Action).
			Msg("Audit buffer full, dropping entry")
	}
}

// asyncWriter drains the buffer into the store.
func (s *Service) asyncWriter() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			// Drain remaining entries before exiting.
			for {
				select {
				case entry := <-s.entryChan:
					s.writeEntry(entry)
				default:
					return
				}
			}
		case entry := <-s.entryChan:
			s.writeEntry(entry)
		}
	}
}

// writeEntry persists one entry through the circuit breaker.
func (s *Service) writeEntry(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.store.Insert(ctx, entry)
	})
	if err != nil {
		reason := "store_error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = "breaker_open"
		} else {
			metrics.AuditWriteFailures.Inc()
		}
		metrics.AuditEntriesDropped.WithLabelValues(reason).Inc()
		logging.Error().Err(err).
			Str("entry_id", entry.ID).
			Str("action", entry.Action).
			Str("resource", entry.Resource).
			Msg("Failed to persist audit entry")
		return
	}

	metrics.AuditEntriesRecorded.WithLabelValues(entry.Action, entry.Resource).Inc()
}

// Close stops the async writer after draining buffered entries.
func (s *Service) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	return nil
}

// LogsQuery selects and pages the general log listing.
type LogsQuery struct {
	Filter Filter
	Page   int
	Limit  int
}

// Logs returns one page of the filtered trail, newest-first. Page defaults
// to 1; limit is clamped to [1, MaxPageSize] with DefaultPageSize when unset.
func (s *Service) Logs(ctx context.Context, query LogsQuery) (*LogPage, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}

	filter := query.Filter
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	entries, err := s.store.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	return &LogPage{
		Logs: s.enrich(ctx, entries),
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages(total, limit),
		},
	}, nil
}

// UserHistory returns the trail of one acting user.
func (s *Service) UserHistory(ctx context.Context, userID string, page, limit int) (*LogPage, error) {
	if limit < 1 {
		limit = s.config.HistoryPageSize
	}
	return s.Logs(ctx, LogsQuery{
		Filter: Filter{UserID: userID},
		Page:   page,
		Limit:  limit,
	})
}

// ResourceHistory returns the trail of one resource type, optionally scoped
// to a single instance.
func (s *Service) ResourceHistory(ctx context.Context, resource, resourceID string, page, limit int) (*LogPage, error) {
	if limit < 1 {
		limit = s.config.HistoryPageSize
	}
	return s.Logs(ctx, LogsQuery{
		Filter: Filter{Resource: resource, ResourceID: resourceID},
		Page:   page,
		Limit:  limit,
	})
}

// Recent returns activity from the last N hours. Hours is clamped to
// [1, 168] and limit to [1, 500].
func (s *Service) Recent(ctx context.Context, hours, limit int) (*RecentActivity, error) {
	if hours < 1 {
		hours = recentDefaultHours
	}
	if hours > recentMaxHours {
		hours = recentMaxHours
	}
	if limit < 1 {
		limit = recentDefaultLimit
	}
	if limit > recentMaxLimit {
		limit = recentMaxLimit
	}

	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	entries, err := s.store.Find(ctx, Filter{Start: &since, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent activity: %w", err)
	}

	logs := s.enrich(ctx, entries)
	return &RecentActivity{
		Hours: hours,
		Since: since,
		Count: len(logs),
		Logs:  logs,
	}, nil
}

// Statistics aggregates the trail over an optional date window: total count,
// full action and resource breakdowns, and the top ten actors.
func (s *Service) Statistics(ctx context.Context, start, end *time.Time) (*Statistics, error) {
	filter := Filter{Start: start, End: end}

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	actionBuckets, err := s.store.GroupCount(ctx, filter, GroupByAction)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate actions: %w", err)
	}
	resourceBuckets, err := s.store.GroupCount(ctx, filter, GroupByResource)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate resources: %w", err)
	}
	userBuckets, err := s.store.GroupCount(ctx, filter, GroupByUser)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate actors: %w", err)
	}
	if len(userBuckets) > topActorCount {
		userBuckets = userBuckets[:topActorCount]
	}

	stats := &Statistics{
		TotalLogs:     total,
		ActionStats:   make([]ActionStat, 0, len(actionBuckets)),
		ResourceStats: make([]ResourceStat, 0, len(resourceBuckets)),
		UserStats:     make([]UserStat, 0, len(userBuckets)),
	}
	for _, b := range actionBuckets {
		stats.ActionStats = append(stats.ActionStats, ActionStat{Action: b.Key, Count: b.Count})
	}
	for _, b := range resourceBuckets {
		stats.ResourceStats = append(stats.ResourceStats, ResourceStat{Resource: b.Key, Count: b.Count})
	}
	for _, b := range userBuckets {
		stats.UserStats = append(stats.UserStats, UserStat{
			UserID: b.Key,
			Count:  b.Count,
			User:   s.lookupUser(ctx, b.Key),
		})
	}
	return stats, nil
}

// DeleteOldLogs removes entries older than the given age in days and
// returns the number removed.
func (s *Service) DeleteOldLogs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 1 {
		return 0, fmt.Errorf("retention age must be at least one day, got %d", olderThanDays)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	deleted, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit logs: %w", err)
	}

	metrics.AuditEntriesDeleted.Add(float64(deleted))
	logging.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Audit retention cleanup complete")
	return deleted, nil
}

// enrich attaches best-effort user info to entries, caching lookups within
// one call.
func (s *Service) enrich(ctx context.Context, entries []Entry) []EnrichedEntry {
	enriched := make([]EnrichedEntry, 0, len(entries))
	cache := make(map[string]*UserRef)

	for i := range entries {
		item := EnrichedEntry{Entry: entries[i]}
		if id := entries[i].UserID; id != "" {
			ref, ok := cache[id]
			if !ok {
				ref = s.lookupUser(ctx, id)
				cache[id] = ref
			}
			item.User = ref
		}
		enriched = append(enriched, item)
	}
	return enriched
}

// lookupUser resolves one user id, swallowing directory errors. A broken or
// absent directory never fails a read.
func (s *Service) lookupUser(ctx context.Context, userID string) *UserRef {
	if userID == "" {
		return nil
	}
	ref, err := s.directory.Lookup(ctx, userID)
	if err != nil {
		logging.Debug().Err(err).Str("user_id", userID).Msg("User directory lookup failed")
		return nil
	}
	return ref
}

func totalPages(total int64, limit int) int {
	if limit < 1 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
