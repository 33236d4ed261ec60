// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert persists one entry.
func (m *MemoryStore) Insert(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

// Find returns entries matching the filter, newest-first.
func (m *MemoryStore) Find(_ context.Context, filter Filter) ([]Entry, error) {
	m.mu.RLock()
	matched := m.match(filter)
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Entry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of matching entries, ignoring Limit and Offset.
func (m *MemoryStore) Count(_ context.Context, filter Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.match(filter))), nil
}

// GroupCount returns per-value counts for the field, descending by count.
func (m *MemoryStore) GroupCount(_ context.Context, filter Filter, field GroupField) ([]BucketCount, error) {
	m.mu.RLock()
	matched := m.match(filter)
	m.mu.RUnlock()

	counts := make(map[string]int64)
	for i := range matched {
		var key string
		switch field {
		case GroupByAction:
			key = matched[i].Action
		case GroupByResource:
			key = matched[i].Resource
		case GroupByUser:
			key = matched[i].UserID
		default:
			return nil, errUnknownGroupField(field)
		}
		if field == GroupByUser && key == "" {
			continue
		}
		counts[key]++
	}

	buckets := make([]BucketCount, 0, len(counts))
	for key, count := range counts {
		buckets = append(buckets, BucketCount{Key: key, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Key < buckets[j].Key
	})
	return buckets, nil
}

// DeleteBefore removes entries older than the cutoff.
func (m *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	var deleted int64
	for i := range m.entries {
		if m.entries[i].CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, m.entries[i])
	}
	m.entries = kept
	return deleted, nil
}

// match returns copies of entries matching the filter, caller holds the lock.
func (m *MemoryStore) match(filter Filter) []Entry {
	matched := make([]Entry, 0, len(m.entries))
	for i := range m.entries {
		e := &m.entries[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Resource != "" && e.Resource != filter.Resource {
			continue
		}
		if filter.ResourceID != "" && e.ResourceID != filter.ResourceID {
			continue
		}
		if filter.IPAddress != "" && e.IPAddress != filter.IPAddress {
			continue
		}
		if filter.Start != nil && e.CreatedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && e.CreatedAt.After(*filter.End) {
			continue
		}
		matched = append(matched, *e)
	}
	return matched
}
