// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package services

import (
	"context"
	"time"

	"github.com/carelog/carelog/internal/logging"
)

// RetentionDeleter matches the audit service's retention primitive, so the
// janitor does not import the audit package directly.
type RetentionDeleter interface {
	DeleteOldLogs(ctx context.Context, olderThanDays int) (int64, error)
}

// RetentionJanitor runs retention cleanup on a fixed interval. A cleanup
// failure is logged and retried next tick; it never crashes the service, so
// a flaky store does not put the janitor into restart backoff.
type RetentionJanitor struct {
	deleter       RetentionDeleter
	retentionDays int
	interval      time.Duration
	name          string
}

// NewRetentionJanitor creates the janitor.
func NewRetentionJanitor(deleter RetentionDeleter, retentionDays int, interval time.Duration) *RetentionJanitor {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionJanitor{
		deleter:       deleter,
		retentionDays: retentionDays,
		interval:      interval,
		name:          "retention-janitor",
	}
}

// Serve implements suture.Service. One cleanup runs at startup, then one per
// interval, until the context is canceled.
func (j *RetentionJanitor) Serve(ctx context.Context) error {
	j.runOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *RetentionJanitor) runOnce(ctx context.Context) {
	deleted, err := j.deleter.DeleteOldLogs(ctx, j.retentionDays)
	if err != nil {
		logging.Error().Err(err).
			Int("retention_days", j.retentionDays).
			Msg("Retention cleanup failed")
		return
	}
	logging.Debug().
		Int64("deleted", deleted).
		Int("retention_days", j.retentionDays).
		Msg("Retention cleanup run complete")
}

// String implements fmt.Stringer for suture's event log.
func (j *RetentionJanitor) String() string {
	return j.name
}
