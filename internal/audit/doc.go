// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

/*
Package audit owns the audit trail semantics of Carelog: the append-only
entry model, the best-effort write path, the filtered/paginated read path,
statistics aggregation, CSV/JSON export, and retention deletion.

# Write path

Record is the only way entries are created. It validates the entry shape,
stamps ID and CreatedAt, and hands the entry to a buffered async writer.
Record never returns an error and never panics: a validation failure, a full
buffer, or a store outage costs at most one audit entry, never the business
operation that triggered it. The async writer persists through a circuit
breaker so a down store is not hammered with doomed writes.

	svc := audit.NewService(store, directory, nil)
	defer svc.Close()

	svc.Record(&audit.Entry{
	    Action:   audit.ActionUpdate,
	    Resource: "appointments",
	    UserID:   actorID,
	})

# Read path

Logs, UserHistory, ResourceHistory, RecentActivity and Statistics run
synchronously against the store. Entries are presented newest-first and
enriched with a best-effort user lookup; a deleted user never fails a read.

# Lifecycle

Entries are immutable once written. The only destructive operation is
DeleteOldLogs, the retention primitive, which removes entries older than a
cutoff age and is driven by the supervised janitor, not by requests.
*/
package audit
