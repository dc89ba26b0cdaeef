package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time-range filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AuditEntry is a single append-only audit log row: a skip/abort/success
// decision or lifecycle event, with a free-form JSON detail blob.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. Writes are best-effort from
// the caller's point of view: audit emission must never block event
// processing.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BorrowerSnapshotStore persists point-in-time borrower snapshots for cold
// storage archival, distinct from the live in-memory registry.
type BorrowerSnapshotStore interface {
	InsertBatch(ctx context.Context, snapshots []BorrowerSnapshot) error
	ListBefore(ctx context.Context, before time.Time) ([]BorrowerSnapshot, error)
}

// BorrowerSnapshot is an archival-oriented point-in-time projection of a
// Borrower, independent of the live registry record. The block loop records
// one for every tracked borrower on its periodic stats cadence.
type BorrowerSnapshot struct {
	Address     string
	State       BorrowerState
	PredictedHF float64
	OracleHF    float64
	RecordedAt  time.Time
}
