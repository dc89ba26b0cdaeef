package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liqguard/liquidator/internal/domain"
)

// BorrowerSnapshotStore implements domain.BorrowerSnapshotStore using
// PostgreSQL. Snapshots are point-in-time projections that the block loop
// writes periodically for every tracked borrower, distinct from the live
// registry.
type BorrowerSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewBorrowerSnapshotStore creates a new BorrowerSnapshotStore backed by the
// given connection pool.
func NewBorrowerSnapshotStore(pool *pgxpool.Pool) *BorrowerSnapshotStore {
	return &BorrowerSnapshotStore{pool: pool}
}

// InsertBatch writes every snapshot in a single round trip. Best-effort:
// callers on the hot path must not block on the outcome.
func (s *BorrowerSnapshotStore) InsertBatch(ctx context.Context, snapshots []domain.BorrowerSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	rows := make([][]any, len(snapshots))
	for i, snap := range snapshots {
		rows[i] = []any{snap.Address, string(snap.State), snap.PredictedHF, snap.OracleHF, snap.RecordedAt}
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"borrower_snapshots"},
		[]string{"address", "state", "predicted_hf", "oracle_hf", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert borrower snapshot batch: %w", err)
	}
	return nil
}

// ListBefore returns every snapshot recorded strictly before the given
// time, oldest first, for the archiver to ship to cold storage.
func (s *BorrowerSnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.BorrowerSnapshot, error) {
	const query = `
		SELECT address, state, predicted_hf, oracle_hf, recorded_at
		FROM borrower_snapshots
		WHERE recorded_at < $1
		ORDER BY recorded_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list borrower snapshots before %s: %w", before, err)
	}
	defer rows.Close()

	var out []domain.BorrowerSnapshot
	for rows.Next() {
		var snap domain.BorrowerSnapshot
		var state string
		if err := rows.Scan(&snap.Address, &state, &snap.PredictedHF, &snap.OracleHF, &snap.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan borrower snapshot: %w", err)
		}
		snap.State = domain.BorrowerState(state)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list borrower snapshots rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes archived snapshots once the archiver has confirmed
// the upload succeeded, keeping the hot table bounded.
func (s *BorrowerSnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM borrower_snapshots WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete borrower snapshots before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
