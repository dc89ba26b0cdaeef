package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/liqguard/liquidator/internal/domain"
)

// BorrowerSnapshotArchiveStore is the narrow read/prune surface the archiver
// needs from the snapshot store: query the cutoff batch, then delete it once
// the upload is confirmed. The Postgres implementation satisfies this
// implicitly; it is not part of domain.BorrowerSnapshotStore because deletion
// is an archival concern, not a live-store one.
type BorrowerSnapshotArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.BorrowerSnapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Audit-log rows are never deleted from Postgres after archival -- the live
// table doubles as the operator's recent-history view, so only the
// snapshot table (which exists purely for cold storage) is pruned once its
// batch is confirmed uploaded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	audit     domain.AuditStore
	snapshots BorrowerSnapshotArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, snapshots BorrowerSnapshotArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, audit: audit, snapshots: snapshots}
}

// ArchiveAuditLog queries every audit entry older than before, serializes
// them to JSONL, and uploads the file to S3 at archive/audit_log/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before, Limit: 100000})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log marshal: %w", err)
	}

	path := archivePath("audit_log", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit log upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit_log", map[string]any{
		"path": path, "count": count, "before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log audit entry: %w", err)
	}
	return count, nil
}

// ArchiveBorrowerSnapshots queries every borrower snapshot older than
// before, uploads them to S3 at archive/borrower_snapshots/YYYY-MM.jsonl,
// and prunes them from the hot table once the upload succeeds.
func (a *ArchiveImpl) ArchiveBorrowerSnapshots(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.snapshots.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive borrower snapshots query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive borrower snapshots marshal: %w", err)
	}

	path := archivePath("borrower_snapshots", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive borrower snapshots upload: %w", err)
	}

	count := int64(len(snaps))
	deleted, err := a.snapshots.DeleteBefore(ctx, before)
	if err != nil {
		return count, fmt.Errorf("s3blob: prune archived borrower snapshots: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.borrower_snapshots", map[string]any{
		"path": path, "count": count, "pruned": deleted, "before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive borrower snapshots audit entry: %w", err)
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
