package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"polyexit/internal/domain"
)

// ClosedPositionStore is the narrow read surface the archiver needs from the
// position store.
type ClosedPositionStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// AuditArchiveStore is the narrow read surface the archiver needs from the
// audit log.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// Archiver exports closed positions and old audit entries to JSONL objects
// in cold storage. It never deletes from the primary store; pruning is a
// separate, explicit step run after an archive is verified.
type Archiver struct {
	writer    domain.BlobWriter
	positions ClosedPositionStore
	audit     domain.AuditStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, positions ClosedPositionStore, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, positions: positions, audit: audit}
}

// ArchivePositions exports positions closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and records the export in the audit log.
// Returns the number of archived records.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	closed, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(closed) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(closed)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	path := archivePath("positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(closed))
	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive positions audit log: %w", err)
	}
	return count, nil
}

// ArchiveAuditLog exports audit entries older than the cutoff to
// archive/audit/YYYY-MM.jsonl. Returns the number of archived records.
func (a *Archiver) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))
	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return count, nil
}

// archivePath partitions archives by the year-month of the cutoff:
//
//	archive/positions/2026-03.jsonl
//	archive/audit/2026-03.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes a slice as one JSON document per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
