package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

// ArchiveImpl implements domain.Archiver by paging completed transactions out
// of the journal, serializing them to JSONL, and uploading the result to S3
// (spec §11's supplemented cold-archival feature: completed_transactions
// older than Config.S3.RetentionDays move to object storage).
//
// Deletion of the archived rows from the journal is intentionally a separate
// explicit step (DeleteCompletedBefore), run only after the archive upload
// has succeeded.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	journal domain.Journal
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, journal domain.Journal, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, journal: journal, audit: audit}
}

// ArchiveCompletedTransactions pages every completed transaction with
// CompletedAt before the cutoff out of the journal, uploads them as a single
// JSONL object per call, and removes the archived rows from the journal.
// It returns the count of transactions archived.
func (a *ArchiveImpl) ArchiveCompletedTransactions(ctx context.Context, before time.Time) (int64, error) {
	const pageSize = 1000

	var all []domain.CompletedTransaction
	offset := 0
	for {
		page, err := a.journal.ListCompleted(ctx, domain.ListOpts{Until: &before, Limit: pageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive query: %w", err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}
	if len(all) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath("completed_transactions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	removed, err := a.journal.DeleteCompletedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive cleanup: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.completed_transactions", map[string]any{
			"path":    path,
			"count":   len(all),
			"removed": removed,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return int64(len(all)), fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}

	return int64(len(all)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/completed_transactions/2025-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
