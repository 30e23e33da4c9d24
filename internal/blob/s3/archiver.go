package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 64 << 20

	defaultArchiveBatch = 5000
)

// QuoteArchiver implements domain.Archiver. Each batch of aged quotes is
// written as one JSONL object and only then deleted from the database, so a
// crash between the two steps leaves the quotes in place and the next run
// finds the object already present.
type QuoteArchiver struct {
	atomic domain.Atomic
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	batch  int
}

// NewQuoteArchiver creates a QuoteArchiver. A non-positive batch uses 5000.
func NewQuoteArchiver(atomic domain.Atomic, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, batch int) *QuoteArchiver {
	if batch <= 0 {
		batch = defaultArchiveBatch
	}
	return &QuoteArchiver{atomic: atomic, writer: writer, reader: reader, audit: audit, batch: batch}
}

// ArchiveQuotes moves every quote observed before the cutoff to the bucket
// and returns how many were removed from the database.
func (a *QuoteArchiver) ArchiveQuotes(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		var quotes []domain.PriceQuote
		err := a.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
			var err error
			quotes, err = tx.Quotes().ListBefore(ctx, before, a.batch)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("s3blob: archive quotes query: %w", err)
		}
		if len(quotes) == 0 {
			return total, nil
		}

		path := archivePath(before, quotes[0].ID, quotes[len(quotes)-1].ID)
		if err := a.upload(ctx, path, quotes); err != nil {
			return total, err
		}

		maxID := quotes[len(quotes)-1].ID
		var deleted int64
		err = a.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
			var err error
			deleted, err = tx.Quotes().DeleteThrough(ctx, before, maxID)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("s3blob: archive quotes delete: %w", err)
		}
		total += deleted

		if err := a.audit.Log(ctx, "archive.quotes", map[string]any{
			"path":   path,
			"count":  deleted,
			"max_id": maxID,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive quotes audit log: %w", err)
		}

		if len(quotes) < a.batch {
			return total, nil
		}
	}
}

func (a *QuoteArchiver) upload(ctx context.Context, path string, quotes []domain.PriceQuote) error {
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive quotes check: %w", err)
	}
	if exists {
		return nil
	}

	buf, err := marshalJSONL(quotes)
	if err != nil {
		return fmt.Errorf("s3blob: archive quotes marshal: %w", err)
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive quotes upload: %w", err)
	}
	return nil
}

// Archives lists the stored quote archive objects.
func (a *QuoteArchiver) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, "archive/quotes/")
}

// archivePath partitions archives by the cutoff month and names each object
// after the id range it holds.
//
//	archive/quotes/2026-05/000000000001-000000005000.jsonl
func archivePath(before time.Time, firstID, lastID int64) string {
	return fmt.Sprintf("archive/quotes/%s/%012d-%012d.jsonl", before.Format("2006-01"), firstID, lastID)
}

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
