package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/store/memory"
)

// memBucket is an in-memory BlobWriter and BlobReader.
type memBucket struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failPut   error
	puts      int
	multipart int
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}}
}

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPut != nil {
		return b.failPut
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	b.mu.Lock()
	b.multipart++
	b.mu.Unlock()
	return b.Put(ctx, path, data, jsonlContentType)
}

func (b *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for p, raw := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(raw))})
		}
	}
	return out, nil
}

func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func seedQuotes(t *testing.T, store *memory.Store, at time.Time, n int) {
	t.Helper()
	quotes := make([]domain.PriceQuote, n)
	for i := range quotes {
		quotes[i] = domain.PriceQuote{
			ItemKey:    "AK-47 | Redline",
			Source:     "skinport",
			RawPrice:   domain.Money(1000 + i),
			Currency:   "USD",
			ObservedAt: at.Add(time.Duration(i) * time.Minute),
		}
	}
	require.NoError(t, store.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Quotes().Append(ctx, quotes)
	}))
}

func remainingQuotes(t *testing.T, store *memory.Store) []domain.PriceQuote {
	t.Helper()
	var out []domain.PriceQuote
	require.NoError(t, store.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Quotes().ListBefore(ctx, time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC), 0)
		return err
	}))
	return out
}

func countLines(t *testing.T, raw []byte) int {
	t.Helper()
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var q domain.PriceQuote
		require.NoError(t, json.Unmarshal(sc.Bytes(), &q))
		n++
	}
	return n
}

func TestArchiveQuotesMovesAgedBatches(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	old := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedQuotes(t, store, old, 5)
	seedQuotes(t, store, cutoff.Add(time.Hour), 2)

	bucket := newMemBucket()
	audit := &memory.AuditLog{}
	a := NewQuoteArchiver(store, bucket, bucket, audit, 2)

	n, err := a.ArchiveQuotes(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.Len(t, remainingQuotes(t, store), 2)

	archives, err := a.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, archives, 3)

	lines := 0
	for _, info := range archives {
		require.True(t, strings.HasPrefix(info.Path, "archive/quotes/2026-05/"), info.Path)
		lines += countLines(t, bucket.objects[info.Path])
	}
	require.Equal(t, 5, lines)
	require.Equal(t, []string{"archive.quotes", "archive.quotes", "archive.quotes"}, audit.Events())
}

func TestArchiveQuotesNothingToDo(t *testing.T) {
	store := memory.New()
	bucket := newMemBucket()
	audit := &memory.AuditLog{}
	a := NewQuoteArchiver(store, bucket, bucket, audit, 0)
	require.Equal(t, defaultArchiveBatch, a.batch)

	n, err := a.ArchiveQuotes(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, audit.Events())
}

func TestArchiveQuotesKeepsRowsWhenUploadFails(t *testing.T) {
	store := memory.New()
	old := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	seedQuotes(t, store, old, 3)

	bucket := newMemBucket()
	bucket.failPut = errors.New("bucket unreachable")
	a := NewQuoteArchiver(store, bucket, bucket, &memory.AuditLog{}, 10)

	_, err := a.ArchiveQuotes(context.Background(), old.Add(24*time.Hour))
	require.ErrorContains(t, err, "bucket unreachable")
	require.Len(t, remainingQuotes(t, store), 3)
}

func TestArchiveQuotesSkipsExistingObject(t *testing.T) {
	store := memory.New()
	old := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	cutoff := old.Add(24 * time.Hour)
	seedQuotes(t, store, old, 2)

	quotes := remainingQuotes(t, store)
	bucket := newMemBucket()
	bucket.objects[archivePath(cutoff, quotes[0].ID, quotes[1].ID)] = []byte("{}\n")

	a := NewQuoteArchiver(store, bucket, bucket, &memory.AuditLog{}, 10)
	n, err := a.ArchiveQuotes(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	require.Zero(t, bucket.puts)
}

func TestArchivePath(t *testing.T) {
	got := archivePath(time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC), 1, 5000)
	require.Equal(t, "archive/quotes/2026-05/000000000001-000000005000.jsonl", got)
}
