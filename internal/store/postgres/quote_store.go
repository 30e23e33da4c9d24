package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// QuoteStore implements domain.QuoteRepo over the append-only price_quotes
// table.
type QuoteStore struct {
	db dbtx
}

// NewQuoteStore creates a new QuoteStore.
func NewQuoteStore(db dbtx) *QuoteStore {
	return &QuoteStore{db: db}
}

// Append inserts accepted quotes in one batch.
func (s *QuoteStore) Append(ctx context.Context, quotes []domain.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	const query = `
		INSERT INTO price_quotes (item_key, source, raw_price, currency, observed_at)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(query, q.ItemKey, q.Source, int64(q.RawPrice), q.Currency, q.ObservedAt)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := range quotes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append quote batch item %d: %w", i, err)
		}
	}
	return nil
}

// Window returns accepted prices per item since the cutoff, oldest first.
func (s *QuoteStore) Window(ctx context.Context, itemKeys []string, since time.Time) (map[string][]domain.Money, error) {
	out := make(map[string][]domain.Money, len(itemKeys))
	if len(itemKeys) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT item_key, raw_price FROM price_quotes
		WHERE item_key = ANY($1) AND observed_at >= $2
		ORDER BY observed_at, id`, itemKeys, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: quote window: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var price int64
		if err := rows.Scan(&key, &price); err != nil {
			return nil, fmt.Errorf("postgres: scan quote window: %w", err)
		}
		out[key] = append(out[key], domain.Money(price))
	}
	return out, rows.Err()
}

// ListBefore returns up to limit quotes observed before the cutoff, by id.
func (s *QuoteStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.PriceQuote, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, item_key, source, raw_price, currency, observed_at FROM price_quotes
		WHERE observed_at < $1 ORDER BY id LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list quotes before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var quotes []domain.PriceQuote
	for rows.Next() {
		var q domain.PriceQuote
		var price int64
		if err := rows.Scan(&q.ID, &q.ItemKey, &q.Source, &price, &q.Currency, &q.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan quote: %w", err)
		}
		q.RawPrice = domain.Money(price)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// DeleteThrough removes quotes observed before the cutoff with id <= maxID.
func (s *QuoteStore) DeleteThrough(ctx context.Context, before time.Time, maxID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM price_quotes WHERE observed_at < $1 AND id <= $2`, before, maxID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete quotes: %w", err)
	}
	return tag.RowsAffected(), nil
}
