package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// HistoryStore implements domain.HistoryRepo.
type HistoryStore struct {
	db dbtx
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(db dbtx) *HistoryStore {
	return &HistoryStore{db: db}
}

func scanHistory(row pgx.Row) (domain.ValuationHistoryEntry, error) {
	var e domain.ValuationHistoryEntry
	var v int64
	err := row.Scan(&e.ID, &e.ItemKey, &v, &e.RecordedAt)
	e.Valuation = domain.Money(v)
	return e, err
}

// Last returns the newest history entry of itemKey.
func (s *HistoryStore) Last(ctx context.Context, itemKey string) (domain.ValuationHistoryEntry, error) {
	e, err := scanHistory(s.db.QueryRow(ctx, `
		SELECT id, item_key, valuation, recorded_at FROM valuation_history
		WHERE item_key = $1 ORDER BY id DESC LIMIT 1`, itemKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ValuationHistoryEntry{}, domain.ErrNotFound
		}
		return domain.ValuationHistoryEntry{}, fmt.Errorf("postgres: last history %s: %w", itemKey, err)
	}
	return e, nil
}

// Append inserts one history entry.
func (s *HistoryStore) Append(ctx context.Context, e domain.ValuationHistoryEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO valuation_history (item_key, valuation, recorded_at) VALUES ($1, $2, $3)`,
		e.ItemKey, int64(e.Valuation), e.RecordedAt)
	if err != nil {
		return fmt.Errorf("postgres: append history %s: %w", e.ItemKey, err)
	}
	return nil
}

// List returns history of itemKey, newest first.
func (s *HistoryStore) List(ctx context.Context, itemKey string, opts domain.ListOpts) ([]domain.ValuationHistoryEntry, error) {
	query, args := listClause(
		`SELECT id, item_key, valuation, recorded_at FROM valuation_history WHERE item_key = $1`,
		[]any{itemKey}, opts, "recorded_at", "id DESC")
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history %s: %w", itemKey, err)
	}
	defer rows.Close()

	var entries []domain.ValuationHistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
