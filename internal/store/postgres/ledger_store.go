package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// LedgerStore implements domain.LedgerRepo over ledger_entries. Rows are
// never updated or deleted.
type LedgerStore struct {
	db dbtx
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db dbtx) *LedgerStore {
	return &LedgerStore{db: db}
}

const ledgerColumns = `id, user_id, type, amount_delta, balance_before, balance_after, meta, created_at`

func scanLedgerEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var typ string
	var delta, before, after int64
	var meta []byte
	if err := row.Scan(&e.ID, &e.UserID, &typ, &delta, &before, &after, &meta, &e.CreatedAt); err != nil {
		return e, err
	}
	e.Type = domain.LedgerType(typ)
	e.AmountDelta = domain.Money(delta)
	e.BalanceBefore = domain.Money(before)
	e.BalanceAfter = domain.Money(after)
	if meta != nil {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return e, fmt.Errorf("unmarshal ledger meta: %w", err)
		}
	}
	return e, nil
}

// Append inserts entry and returns it with its id and timestamp.
func (s *LedgerStore) Append(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	var meta []byte
	if len(e.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(e.Meta); err != nil {
			return domain.LedgerEntry{}, fmt.Errorf("postgres: marshal ledger meta: %w", err)
		}
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, type, amount_delta, balance_before, balance_after, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		e.UserID, string(e.Type), int64(e.AmountDelta), int64(e.BalanceBefore), int64(e.BalanceAfter), meta, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("postgres: append ledger entry for %s: %w", e.UserID, err)
	}
	return e, nil
}

// ListByUser returns a page of a user's entries, newest first.
func (s *LedgerStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query, args := listClause(`SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id = $1`,
		[]any{userID}, opts, "created_at", "id DESC")
	return s.query(ctx, query, args...)
}

// Chain returns all entries of a user in insertion order.
func (s *LedgerStore) Chain(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	return s.query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE user_id = $1 ORDER BY id`, userID)
}

func (s *LedgerStore) query(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
