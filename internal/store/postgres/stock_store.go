package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// StockStore implements domain.StockRepo.
type StockStore struct {
	db dbtx
}

// NewStockStore creates a new StockStore.
func NewStockStore(db dbtx) *StockStore {
	return &StockStore{db: db}
}

const stockColumns = `id, item_key, bot_id, state, COALESCE(withdrawal_id, '')`

func scanStockUnit(row pgx.Row) (domain.StockUnit, error) {
	var u domain.StockUnit
	var state string
	err := row.Scan(&u.ID, &u.ItemKey, &u.BotID, &state, &u.WithdrawalID)
	u.State = domain.StockState(state)
	return u, err
}

// ReserveOne claims a random available unit of itemKey for withdrawalID.
// Units locked by concurrent reservations are skipped, so callers never wait
// on each other; when nothing is left the result is ErrOutOfStock.
func (s *StockStore) ReserveOne(ctx context.Context, itemKey, withdrawalID string) (domain.StockUnit, error) {
	const query = `
		WITH picked AS (
			SELECT id FROM stock_units
			WHERE item_key = $1 AND state = 'available'
			ORDER BY random()
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE stock_units s
		SET state = 'reserved', withdrawal_id = $2, updated_at = NOW()
		FROM picked
		WHERE s.id = picked.id
		RETURNING s.id, s.item_key, s.bot_id, s.state, COALESCE(s.withdrawal_id, '')`

	u, err := scanStockUnit(s.db.QueryRow(ctx, query, itemKey, withdrawalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StockUnit{}, fmt.Errorf("reserve %s: %w", itemKey, domain.ErrOutOfStock)
		}
		return domain.StockUnit{}, fmt.Errorf("postgres: reserve stock %s: %w", itemKey, err)
	}
	return u, nil
}

// Apply locks unit id and moves it through ev. Leaving the reserved state
// for available clears the withdrawal link.
func (s *StockStore) Apply(ctx context.Context, id string, ev domain.StockEvent) (domain.StockUnit, error) {
	u, err := scanStockUnit(s.db.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stock_units WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StockUnit{}, fmt.Errorf("stock unit %s: %w", id, domain.ErrNotFound)
		}
		return domain.StockUnit{}, fmt.Errorf("postgres: lock stock unit %s: %w", id, err)
	}

	next, err := u.State.Next(ev)
	if err != nil {
		return u, err
	}
	u.State = next
	if next == domain.StockAvailable {
		u.WithdrawalID = ""
	}

	_, err = s.db.Exec(ctx, `
		UPDATE stock_units SET state = $2, withdrawal_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1`, id, string(u.State), u.WithdrawalID)
	if err != nil {
		return domain.StockUnit{}, fmt.Errorf("postgres: update stock unit %s: %w", id, err)
	}
	return u, nil
}

// Add inserts new available units.
func (s *StockStore) Add(ctx context.Context, units []domain.StockUnit) error {
	if len(units) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range units {
		batch.Queue(`INSERT INTO stock_units (id, item_key, bot_id, state) VALUES ($1, $2, $3, 'available')`,
			u.ID, u.ItemKey, u.BotID)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for i := range units {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: add stock batch item %d: %w", i, err)
		}
	}
	return nil
}

// CountAvailable returns the number of unreserved units of itemKey.
func (s *StockStore) CountAvailable(ctx context.Context, itemKey string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_units WHERE item_key = $1 AND state = 'available'`, itemKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count stock %s: %w", itemKey, err)
	}
	return n, nil
}
