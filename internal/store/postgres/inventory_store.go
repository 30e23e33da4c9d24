package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// InventoryStore implements domain.InventoryRepo over user_inventory.
type InventoryStore struct {
	db dbtx
}

// NewInventoryStore creates a new InventoryStore.
func NewInventoryStore(db dbtx) *InventoryStore {
	return &InventoryStore{db: db}
}

const inventoryColumns = `id, user_id, item_key, won_value, source, state, withdraw_state,
	COALESCE(stock_unit_id, ''), created_at, updated_at`

func scanInventoryItem(row pgx.Row) (domain.InventoryItem, error) {
	var it domain.InventoryItem
	var won int64
	var state, withdraw string
	err := row.Scan(&it.ID, &it.UserID, &it.ItemKey, &won, &it.Source, &state, &withdraw,
		&it.StockUnitID, &it.CreatedAt, &it.UpdatedAt)
	it.WonValue = domain.Money(won)
	it.State = domain.InventoryState(state)
	it.WithdrawState = domain.WithdrawState(withdraw)
	return it, err
}

// Create inserts a won item.
func (s *InventoryStore) Create(ctx context.Context, it domain.InventoryItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_inventory (id, user_id, item_key, won_value, source, state, withdraw_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		it.ID, it.UserID, it.ItemKey, int64(it.WonValue), it.Source,
		string(it.State), string(it.WithdrawState), it.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create inventory item %s: %w", it.ID, err)
	}
	return nil
}

// GetForUpdate loads and row-locks an inventory item.
func (s *InventoryStore) GetForUpdate(ctx context.Context, id string) (domain.InventoryItem, error) {
	it, err := scanInventoryItem(s.db.QueryRow(ctx,
		`SELECT `+inventoryColumns+` FROM user_inventory WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InventoryItem{}, fmt.Errorf("inventory item %s: %w", id, domain.ErrNotFound)
		}
		return domain.InventoryItem{}, fmt.Errorf("postgres: lock inventory item %s: %w", id, err)
	}
	return it, nil
}

// Update writes the mutable state of an inventory item.
func (s *InventoryStore) Update(ctx context.Context, it domain.InventoryItem) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE user_inventory
		SET state = $2, withdraw_state = $3, stock_unit_id = NULLIF($4, ''), updated_at = $5
		WHERE id = $1`,
		it.ID, string(it.State), string(it.WithdrawState), it.StockUnitID, it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update inventory item %s: %w", it.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("inventory item %s: %w", it.ID, domain.ErrNotFound)
	}
	return nil
}

// ListByUser returns a user's items, newest first.
func (s *InventoryStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.InventoryItem, error) {
	query, args := listClause(`SELECT `+inventoryColumns+` FROM user_inventory WHERE user_id = $1`,
		[]any{userID}, opts, "created_at", "created_at DESC, id")
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list inventory %s: %w", userID, err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		it, err := scanInventoryItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan inventory item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
