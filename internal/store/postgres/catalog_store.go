package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// CatalogStore implements domain.CatalogRepo.
type CatalogStore struct {
	db dbtx
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(db dbtx) *CatalogStore {
	return &CatalogStore{db: db}
}

const catalogColumns = `item_key, name, image, valuation, checked_at, updated_at`

func scanCatalogItem(row pgx.Row) (domain.CatalogItem, error) {
	var it domain.CatalogItem
	var valuation int64
	err := row.Scan(&it.ItemKey, &it.Name, &it.Image, &valuation, &it.CheckedAt, &it.UpdatedAt)
	it.Valuation = domain.Money(valuation)
	return it, err
}

// Get returns the current valuation of itemKey.
func (s *CatalogStore) Get(ctx context.Context, itemKey string) (domain.CatalogItem, error) {
	row := s.db.QueryRow(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE item_key = $1`, itemKey)
	it, err := scanCatalogItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CatalogItem{}, fmt.Errorf("catalog item %s: %w", itemKey, domain.ErrNotFound)
		}
		return domain.CatalogItem{}, fmt.Errorf("postgres: get catalog item %s: %w", itemKey, err)
	}
	return it, nil
}

// GetMany returns the known items among itemKeys. Unknown keys are absent
// from the map.
func (s *CatalogStore) GetMany(ctx context.Context, itemKeys []string) (map[string]domain.CatalogItem, error) {
	out := make(map[string]domain.CatalogItem, len(itemKeys))
	if len(itemKeys) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE item_key = ANY($1)`, itemKeys)
	if err != nil {
		return nil, fmt.Errorf("postgres: get catalog items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan catalog item: %w", err)
		}
		out[it.ItemKey] = it
	}
	return out, rows.Err()
}

// Upsert writes the valuation and keeps existing display metadata when the
// new one is empty.
func (s *CatalogStore) Upsert(ctx context.Context, it domain.CatalogItem) error {
	const query = `
		INSERT INTO catalog_items (item_key, name, image, valuation, checked_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (item_key) DO UPDATE SET
			name       = COALESCE(NULLIF(EXCLUDED.name, ''), catalog_items.name),
			image      = COALESCE(NULLIF(EXCLUDED.image, ''), catalog_items.image),
			valuation  = EXCLUDED.valuation,
			checked_at = EXCLUDED.checked_at,
			updated_at = EXCLUDED.updated_at`
	at := it.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := s.db.Exec(ctx, query, it.ItemKey, it.Name, it.Image, int64(it.Valuation), at); err != nil {
		return fmt.Errorf("postgres: upsert catalog item %s: %w", it.ItemKey, err)
	}
	return nil
}

// Touch refreshes checked_at for the given items.
func (s *CatalogStore) Touch(ctx context.Context, itemKeys []string, at time.Time) error {
	if len(itemKeys) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `UPDATE catalog_items SET checked_at = $2 WHERE item_key = ANY($1)`, itemKeys, at); err != nil {
		return fmt.Errorf("postgres: touch catalog items: %w", err)
	}
	return nil
}

// List returns catalog items ordered by key.
func (s *CatalogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.CatalogItem, error) {
	query, args := listClause(`SELECT `+catalogColumns+` FROM catalog_items WHERE 1=1`, nil, opts, "updated_at", "item_key")
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list catalog items: %w", err)
	}
	defer rows.Close()

	var items []domain.CatalogItem
	for rows.Next() {
		it, err := scanCatalogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan catalog item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
