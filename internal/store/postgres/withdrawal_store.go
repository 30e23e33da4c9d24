package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// WithdrawalStore implements domain.WithdrawalRepo.
type WithdrawalStore struct {
	db dbtx
}

// NewWithdrawalStore creates a new WithdrawalStore.
func NewWithdrawalStore(db dbtx) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

const withdrawalColumns = `id, inventory_id, user_id, stock_unit_id, status, fee, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (domain.WithdrawalRequest, error) {
	var r domain.WithdrawalRequest
	var status string
	var fee int64
	err := row.Scan(&r.ID, &r.InventoryID, &r.UserID, &r.StockUnitID, &status, &fee, &r.CreatedAt, &r.UpdatedAt)
	r.Status = domain.WithdrawalStatus(status)
	r.Fee = domain.Money(fee)
	return r, err
}

// Create inserts a withdrawal request.
func (s *WithdrawalStore) Create(ctx context.Context, r domain.WithdrawalRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO withdrawal_requests (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.InventoryID, r.UserID, r.StockUnitID, string(r.Status), int64(r.Fee), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create withdrawal %s: %w", r.ID, err)
	}
	return nil
}

// GetPendingByInventory returns the pending request of an inventory item.
func (s *WithdrawalStore) GetPendingByInventory(ctx context.Context, inventoryID string) (domain.WithdrawalRequest, error) {
	r, err := scanWithdrawal(s.db.QueryRow(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE inventory_id = $1 AND status = 'pending'`, inventoryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.WithdrawalRequest{}, fmt.Errorf("pending withdrawal for %s: %w", inventoryID, domain.ErrNotFound)
		}
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: get withdrawal for %s: %w", inventoryID, err)
	}
	return r, nil
}

// UpdateStatus sets the status of request id.
func (s *WithdrawalStore) UpdateStatus(ctx context.Context, id string, status domain.WithdrawalStatus, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE withdrawal_requests SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("postgres: update withdrawal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("withdrawal %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListPendingBefore returns pending requests created before the cutoff,
// oldest first.
func (s *WithdrawalStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.WithdrawalRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending withdrawals: %w", err)
	}
	defer rows.Close()

	var out []domain.WithdrawalRequest
	for rows.Next() {
		r, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
