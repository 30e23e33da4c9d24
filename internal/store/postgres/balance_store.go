package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// BalanceStore implements domain.BalanceRepo.
type BalanceStore struct {
	db dbtx
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(db dbtx) *BalanceStore {
	return &BalanceStore{db: db}
}

// LockForUpdate ensures a balance row exists for userID and locks it.
func (s *BalanceStore) LockForUpdate(ctx context.Context, userID string) (domain.Money, error) {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO user_balances (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return 0, fmt.Errorf("postgres: ensure balance %s: %w", userID, err)
	}
	var bal int64
	if err := s.db.QueryRow(ctx,
		`SELECT balance FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID).Scan(&bal); err != nil {
		return 0, fmt.Errorf("postgres: lock balance %s: %w", userID, err)
	}
	return domain.Money(bal), nil
}

// Set writes a new balance for a row locked by LockForUpdate.
func (s *BalanceStore) Set(ctx context.Context, userID string, balance domain.Money, at time.Time) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE user_balances SET balance = $2, updated_at = $3 WHERE user_id = $1`,
		userID, int64(balance), at); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", userID, err)
	}
	return nil
}

// Get returns the balance of userID; users without a row have zero.
func (s *BalanceStore) Get(ctx context.Context, userID string) (domain.UserBalance, error) {
	b := domain.UserBalance{UserID: userID}
	var bal int64
	err := s.db.QueryRow(ctx,
		`SELECT balance, updated_at FROM user_balances WHERE user_id = $1`, userID).Scan(&bal, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, nil
		}
		return domain.UserBalance{}, fmt.Errorf("postgres: get balance %s: %w", userID, err)
	}
	b.Balance = domain.Money(bal)
	return b, nil
}
