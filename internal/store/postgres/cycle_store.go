package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// CycleStore implements domain.CycleRepo.
type CycleStore struct {
	db dbtx
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(db dbtx) *CycleStore {
	return &CycleStore{db: db}
}

// cycleLockKey is the advisory lock key held by a valuation cycle.
const cycleLockKey int64 = 0x63617365_6379636c

// Lock takes a transaction-scoped advisory lock. It is released on commit or
// rollback, so it guards cycles that outlive their Redis lock.
func (s *CycleStore) Lock(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, cycleLockKey); err != nil {
		return fmt.Errorf("postgres: lock price cycle: %w", err)
	}
	return nil
}

// Last returns the most recently completed cycle.
func (s *CycleStore) Last(ctx context.Context) (domain.PriceCycle, error) {
	var c domain.PriceCycle
	err := s.db.QueryRow(ctx, `
		SELECT id, digest, accepted, rejected, items, completed_at
		FROM price_cycles ORDER BY completed_at DESC LIMIT 1`,
	).Scan(&c.ID, &c.Digest, &c.Accepted, &c.Rejected, &c.Items, &c.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceCycle{}, domain.ErrNotFound
		}
		return domain.PriceCycle{}, fmt.Errorf("postgres: last price cycle: %w", err)
	}
	return c, nil
}

// Record inserts a completed cycle.
func (s *CycleStore) Record(ctx context.Context, c domain.PriceCycle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO price_cycles (id, digest, accepted, rejected, items, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Digest, c.Accepted, c.Rejected, c.Items, c.CompletedAt)
	if err != nil {
		return fmt.Errorf("postgres: record price cycle %s: %w", c.ID, err)
	}
	return nil
}
