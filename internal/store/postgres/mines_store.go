package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// MinesStore implements domain.MinesRepo.
type MinesStore struct {
	db dbtx
}

// NewMinesStore creates a new MinesStore.
func NewMinesStore(db dbtx) *MinesStore {
	return &MinesStore{db: db}
}

// Create inserts a new round.
func (s *MinesStore) Create(ctx context.Context, r domain.MinesRound) error {
	revealed := r.Revealed
	if revealed == nil {
		revealed = []int{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO mines_rounds (id, user_id, bet, cells, mines, mine_positions, revealed, state, payout, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		r.ID, r.UserID, int64(r.Bet), r.Cells, r.Mines, r.MinePositions, revealed,
		string(r.State), int64(r.Payout), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create mines round %s: %w", r.ID, err)
	}
	return nil
}

// GetForUpdate loads and row-locks a round.
func (s *MinesStore) GetForUpdate(ctx context.Context, id string) (domain.MinesRound, error) {
	var r domain.MinesRound
	var bet, payout int64
	var state string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, bet, cells, mines, mine_positions, revealed, state, payout, created_at, updated_at
		FROM mines_rounds WHERE id = $1 FOR UPDATE`, id,
	).Scan(&r.ID, &r.UserID, &bet, &r.Cells, &r.Mines, &r.MinePositions, &r.Revealed,
		&state, &payout, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MinesRound{}, fmt.Errorf("mines round %s: %w", id, domain.ErrNotFound)
		}
		return domain.MinesRound{}, fmt.Errorf("postgres: lock mines round %s: %w", id, err)
	}
	r.Bet = domain.Money(bet)
	r.Payout = domain.Money(payout)
	r.State = domain.MinesState(state)
	return r, nil
}

// Update writes the progress of a round.
func (s *MinesStore) Update(ctx context.Context, r domain.MinesRound) error {
	if r.Revealed == nil {
		r.Revealed = []int{}
	}
	_, err := s.db.Exec(ctx, `
		UPDATE mines_rounds SET revealed = $2, state = $3, payout = $4, updated_at = $5 WHERE id = $1`,
		r.ID, r.Revealed, string(r.State), int64(r.Payout), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update mines round %s: %w", r.ID, err)
	}
	return nil
}
