package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WagerOutcome is the resolved result of a single selection or round.
type WagerOutcome struct {
	Selected        string          `json:"selected"`
	ProbabilityUsed float64         `json:"probability"`
	Multiplier      decimal.Decimal `json:"multiplier"`
	PayoutDelta     Money           `json:"payout_delta"`
	Detail          map[string]any  `json:"detail,omitempty"`
}

// MinesState is the lifecycle of a mines round.
type MinesState string

const (
	MinesActive    MinesState = "active"
	MinesLost      MinesState = "lost"
	MinesCashedOut MinesState = "cashed_out"
)

// MinesRound is a persisted, multi-step mines game.
type MinesRound struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Bet           Money      `json:"bet"`
	Cells         int        `json:"cells"`
	Mines         int        `json:"mines"`
	MinePositions []int      `json:"-"`
	Revealed      []int      `json:"revealed"`
	State         MinesState `json:"state"`
	Payout        Money      `json:"payout"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsMine reports whether cell hides a mine.
func (r MinesRound) IsMine(cell int) bool {
	for _, p := range r.MinePositions {
		if p == cell {
			return true
		}
	}
	return false
}

// IsRevealed reports whether cell was already uncovered.
func (r MinesRound) IsRevealed(cell int) bool {
	for _, p := range r.Revealed {
		if p == cell {
			return true
		}
	}
	return false
}
