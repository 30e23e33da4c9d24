// Package outcome resolves wager results: weighted discrete selection for case
// openings and wheel spins, and parametric multipliers for dice, coinflip and
// mines.
package outcome

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// ErrNoWeight is returned when a selection has no positive total weight.
var ErrNoWeight = errors.New("outcome: total weight must be positive")

// PickWeighted draws r in [0, total) and returns the first index whose
// cumulative weight exceeds r, with its probability weight/total. Zero
// weights are never selected.
func PickWeighted(weights []int64, rng Rand) (int, float64, error) {
	var total int64
	for i, w := range weights {
		if w < 0 {
			return 0, 0, fmt.Errorf("outcome: weight %d is negative", i)
		}
		total += w
	}
	if total <= 0 {
		return 0, 0, ErrNoWeight
	}

	r := rng.Int64N(total)
	var cum int64
	for i, w := range weights {
		cum += w
		if cum > r {
			return i, float64(w) / float64(total), nil
		}
	}
	// unreachable while cum == total > r
	return len(weights) - 1, float64(weights[len(weights)-1]) / float64(total), nil
}

// FairMultiplier returns 1/p.
func FairMultiplier(p decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Div(p)
}

// OfferedMultiplier returns (1/p)(1-h).
func OfferedMultiplier(p, houseEdge decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Sub(houseEdge).Div(p)
}

// MinesSurvival returns the probability of uncovering k safe cells in a row on
// a board of cells tiles hiding mines mines, as numerator and denominator:
// prod_{j<k} (cells-mines-j) / prod_{j<k} (cells-j).
func MinesSurvival(cells, mines, k int) (num, den decimal.Decimal, err error) {
	if cells <= 0 || mines <= 0 || mines >= cells {
		return decimal.Zero, decimal.Zero, fmt.Errorf("outcome: invalid board %d cells / %d mines: %w", cells, mines, domain.ErrInvalidBet)
	}
	if k < 0 || k > cells-mines {
		return decimal.Zero, decimal.Zero, fmt.Errorf("outcome: %d reveals out of range: %w", k, domain.ErrInvalidBet)
	}
	num, den = decimal.NewFromInt(1), decimal.NewFromInt(1)
	for j := 0; j < k; j++ {
		num = num.Mul(decimal.NewFromInt(int64(cells - mines - j)))
		den = den.Mul(decimal.NewFromInt(int64(cells - j)))
	}
	return num, den, nil
}

// MinesMultiplier returns (1/survival)(1-h) for k safe reveals.
func MinesMultiplier(cells, mines, k int, houseEdge decimal.Decimal) (decimal.Decimal, error) {
	num, den, err := MinesSurvival(cells, mines, k)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(1).Sub(houseEdge).Mul(den).Div(num), nil
}

// Payout returns bet*multiplier rounded to two decimal places.
func Payout(bet domain.Money, multiplier decimal.Decimal) domain.Money {
	return domain.MoneyFromDecimal(bet.Decimal().Mul(multiplier))
}
