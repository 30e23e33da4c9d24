package outcome

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// Params are the player's choices for a single-shot game.
type Params struct {
	// Target is the dice roll-under threshold in percent.
	Target int `json:"target,omitempty"`
	// Side is the coinflip call, "heads" or "tails".
	Side string `json:"side,omitempty"`
}

// Game resolves a single-shot wager. PayoutDelta on the returned outcome is
// the gross amount to credit; zero on a loss.
type Game interface {
	Name() string
	Resolve(bet domain.Money, p Params, rng Rand) (domain.WagerOutcome, error)
}

// Dice is a roll-under game on [0, 100) with 0.01 resolution.
type Dice struct {
	HouseEdge decimal.Decimal
	MinTarget int
	MaxTarget int
}

func (Dice) Name() string { return "dice" }

func (d Dice) Resolve(bet domain.Money, p Params, rng Rand) (domain.WagerOutcome, error) {
	if p.Target < d.MinTarget || p.Target > d.MaxTarget {
		return domain.WagerOutcome{}, fmt.Errorf("dice: target %d outside [%d, %d]: %w", p.Target, d.MinTarget, d.MaxTarget, domain.ErrInvalidBet)
	}
	prob := decimal.NewFromInt(int64(p.Target)).Div(decimal.NewFromInt(100))
	mult := OfferedMultiplier(prob, d.HouseEdge)

	roll := rng.IntN(10_000)
	win := roll < p.Target*100

	out := domain.WagerOutcome{
		Selected:        "lose",
		ProbabilityUsed: prob.InexactFloat64(),
		Multiplier:      mult,
		Detail: map[string]any{
			"roll":   decimal.New(int64(roll), -2).StringFixed(2),
			"target": p.Target,
		},
	}
	if win {
		out.Selected = "win"
		out.PayoutDelta = Payout(bet, mult)
	}
	return out, nil
}

// Coinflip is an even-odds call.
type Coinflip struct {
	HouseEdge decimal.Decimal
}

func (Coinflip) Name() string { return "coinflip" }

func (c Coinflip) Resolve(bet domain.Money, p Params, rng Rand) (domain.WagerOutcome, error) {
	if p.Side != "heads" && p.Side != "tails" {
		return domain.WagerOutcome{}, fmt.Errorf("coinflip: side %q: %w", p.Side, domain.ErrInvalidBet)
	}
	prob := decimal.NewFromFloat(0.5)
	mult := OfferedMultiplier(prob, c.HouseEdge)

	landed := "heads"
	if rng.IntN(2) == 1 {
		landed = "tails"
	}
	out := domain.WagerOutcome{
		Selected:        landed,
		ProbabilityUsed: 0.5,
		Multiplier:      mult,
		Detail:          map[string]any{"call": p.Side, "win": landed == p.Side},
	}
	if landed == p.Side {
		out.PayoutDelta = Payout(bet, mult)
	}
	return out, nil
}

// Segment is one slice of the wheel.
type Segment struct {
	Label      string
	Weight     int64
	Multiplier decimal.Decimal
}

// Wheel pays the multiplier of a weighted segment.
type Wheel struct {
	Segments []Segment
}

func (Wheel) Name() string { return "wheel" }

func (w Wheel) Resolve(bet domain.Money, _ Params, rng Rand) (domain.WagerOutcome, error) {
	weights := make([]int64, len(w.Segments))
	for i, s := range w.Segments {
		weights[i] = s.Weight
	}
	idx, prob, err := PickWeighted(weights, rng)
	if err != nil {
		return domain.WagerOutcome{}, fmt.Errorf("wheel: %w", err)
	}
	seg := w.Segments[idx]
	return domain.WagerOutcome{
		Selected:        seg.Label,
		ProbabilityUsed: prob,
		Multiplier:      seg.Multiplier,
		PayoutDelta:     Payout(bet, seg.Multiplier),
		Detail:          map[string]any{"segment": idx},
	}, nil
}
