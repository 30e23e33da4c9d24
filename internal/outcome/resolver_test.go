package outcome

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// fixedRand returns queued draws in order.
type fixedRand struct {
	draws []int64
}

func (f *fixedRand) next() int64 {
	v := f.draws[0]
	f.draws = f.draws[1:]
	return v
}

func (f *fixedRand) Int64N(n int64) int64 { return f.next() % n }
func (f *fixedRand) IntN(n int) int       { return int(f.next() % int64(n)) }
func (f *fixedRand) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func TestPickWeightedCumulative(t *testing.T) {
	weights := []int64{1, 0, 3}
	tests := []struct {
		draw int64
		want int
	}{
		{0, 0},
		{1, 2},
		{3, 2},
	}
	for _, tt := range tests {
		idx, p, err := PickWeighted(weights, &fixedRand{draws: []int64{tt.draw}})
		require.NoError(t, err)
		require.Equal(t, tt.want, idx, "draw %d", tt.draw)
		require.InDelta(t, float64(weights[idx])/4, p, 1e-12)
	}
}

func TestPickWeightedDistribution(t *testing.T) {
	weights := []int64{70, 25, 5}
	counts := make([]int, len(weights))
	rng := NewSeeded(42)
	const n = 100_000
	for i := 0; i < n; i++ {
		idx, _, err := PickWeighted(weights, rng)
		require.NoError(t, err)
		counts[idx]++
	}
	for i, w := range weights {
		got := float64(counts[i]) / n
		require.InDelta(t, float64(w)/100, got, 0.01, "index %d", i)
	}
}

func TestPickWeightedRejectsBadWeights(t *testing.T) {
	_, _, err := PickWeighted([]int64{0, 0}, NewSeeded(1))
	require.ErrorIs(t, err, ErrNoWeight)
	_, _, err = PickWeighted([]int64{1, -1}, NewSeeded(1))
	require.Error(t, err)
}

func TestOfferedMultiplier(t *testing.T) {
	m := OfferedMultiplier(decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.04))
	require.Equal(t, "1.92", m.String())
	require.Equal(t, "2", FairMultiplier(decimal.NewFromFloat(0.5)).String())
}

func TestMinesScenario(t *testing.T) {
	num, den, err := MinesSurvival(25, 3, 2)
	require.NoError(t, err)
	require.Equal(t, "0.77", num.Div(den).String())

	mult, err := MinesMultiplier(25, 3, 2, decimal.NewFromFloat(0.04))
	require.NoError(t, err)
	require.InDelta(t, 1.24675, mult.InexactFloat64(), 1e-5)

	require.Equal(t, domain.Money(12468), Payout(10000, mult))
}

func TestMinesSurvivalBounds(t *testing.T) {
	_, _, err := MinesSurvival(25, 0, 1)
	require.ErrorIs(t, err, domain.ErrInvalidBet)
	_, _, err = MinesSurvival(25, 3, 23)
	require.ErrorIs(t, err, domain.ErrInvalidBet)

	num, den, err := MinesSurvival(25, 3, 0)
	require.NoError(t, err)
	require.True(t, num.Equal(den))
}

func TestDiceResolve(t *testing.T) {
	d := Dice{HouseEdge: decimal.NewFromFloat(0.01), MinTarget: 2, MaxTarget: 98}

	win, err := d.Resolve(10000, Params{Target: 50}, &fixedRand{draws: []int64{4999}})
	require.NoError(t, err)
	require.Equal(t, "win", win.Selected)
	require.Equal(t, domain.Money(19800), win.PayoutDelta)

	lose, err := d.Resolve(10000, Params{Target: 50}, &fixedRand{draws: []int64{5000}})
	require.NoError(t, err)
	require.Equal(t, "lose", lose.Selected)
	require.Zero(t, lose.PayoutDelta)

	_, err = d.Resolve(10000, Params{Target: 99}, NewSeeded(1))
	require.ErrorIs(t, err, domain.ErrInvalidBet)
}

func TestCoinflipResolve(t *testing.T) {
	c := Coinflip{HouseEdge: decimal.NewFromFloat(0.04)}

	out, err := c.Resolve(1000, Params{Side: "tails"}, &fixedRand{draws: []int64{1}})
	require.NoError(t, err)
	require.Equal(t, "tails", out.Selected)
	require.Equal(t, domain.Money(1920), out.PayoutDelta)

	out, err = c.Resolve(1000, Params{Side: "heads"}, &fixedRand{draws: []int64{1}})
	require.NoError(t, err)
	require.Zero(t, out.PayoutDelta)

	_, err = c.Resolve(1000, Params{Side: "edge"}, NewSeeded(1))
	require.ErrorIs(t, err, domain.ErrInvalidBet)
}

func TestWheelResolve(t *testing.T) {
	w := Wheel{Segments: []Segment{
		{Label: "x0", Weight: 5, Multiplier: decimal.Zero},
		{Label: "x2", Weight: 4, Multiplier: decimal.NewFromInt(2)},
		{Label: "x5", Weight: 1, Multiplier: decimal.NewFromInt(5)},
	}}
	out, err := w.Resolve(1000, Params{}, &fixedRand{draws: []int64{9}})
	require.NoError(t, err)
	require.Equal(t, "x5", out.Selected)
	require.Equal(t, domain.Money(5000), out.PayoutDelta)
	require.InDelta(t, 0.1, out.ProbabilityUsed, 1e-12)
}
