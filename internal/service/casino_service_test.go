package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/gamecfg"
	"github.com/alanyoungcy/caseledger/internal/outcome"
	"github.com/alanyoungcy/caseledger/internal/store/memory"
)

func newCasino(t *testing.T, rng outcome.Rand) (*memory.Store, *CasinoService) {
	t.Helper()
	st := memory.New()
	cfg := gamecfg.Defaults()
	require.NoError(t, cfg.Validate())
	return st, NewCasinoService(st, &cfg, rng, nil, discardLogger())
}

func TestPlayDice(t *testing.T) {
	tests := []struct {
		name        string
		roll        int64
		wantPayout  domain.Money
		wantBalance domain.Money
		wantEntries int
	}{
		{name: "win", roll: 1234, wantPayout: 1980, wantBalance: 10980, wantEntries: 3},
		{name: "loss", roll: 9000, wantPayout: 0, wantBalance: 9000, wantEntries: 2},
		{name: "boundary loses", roll: 5000, wantPayout: 0, wantBalance: 9000, wantEntries: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, svc := newCasino(t, &seqRand{draws: []int64{tt.roll}})
			seedBalance(t, st, "u1", 10000)

			res, err := svc.Play(context.Background(), "u1", "dice", 1000, outcome.Params{Target: 50})
			require.NoError(t, err)
			require.Equal(t, tt.wantPayout, res.Payout)
			require.Equal(t, tt.wantPayout-1000, res.Delta)
			require.Equal(t, tt.wantBalance, res.Balance)
			require.Equal(t, tt.wantBalance, balanceOf(t, st, "u1"))
			require.Len(t, chainOf(t, st, "u1"), tt.wantEntries)
		})
	}
}

func TestPlayRejectsBadWagers(t *testing.T) {
	st, svc := newCasino(t, &seqRand{draws: []int64{0}})
	seedBalance(t, st, "u1", 10000)
	ctx := context.Background()

	_, err := svc.Play(ctx, "u1", "dice", 5, outcome.Params{Target: 50})
	require.ErrorIs(t, err, domain.ErrInvalidBet)

	_, err = svc.Play(ctx, "u1", "dice", 1000, outcome.Params{Target: 99})
	require.ErrorIs(t, err, domain.ErrInvalidBet)
	require.Equal(t, domain.Money(10000), balanceOf(t, st, "u1"))

	_, err = svc.Play(ctx, "u1", "roulette", 1000, outcome.Params{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Play(ctx, "u1", "coinflip", 20000, outcome.Params{Side: "heads"})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Len(t, chainOf(t, st, "u1"), 1)
}

func TestMinesCashoutScenario(t *testing.T) {
	st, svc := newCasino(t, &seqRand{perm: []int{0, 1, 2}})
	seedBalance(t, st, "u1", 100000)
	ctx := context.Background()

	round, err := svc.StartMines(ctx, "u1", 10000, 3)
	require.NoError(t, err)
	require.Equal(t, domain.Money(90000), round.Balance)
	require.Empty(t, round.MinePositions)

	_, err = svc.CashoutMines(ctx, "u1", round.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	v, err := svc.RevealMines(ctx, "u1", round.ID, 5)
	require.NoError(t, err)
	require.Equal(t, domain.MinesActive, v.State)

	_, err = svc.RevealMines(ctx, "u1", round.ID, 5)
	require.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = svc.RevealMines(ctx, "u2", round.ID, 6)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.RevealMines(ctx, "u1", round.ID, 6)
	require.NoError(t, err)

	v, err = svc.CashoutMines(ctx, "u1", round.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MinesCashedOut, v.State)
	require.Equal(t, domain.Money(12468), v.Payout)
	require.Equal(t, domain.Money(102468), v.Balance)
	require.Equal(t, []int{0, 1, 2}, v.MinePositions)

	_, err = svc.RevealMines(ctx, "u1", round.ID, 7)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMinesHitLoses(t *testing.T) {
	st, svc := newCasino(t, &seqRand{perm: []int{4, 9, 14}})
	seedBalance(t, st, "u1", 10000)
	ctx := context.Background()

	round, err := svc.StartMines(ctx, "u1", 1000, 3)
	require.NoError(t, err)

	v, err := svc.RevealMines(ctx, "u1", round.ID, 9)
	require.NoError(t, err)
	require.Equal(t, domain.MinesLost, v.State)
	require.Zero(t, v.Payout)
	require.Equal(t, domain.Money(9000), balanceOf(t, st, "u1"))

	_, err = svc.CashoutMines(ctx, "u1", round.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMinesAutoCashoutOnLastSafeCell(t *testing.T) {
	perm := make([]int, 24)
	for i := range perm {
		perm[i] = i
	}
	st, svc := newCasino(t, &seqRand{perm: perm})
	seedBalance(t, st, "u1", 1000)

	round, err := svc.StartMines(context.Background(), "u1", 1000, 24)
	require.NoError(t, err)

	v, err := svc.RevealMines(context.Background(), "u1", round.ID, 24)
	require.NoError(t, err)
	require.Equal(t, domain.MinesCashedOut, v.State)
	require.Equal(t, domain.Money(24000), v.Payout)
	require.Equal(t, domain.Money(24000), balanceOf(t, st, "u1"))
}

func TestStartMinesRejectsBoard(t *testing.T) {
	st, svc := newCasino(t, &seqRand{})
	seedBalance(t, st, "u1", 10000)

	_, err := svc.StartMines(context.Background(), "u1", 1000, 25)
	require.ErrorIs(t, err, domain.ErrInvalidBet)
	_, err = svc.StartMines(context.Background(), "u1", 1000, 0)
	require.ErrorIs(t, err, domain.ErrInvalidBet)
	require.Equal(t, domain.Money(10000), balanceOf(t, st, "u1"))
}
