package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/store/memory"
)

func TestApplyDeltaRejectsOverdraft(t *testing.T) {
	st := memory.New()
	seedBalance(t, st, "u1", 5000)

	err := st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := ApplyDelta(ctx, tx, DeltaRequest{UserID: "u1", Delta: -10000, Type: domain.LedgerWager}, time.Now())
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Equal(t, domain.Money(5000), balanceOf(t, st, "u1"))
	require.Len(t, chainOf(t, st, "u1"), 1)
}

func TestApplyDeltaRejectsUnknownType(t *testing.T) {
	st := memory.New()
	err := st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := ApplyDelta(ctx, tx, DeltaRequest{UserID: "u1", Delta: 100, Type: "gift"}, time.Now())
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestLedgerConservation(t *testing.T) {
	st := memory.New()
	svc := NewLedgerService(st, nil, discardLogger())
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(7, 11))

	var expected domain.Money
	for i := 0; i < 200; i++ {
		delta := domain.Money(rng.Int64N(20_000) - 9_000)
		_, err := svc.Adjust(ctx, DeltaRequest{UserID: "u1", Delta: delta, Type: domain.LedgerAdjustment})
		if errors.Is(err, domain.ErrInsufficientFunds) {
			continue
		}
		require.NoError(t, err)
		expected += delta
	}

	bal, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, expected, bal.Balance)
	require.GreaterOrEqual(t, int64(bal.Balance), int64(0))

	var sum domain.Money
	for _, e := range chainOf(t, st, "u1") {
		sum += e.AmountDelta
	}
	require.Equal(t, bal.Balance, sum)

	report, err := svc.Verify(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, bal.Balance, report.Balance)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	st := memory.New()
	svc := NewLedgerService(st, nil, discardLogger())
	seedBalance(t, st, "u1", 1000)

	const callers = 30
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		poor int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Adjust(context.Background(), DeltaRequest{UserID: "u1", Delta: -100, Type: domain.LedgerWager})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientFunds):
				poor++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	require.Equal(t, callers-10, poor)
	require.Zero(t, balanceOf(t, st, "u1"))
}

func TestVerifyDetectsTamperedBalance(t *testing.T) {
	st := memory.New()
	svc := NewLedgerService(st, nil, discardLogger())
	seedBalance(t, st, "u1", 1000)

	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Balances().Set(ctx, "u1", 9999, time.Now())
	}))

	_, err := svc.Verify(context.Background(), "u1")
	require.ErrorIs(t, err, domain.ErrInternalInconsistency)
}

func TestVerifyChainBreaks(t *testing.T) {
	tests := []struct {
		name  string
		chain []domain.LedgerEntry
		bal   domain.Money
	}{
		{
			name:  "gap between entries",
			chain: []domain.LedgerEntry{{ID: 1, AmountDelta: 100, BalanceAfter: 100}, {ID: 2, BalanceBefore: 90, AmountDelta: 10, BalanceAfter: 100}},
			bal:   100,
		},
		{
			name:  "bad arithmetic",
			chain: []domain.LedgerEntry{{ID: 1, AmountDelta: 100, BalanceAfter: 101}},
			bal:   101,
		},
		{
			name:  "stored balance differs",
			chain: []domain.LedgerEntry{{ID: 1, AmountDelta: 100, BalanceAfter: 100}},
			bal:   50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, verifyChain(tt.chain, tt.bal), domain.ErrInternalInconsistency)
		})
	}
	require.NoError(t, verifyChain(nil, 0))
}

func TestAdjustPublishesLedgerEvent(t *testing.T) {
	st := memory.New()
	bus := newRecordingBus()
	svc := NewLedgerService(st, bus, discardLogger())

	_, err := svc.Adjust(context.Background(), DeltaRequest{UserID: "u1", Delta: 500, Type: domain.LedgerDeposit})
	require.NoError(t, err)
	require.Equal(t, 1, bus.count(domain.ChannelLedger))
	require.Len(t, bus.stream[domain.StreamLedger], 1)

	_, err = svc.Adjust(context.Background(), DeltaRequest{UserID: "u1", Delta: -501, Type: domain.LedgerWager})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Equal(t, 1, bus.count(domain.ChannelLedger))
}

// racingAtomic commits a +5.00 deposit for user right after the first Chain
// read, the way a concurrent writer could under READ COMMITTED. A writer that
// finds the balance row locked waits until the reading unit has finished.
type racingAtomic struct {
	inner *memory.Store
	user  string
	fired bool
}

func (a *racingAtomic) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	var blocked bool
	err := a.inner.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		rt := &racingTx{Tx: tx, a: a}
		err := fn(ctx, rt)
		blocked = rt.blocked
		return err
	})
	if err != nil || !blocked {
		return err
	}
	return a.inner.Do(ctx, a.deposit)
}

func (a *racingAtomic) deposit(ctx context.Context, tx domain.Tx) error {
	_, err := ApplyDelta(ctx, tx, DeltaRequest{UserID: a.user, Delta: 500, Type: domain.LedgerDeposit}, time.Now())
	return err
}

type racingTx struct {
	domain.Tx
	a       *racingAtomic
	locked  bool
	blocked bool
}

func (t *racingTx) Balances() domain.BalanceRepo {
	return lockTrackingBalances{BalanceRepo: t.Tx.Balances(), tx: t}
}

func (t *racingTx) Ledger() domain.LedgerRepo {
	return racingLedger{LedgerRepo: t.Tx.Ledger(), tx: t}
}

type lockTrackingBalances struct {
	domain.BalanceRepo
	tx *racingTx
}

func (b lockTrackingBalances) LockForUpdate(ctx context.Context, userID string) (domain.Money, error) {
	if userID == b.tx.a.user {
		b.tx.locked = true
	}
	return b.BalanceRepo.LockForUpdate(ctx, userID)
}

type racingLedger struct {
	domain.LedgerRepo
	tx *racingTx
}

func (l racingLedger) Chain(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	chain, err := l.LedgerRepo.Chain(ctx, userID)
	if err != nil || l.tx.a.fired || userID != l.tx.a.user {
		return chain, err
	}
	l.tx.a.fired = true
	if l.tx.locked {
		l.tx.blocked = true
		return chain, nil
	}
	return chain, l.tx.a.deposit(ctx, l.tx.Tx)
}

func TestVerifyWithConcurrentDeposit(t *testing.T) {
	st := memory.New()
	seedBalance(t, st, "u1", 1000)
	racing := &racingAtomic{inner: st, user: "u1"}
	svc := NewLedgerService(racing, nil, discardLogger())

	report, err := svc.Verify(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, racing.fired)
	require.Equal(t, 1, report.Entries)
	require.Equal(t, domain.Money(1000), report.Balance)

	report, err = NewLedgerService(st, nil, discardLogger()).Verify(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 2, report.Entries)
	require.Equal(t, domain.Money(1500), report.Balance)
}
