package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// testClient connects to CASELEDGER_TEST_POSTGRES_DSN and applies migrations.
// Tests are skipped when the variable is unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("CASELEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CASELEDGER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	require.NoError(t, c.RunMigrations(ctx))
	return c
}

func TestDSN(t *testing.T) {
	require.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "app"}))
	require.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestReserveOneSkipsLockedUnits(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	atomicTx := NewAtomic(c.Pool())

	itemKey := "test-item-" + uuid.NewString()
	const units, callers = 3, 12

	err := atomicTx.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var add []domain.StockUnit
		for i := 0; i < units; i++ {
			add = append(add, domain.StockUnit{ID: uuid.NewString(), ItemKey: itemKey, BotID: "bot-1"})
		}
		return tx.Stock().Add(ctx, add)
	})
	require.NoError(t, err)

	var ok, outOfStock atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := atomicTx.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
				_, err := tx.Stock().ReserveOne(ctx, itemKey, uuid.NewString())
				if err == nil {
					time.Sleep(20 * time.Millisecond)
				}
				return err
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrOutOfStock):
				outOfStock.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(units), ok.Load())
	require.Equal(t, int32(callers-units), outOfStock.Load())
}

func TestAtomicRollsBackOnError(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	atomicTx := NewAtomic(c.Pool())
	user := "user-" + uuid.NewString()

	boom := errors.New("boom")
	err := atomicTx.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Balances().LockForUpdate(ctx, user); err != nil {
			return err
		}
		if err := tx.Balances().Set(ctx, user, 500, time.Now()); err != nil {
			return err
		}
		return fmt.Errorf("after write: %w", boom)
	})
	require.ErrorIs(t, err, boom)

	bal, err := NewBalanceStore(c.Pool()).Get(ctx, user)
	require.NoError(t, err)
	require.Zero(t, bal.Balance)
}

func TestLedgerRejectsNegativeBalanceAfter(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	_, err := NewLedgerStore(c.Pool()).Append(ctx, domain.LedgerEntry{
		UserID:        "user-" + uuid.NewString(),
		Type:          domain.LedgerAdjustment,
		AmountDelta:   -100,
		BalanceBefore: 50,
		BalanceAfter:  -50,
		CreatedAt:     time.Now(),
	})
	require.Error(t, err)
}

func TestCycleLockSerialisesUnits(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	atomicTx := NewAtomic(c.Pool())

	held := make(chan struct{})
	var (
		released atomic.Bool
		firstErr error
		wg       sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = atomicTx.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
			err := tx.Cycles().Lock(ctx)
			close(held)
			if err != nil {
				return err
			}
			time.Sleep(200 * time.Millisecond)
			released.Store(true)
			return nil
		})
	}()

	<-held
	err := atomicTx.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Cycles().Lock(ctx); err != nil {
			return err
		}
		require.True(t, released.Load())
		return nil
	})
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, firstErr)
}
