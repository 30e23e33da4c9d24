package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seqRand returns queued draws in order and a fixed permutation.
type seqRand struct {
	mu    sync.Mutex
	draws []int64
	perm  []int
}

func (r *seqRand) next() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.draws[0]
	r.draws = r.draws[1:]
	return v
}

func (r *seqRand) Int64N(n int64) int64 { return r.next() % n }
func (r *seqRand) IntN(n int) int       { return int(r.next() % int64(n)) }
func (r *seqRand) Perm(n int) []int {
	p := make([]int, n)
	copy(p, r.perm)
	for i := len(r.perm); i < n; i++ {
		p[i] = i
	}
	return p
}

// recordingBus captures published events.
type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	stream   map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{messages: map[string][][]byte{}, stream: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream[stream] = append(b.stream[stream], payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordingBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

func seedBalance(t *testing.T, st *memory.Store, userID string, amount domain.Money) {
	t.Helper()
	err := st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := ApplyDelta(ctx, tx, DeltaRequest{UserID: userID, Delta: amount, Type: domain.LedgerDeposit}, time.Now())
		return err
	})
	require.NoError(t, err)
}

func seedCatalog(t *testing.T, st *memory.Store, items ...domain.CatalogItem) {
	t.Helper()
	err := st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for _, it := range items {
			if err := tx.Catalog().Upsert(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func seedInventory(t *testing.T, st *memory.Store, items ...domain.InventoryItem) {
	t.Helper()
	err := st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for _, it := range items {
			if it.State == "" {
				it.State = domain.InventoryHeld
			}
			if it.WithdrawState == "" {
				it.WithdrawState = domain.WithdrawNone
			}
			if err := tx.Inventory().Create(ctx, it); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, st *memory.Store, userID string) domain.Money {
	t.Helper()
	var bal domain.Money
	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		b, err := tx.Balances().Get(ctx, userID)
		bal = b.Balance
		return err
	}))
	return bal
}

func chainOf(t *testing.T, st *memory.Store, userID string) []domain.LedgerEntry {
	t.Helper()
	var chain []domain.LedgerEntry
	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		chain, err = tx.Ledger().Chain(ctx, userID)
		return err
	}))
	return chain
}
