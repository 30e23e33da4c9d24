// Package memory is an in-process implementation of domain.Atomic. Units run
// one at a time and a failed unit restores the state snapshot taken when it
// began. It backs tests and local single-instance runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

type state struct {
	catalog     map[string]domain.CatalogItem
	quotes      []domain.PriceQuote
	history     []domain.ValuationHistoryEntry
	cycles      []domain.PriceCycle
	stock       map[string]domain.StockUnit
	inventory   map[string]domain.InventoryItem
	withdrawals map[string]domain.WithdrawalRequest
	balances    map[string]domain.UserBalance
	ledger      []domain.LedgerEntry
	mines       map[string]domain.MinesRound
	nextID      int64
}

func newState() *state {
	return &state{
		catalog:     make(map[string]domain.CatalogItem),
		stock:       make(map[string]domain.StockUnit),
		inventory:   make(map[string]domain.InventoryItem),
		withdrawals: make(map[string]domain.WithdrawalRequest),
		balances:    make(map[string]domain.UserBalance),
		mines:       make(map[string]domain.MinesRound),
	}
}

func (s *state) clone() *state {
	c := &state{
		catalog:     maps.Clone(s.catalog),
		quotes:      slices.Clone(s.quotes),
		history:     slices.Clone(s.history),
		cycles:      slices.Clone(s.cycles),
		stock:       maps.Clone(s.stock),
		inventory:   maps.Clone(s.inventory),
		withdrawals: maps.Clone(s.withdrawals),
		balances:    maps.Clone(s.balances),
		ledger:      slices.Clone(s.ledger),
		mines:       make(map[string]domain.MinesRound, len(s.mines)),
		nextID:      s.nextID,
	}
	for id, r := range s.mines {
		r.MinePositions = slices.Clone(r.MinePositions)
		r.Revealed = slices.Clone(r.Revealed)
		c.mines[id] = r
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store implements domain.Atomic in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// Do runs fn with exclusive access to the store. If fn returns an error or
// panics every change it made is discarded.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(ctx, &tx{st: s.st}); err != nil {
		return err
	}
	committed = true
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Catalog() domain.CatalogRepo { return catalogRepo{t.st} }
func (t *tx) Quotes() domain.QuoteRepo { return quoteRepo{t.st} }
func (t *tx) History() domain.HistoryRepo { return historyRepo{t.st} }
func (t *tx) Cycles() domain.CycleRepo { return cycleRepo{t.st} }
func (t *tx) Stock() domain.StockRepo { return stockRepo{t.st} }
func (t *tx) Inventory() domain.InventoryRepo { return inventoryRepo{t.st} }
func (t *tx) Withdrawals() domain.WithdrawalRepo { return withdrawalRepo{t.st} }
func (t *tx) Balances() domain.BalanceRepo { return balanceRepo{t.st} }
func (t *tx) Ledger() domain.LedgerRepo { return ledgerRepo{t.st} }
func (t *tx) Mines() domain.MinesRepo { return minesRepo{t.st} }

// page applies the time window and paging of opts to items, which must
// already be in result order.
func page[T any](items []T, opts domain.ListOpts, at func(T) time.Time) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		ts := at(it)
		if opts.Since != nil && ts.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ts.After(*opts.Until) {
			continue
		}
		out = append(out, it)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}
