package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// Atomic implements domain.Atomic with a READ COMMITTED transaction per unit.
// Cross-request invariants rely on row locks taken by the repositories.
type Atomic struct {
	pool *pgxpool.Pool
}

// NewAtomic creates a new Atomic backed by pool.
func NewAtomic(pool *pgxpool.Pool) *Atomic {
	return &Atomic{pool: pool}
}

// Do runs fn in a transaction. The deferred rollback also runs while a panic
// unwinds, so a panicking fn leaves nothing behind.
func (a *Atomic) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, newTxRepos(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

type txRepos struct {
	catalog     *CatalogStore
	quotes      *QuoteStore
	history     *HistoryStore
	cycles      *CycleStore
	stock       *StockStore
	inventory   *InventoryStore
	withdrawals *WithdrawalStore
	balances    *BalanceStore
	ledger      *LedgerStore
	mines       *MinesStore
}

func newTxRepos(db dbtx) *txRepos {
	return &txRepos{
		catalog:     NewCatalogStore(db),
		quotes:      NewQuoteStore(db),
		history:     NewHistoryStore(db),
		cycles:      NewCycleStore(db),
		stock:       NewStockStore(db),
		inventory:   NewInventoryStore(db),
		withdrawals: NewWithdrawalStore(db),
		balances:    NewBalanceStore(db),
		ledger:      NewLedgerStore(db),
		mines:       NewMinesStore(db),
	}
}

func (r *txRepos) Catalog() domain.CatalogRepo { return r.catalog }
func (r *txRepos) Quotes() domain.QuoteRepo { return r.quotes }
func (r *txRepos) History() domain.HistoryRepo { return r.history }
func (r *txRepos) Cycles() domain.CycleRepo { return r.cycles }
func (r *txRepos) Stock() domain.StockRepo { return r.stock }
func (r *txRepos) Inventory() domain.InventoryRepo { return r.inventory }
func (r *txRepos) Withdrawals() domain.WithdrawalRepo { return r.withdrawals }
func (r *txRepos) Balances() domain.BalanceRepo { return r.balances }
func (r *txRepos) Ledger() domain.LedgerRepo { return r.ledger }
func (r *txRepos) Mines() domain.MinesRepo { return r.mines }
