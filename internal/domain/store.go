package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CatalogRepo reads and writes the current valuation of catalog items.
type CatalogRepo interface {
	Get(ctx context.Context, itemKey string) (CatalogItem, error)
	GetMany(ctx context.Context, itemKeys []string) (map[string]CatalogItem, error)
	// Upsert writes the item's valuation and display metadata. It has no
	// history side effect.
	Upsert(ctx context.Context, item CatalogItem) error
	// Touch refreshes checked_at without changing valuations.
	Touch(ctx context.Context, itemKeys []string, at time.Time) error
	List(ctx context.Context, opts ListOpts) ([]CatalogItem, error)
}

// QuoteRepo is the append-only log of accepted quotes.
type QuoteRepo interface {
	Append(ctx context.Context, quotes []PriceQuote) error
	// Window returns accepted raw prices per item observed at or after since,
	// oldest first.
	Window(ctx context.Context, itemKeys []string, since time.Time) (map[string][]Money, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]PriceQuote, error)
	DeleteThrough(ctx context.Context, before time.Time, maxID int64) (int64, error)
}

// HistoryRepo is the append-only log of material valuation changes.
type HistoryRepo interface {
	Last(ctx context.Context, itemKey string) (ValuationHistoryEntry, error)
	Append(ctx context.Context, entry ValuationHistoryEntry) error
	List(ctx context.Context, itemKey string, opts ListOpts) ([]ValuationHistoryEntry, error)
}

// CycleRepo records completed valuation cycles.
type CycleRepo interface {
	// Lock serialises valuation cycles until the unit ends.
	Lock(ctx context.Context) error
	Last(ctx context.Context) (PriceCycle, error)
	Record(ctx context.Context, cycle PriceCycle) error
}

// StockRepo manages fulfillable units. ReserveOne never blocks on units
// locked by concurrent callers.
type StockRepo interface {
	ReserveOne(ctx context.Context, itemKey, withdrawalID string) (StockUnit, error)
	// Apply locks the unit and moves it through ev.
	Apply(ctx context.Context, id string, ev StockEvent) (StockUnit, error)
	Add(ctx context.Context, units []StockUnit) error
	CountAvailable(ctx context.Context, itemKey string) (int, error)
}

// InventoryRepo persists won items.
type InventoryRepo interface {
	Create(ctx context.Context, item InventoryItem) error
	GetForUpdate(ctx context.Context, id string) (InventoryItem, error)
	Update(ctx context.Context, item InventoryItem) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]InventoryItem, error)
}

// WithdrawalRepo persists withdrawal requests.
type WithdrawalRepo interface {
	Create(ctx context.Context, req WithdrawalRequest) error
	GetPendingByInventory(ctx context.Context, inventoryID string) (WithdrawalRequest, error)
	UpdateStatus(ctx context.Context, id string, status WithdrawalStatus, at time.Time) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]WithdrawalRequest, error)
}

// BalanceRepo stores user balances.
type BalanceRepo interface {
	// LockForUpdate creates the balance row if missing and locks it for the
	// rest of the unit.
	LockForUpdate(ctx context.Context, userID string) (Money, error)
	Set(ctx context.Context, userID string, balance Money, at time.Time) error
	Get(ctx context.Context, userID string) (UserBalance, error)
}

// LedgerRepo is the append-only ledger.
type LedgerRepo interface {
	Append(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]LedgerEntry, error)
	// Chain returns every entry of the user in insertion order.
	Chain(ctx context.Context, userID string) ([]LedgerEntry, error)
}

// MinesRepo persists mines rounds.
type MinesRepo interface {
	Create(ctx context.Context, round MinesRound) error
	GetForUpdate(ctx context.Context, id string) (MinesRound, error)
	Update(ctx context.Context, round MinesRound) error
}

// Tx exposes repositories bound to one scoped atomic unit.
type Tx interface {
	Catalog() CatalogRepo
	Quotes() QuoteRepo
	History() HistoryRepo
	Cycles() CycleRepo
	Stock() StockRepo
	Inventory() InventoryRepo
	Withdrawals() WithdrawalRepo
	Balances() BalanceRepo
	Ledger() LedgerRepo
	Mines() MinesRepo
}

// Atomic runs fn inside a scoped atomic unit. Every write made through tx
// commits together when fn returns nil; any error or panic rolls back all of
// them.
type Atomic interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
