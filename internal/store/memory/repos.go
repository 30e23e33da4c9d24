package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

type catalogRepo struct{ st *state }

func (r catalogRepo) Get(_ context.Context, itemKey string) (domain.CatalogItem, error) {
	it, ok := r.st.catalog[itemKey]
	if !ok {
		return domain.CatalogItem{}, fmt.Errorf("catalog item %s: %w", itemKey, domain.ErrNotFound)
	}
	return it, nil
}

func (r catalogRepo) GetMany(_ context.Context, itemKeys []string) (map[string]domain.CatalogItem, error) {
	out := make(map[string]domain.CatalogItem, len(itemKeys))
	for _, k := range itemKeys {
		if it, ok := r.st.catalog[k]; ok {
			out[k] = it
		}
	}
	return out, nil
}

func (r catalogRepo) Upsert(_ context.Context, it domain.CatalogItem) error {
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	it.CheckedAt = it.UpdatedAt
	if prev, ok := r.st.catalog[it.ItemKey]; ok {
		if it.Name == "" {
			it.Name = prev.Name
		}
		if it.Image == "" {
			it.Image = prev.Image
		}
	}
	r.st.catalog[it.ItemKey] = it
	return nil
}

func (r catalogRepo) Touch(_ context.Context, itemKeys []string, at time.Time) error {
	for _, k := range itemKeys {
		if it, ok := r.st.catalog[k]; ok {
			it.CheckedAt = at
			r.st.catalog[k] = it
		}
	}
	return nil
}

func (r catalogRepo) List(_ context.Context, opts domain.ListOpts) ([]domain.CatalogItem, error) {
	items := make([]domain.CatalogItem, 0, len(r.st.catalog))
	for _, it := range r.st.catalog {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemKey < items[j].ItemKey })
	return page(items, opts, func(it domain.CatalogItem) time.Time { return it.UpdatedAt }), nil
}

type quoteRepo struct{ st *state }

func (r quoteRepo) Append(_ context.Context, quotes []domain.PriceQuote) error {
	for _, q := range quotes {
		q.ID = r.st.id()
		r.st.quotes = append(r.st.quotes, q)
	}
	return nil
}

func (r quoteRepo) Window(_ context.Context, itemKeys []string, since time.Time) (map[string][]domain.Money, error) {
	out := make(map[string][]domain.Money, len(itemKeys))
	for _, q := range r.st.quotes {
		if q.ObservedAt.Before(since) || !slices.Contains(itemKeys, q.ItemKey) {
			continue
		}
		out[q.ItemKey] = append(out[q.ItemKey], q.RawPrice)
	}
	return out, nil
}

func (r quoteRepo) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.PriceQuote, error) {
	var out []domain.PriceQuote
	for _, q := range r.st.quotes {
		if q.ObservedAt.Before(before) {
			out = append(out, q)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r quoteRepo) DeleteThrough(_ context.Context, before time.Time, maxID int64) (int64, error) {
	kept := r.st.quotes[:0:0]
	var n int64
	for _, q := range r.st.quotes {
		if q.ObservedAt.Before(before) && q.ID <= maxID {
			n++
			continue
		}
		kept = append(kept, q)
	}
	r.st.quotes = kept
	return n, nil
}

type historyRepo struct{ st *state }

func (r historyRepo) Last(_ context.Context, itemKey string) (domain.ValuationHistoryEntry, error) {
	for i := len(r.st.history) - 1; i >= 0; i-- {
		if r.st.history[i].ItemKey == itemKey {
			return r.st.history[i], nil
		}
	}
	return domain.ValuationHistoryEntry{}, domain.ErrNotFound
}

func (r historyRepo) Append(_ context.Context, e domain.ValuationHistoryEntry) error {
	e.ID = r.st.id()
	r.st.history = append(r.st.history, e)
	return nil
}

func (r historyRepo) List(_ context.Context, itemKey string, opts domain.ListOpts) ([]domain.ValuationHistoryEntry, error) {
	var out []domain.ValuationHistoryEntry
	for i := len(r.st.history) - 1; i >= 0; i-- {
		if r.st.history[i].ItemKey == itemKey {
			out = append(out, r.st.history[i])
		}
	}
	return page(out, opts, func(e domain.ValuationHistoryEntry) time.Time { return e.RecordedAt }), nil
}

type cycleRepo struct{ st *state }

// Lock is a no-op; Store.Do is already exclusive.
func (r cycleRepo) Lock(context.Context) error { return nil }

func (r cycleRepo) Last(_ context.Context) (domain.PriceCycle, error) {
	if len(r.st.cycles) == 0 {
		return domain.PriceCycle{}, domain.ErrNotFound
	}
	return r.st.cycles[len(r.st.cycles)-1], nil
}

func (r cycleRepo) Record(_ context.Context, c domain.PriceCycle) error {
	r.st.cycles = append(r.st.cycles, c)
	return nil
}

type stockRepo struct{ st *state }

func (r stockRepo) ReserveOne(_ context.Context, itemKey, withdrawalID string) (domain.StockUnit, error) {
	var candidates []string
	for id, u := range r.st.stock {
		if u.ItemKey == itemKey && u.State == domain.StockAvailable {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return domain.StockUnit{}, fmt.Errorf("reserve %s: %w", itemKey, domain.ErrOutOfStock)
	}
	sort.Strings(candidates)
	u := r.st.stock[candidates[rand.IntN(len(candidates))]]
	u.State = domain.StockReserved
	u.WithdrawalID = withdrawalID
	r.st.stock[u.ID] = u
	return u, nil
}

func (r stockRepo) Apply(_ context.Context, id string, ev domain.StockEvent) (domain.StockUnit, error) {
	u, ok := r.st.stock[id]
	if !ok {
		return domain.StockUnit{}, fmt.Errorf("stock unit %s: %w", id, domain.ErrNotFound)
	}
	next, err := u.State.Next(ev)
	if err != nil {
		return u, err
	}
	u.State = next
	if next == domain.StockAvailable {
		u.WithdrawalID = ""
	}
	r.st.stock[id] = u
	return u, nil
}

func (r stockRepo) Add(_ context.Context, units []domain.StockUnit) error {
	for _, u := range units {
		if _, dup := r.st.stock[u.ID]; dup {
			return fmt.Errorf("stock unit %s: %w", u.ID, domain.ErrAlreadyExists)
		}
		u.State = domain.StockAvailable
		u.WithdrawalID = ""
		r.st.stock[u.ID] = u
	}
	return nil
}

func (r stockRepo) CountAvailable(_ context.Context, itemKey string) (int, error) {
	n := 0
	for _, u := range r.st.stock {
		if u.ItemKey == itemKey && u.State == domain.StockAvailable {
			n++
		}
	}
	return n, nil
}

type inventoryRepo struct{ st *state }

func (r inventoryRepo) Create(_ context.Context, it domain.InventoryItem) error {
	if _, dup := r.st.inventory[it.ID]; dup {
		return fmt.Errorf("inventory item %s: %w", it.ID, domain.ErrAlreadyExists)
	}
	it.UpdatedAt = it.CreatedAt
	r.st.inventory[it.ID] = it
	return nil
}

func (r inventoryRepo) GetForUpdate(_ context.Context, id string) (domain.InventoryItem, error) {
	it, ok := r.st.inventory[id]
	if !ok {
		return domain.InventoryItem{}, fmt.Errorf("inventory item %s: %w", id, domain.ErrNotFound)
	}
	return it, nil
}

func (r inventoryRepo) Update(_ context.Context, it domain.InventoryItem) error {
	prev, ok := r.st.inventory[it.ID]
	if !ok {
		return fmt.Errorf("inventory item %s: %w", it.ID, domain.ErrNotFound)
	}
	prev.State = it.State
	prev.WithdrawState = it.WithdrawState
	prev.StockUnitID = it.StockUnitID
	prev.UpdatedAt = it.UpdatedAt
	r.st.inventory[it.ID] = prev
	return nil
}

func (r inventoryRepo) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.InventoryItem, error) {
	var out []domain.InventoryItem
	for _, it := range r.st.inventory {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts, func(it domain.InventoryItem) time.Time { return it.CreatedAt }), nil
}

type withdrawalRepo struct{ st *state }

func (r withdrawalRepo) Create(_ context.Context, w domain.WithdrawalRequest) error {
	for _, existing := range r.st.withdrawals {
		if existing.InventoryID == w.InventoryID && existing.Status == domain.WithdrawalPending {
			return fmt.Errorf("pending withdrawal for %s: %w", w.InventoryID, domain.ErrAlreadyExists)
		}
	}
	r.st.withdrawals[w.ID] = w
	return nil
}

func (r withdrawalRepo) GetPendingByInventory(_ context.Context, inventoryID string) (domain.WithdrawalRequest, error) {
	for _, w := range r.st.withdrawals {
		if w.InventoryID == inventoryID && w.Status == domain.WithdrawalPending {
			return w, nil
		}
	}
	return domain.WithdrawalRequest{}, fmt.Errorf("pending withdrawal for %s: %w", inventoryID, domain.ErrNotFound)
}

func (r withdrawalRepo) UpdateStatus(_ context.Context, id string, status domain.WithdrawalStatus, at time.Time) error {
	w, ok := r.st.withdrawals[id]
	if !ok {
		return fmt.Errorf("withdrawal %s: %w", id, domain.ErrNotFound)
	}
	w.Status = status
	w.UpdatedAt = at
	r.st.withdrawals[id] = w
	return nil
}

func (r withdrawalRepo) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	for _, w := range r.st.withdrawals {
		if w.Status == domain.WithdrawalPending && w.CreatedAt.Before(before) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type balanceRepo struct{ st *state }

func (r balanceRepo) LockForUpdate(_ context.Context, userID string) (domain.Money, error) {
	b, ok := r.st.balances[userID]
	if !ok {
		b = domain.UserBalance{UserID: userID, UpdatedAt: time.Now().UTC()}
		r.st.balances[userID] = b
	}
	return b.Balance, nil
}

func (r balanceRepo) Set(_ context.Context, userID string, balance domain.Money, at time.Time) error {
	if balance < 0 {
		return fmt.Errorf("balance of %s would be %s: %w", userID, balance, domain.ErrInternalInconsistency)
	}
	r.st.balances[userID] = domain.UserBalance{UserID: userID, Balance: balance, UpdatedAt: at}
	return nil
}

func (r balanceRepo) Get(_ context.Context, userID string) (domain.UserBalance, error) {
	b, ok := r.st.balances[userID]
	if !ok {
		return domain.UserBalance{UserID: userID}, nil
	}
	return b, nil
}

type ledgerRepo struct{ st *state }

func (r ledgerRepo) Append(_ context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.BalanceAfter != e.BalanceBefore+e.AmountDelta || e.BalanceAfter < 0 {
		return domain.LedgerEntry{}, fmt.Errorf("ledger entry for %s: %w", e.UserID, domain.ErrInternalInconsistency)
	}
	e.ID = r.st.id()
	r.st.ledger = append(r.st.ledger, e)
	return e, nil
}

func (r ledgerRepo) ListByUser(_ context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for i := len(r.st.ledger) - 1; i >= 0; i-- {
		if r.st.ledger[i].UserID == userID {
			out = append(out, r.st.ledger[i])
		}
	}
	return page(out, opts, func(e domain.LedgerEntry) time.Time { return e.CreatedAt }), nil
}

func (r ledgerRepo) Chain(_ context.Context, userID string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range r.st.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type minesRepo struct{ st *state }

func (r minesRepo) Create(_ context.Context, round domain.MinesRound) error {
	round.UpdatedAt = round.CreatedAt
	r.st.mines[round.ID] = cloneRound(round)
	return nil
}

func (r minesRepo) GetForUpdate(_ context.Context, id string) (domain.MinesRound, error) {
	round, ok := r.st.mines[id]
	if !ok {
		return domain.MinesRound{}, fmt.Errorf("mines round %s: %w", id, domain.ErrNotFound)
	}
	return cloneRound(round), nil
}

func (r minesRepo) Update(_ context.Context, round domain.MinesRound) error {
	if _, ok := r.st.mines[round.ID]; !ok {
		return fmt.Errorf("mines round %s: %w", round.ID, domain.ErrNotFound)
	}
	r.st.mines[round.ID] = cloneRound(round)
	return nil
}

func cloneRound(r domain.MinesRound) domain.MinesRound {
	r.MinePositions = slices.Clone(r.MinePositions)
	r.Revealed = slices.Clone(r.Revealed)
	return r
}

// AuditLog implements domain.AuditStore in memory.
type AuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := slices.Clone(a.entries)
	slices.Reverse(out)
	return page(out, opts, func(e domain.AuditEntry) time.Time { return e.CreatedAt }), nil
}

// Events returns the logged event names in order, for assertions.
func (a *AuditLog) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.Event
	}
	return names
}
