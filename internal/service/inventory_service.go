package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// InventoryService lists won items and sells them back at their live
// valuation.
type InventoryService struct {
	atomic domain.Atomic
	pub    publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewInventoryService creates an InventoryService.
func NewInventoryService(atomic domain.Atomic, bus domain.SignalBus, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		atomic: atomic,
		pub:    publisher{bus: bus, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns a page of the user's items, newest first.
func (s *InventoryService) List(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.InventoryItem, error) {
	var items []domain.InventoryItem
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		items, err = tx.Inventory().ListByUser(ctx, userID, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inventory_service: list %s: %w", userID, err)
	}
	return items, nil
}

// SellResult is returned by Sell.
type SellResult struct {
	InventoryID string       `json:"inventory_id"`
	Price       domain.Money `json:"price"`
	Balance     domain.Money `json:"balance"`
}

// Sell credits the item's current valuation and marks it sold. Items with a
// withdrawal in progress or already sent cannot be sold.
func (s *InventoryService) Sell(ctx context.Context, userID, inventoryID string) (SellResult, error) {
	var (
		res   SellResult
		entry domain.LedgerEntry
	)
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		item, err := lockOwned(ctx, tx, userID, inventoryID)
		if err != nil {
			return err
		}
		if item.WithdrawState != domain.WithdrawNone {
			return fmt.Errorf("inventory item %s withdraw state is %s: %w", item.ID, item.WithdrawState, domain.ErrInvalidState)
		}

		live, err := tx.Catalog().Get(ctx, item.ItemKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("item %s has no valuation: %w", item.ItemKey, domain.ErrInternalInconsistency)
			}
			return err
		}

		item.State = domain.InventorySold
		item.UpdatedAt = now
		if err := tx.Inventory().Update(ctx, item); err != nil {
			return err
		}
		entry, err = ApplyDelta(ctx, tx, DeltaRequest{
			UserID: userID,
			Delta:  live.Valuation,
			Type:   domain.LedgerItemSale,
			Meta:   map[string]any{"inventory_id": item.ID, "item_key": item.ItemKey},
		}, now)
		if err != nil {
			return err
		}
		res = SellResult{InventoryID: item.ID, Price: live.Valuation, Balance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return SellResult{}, fmt.Errorf("inventory_service: sell %s: %w", inventoryID, err)
	}

	s.logger.InfoContext(ctx, "item sold",
		slog.String("user_id", userID),
		slog.String("inventory_id", inventoryID),
		slog.String("price", res.Price.String()),
	)
	s.pub.ledger(ctx, entry)
	return res, nil
}
