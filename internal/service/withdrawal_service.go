package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// WithdrawalService drives won items through reserve, complete and cancel.
// Each operation locks the inventory row first, then the stock unit, then
// the balance row.
type WithdrawalService struct {
	atomic domain.Atomic
	fee    domain.Money
	pub    publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewWithdrawalService creates a WithdrawalService charging fee per reserve.
func NewWithdrawalService(atomic domain.Atomic, fee domain.Money, bus domain.SignalBus, logger *slog.Logger) *WithdrawalService {
	return &WithdrawalService{
		atomic: atomic,
		fee:    fee,
		pub:    publisher{bus: bus, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ReserveResult is returned by Reserve.
type ReserveResult struct {
	WithdrawalID string `json:"withdrawal_id"`
	StockUnitID  string `json:"stock_unit_id"`
}

// lockOwned locks the inventory row and checks ownership. A foreign item is
// reported as not found.
func lockOwned(ctx context.Context, tx domain.Tx, userID, inventoryID string) (domain.InventoryItem, error) {
	item, err := tx.Inventory().GetForUpdate(ctx, inventoryID)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	if userID != "" && item.UserID != userID {
		return domain.InventoryItem{}, fmt.Errorf("inventory item %s: %w", inventoryID, domain.ErrNotFound)
	}
	if item.State != domain.InventoryHeld {
		return domain.InventoryItem{}, fmt.Errorf("inventory item %s is %s: %w", inventoryID, item.State, domain.ErrInvalidState)
	}
	return item, nil
}

// Reserve claims one available stock unit for the item. It fails with
// domain.ErrOutOfStock when none is free and domain.ErrInsufficientFunds when
// the withdrawal fee cannot be paid; in both cases nothing changes.
func (s *WithdrawalService) Reserve(ctx context.Context, userID, inventoryID string) (ReserveResult, error) {
	var (
		res     ReserveResult
		entries []domain.LedgerEntry
	)
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		entries = nil
		item, err := lockOwned(ctx, tx, userID, inventoryID)
		if err != nil {
			return err
		}
		next, err := item.WithdrawState.Transition(domain.WithdrawEventReserve)
		if err != nil {
			return err
		}

		wid := uuid.NewString()
		unit, err := tx.Stock().ReserveOne(ctx, item.ItemKey, wid)
		if err != nil {
			return err
		}
		if err := tx.Withdrawals().Create(ctx, domain.WithdrawalRequest{
			ID:          wid,
			InventoryID: item.ID,
			UserID:      item.UserID,
			StockUnitID: unit.ID,
			Status:      domain.WithdrawalPending,
			Fee:         s.fee,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return err
		}

		item.WithdrawState = next
		item.StockUnitID = unit.ID
		item.UpdatedAt = now
		if err := tx.Inventory().Update(ctx, item); err != nil {
			return err
		}

		if s.fee > 0 {
			entry, err := ApplyDelta(ctx, tx, DeltaRequest{
				UserID: item.UserID,
				Delta:  -s.fee,
				Type:   domain.LedgerWithdrawalFee,
				Meta:   map[string]any{"inventory_id": item.ID, "withdrawal_id": wid},
			}, now)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		res = ReserveResult{WithdrawalID: wid, StockUnitID: unit.ID}
		return nil
	})
	if err != nil {
		return ReserveResult{}, fmt.Errorf("withdrawal_service: reserve %s: %w", inventoryID, err)
	}

	s.logger.InfoContext(ctx, "withdrawal reserved",
		slog.String("user_id", userID),
		slog.String("inventory_id", inventoryID),
		slog.String("stock_unit_id", res.StockUnitID),
	)
	s.pub.ledger(ctx, entries...)
	return res, nil
}

// Complete marks a pending withdrawal as sent.
func (s *WithdrawalService) Complete(ctx context.Context, userID, inventoryID string) error {
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		item, err := lockOwned(ctx, tx, userID, inventoryID)
		if err != nil {
			return err
		}
		next, err := item.WithdrawState.Transition(domain.WithdrawEventComplete)
		if err != nil {
			return err
		}
		req, err := tx.Withdrawals().GetPendingByInventory(ctx, item.ID)
		if err != nil {
			return inconsistent(item.ID, err)
		}
		if _, err := tx.Stock().Apply(ctx, req.StockUnitID, domain.StockEventMarkSent); err != nil {
			return err
		}
		if err := tx.Withdrawals().UpdateStatus(ctx, req.ID, domain.WithdrawalSent, now); err != nil {
			return err
		}
		item.WithdrawState = next
		item.UpdatedAt = now
		return tx.Inventory().Update(ctx, item)
	})
	if err != nil {
		return fmt.Errorf("withdrawal_service: complete %s: %w", inventoryID, err)
	}
	s.logger.InfoContext(ctx, "withdrawal sent",
		slog.String("user_id", userID),
		slog.String("inventory_id", inventoryID),
	)
	return nil
}

// Cancel returns a pending withdrawal's unit to stock and refunds its fee.
func (s *WithdrawalService) Cancel(ctx context.Context, userID, inventoryID string) error {
	entries, err := s.cancel(ctx, userID, inventoryID, "user")
	if err != nil {
		return fmt.Errorf("withdrawal_service: cancel %s: %w", inventoryID, err)
	}
	s.pub.ledger(ctx, entries...)
	return nil
}

// cancel runs the cancel path. An empty userID skips the ownership check and
// is used by the expiry job.
func (s *WithdrawalService) cancel(ctx context.Context, userID, inventoryID, reason string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	now := s.now()
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		entries = nil
		item, err := lockOwned(ctx, tx, userID, inventoryID)
		if err != nil {
			return err
		}
		next, err := item.WithdrawState.Transition(domain.WithdrawEventCancel)
		if err != nil {
			return err
		}
		req, err := tx.Withdrawals().GetPendingByInventory(ctx, item.ID)
		if err != nil {
			return inconsistent(item.ID, err)
		}
		if _, err := tx.Stock().Apply(ctx, req.StockUnitID, domain.StockEventUnreserve); err != nil {
			return err
		}
		if err := tx.Withdrawals().UpdateStatus(ctx, req.ID, domain.WithdrawalCancelled, now); err != nil {
			return err
		}
		item.WithdrawState = next
		item.StockUnitID = ""
		item.UpdatedAt = now
		if err := tx.Inventory().Update(ctx, item); err != nil {
			return err
		}

		if req.Fee > 0 {
			entry, err := ApplyDelta(ctx, tx, DeltaRequest{
				UserID: item.UserID,
				Delta:  req.Fee,
				Type:   domain.LedgerWithdrawalRefund,
				Meta:   map[string]any{"inventory_id": item.ID, "withdrawal_id": req.ID, "reason": reason},
			}, now)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "withdrawal cancelled",
		slog.String("inventory_id", inventoryID),
		slog.String("reason", reason),
	)
	return entries, nil
}

// ExpireStale cancels pending withdrawals created before now-olderThan, one
// atomic unit per request. It returns how many were cancelled; per-request
// failures are logged and skipped.
func (s *WithdrawalService) ExpireStale(ctx context.Context, olderThan time.Duration, batch int) (int, error) {
	var stale []domain.WithdrawalRequest
	cutoff := s.now().Add(-olderThan)
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		stale, err = tx.Withdrawals().ListPendingBefore(ctx, cutoff, batch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("withdrawal_service: list stale: %w", err)
	}

	cancelled := 0
	for _, req := range stale {
		if ctx.Err() != nil {
			return cancelled, ctx.Err()
		}
		entries, err := s.cancel(ctx, "", req.InventoryID, "expired")
		if err != nil {
			s.logger.WarnContext(ctx, "expire withdrawal failed",
				slog.String("withdrawal_id", req.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.pub.ledger(ctx, entries...)
		cancelled++
	}
	return cancelled, nil
}

// AddStock loads n available units of itemKey held by botID.
func (s *WithdrawalService) AddStock(ctx context.Context, itemKey, botID string, n int) ([]domain.StockUnit, error) {
	if itemKey == "" || n <= 0 {
		return nil, fmt.Errorf("withdrawal_service: add stock: need item key and n > 0: %w", domain.ErrInvalidState)
	}
	units := make([]domain.StockUnit, n)
	for i := range units {
		units[i] = domain.StockUnit{
			ID:      uuid.NewString(),
			ItemKey: itemKey,
			BotID:   botID,
			State:   domain.StockAvailable,
		}
	}
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Stock().Add(ctx, units)
	})
	if err != nil {
		return nil, fmt.Errorf("withdrawal_service: add stock %s: %w", itemKey, err)
	}
	return units, nil
}

// Available returns how many units of itemKey can be reserved.
func (s *WithdrawalService) Available(ctx context.Context, itemKey string) (int, error) {
	var n int
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		n, err = tx.Stock().CountAvailable(ctx, itemKey)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("withdrawal_service: available %s: %w", itemKey, err)
	}
	return n, nil
}

// inconsistent reports a pending item without its pending request row.
func inconsistent(inventoryID string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("item %s is pending without a request: %w", inventoryID, domain.ErrInternalInconsistency)
	}
	return err
}
