package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// DeltaRequest is one balance change routed through ApplyDelta.
type DeltaRequest struct {
	UserID string
	Delta  domain.Money
	Type   domain.LedgerType
	Meta   map[string]any
}

// ApplyDelta is the only way a balance changes. It must run inside a scoped
// atomic unit: it locks the balance row, rejects a change that would leave
// the balance negative with domain.ErrInsufficientFunds (nothing is written),
// then writes the new balance and its ledger entry.
func ApplyDelta(ctx context.Context, tx domain.Tx, req DeltaRequest, now time.Time) (domain.LedgerEntry, error) {
	if req.UserID == "" {
		return domain.LedgerEntry{}, fmt.Errorf("apply delta: empty user id: %w", domain.ErrInvalidState)
	}
	if !req.Type.Valid() {
		return domain.LedgerEntry{}, fmt.Errorf("apply delta: ledger type %q: %w", req.Type, domain.ErrInvalidState)
	}

	current, err := tx.Balances().LockForUpdate(ctx, req.UserID)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("apply delta: lock balance %s: %w", req.UserID, err)
	}
	next := current + req.Delta
	if next < 0 {
		return domain.LedgerEntry{}, fmt.Errorf("apply delta: %s has %s, needs %s: %w",
			req.UserID, current, req.Delta.Abs(), domain.ErrInsufficientFunds)
	}

	if err := tx.Balances().Set(ctx, req.UserID, next, now); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("apply delta: set balance %s: %w", req.UserID, err)
	}
	entry, err := tx.Ledger().Append(ctx, domain.LedgerEntry{
		UserID:        req.UserID,
		Type:          req.Type,
		AmountDelta:   req.Delta,
		BalanceBefore: current,
		BalanceAfter:  next,
		Meta:          req.Meta,
		CreatedAt:     now,
	})
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("apply delta: append ledger %s: %w", req.UserID, err)
	}
	return entry, nil
}

// LedgerService exposes balances and the ledger to standalone callers.
type LedgerService struct {
	atomic domain.Atomic
	pub    publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerService creates a LedgerService. bus may be nil.
func NewLedgerService(atomic domain.Atomic, bus domain.SignalBus, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		atomic: atomic,
		pub:    publisher{bus: bus, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Adjust applies one operator credit or debit in its own atomic unit.
func (s *LedgerService) Adjust(ctx context.Context, req DeltaRequest) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		entry, err = ApplyDelta(ctx, tx, req, s.now())
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger_service: adjust: %w", err)
	}

	s.logger.InfoContext(ctx, "balance adjusted",
		slog.String("user_id", req.UserID),
		slog.String("type", string(req.Type)),
		slog.String("delta", req.Delta.String()),
		slog.String("balance", entry.BalanceAfter.String()),
	)
	s.pub.ledger(ctx, entry)
	return entry, nil
}

// Balance returns the stored balance. A user with no balance row has zero.
func (s *LedgerService) Balance(ctx context.Context, userID string) (domain.UserBalance, error) {
	var bal domain.UserBalance
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		bal, err = tx.Balances().Get(ctx, userID)
		return err
	})
	if err != nil {
		return domain.UserBalance{}, fmt.Errorf("ledger_service: balance %s: %w", userID, err)
	}
	return bal, nil
}

// Entries returns a page of the user's ledger, newest first.
func (s *LedgerService) Entries(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		entries, err = tx.Ledger().ListByUser(ctx, userID, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger_service: entries %s: %w", userID, err)
	}
	return entries, nil
}

// VerifyReport summarises a successful chain replay.
type VerifyReport struct {
	UserID  string       `json:"user_id"`
	Entries int          `json:"entries"`
	Balance domain.Money `json:"balance"`
}

// Verify replays the user's ledger chain from zero and checks it against the
// stored balance. Any break returns domain.ErrInternalInconsistency.
//
// The balance row is locked before the chain is read so no delta can commit
// between the two reads.
func (s *LedgerService) Verify(ctx context.Context, userID string) (VerifyReport, error) {
	var (
		chain []domain.LedgerEntry
		bal   domain.Money
	)
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if bal, err = tx.Balances().LockForUpdate(ctx, userID); err != nil {
			return err
		}
		chain, err = tx.Ledger().Chain(ctx, userID)
		return err
	})
	if err != nil {
		return VerifyReport{}, fmt.Errorf("ledger_service: verify %s: %w", userID, err)
	}

	if err := verifyChain(chain, bal); err != nil {
		s.logger.ErrorContext(ctx, "ledger chain broken",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return VerifyReport{}, fmt.Errorf("ledger_service: verify %s: %w", userID, err)
	}
	return VerifyReport{UserID: userID, Entries: len(chain), Balance: bal}, nil
}

func verifyChain(chain []domain.LedgerEntry, stored domain.Money) error {
	var running domain.Money
	for _, e := range chain {
		if e.BalanceBefore != running {
			return fmt.Errorf("entry %d starts at %s, previous ended at %s: %w",
				e.ID, e.BalanceBefore, running, domain.ErrInternalInconsistency)
		}
		if e.BalanceAfter != e.BalanceBefore+e.AmountDelta {
			return fmt.Errorf("entry %d: %s + %s != %s: %w",
				e.ID, e.BalanceBefore, e.AmountDelta, e.BalanceAfter, domain.ErrInternalInconsistency)
		}
		if e.BalanceAfter < 0 {
			return fmt.Errorf("entry %d leaves %s: %w", e.ID, e.BalanceAfter, domain.ErrInternalInconsistency)
		}
		running = e.BalanceAfter
	}
	if running != stored {
		return fmt.Errorf("chain ends at %s, stored balance is %s: %w", running, stored, domain.ErrInternalInconsistency)
	}
	return nil
}
