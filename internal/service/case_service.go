package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/gamecfg"
	"github.com/alanyoungcy/caseledger/internal/outcome"
)

// CaseService sells case openings. The won item is priced from the
// valuation index at the moment of the drop.
type CaseService struct {
	atomic domain.Atomic
	cases  *gamecfg.Config
	rng    outcome.Rand
	pub    publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewCaseService creates a CaseService.
func NewCaseService(atomic domain.Atomic, cases *gamecfg.Config, rng outcome.Rand, bus domain.SignalBus, logger *slog.Logger) *CaseService {
	return &CaseService{
		atomic: atomic,
		cases:  cases,
		rng:    rng,
		pub:    publisher{bus: bus, logger: logger},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DroppedItem is the public view of a case drop.
type DroppedItem struct {
	ItemKey string       `json:"item_key"`
	Name    string       `json:"name"`
	Image   string       `json:"image"`
	Price   domain.Money `json:"price"`
}

// OpenResult is returned by Open.
type OpenResult struct {
	Item        DroppedItem  `json:"item"`
	Balance     domain.Money `json:"balance"`
	InventoryID string       `json:"inventory_id"`
	Probability float64      `json:"probability"`
}

// Open charges the case price, draws an item and adds it to the user's
// inventory at its live valuation, all in one atomic unit.
func (s *CaseService) Open(ctx context.Context, userID, caseID string) (OpenResult, error) {
	cs, err := s.cases.Case(caseID)
	if err != nil {
		return OpenResult{}, fmt.Errorf("case_service: open: %w", err)
	}

	var (
		res   OpenResult
		entry domain.LedgerEntry
	)
	now := s.now()
	err = s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		entry, err = ApplyDelta(ctx, tx, DeltaRequest{
			UserID: userID,
			Delta:  -cs.Price,
			Type:   domain.LedgerCasePurchase,
			Meta:   map[string]any{"case_id": cs.ID},
		}, now)
		if err != nil {
			return err
		}

		idx, prob, err := outcome.PickWeighted(cs.Weights(), s.rng)
		if err != nil {
			return fmt.Errorf("case %s: %w", cs.ID, err)
		}
		drop := cs.Items[idx]

		live, err := tx.Catalog().Get(ctx, drop.ItemKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("case %s drops %s with no valuation: %w", cs.ID, drop.ItemKey, domain.ErrInternalInconsistency)
			}
			return err
		}

		invID := uuid.NewString()
		if err := tx.Inventory().Create(ctx, domain.InventoryItem{
			ID:            invID,
			UserID:        userID,
			ItemKey:       live.ItemKey,
			WonValue:      live.Valuation,
			Source:        "case:" + cs.ID,
			State:         domain.InventoryHeld,
			WithdrawState: domain.WithdrawNone,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		res = OpenResult{
			Item: DroppedItem{
				ItemKey: live.ItemKey,
				Name:    live.Name,
				Image:   live.Image,
				Price:   live.Valuation,
			},
			Balance:     entry.BalanceAfter,
			InventoryID: invID,
			Probability: prob,
		}
		return nil
	})
	if err != nil {
		return OpenResult{}, fmt.Errorf("case_service: open %s: %w", caseID, err)
	}

	s.logger.InfoContext(ctx, "case opened",
		slog.String("user_id", userID),
		slog.String("case_id", caseID),
		slog.String("item_key", res.Item.ItemKey),
		slog.String("price", res.Item.Price.String()),
	)
	s.pub.ledger(ctx, entry)
	return res, nil
}

// CaseDrop is one entry of a case's drop table.
type CaseDrop struct {
	ItemKey     string       `json:"item_key"`
	Name        string       `json:"name"`
	Image       string       `json:"image"`
	Price       domain.Money `json:"price"`
	Probability float64      `json:"probability"`
}

// CaseView is the public listing of a case.
type CaseView struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Image string       `json:"image"`
	Price domain.Money `json:"price"`
	Items []CaseDrop   `json:"items"`
}

// List returns every configured case with live valuations of its drops.
// Items that have no valuation yet are listed with a zero price.
func (s *CaseService) List(ctx context.Context) ([]CaseView, error) {
	keys := make([]string, 0)
	for _, cs := range s.cases.Cases {
		for _, it := range cs.Items {
			keys = append(keys, it.ItemKey)
		}
	}

	var live map[string]domain.CatalogItem
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		live, err = tx.Catalog().GetMany(ctx, keys)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("case_service: list: %w", err)
	}

	views := make([]CaseView, 0, len(s.cases.Cases))
	for _, cs := range s.cases.Cases {
		var total int64
		for _, w := range cs.Weights() {
			total += w
		}
		v := CaseView{ID: cs.ID, Name: cs.Name, Image: cs.Image, Price: cs.Price}
		for _, it := range cs.Items {
			drop := CaseDrop{ItemKey: it.ItemKey}
			if total > 0 {
				drop.Probability = float64(it.Weight) / float64(total)
			}
			if c, ok := live[it.ItemKey]; ok {
				drop.Name, drop.Image, drop.Price = c.Name, c.Image, c.Valuation
			}
			v.Items = append(v.Items, drop)
		}
		views = append(views, v)
	}
	return views, nil
}
