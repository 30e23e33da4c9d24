package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/gamecfg"
	"github.com/alanyoungcy/caseledger/internal/store/memory"
)

func testCases() *gamecfg.Config {
	cfg := gamecfg.Defaults()
	cfg.Cases = []gamecfg.Case{{
		ID:    "starter",
		Name:  "Starter",
		Price: 10000,
		Items: []gamecfg.CaseItem{
			{ItemKey: "common", Weight: 90},
			{ItemKey: "rare", Weight: 10},
		},
	}}
	return &cfg
}

func TestOpenCaseScenario(t *testing.T) {
	st := memory.New()
	seedBalance(t, st, "u1", 100000)
	seedCatalog(t, st,
		domain.CatalogItem{ItemKey: "common", Name: "P250 Sand Dune", Image: "p250.png", Valuation: 25000},
		domain.CatalogItem{ItemKey: "rare", Name: "AWP Asiimov", Valuation: 900000},
	)
	bus := newRecordingBus()
	svc := NewCaseService(st, testCases(), &seqRand{draws: []int64{5}}, bus, discardLogger())

	res, err := svc.Open(context.Background(), "u1", "starter")
	require.NoError(t, err)
	require.Equal(t, domain.Money(90000), res.Balance)
	require.Equal(t, "P250 Sand Dune", res.Item.Name)
	require.Equal(t, domain.Money(25000), res.Item.Price)
	require.InDelta(t, 0.9, res.Probability, 1e-12)

	chain := chainOf(t, st, "u1")
	require.Len(t, chain, 2)
	last := chain[1]
	require.Equal(t, domain.LedgerCasePurchase, last.Type)
	require.Equal(t, domain.Money(-10000), last.AmountDelta)
	require.Equal(t, domain.Money(100000), last.BalanceBefore)
	require.Equal(t, domain.Money(90000), last.BalanceAfter)

	it := inventoryItem(t, st, res.InventoryID)
	require.Equal(t, "u1", it.UserID)
	require.Equal(t, domain.Money(25000), it.WonValue)
	require.Equal(t, "case:starter", it.Source)
	require.Equal(t, domain.WithdrawNone, it.WithdrawState)
	require.Equal(t, 1, bus.count(domain.ChannelLedger))
}

func TestOpenCaseUsesLiveValuation(t *testing.T) {
	st := memory.New()
	seedBalance(t, st, "u1", 100000)
	seedCatalog(t, st, domain.CatalogItem{ItemKey: "common", Valuation: 25000}, domain.CatalogItem{ItemKey: "rare", Valuation: 1})
	svc := NewCaseService(st, testCases(), &seqRand{draws: []int64{0, 0}}, nil, discardLogger())

	first, err := svc.Open(context.Background(), "u1", "starter")
	require.NoError(t, err)
	seedCatalog(t, st, domain.CatalogItem{ItemKey: "common", Valuation: 31000})
	second, err := svc.Open(context.Background(), "u1", "starter")
	require.NoError(t, err)

	require.Equal(t, domain.Money(25000), first.Item.Price)
	require.Equal(t, domain.Money(31000), second.Item.Price)
}

func TestOpenCaseInsufficientFunds(t *testing.T) {
	st := memory.New()
	seedBalance(t, st, "u1", 9999)
	seedCatalog(t, st, domain.CatalogItem{ItemKey: "common", Valuation: 25000})
	svc := NewCaseService(st, testCases(), &seqRand{draws: []int64{0}}, nil, discardLogger())

	_, err := svc.Open(context.Background(), "u1", "starter")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.Equal(t, domain.Money(9999), balanceOf(t, st, "u1"))
	require.Len(t, chainOf(t, st, "u1"), 1)

	items, err := NewInventoryService(st, nil, discardLogger()).List(context.Background(), "u1", domain.ListOpts{})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestOpenCaseWithoutValuationRollsBack(t *testing.T) {
	st := memory.New()
	seedBalance(t, st, "u1", 100000)
	svc := NewCaseService(st, testCases(), &seqRand{draws: []int64{0}}, nil, discardLogger())

	_, err := svc.Open(context.Background(), "u1", "starter")
	require.ErrorIs(t, err, domain.ErrInternalInconsistency)
	require.Equal(t, domain.Money(100000), balanceOf(t, st, "u1"))
}

func TestOpenUnknownCase(t *testing.T) {
	svc := NewCaseService(memory.New(), testCases(), &seqRand{}, nil, discardLogger())
	_, err := svc.Open(context.Background(), "u1", "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListCases(t *testing.T) {
	st := memory.New()
	seedCatalog(t, st, domain.CatalogItem{ItemKey: "common", Name: "P250", Valuation: 25000})
	svc := NewCaseService(st, testCases(), &seqRand{}, nil, discardLogger())

	views, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Len(t, views[0].Items, 2)
	require.Equal(t, domain.Money(25000), views[0].Items[0].Price)
	require.InDelta(t, 0.9, views[0].Items[0].Probability, 1e-12)
	require.Zero(t, views[0].Items[1].Price)
}
