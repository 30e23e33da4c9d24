package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/store/memory"
	"github.com/alanyoungcy/caseledger/internal/valuation"
)

type fakeSource struct {
	name   string
	quotes []domain.RawQuote
	err    error
	calls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchQuotes(context.Context) ([]domain.RawQuote, error) {
	f.calls++
	return f.quotes, f.err
}

type fakeLocks struct{ held bool }

func (l fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]domain.CatalogItem
	gets  int
}

func newMapCache() *mapCache { return &mapCache{items: map[string]domain.CatalogItem{}} }

func (c *mapCache) Set(_ context.Context, it domain.CatalogItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[it.ItemKey] = it
	return nil
}

func (c *mapCache) SetMany(ctx context.Context, items []domain.CatalogItem) error {
	for _, it := range items {
		_ = c.Set(ctx, it)
	}
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) (domain.CatalogItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	it, ok := c.items[key]
	if !ok {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	return it, nil
}

func (c *mapCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func usd(item string, price string) domain.RawQuote {
	return domain.RawQuote{ItemKey: item, RawPrice: decimal.RequireFromString(price), Currency: "USD"}
}

var cycleStart = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newValuationFixture(t *testing.T, sources ...domain.QuoteSource) (*memory.Store, *ValuationService, *time.Time) {
	t.Helper()
	st := memory.New()
	svc := NewValuationService(st, sources, nil, nil, nil, ValuationConfig{
		Params:       valuation.DefaultParams(),
		BaseCurrency: "USD",
		Rates:        map[string]float64{"EUR": 1.1},
	}, discardLogger())
	clock := cycleStart
	svc.now = func() time.Time { return clock }
	return st, svc, &clock
}

func catalogItem(t *testing.T, st *memory.Store, key string) domain.CatalogItem {
	t.Helper()
	var it domain.CatalogItem
	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		it, err = tx.Catalog().Get(ctx, key)
		return err
	}))
	return it
}

func quoteCount(t *testing.T, st *memory.Store) int {
	t.Helper()
	var n int
	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		qs, err := tx.Quotes().ListBefore(ctx, time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC), 0)
		n = len(qs)
		return err
	}))
	return n
}

func seedWindow(t *testing.T, st *memory.Store, key string, at time.Time, prices ...domain.Money) {
	t.Helper()
	qs := make([]domain.PriceQuote, len(prices))
	for i, p := range prices {
		qs[i] = domain.PriceQuote{ItemKey: key, Source: "seed", RawPrice: p, Currency: "USD", ObservedAt: at}
	}
	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Quotes().Append(ctx, qs)
	}))
}

func TestRunCycleFirstValuation(t *testing.T) {
	src := &fakeSource{name: "market-a", quotes: []domain.RawQuote{
		{ItemKey: "ak", RawPrice: decimal.RequireFromString("12.50"), Currency: "usd", Name: "AK-47 Redline", Image: "ak.png"},
	}}
	st, svc, _ := newValuationFixture(t, src)

	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Accepted)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.HistoryAdded)

	it := catalogItem(t, st, "ak")
	require.Equal(t, domain.Money(1250), it.Valuation)
	require.Equal(t, "AK-47 Redline", it.Name)
	require.Equal(t, 1, quoteCount(t, st))
}

func TestRunCycleNormalisesCurrency(t *testing.T) {
	src := &fakeSource{name: "market-eu", quotes: []domain.RawQuote{
		{ItemKey: "ak", RawPrice: decimal.RequireFromString("10.00"), Currency: "EUR"},
		{ItemKey: "m4", RawPrice: decimal.RequireFromString("10.00"), Currency: "GBP"},
		{ItemKey: "awp", RawPrice: decimal.RequireFromString("-1"), Currency: "USD"},
	}}
	st, svc, _ := newValuationFixture(t, src)

	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Dropped)
	require.Equal(t, domain.Money(1100), catalogItem(t, st, "ak").Valuation)
}

func TestProcessQuotesAnomalyGate(t *testing.T) {
	tests := []struct {
		name     string
		raw      domain.Money
		accepted bool
		want     domain.Money
	}{
		{name: "within K-1 MADs", raw: 10500, accepted: true, want: 10150},
		{name: "beyond K+1 MADs", raw: 10700, accepted: false, want: 10000},
		{name: "below K+1 MADs", raw: 9300, accepted: false, want: 10000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, svc, _ := newValuationFixture(t)
			seedCatalog(t, st, domain.CatalogItem{ItemKey: "ak", Valuation: 10000})
			seedWindow(t, st, "ak", cycleStart.Add(-time.Hour), 9800, 10000, 10200, 10000, 9900)

			report, err := svc.ProcessQuotes(context.Background(), []domain.PriceQuote{
				{ItemKey: "ak", Source: "m", RawPrice: tt.raw, Currency: "USD", ObservedAt: cycleStart},
			})
			require.NoError(t, err)
			require.Equal(t, tt.want, catalogItem(t, st, "ak").Valuation)
			if tt.accepted {
				require.Equal(t, 1, report.Accepted)
				require.Equal(t, 6, quoteCount(t, st))
			} else {
				require.Equal(t, 1, report.Rejected)
				require.Len(t, report.Rejections, 1)
				require.Equal(t, 5, quoteCount(t, st))
			}
		})
	}
}

func TestProcessQuotesIgnoresStaleWindow(t *testing.T) {
	st, svc, _ := newValuationFixture(t)
	seedCatalog(t, st, domain.CatalogItem{ItemKey: "ak", Valuation: 10000})
	seedWindow(t, st, "ak", cycleStart.Add(-100*time.Hour), 10000, 10000, 10000)

	report, err := svc.ProcessQuotes(context.Background(), []domain.PriceQuote{
		{ItemKey: "ak", Source: "m", RawPrice: 12000, Currency: "USD", ObservedAt: cycleStart},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Accepted)
	require.Equal(t, domain.Money(10600), catalogItem(t, st, "ak").Valuation)
}

func TestProcessQuotesVolatilityCap(t *testing.T) {
	tests := []struct {
		name  string
		alpha float64
		raw   domain.Money
		want  domain.Money
	}{
		{name: "spike clamps up", alpha: 0.3, raw: 100000, want: 13000},
		{name: "smoothing alone bounds a crash", alpha: 0.3, raw: 100, want: 7030},
		{name: "crash clamps down", alpha: 1, raw: 100, want: 7000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, svc, _ := newValuationFixture(t)
			svc.params.Alpha = tt.alpha
			seedCatalog(t, st, domain.CatalogItem{ItemKey: "ak", Valuation: 10000})

			_, err := svc.ProcessQuotes(context.Background(), []domain.PriceQuote{
				{ItemKey: "ak", Source: "m", RawPrice: tt.raw, Currency: "USD", ObservedAt: cycleStart},
			})
			require.NoError(t, err)
			require.Equal(t, tt.want, catalogItem(t, st, "ak").Valuation)
		})
	}
}

func TestProcessQuotesCapsAgainstCycleStart(t *testing.T) {
	st, svc, _ := newValuationFixture(t)
	seedCatalog(t, st, domain.CatalogItem{ItemKey: "ak", Valuation: 10000})

	_, err := svc.ProcessQuotes(context.Background(), []domain.PriceQuote{
		{ItemKey: "ak", Source: "a", RawPrice: 100000, Currency: "USD", ObservedAt: cycleStart},
		{ItemKey: "ak", Source: "b", RawPrice: 100000, Currency: "USD", ObservedAt: cycleStart},
	})
	require.NoError(t, err)
	require.Equal(t, domain.Money(13000), catalogItem(t, st, "ak").Valuation)
}

func TestRunCycleReplayIsNoop(t *testing.T) {
	src := &fakeSource{name: "m", quotes: []domain.RawQuote{usd("ak", "10.00"), usd("m4", "20.00")}}
	bus := newRecordingBus()
	st, svc, clock := newValuationFixture(t, src)
	svc.pub = publisher{bus: bus, logger: discardLogger()}

	first, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.False(t, first.Replayed)
	require.Equal(t, 2, bus.count(domain.ChannelValuations))

	*clock = clock.Add(5 * time.Minute)
	second, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.Digest, second.Digest)

	it := catalogItem(t, st, "ak")
	require.Equal(t, domain.Money(1000), it.Valuation)
	require.Equal(t, cycleStart.Add(5*time.Minute), it.CheckedAt)
	require.Equal(t, cycleStart, it.UpdatedAt)
	require.Equal(t, 2, quoteCount(t, st))
	require.Equal(t, 2, bus.count(domain.ChannelValuations))
}

func TestQuoteDigestOrderIndependent(t *testing.T) {
	a := domain.PriceQuote{ItemKey: "ak", Source: "m", RawPrice: 100, Currency: "USD", ObservedAt: cycleStart}
	b := domain.PriceQuote{ItemKey: "m4", Source: "m", RawPrice: 200, Currency: "USD"}
	require.Equal(t, QuoteDigest([]domain.PriceQuote{a, b}), QuoteDigest([]domain.PriceQuote{b, a}))

	b.RawPrice = 201
	require.NotEqual(t, QuoteDigest([]domain.PriceQuote{a}), QuoteDigest([]domain.PriceQuote{a, b}))
}

func TestProcessQuotesMateriality(t *testing.T) {
	st, svc, clock := newValuationFixture(t)
	ctx := context.Background()

	_, err := svc.ProcessQuotes(ctx, []domain.PriceQuote{{ItemKey: "ak", Source: "m", RawPrice: 10000, Currency: "USD", ObservedAt: *clock}})
	require.NoError(t, err)

	*clock = clock.Add(time.Minute)
	report, err := svc.ProcessQuotes(ctx, []domain.PriceQuote{{ItemKey: "ak", Source: "m", RawPrice: 10166, Currency: "USD", ObservedAt: *clock}})
	require.NoError(t, err)
	require.Zero(t, report.HistoryAdded)
	require.Equal(t, domain.Money(10050), catalogItem(t, st, "ak").Valuation)

	*clock = clock.Add(time.Minute)
	report, err = svc.ProcessQuotes(ctx, []domain.PriceQuote{{ItemKey: "ak", Source: "m", RawPrice: 11000, Currency: "USD", ObservedAt: *clock}})
	require.NoError(t, err)
	require.Equal(t, 1, report.HistoryAdded)

	hist, err := svc.History(ctx, "ak", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, domain.Money(10335), hist[0].Valuation)
}

func TestRunCycleSourceFailures(t *testing.T) {
	down := &fakeSource{name: "down", err: errors.New("connection refused")}
	up := &fakeSource{name: "up", quotes: []domain.RawQuote{usd("ak", "10.00")}}
	st, svc, _ := newValuationFixture(t, down, up)

	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"down"}, report.FailedSources)
	require.Equal(t, domain.Money(1000), catalogItem(t, st, "ak").Valuation)

	_, svc2, _ := newValuationFixture(t, down)
	_, err = svc2.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	src := &fakeSource{name: "m", quotes: []domain.RawQuote{usd("ak", "10.00")}}
	_, svc, _ := newValuationFixture(t, src)
	svc.locks = fakeLocks{held: true}

	report, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Zero(t, src.calls)
}

func TestCurrentReadsThroughCache(t *testing.T) {
	st, svc, _ := newValuationFixture(t)
	cache := newMapCache()
	svc.cache = cache
	seedCatalog(t, st, domain.CatalogItem{ItemKey: "ak", Valuation: 1234})
	ctx := context.Background()

	it, err := svc.Current(ctx, "ak")
	require.NoError(t, err)
	require.Equal(t, domain.Money(1234), it.Valuation)
	require.Contains(t, cache.items, "ak")

	cache.items["ak"] = domain.CatalogItem{ItemKey: "ak", Valuation: 999}
	it, err = svc.Current(ctx, "ak")
	require.NoError(t, err)
	require.Equal(t, domain.Money(999), it.Valuation)

	_, err = svc.Current(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunCycleRefreshesCache(t *testing.T) {
	src := &fakeSource{name: "m", quotes: []domain.RawQuote{usd("ak", "10.00")}}
	_, svc, _ := newValuationFixture(t, src)
	cache := newMapCache()
	svc.cache = cache

	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.Money(1000), cache.items["ak"].Valuation)
}

// cycleOrderAtomic records the order of cycle repo calls inside each unit.
type cycleOrderAtomic struct {
	*memory.Store
	calls []string
}

func (a *cycleOrderAtomic) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return a.Store.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, cycleOrderTx{Tx: tx, a: a})
	})
}

type cycleOrderTx struct {
	domain.Tx
	a *cycleOrderAtomic
}

func (t cycleOrderTx) Cycles() domain.CycleRepo {
	return cycleOrderRepo{CycleRepo: t.Tx.Cycles(), a: t.a}
}

type cycleOrderRepo struct {
	domain.CycleRepo
	a *cycleOrderAtomic
}

func (r cycleOrderRepo) Lock(ctx context.Context) error {
	r.a.calls = append(r.a.calls, "lock")
	return r.CycleRepo.Lock(ctx)
}

func (r cycleOrderRepo) Last(ctx context.Context) (domain.PriceCycle, error) {
	r.a.calls = append(r.a.calls, "last")
	return r.CycleRepo.Last(ctx)
}

func (r cycleOrderRepo) Record(ctx context.Context, c domain.PriceCycle) error {
	r.a.calls = append(r.a.calls, "record")
	return r.CycleRepo.Record(ctx, c)
}

func TestProcessQuotesLocksCycleFirst(t *testing.T) {
	recorder := &cycleOrderAtomic{Store: memory.New()}
	svc := NewValuationService(recorder, nil, nil, nil, nil, ValuationConfig{
		Params:       valuation.DefaultParams(),
		BaseCurrency: "USD",
	}, discardLogger())

	_, err := svc.ProcessQuotes(context.Background(), []domain.PriceQuote{
		{ItemKey: "ak", Source: "market-a", RawPrice: 1250, Currency: "USD", ObservedAt: cycleStart},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"lock", "last", "record"}, recorder.calls)
}
