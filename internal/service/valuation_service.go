package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/caseledger/internal/domain"
	"github.com/alanyoungcy/caseledger/internal/valuation"
)

const cycleLockKey = "price-cycle"

// ValuationConfig tunes the valuation cycle.
type ValuationConfig struct {
	Params       valuation.Params
	BaseCurrency string
	// Rates converts one unit of a currency into the base currency.
	Rates   map[string]float64
	LockTTL time.Duration
}

// ValuationService runs price cycles and serves the valuation index.
type ValuationService struct {
	atomic  domain.Atomic
	sources []domain.QuoteSource
	cache   domain.ValuationCache
	locks   domain.LockManager
	pub     publisher
	params  valuation.Params
	base    string
	rates   map[string]decimal.Decimal
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewValuationService creates a ValuationService. cache, locks and bus may
// be nil.
func NewValuationService(
	atomic domain.Atomic,
	sources []domain.QuoteSource,
	cache domain.ValuationCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg ValuationConfig,
	logger *slog.Logger,
) *ValuationService {
	base := strings.ToUpper(cfg.BaseCurrency)
	rates := map[string]decimal.Decimal{base: decimal.NewFromInt(1)}
	for cur, r := range cfg.Rates {
		cur = strings.ToUpper(cur)
		if cur == base {
			continue
		}
		rates[cur] = decimal.NewFromFloat(r)
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &ValuationService{
		atomic:  atomic,
		sources: sources,
		cache:   cache,
		locks:   locks,
		pub:     publisher{bus: bus, logger: logger},
		params:  cfg.Params,
		base:    base,
		rates:   rates,
		lockTTL: ttl,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Rejection describes a quote the outlier gate refused.
type Rejection struct {
	ItemKey string       `json:"item_key"`
	Source  string       `json:"source"`
	Price   domain.Money `json:"price"`
	Median  string       `json:"median"`
	MAD     string       `json:"mad"`
}

// CycleReport summarises one price cycle.
type CycleReport struct {
	ID            string        `json:"id,omitempty"`
	Digest        string        `json:"digest,omitempty"`
	Skipped       bool          `json:"skipped,omitempty"`
	Replayed      bool          `json:"replayed,omitempty"`
	Accepted      int           `json:"accepted"`
	Rejected      int           `json:"rejected"`
	Dropped       int           `json:"dropped"`
	Updated       int           `json:"updated"`
	HistoryAdded  int           `json:"history_added"`
	FailedSources []string      `json:"failed_sources,omitempty"`
	Rejections    []Rejection   `json:"rejections,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// RunCycle fetches every source, then filters, smooths, caps and commits the
// batch in one atomic unit. Another instance holding the cycle lock makes
// this call a skipped no-op. Source failures are logged and skipped; only
// the failure of every source fails the cycle.
func (s *ValuationService) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, cycleLockKey, s.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.InfoContext(ctx, "price cycle already running elsewhere, skipping")
				return CycleReport{Skipped: true}, nil
			}
			return CycleReport{}, fmt.Errorf("valuation_service: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	raw, failed := s.fetchAll(ctx)
	if len(s.sources) > 0 && len(failed) == len(s.sources) {
		return CycleReport{FailedSources: failed}, fmt.Errorf("valuation_service: all %d sources failed: %w",
			len(failed), domain.ErrSourceUnavailable)
	}

	now := s.now()
	quotes, dropped := s.normalise(ctx, raw, now)
	report, err := s.ProcessQuotes(ctx, quotes)
	report.Dropped += dropped
	report.FailedSources = failed
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}

	s.logger.InfoContext(ctx, "price cycle complete",
		slog.String("cycle_id", report.ID),
		slog.Int("accepted", report.Accepted),
		slog.Int("rejected", report.Rejected),
		slog.Int("dropped", report.Dropped),
		slog.Int("updated", report.Updated),
		slog.Bool("replayed", report.Replayed),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

type sourceBatch struct {
	source string
	quotes []domain.RawQuote
}

// fetchAll queries every source concurrently. It returns the batches that
// succeeded and the names of those that failed.
func (s *ValuationService) fetchAll(ctx context.Context) ([]sourceBatch, []string) {
	results := make([]sourceBatch, len(s.sources))
	errs := make([]error, len(s.sources))

	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			qs, err := src.FetchQuotes(ctx)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = sourceBatch{source: src.Name(), quotes: qs}
			return nil
		})
	}
	_ = g.Wait()

	var (
		ok     []sourceBatch
		failed []string
	)
	for i, src := range s.sources {
		if errs[i] != nil {
			s.logger.WarnContext(ctx, "quote source failed, keeping previous valuations",
				slog.String("source", src.Name()),
				slog.String("error", errs[i].Error()),
			)
			failed = append(failed, src.Name())
			continue
		}
		ok = append(ok, results[i])
	}
	return ok, failed
}

// normalise converts raw quotes into the base currency. Quotes in an unknown
// currency, without an item key or with a non-positive price are dropped.
func (s *ValuationService) normalise(ctx context.Context, batches []sourceBatch, now time.Time) ([]domain.PriceQuote, int) {
	var (
		out     []domain.PriceQuote
		dropped int
	)
	for _, b := range batches {
		for _, rq := range b.quotes {
			cur := strings.ToUpper(rq.Currency)
			if cur == "" {
				cur = s.base
			}
			rate, ok := s.rates[cur]
			if !ok || rq.ItemKey == "" || !rq.RawPrice.IsPositive() {
				s.logger.DebugContext(ctx, "dropping quote",
					slog.String("source", b.source),
					slog.String("item_key", rq.ItemKey),
					slog.String("currency", rq.Currency),
					slog.String("raw_price", rq.RawPrice.String()),
				)
				dropped++
				continue
			}
			price := domain.MoneyFromDecimal(rq.RawPrice.Mul(rate))
			if price <= 0 {
				dropped++
				continue
			}
			out = append(out, domain.PriceQuote{
				ItemKey:    rq.ItemKey,
				Source:     b.source,
				RawPrice:   price,
				Currency:   cur,
				Name:       rq.Name,
				Image:      rq.Image,
				ObservedAt: now,
			})
		}
	}
	return out, dropped
}

// QuoteDigest identifies a normalised quote batch independently of order and
// observation time.
func QuoteDigest(quotes []domain.PriceQuote) string {
	lines := make([]string, len(quotes))
	for i, q := range quotes {
		lines[i] = fmt.Sprintf("%s|%s|%d|%s", q.Source, q.ItemKey, int64(q.RawPrice), q.Currency)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// ProcessQuotes runs one normalised batch through the outlier gate, the EMA
// and the volatility cap and commits the result in a single atomic unit. A
// batch identical to the previous cycle's only refreshes checked_at.
func (s *ValuationService) ProcessQuotes(ctx context.Context, quotes []domain.PriceQuote) (CycleReport, error) {
	report := CycleReport{ID: uuid.NewString(), Digest: QuoteDigest(quotes)}
	now := s.now()

	sorted := make([]domain.PriceQuote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ItemKey != b.ItemKey {
			return a.ItemKey < b.ItemKey
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ObservedAt.Before(b.ObservedAt)
	})

	keys := make([]string, 0)
	for i, q := range sorted {
		if i == 0 || sorted[i-1].ItemKey != q.ItemKey {
			keys = append(keys, q.ItemKey)
		}
	}

	var updated []domain.CatalogItem
	var changed []domain.CatalogItem
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		updated, changed = nil, nil
		report.Accepted, report.Rejected, report.Updated, report.HistoryAdded = 0, 0, 0, 0
		report.Rejections, report.Replayed = nil, false

		if err := tx.Cycles().Lock(ctx); err != nil {
			return err
		}
		last, err := tx.Cycles().Last(ctx)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil && last.Digest == report.Digest {
			report.Replayed = true
			return tx.Catalog().Touch(ctx, keys, now)
		}

		windows, err := tx.Quotes().Window(ctx, keys, now.Add(-s.params.Window))
		if err != nil {
			return err
		}
		current, err := tx.Catalog().GetMany(ctx, keys)
		if err != nil {
			return err
		}

		running := make(map[string]domain.Money, len(keys))
		meta := make(map[string]domain.CatalogItem, len(keys))
		var accepted []domain.PriceQuote
		for _, q := range sorted {
			res := s.params.Check(windows[q.ItemKey], q.RawPrice)
			if !res.Accepted {
				report.Rejected++
				report.Rejections = append(report.Rejections, Rejection{
					ItemKey: q.ItemKey,
					Source:  q.Source,
					Price:   q.RawPrice,
					Median:  res.Median.StringFixed(2),
					MAD:     res.MAD.StringFixed(2),
				})
				s.logger.WarnContext(ctx, "quote rejected",
					slog.String("item_key", q.ItemKey),
					slog.String("source", q.Source),
					slog.String("price", q.RawPrice.String()),
					slog.String("median", res.Median.StringFixed(2)),
					slog.String("deviation", res.Deviation.StringFixed(2)),
					slog.String("limit", res.Limit.StringFixed(2)),
					slog.String("error", domain.ErrAnomalousQuote.Error()),
				)
				continue
			}
			report.Accepted++
			windows[q.ItemKey] = append(windows[q.ItemKey], q.RawPrice)
			accepted = append(accepted, q)

			var prev, start *domain.Money
			if c, ok := current[q.ItemKey]; ok {
				v := c.Valuation
				start, prev = &v, &v
			}
			if r, ok := running[q.ItemKey]; ok {
				prev = &r
			}
			candidate := valuation.EMA(prev, q.RawPrice, s.params.Alpha)
			running[q.ItemKey] = valuation.Cap(start, candidate, s.params.Cap)

			m := meta[q.ItemKey]
			if q.Name != "" {
				m.Name = q.Name
			}
			if q.Image != "" {
				m.Image = q.Image
			}
			meta[q.ItemKey] = m
		}

		if err := tx.Quotes().Append(ctx, accepted); err != nil {
			return err
		}

		for _, k := range keys {
			v, ok := running[k]
			if !ok {
				continue
			}
			item := domain.CatalogItem{
				ItemKey:   k,
				Name:      meta[k].Name,
				Image:     meta[k].Image,
				Valuation: v,
				CheckedAt: now,
				UpdatedAt: now,
			}
			if prev, had := current[k]; had {
				if item.Name == "" {
					item.Name = prev.Name
				}
				if item.Image == "" {
					item.Image = prev.Image
				}
			}
			if err := tx.Catalog().Upsert(ctx, item); err != nil {
				return err
			}
			updated = append(updated, item)
			if prev, had := current[k]; !had || prev.Valuation != v {
				changed = append(changed, item)
			}

			var lastVal *domain.Money
			lastEntry, err := tx.History().Last(ctx, k)
			switch {
			case err == nil:
				lastVal = &lastEntry.Valuation
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
			if valuation.IsMaterial(lastVal, v, s.params.Materiality) {
				if err := tx.History().Append(ctx, domain.ValuationHistoryEntry{
					ItemKey:    k,
					Valuation:  v,
					RecordedAt: now,
				}); err != nil {
					return err
				}
				report.HistoryAdded++
			}
		}
		report.Updated = len(updated)

		return tx.Cycles().Record(ctx, domain.PriceCycle{
			ID:          report.ID,
			Digest:      report.Digest,
			Accepted:    report.Accepted,
			Rejected:    report.Rejected,
			Items:       len(updated),
			CompletedAt: now,
		})
	})
	if err != nil {
		return report, fmt.Errorf("valuation_service: process cycle: %w", err)
	}

	if s.cache != nil && len(updated) > 0 {
		if err := s.cache.SetMany(ctx, updated); err != nil {
			s.logger.WarnContext(ctx, "refresh valuation cache failed", slog.String("error", err.Error()))
		}
	}
	for _, it := range changed {
		s.pub.publish(ctx, domain.ChannelValuations, map[string]any{
			"event":     "valuation_changed",
			"item_key":  it.ItemKey,
			"valuation": it.Valuation,
			"cycle_id":  report.ID,
			"timestamp": now.Format(time.RFC3339Nano),
		})
	}
	return report, nil
}

// Current returns the authoritative valuation of itemKey, reading through
// the cache.
func (s *ValuationService) Current(ctx context.Context, itemKey string) (domain.CatalogItem, error) {
	if s.cache != nil {
		it, err := s.cache.Get(ctx, itemKey)
		if err == nil {
			return it, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "valuation cache read failed",
				slog.String("item_key", itemKey),
				slog.String("error", err.Error()),
			)
		}
	}

	var it domain.CatalogItem
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		it, err = tx.Catalog().Get(ctx, itemKey)
		return err
	})
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("valuation_service: current %s: %w", itemKey, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, it); err != nil {
			s.logger.WarnContext(ctx, "valuation cache fill failed",
				slog.String("item_key", itemKey),
				slog.String("error", err.Error()),
			)
		}
	}
	return it, nil
}

// History returns the material valuation changes of itemKey, newest first.
func (s *ValuationService) History(ctx context.Context, itemKey string, opts domain.ListOpts) ([]domain.ValuationHistoryEntry, error) {
	var entries []domain.ValuationHistoryEntry
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		entries, err = tx.History().List(ctx, itemKey, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("valuation_service: history %s: %w", itemKey, err)
	}
	return entries, nil
}

// Catalog returns a page of current valuations.
func (s *ValuationService) Catalog(ctx context.Context, opts domain.ListOpts) ([]domain.CatalogItem, error) {
	var items []domain.CatalogItem
	err := s.atomic.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		items, err = tx.Catalog().List(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("valuation_service: catalog: %w", err)
	}
	return items, nil
}
