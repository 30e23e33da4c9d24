// Package valuation holds the pure pricing math used by the valuation cycle:
// the median/MAD outlier gate, exponential smoothing, the per-cycle volatility
// cap and the history materiality test. Nothing here touches storage.
package valuation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// Params are the tunables of the valuation pipeline.
type Params struct {
	// Window is how far back accepted quotes feed the outlier gate.
	Window time.Duration
	// K is the MAD multiple beyond which a quote is anomalous.
	K float64
	// MinSamples is the window size below which every quote is accepted.
	MinSamples int
	// ZeroMADFraction replaces a zero MAD with median*fraction.
	ZeroMADFraction float64
	// Alpha is the EMA weight of the new quote.
	Alpha float64
	// Cap is the largest fractional move allowed per cycle.
	Cap float64
	// Materiality is the relative change that earns a history row.
	Materiality float64
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		Window:          72 * time.Hour,
		K:               6,
		MinSamples:      3,
		ZeroMADFraction: 0.01,
		Alpha:           0.3,
		Cap:             0.30,
		Materiality:     0.01,
	}
}

// FilterResult describes one outlier gate decision.
type FilterResult struct {
	Accepted  bool
	Samples   int
	Median    decimal.Decimal
	MAD       decimal.Decimal
	Deviation decimal.Decimal
	Limit     decimal.Decimal
}

// Median returns the median of xs. xs is not modified.
func Median(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(xs))
	copy(sorted, xs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

// MAD returns the median and the median absolute deviation of xs.
func MAD(xs []decimal.Decimal) (median, mad decimal.Decimal) {
	median = Median(xs)
	devs := make([]decimal.Decimal, len(xs))
	for i, x := range xs {
		devs[i] = x.Sub(median).Abs()
	}
	return median, Median(devs)
}

// Check runs the outlier gate for raw against the trailing window.
func (p Params) Check(window []domain.Money, raw domain.Money) FilterResult {
	res := FilterResult{Accepted: true, Samples: len(window)}
	if len(window) < p.MinSamples {
		return res
	}

	xs := make([]decimal.Decimal, len(window))
	for i, m := range window {
		xs[i] = m.Decimal()
	}
	res.Median, res.MAD = MAD(xs)

	dispersion := res.MAD
	if dispersion.IsZero() {
		dispersion = res.Median.Mul(decimal.NewFromFloat(p.ZeroMADFraction))
	}
	res.Limit = dispersion.Mul(decimal.NewFromFloat(p.K))
	res.Deviation = raw.Decimal().Sub(res.Median).Abs()
	res.Accepted = res.Deviation.LessThanOrEqual(res.Limit)
	return res
}

// EMA blends raw into previous with weight alpha. With no previous valuation
// raw is returned unchanged.
func EMA(previous *domain.Money, raw domain.Money, alpha float64) domain.Money {
	if previous == nil {
		return raw
	}
	a := decimal.NewFromFloat(alpha)
	blended := a.Mul(raw.Decimal()).Add(decimal.NewFromInt(1).Sub(a).Mul(previous.Decimal()))
	return domain.MoneyFromDecimal(blended)
}

// Cap clamps candidate to [previous*(1-v), previous*(1+v)]. Bounds are rounded
// toward previous so the clamped value never exceeds the allowed move.
func Cap(previous *domain.Money, candidate domain.Money, v float64) domain.Money {
	if previous == nil {
		return candidate
	}
	p := decimal.NewFromInt(int64(*previous))
	fv := decimal.NewFromFloat(v)
	one := decimal.NewFromInt(1)

	lower := domain.Money(p.Mul(one.Sub(fv)).Ceil().IntPart())
	upper := domain.Money(p.Mul(one.Add(fv)).Floor().IntPart())

	switch {
	case candidate < lower:
		return lower
	case candidate > upper:
		return upper
	}
	return candidate
}

// IsMaterial reports whether next differs from last by more than threshold,
// relative to last. A missing last entry is always material.
func IsMaterial(last *domain.Money, next domain.Money, threshold float64) bool {
	if last == nil {
		return true
	}
	if *last == 0 {
		return next != 0
	}
	change := next.Decimal().Sub(last.Decimal()).Abs().Div(last.Decimal().Abs())
	return change.GreaterThan(decimal.NewFromFloat(threshold))
}
