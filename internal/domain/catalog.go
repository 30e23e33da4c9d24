package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem is the authoritative current valuation of a reward item.
type CatalogItem struct {
	ItemKey   string    `json:"item_key"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	Valuation Money     `json:"valuation"`
	CheckedAt time.Time `json:"checked_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RawQuote is a quote as reported by a marketplace, before currency
// normalisation. Name and Image are optional display metadata.
type RawQuote struct {
	ItemKey  string          `json:"item_key"`
	RawPrice decimal.Decimal `json:"raw_price"`
	Currency string          `json:"currency"`
	Name     string          `json:"name,omitempty"`
	Image    string          `json:"image,omitempty"`
}

// PriceQuote is a normalised quote in the base currency. Accepted quotes are
// appended to the quote log and form the trailing filter window.
type PriceQuote struct {
	ID         int64     `json:"id"`
	ItemKey    string    `json:"item_key"`
	Source     string    `json:"source"`
	RawPrice   Money     `json:"raw_price"`
	Currency   string    `json:"currency"`
	Name       string    `json:"-"`
	Image      string    `json:"-"`
	ObservedAt time.Time `json:"observed_at"`
}

// ValuationHistoryEntry is one material valuation change.
type ValuationHistoryEntry struct {
	ID         int64     `json:"id"`
	ItemKey    string    `json:"item_key"`
	Valuation  Money     `json:"valuation"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PriceCycle records a completed valuation cycle. Digest identifies the quote
// batch so a replayed batch is recognised.
type PriceCycle struct {
	ID          string    `json:"id"`
	Digest      string    `json:"digest"`
	Accepted    int       `json:"accepted"`
	Rejected    int       `json:"rejected"`
	Items       int       `json:"items"`
	CompletedAt time.Time `json:"completed_at"`
}
