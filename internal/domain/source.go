package domain

import "context"

// QuoteSource is an external marketplace that reports item prices.
type QuoteSource interface {
	Name() string
	FetchQuotes(ctx context.Context) ([]RawQuote, error)
}
