package domain

import (
	"context"
	"time"
)

// ValuationCache is a read-through cache in front of the catalog. It is never
// the system of record.
type ValuationCache interface {
	Set(ctx context.Context, item CatalogItem) error
	SetMany(ctx context.Context, items []CatalogItem) error
	Get(ctx context.Context, itemKey string) (CatalogItem, error)
	Invalidate(ctx context.Context, itemKey string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out of committed events plus durable streams
// for consumers that must not miss entries.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Channel names published on the SignalBus.
const (
	ChannelValuations = "valuations"
	ChannelLedger     = "ledger"
	StreamLedger      = "stream:ledger"
)
