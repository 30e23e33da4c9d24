package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/caseledger/internal/domain"
)

// ValuationCache implements domain.ValuationCache with one hash per item at
// "valuation:{itemKey}" holding valuation (minor units), name, image,
// checked_at and updated_at (Unix nanoseconds).
type ValuationCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewValuationCache creates a ValuationCache whose entries expire after ttl.
// A zero ttl keeps entries until they are overwritten or invalidated.
func NewValuationCache(c *Client, ttl time.Duration) *ValuationCache {
	return &ValuationCache{rdb: c.Underlying(), ttl: ttl}
}

func valuationKey(itemKey string) string {
	return "valuation:" + itemKey
}

func valuationFields(it domain.CatalogItem) map[string]any {
	return map[string]any{
		"valuation":  strconv.FormatInt(int64(it.Valuation), 10),
		"name":       it.Name,
		"image":      it.Image,
		"checked_at": strconv.FormatInt(it.CheckedAt.UnixNano(), 10),
		"updated_at": strconv.FormatInt(it.UpdatedAt.UnixNano(), 10),
	}
}

func (vc *ValuationCache) queue(ctx context.Context, pipe redis.Pipeliner, it domain.CatalogItem) {
	key := valuationKey(it.ItemKey)
	pipe.HSet(ctx, key, valuationFields(it))
	if vc.ttl > 0 {
		pipe.Expire(ctx, key, vc.ttl)
	}
}

// Set caches one item.
func (vc *ValuationCache) Set(ctx context.Context, it domain.CatalogItem) error {
	return vc.SetMany(ctx, []domain.CatalogItem{it})
}

// SetMany caches items in one transactional pipeline.
func (vc *ValuationCache) SetMany(ctx context.Context, items []domain.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	pipe := vc.rdb.TxPipeline()
	for _, it := range items {
		vc.queue(ctx, pipe, it)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set valuations: %w", err)
	}
	return nil
}

// Get returns the cached item or domain.ErrNotFound on a miss.
func (vc *ValuationCache) Get(ctx context.Context, itemKey string) (domain.CatalogItem, error) {
	vals, err := vc.rdb.HGetAll(ctx, valuationKey(itemKey)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.CatalogItem{}, fmt.Errorf("redis: get valuation %s: %w", itemKey, err)
	}
	raw, ok := vals["valuation"]
	if !ok {
		return domain.CatalogItem{}, domain.ErrNotFound
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("redis: parse valuation %s: %w", itemKey, err)
	}
	return domain.CatalogItem{
		ItemKey:   itemKey,
		Name:      vals["name"],
		Image:     vals["image"],
		Valuation: domain.Money(v),
		CheckedAt: parseNanos(vals["checked_at"]),
		UpdatedAt: parseNanos(vals["updated_at"]),
	}, nil
}

// Invalidate drops the cached entry of itemKey.
func (vc *ValuationCache) Invalidate(ctx context.Context, itemKey string) error {
	if err := vc.rdb.Del(ctx, valuationKey(itemKey)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate valuation %s: %w", itemKey, err)
	}
	return nil
}

func parseNanos(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

var _ domain.ValuationCache = (*ValuationCache)(nil)
