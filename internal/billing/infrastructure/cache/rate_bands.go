package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	billing "energy-billing/internal/billing/domain"
	"energy-billing/internal/observability/metrics"
)

const (
	defaultTTL = 5 * time.Minute
	keyPrefix  = "billing:rate_bands:"
)

// TariffReader is the source the cache reads through to.
type TariffReader interface {
	GetTariff(ctx context.Context, tariffID string) (*billing.Tariff, error)
	ListRateBands(ctx context.Context, tariffID string) ([]billing.RateBand, error)
}

// RateBandCache caches rate bands per tariff in Redis. Redis failures fall
// back to the source.
type RateBandCache struct {
	next   TariffReader
	client goredis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRateBandCache wraps next with a Redis read-through cache.
func NewRateBandCache(next TariffReader, client goredis.UniversalClient, ttl time.Duration, logger *zap.Logger) (*RateBandCache, error) {
	if next == nil {
		return nil, errors.New("rate band cache: nil source")
	}
	if client == nil {
		return nil, errors.New("rate band cache: nil redis client")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateBandCache{next: next, client: client, ttl: ttl, logger: logger}, nil
}

// GetTariff is not cached.
func (c *RateBandCache) GetTariff(ctx context.Context, tariffID string) (*billing.Tariff, error) {
	return c.next.GetTariff(ctx, tariffID)
}

// ListRateBands serves bands from Redis, loading and storing them on a miss.
// Empty band sets are not cached.
func (c *RateBandCache) ListRateBands(ctx context.Context, tariffID string) ([]billing.RateBand, error) {
	key := keyPrefix + tariffID
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var bands []billing.RateBand
		if jsonErr := json.Unmarshal(raw, &bands); jsonErr == nil {
			metrics.IncRateBandCache(metrics.CacheHit)
			return bands, nil
		}
		c.logger.Warn("rate band cache decode failed", zap.String("key", key))
		metrics.IncRateBandCache(metrics.CacheError)
	case errors.Is(err, goredis.Nil):
		metrics.IncRateBandCache(metrics.CacheMiss)
	default:
		c.logger.Warn("rate band cache read failed", zap.String("key", key), zap.Error(err))
		metrics.IncRateBandCache(metrics.CacheError)
	}

	bands, err := c.next.ListRateBands(ctx, tariffID)
	if err != nil || len(bands) == 0 {
		return bands, err
	}
	payload, err := json.Marshal(bands)
	if err != nil {
		return bands, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("rate band cache write failed", zap.String("key", key), zap.Error(err))
	}
	return bands, nil
}

// Invalidate drops the cached bands of a tariff.
func (c *RateBandCache) Invalidate(ctx context.Context, tariffID string) error {
	return c.client.Del(ctx, keyPrefix+tariffID).Err()
}
