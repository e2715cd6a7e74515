package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Captive portal caching prefixes
	routerPackagesKeyPrefix = "captive:packages:"
	voucherStockKeyPrefix   = "captive:stock:"
)

// RouterPackagesTTL bounds how stale the captive package list may get after
// an operator edits a plan.
const RouterPackagesTTL = 60 * time.Second

// RedisCacheRepository is the shared Redis cache for captive portal reads
type RedisCacheRepository struct {
	client *redis.Client
}

// NewRedisCacheRepository creates a new Redis cache repository
func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
	}
}

var ErrCacheMiss = fmt.Errorf("cache miss")

// Get retrieves a value from cache by key with OTel tracing
func (r *RedisCacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	tracer := otel.Tracer("redis")
	ctx, span := tracer.Start(ctx, "redis.Get",
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.String("cache.result", "miss"))
			return ErrCacheMiss
		}
		span.RecordError(err)
		return fmt.Errorf("redis get error: %w", err)
	}

	span.SetAttributes(attribute.String("cache.result", "hit"))
	if err := json.Unmarshal(data, dest); err != nil {
		span.RecordError(err)
		return fmt.Errorf("unmarshal error: %w", err)
	}

	return nil
}

// Set stores a value in cache with TTL and OTel tracing
func (r *RedisCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	tracer := otel.Tracer("redis")
	ctx, span := tracer.Start(ctx, "redis.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_seconds", int64(ttl.Seconds())),
		),
	)
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal error: %w", err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

// Delete removes keys from cache with OTel tracing
func (r *RedisCacheRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	tracer := otel.Tracer("redis")
	ctx, span := tracer.Start(ctx, "redis.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))),
	)
	defer span.End()

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("redis delete error: %w", err)
	}

	return nil
}

// SetRouterPackages caches the package list the captive portal shows for a
// router. Voucher codes never pass through here.
func (r *RedisCacheRepository) SetRouterPackages(ctx context.Context, routerID string, packages []*domain.Package) error {
	return r.Set(ctx, routerPackagesKeyPrefix+routerID, packages, RouterPackagesTTL)
}

// GetRouterPackages retrieves the cached package list for a router.
// Returns nil on a cache miss.
func (r *RedisCacheRepository) GetRouterPackages(ctx context.Context, routerID string) ([]*domain.Package, error) {
	var packages []*domain.Package
	if err := r.Get(ctx, routerPackagesKeyPrefix+routerID, &packages); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return packages, nil
}

// InvalidateRouterPackages removes the cached package list after a plan edit
func (r *RedisCacheRepository) InvalidateRouterPackages(ctx context.Context, routerID string) error {
	return r.Delete(ctx, routerPackagesKeyPrefix+routerID)
}

// SetVoucherStock caches per-router stock counts for the ops dashboard
func (r *RedisCacheRepository) SetVoucherStock(ctx context.Context, routerID string, counts map[string]int64, ttl time.Duration) error {
	return r.Set(ctx, voucherStockKeyPrefix+routerID, counts, ttl)
}

// GetVoucherStock retrieves cached stock counts for a router.
// Returns nil on a cache miss.
func (r *RedisCacheRepository) GetVoucherStock(ctx context.Context, routerID string) (map[string]int64, error) {
	var counts map[string]int64
	if err := r.Get(ctx, voucherStockKeyPrefix+routerID, &counts); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return counts, nil
}

// InvalidateVoucherStock removes cached stock counts after stock changes
func (r *RedisCacheRepository) InvalidateVoucherStock(ctx context.Context, routerID string) error {
	return r.Delete(ctx, voucherStockKeyPrefix+routerID)
}
