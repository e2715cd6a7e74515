package domain

import (
	"context"
	"time"
)

// Package represents a purchasable hotspot or PPPoE plan sold on a router.
type Package struct {
	ID        string `bson:"_id,omitempty" json:"id"`
	AccountID string `bson:"account_id" json:"account_id"`
	// RouterID scopes the plan to one router; empty means every router the
	// account owns sells it.
	RouterID        string  `bson:"router_id,omitempty" json:"router_id,omitempty"`
	Name            string  `bson:"name" json:"name"`
	PackageType     string  `bson:"package_type" json:"package_type"` // hotspot, pppoe
	Price           float64 `bson:"price" json:"price"`               // KES
	DurationMinutes int64   `bson:"duration_minutes" json:"duration_minutes"`
	Bandwidth       string  `bson:"bandwidth" json:"bandwidth"` // e.g. "5M/5M"
	// MaxDurationMinutes bounds how long a sold voucher may sit unactivated.
	// Zero disables the window.
	MaxDurationMinutes int64     `bson:"max_duration_minutes" json:"max_duration_minutes"`
	IsActive           bool      `bson:"is_active" json:"is_active"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at" json:"updated_at"`
}

// PackageRepository defines operations for managing packages
type PackageRepository interface {
	Create(ctx context.Context, pkg *Package) error
	GetByID(ctx context.Context, id string) (*Package, error)
	// GetActiveByRouter returns active plans sold on the router, including
	// account-wide plans with no router binding.
	GetActiveByRouter(ctx context.Context, accountID, routerID string) ([]*Package, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Package, error)
	Update(ctx context.Context, pkg *Package) error
}

// CacheRepository defines the interface for captive portal caching
// Implementations should handle Redis operations
type CacheRepository interface {
	// SetRouterPackages caches the package list shown for a router
	SetRouterPackages(ctx context.Context, routerID string, packages []*Package) error

	// GetRouterPackages retrieves the cached package list for a router.
	// Returns nil if not found or expired
	GetRouterPackages(ctx context.Context, routerID string) ([]*Package, error)

	// InvalidateRouterPackages removes the cached list after a plan edit
	InvalidateRouterPackages(ctx context.Context, routerID string) error

	// SetVoucherStock caches per-router stock counts
	SetVoucherStock(ctx context.Context, routerID string, counts map[string]int64, ttl time.Duration) error

	// GetVoucherStock retrieves cached stock counts for a router.
	// Returns nil if not found or expired
	GetVoucherStock(ctx context.Context, routerID string) (map[string]int64, error)

	// InvalidateVoucherStock removes cached stock counts after stock changes
	InvalidateVoucherStock(ctx context.Context, routerID string) error
}
