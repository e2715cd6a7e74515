package service

import (
	"context"
	"log"

	"github.com/nurunet/nurubill/internal/domain"
)

// CommissionResolver yields the platform commission rate applied to a sale
// for one account. Injected into the reconciler so settlement math is
// deterministic under test.
type CommissionResolver interface {
	Rate(ctx context.Context, accountID string) float64
}

// commissionResolver resolves in order: account override, account-type rate
// from platform settings, platform default rate, configured fallback.
type commissionResolver struct {
	accountRepo  domain.AccountRepository
	settingsRepo domain.SettingsRepository
	fallbackRate float64
}

// NewCommissionResolver creates the standard resolver
func NewCommissionResolver(
	accountRepo domain.AccountRepository,
	settingsRepo domain.SettingsRepository,
	fallbackRate float64,
) CommissionResolver {
	return &commissionResolver{
		accountRepo:  accountRepo,
		settingsRepo: settingsRepo,
		fallbackRate: clampRate(fallbackRate),
	}
}

func (r *commissionResolver) Rate(ctx context.Context, accountID string) float64 {
	account, err := r.accountRepo.GetByID(ctx, accountID)
	if err != nil && err != domain.ErrNotFound {
		log.Printf("[Commission] account lookup failed for %s: %v", accountID, err)
	}
	if account != nil && account.CommissionRate != nil {
		return clampRate(*account.CommissionRate)
	}

	settings, err := r.settingsRepo.Get(ctx)
	if err != nil {
		if err != domain.ErrNotFound {
			log.Printf("[Commission] settings lookup failed: %v", err)
		}
		return r.fallbackRate
	}

	if account != nil {
		if rate, ok := settings.TypeCommissionRates[account.AccountType]; ok {
			return clampRate(rate)
		}
	}
	if settings.DefaultCommission > 0 {
		return clampRate(settings.DefaultCommission)
	}
	return r.fallbackRate
}

// clampRate keeps a commission rate inside [0, 1]; a misconfigured rate must
// never book negative revenue or more than the sale.
func clampRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
