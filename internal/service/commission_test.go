package service

import (
	"context"
	"testing"

	"github.com/nurunet/nurubill/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ratePtr(v float64) *float64 { return &v }

func TestCommissionResolver_Chain(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, account *domain.Account, settings *domain.PlatformSettings) CommissionResolver {
		t.Helper()
		accounts := newMemAccountRepo()
		platform := newMemSettingsRepo()
		if account != nil {
			require.NoError(t, accounts.Create(ctx, account))
		}
		if settings != nil {
			require.NoError(t, platform.Upsert(ctx, settings))
		}
		return NewCommissionResolver(accounts, platform, 0.05)
	}

	t.Run("account override wins", func(t *testing.T) {
		resolver := seed(t,
			&domain.Account{ID: "acc1", AccountType: domain.AccountTypeBusiness, CommissionRate: ratePtr(0.07)},
			&domain.PlatformSettings{
				DefaultCommission:   0.20,
				TypeCommissionRates: map[string]float64{domain.AccountTypeBusiness: 0.12},
			})
		assert.Equal(t, 0.07, resolver.Rate(ctx, "acc1"))
	})

	t.Run("type rate beats platform default", func(t *testing.T) {
		resolver := seed(t,
			&domain.Account{ID: "acc1", AccountType: domain.AccountTypeBusiness},
			&domain.PlatformSettings{
				DefaultCommission:   0.20,
				TypeCommissionRates: map[string]float64{domain.AccountTypeBusiness: 0.12},
			})
		assert.Equal(t, 0.12, resolver.Rate(ctx, "acc1"))
	})

	t.Run("platform default when type unlisted", func(t *testing.T) {
		resolver := seed(t,
			&domain.Account{ID: "acc1", AccountType: domain.AccountTypeIndividual},
			&domain.PlatformSettings{
				DefaultCommission:   0.20,
				TypeCommissionRates: map[string]float64{domain.AccountTypeBusiness: 0.12},
			})
		assert.Equal(t, 0.20, resolver.Rate(ctx, "acc1"))
	})

	t.Run("fallback when no settings exist", func(t *testing.T) {
		resolver := seed(t, &domain.Account{ID: "acc1", AccountType: domain.AccountTypeIndividual}, nil)
		assert.Equal(t, 0.05, resolver.Rate(ctx, "acc1"))
	})

	t.Run("fallback when account unknown and settings empty", func(t *testing.T) {
		resolver := seed(t, nil, &domain.PlatformSettings{})
		assert.Equal(t, 0.05, resolver.Rate(ctx, "ghost"))
	})

	t.Run("unknown account still gets platform default", func(t *testing.T) {
		resolver := seed(t, nil, &domain.PlatformSettings{DefaultCommission: 0.18})
		assert.Equal(t, 0.18, resolver.Rate(ctx, "ghost"))
	})
}

func TestCommissionResolver_Clamping(t *testing.T) {
	ctx := context.Background()

	t.Run("override above one is capped", func(t *testing.T) {
		accounts := newMemAccountRepo()
		require.NoError(t, accounts.Create(ctx, &domain.Account{ID: "acc1", CommissionRate: ratePtr(1.5)}))
		resolver := NewCommissionResolver(accounts, newMemSettingsRepo(), 0.05)
		assert.Equal(t, 1.0, resolver.Rate(ctx, "acc1"))
	})

	t.Run("negative override floors at zero", func(t *testing.T) {
		accounts := newMemAccountRepo()
		require.NoError(t, accounts.Create(ctx, &domain.Account{ID: "acc1", CommissionRate: ratePtr(-0.10)}))
		resolver := NewCommissionResolver(accounts, newMemSettingsRepo(), 0.05)
		assert.Equal(t, 0.0, resolver.Rate(ctx, "acc1"))
	})

	t.Run("negative fallback floors at zero", func(t *testing.T) {
		resolver := NewCommissionResolver(newMemAccountRepo(), newMemSettingsRepo(), -1)
		assert.Equal(t, 0.0, resolver.Rate(ctx, "ghost"))
	})
}
