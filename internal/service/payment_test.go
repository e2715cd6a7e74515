package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nurunet/nurubill/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentFixture(t *testing.T) (*testWorld, *fakeGateway, *PaymentService) {
	t.Helper()
	w := newTestWorld()
	gateway := &fakeGateway{}
	svc := NewPaymentService(gateway, w.vouchers, w.sessions, w.routers, w.settings)
	require.NoError(t, w.routers.Create(context.Background(), &domain.Router{ID: "r1", AccountID: "acc1", Name: "Cafe AP"}))
	return w, gateway, svc
}

func TestPaymentService_InitiateVoucherPurchase(t *testing.T) {
	ctx := context.Background()

	t.Run("picks oldest stock and prices from the voucher", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		first := seedVoucher(t, w, 25.00, 0)
		seedVoucher(t, w, 25.00, 0)

		got, err := svc.InitiateVoucherPurchase(ctx, "r1", "pkg1", "", "0712345678")
		require.NoError(t, err)

		require.Len(t, gateway.pushes, 1)
		push := gateway.pushes[0]
		assert.Equal(t, "254712345678", push.Phone, "the push gets the canonical MSISDN")
		assert.Equal(t, 25.00, push.Amount)
		assert.Equal(t, first.Reference, push.Reference, "stock sells oldest first")

		assert.Equal(t, "ws_CO_1", got.CheckoutRequestID)
		assert.Equal(t, first.Reference, got.Reference)
		assert.Equal(t, 25.00, got.Amount)

		session, err := w.sessions.GetByCheckoutID(ctx, got.CheckoutRequestID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, session.VoucherID)
		assert.Equal(t, "254712345678", session.Phone)
		assert.Equal(t, "acc1", session.AccountID)
		assert.Equal(t, "r1", session.RouterID)
		assert.Equal(t, domain.STKStatusPending, session.Status)
	})

	t.Run("explicit voucher id buys that voucher", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		seedVoucher(t, w, 25.00, 0)
		second := seedVoucher(t, w, 25.00, 0)

		got, err := svc.InitiateVoucherPurchase(ctx, "r1", "pkg1", second.ID, "0712345678")
		require.NoError(t, err)
		assert.Equal(t, second.Reference, got.Reference)
		assert.Equal(t, second.Reference, gateway.pushes[0].Reference)
	})

	t.Run("foreign router voucher is forbidden", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		require.NoError(t, w.routers.Create(ctx, &domain.Router{ID: "r2", AccountID: "acc2"}))
		v := seedVoucher(t, w, 25.00, 0)

		_, err := svc.InitiateVoucherPurchase(ctx, "r2", "pkg1", v.ID, "0712345678")
		assert.ErrorIs(t, err, domain.ErrForbidden)
		assert.Empty(t, gateway.pushes, "no prompt goes out for a refused purchase")
	})

	t.Run("sold voucher conflicts", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		v := seedVoucher(t, w, 25.00, 0)
		w.vouchers.mu.Lock()
		w.vouchers.store[v.ID].Status = domain.VoucherStatusPaid
		w.vouchers.mu.Unlock()

		_, err := svc.InitiateVoucherPurchase(ctx, "r1", "pkg1", v.ID, "0712345678")
		assert.ErrorIs(t, err, domain.ErrStateConflict)
		assert.Empty(t, gateway.pushes)
	})

	t.Run("invalid phone never reaches the gateway", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		seedVoucher(t, w, 25.00, 0)

		_, err := svc.InitiateVoucherPurchase(ctx, "r1", "pkg1", "", "12345")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid phone")
		assert.Empty(t, gateway.pushes)
	})

	t.Run("unknown router errors", func(t *testing.T) {
		_, gateway, svc := newPaymentFixture(t)
		_, err := svc.InitiateVoucherPurchase(ctx, "ghost", "pkg1", "", "0712345678")
		require.Error(t, err)
		assert.Empty(t, gateway.pushes)
	})

	t.Run("empty stock surfaces", func(t *testing.T) {
		_, gateway, svc := newPaymentFixture(t)
		_, err := svc.InitiateVoucherPurchase(ctx, "r1", "pkg1", "", "0712345678")
		assert.ErrorIs(t, err, domain.ErrNoStock)
		assert.Empty(t, gateway.pushes)
	})

	t.Run("gateway refusal leaves no ledger row", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		seedVoucher(t, w, 25.00, 0)
		gateway.pushErr = errors.New("push rejected")

		_, err := svc.InitiateVoucherPurchase(ctx, "r1", "pkg1", "", "0712345678")
		require.Error(t, err)
		assert.Empty(t, w.sessions.store, "nothing to reconcile if the prompt never went out")
	})

	t.Run("ledger failure after push surfaces", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		seedVoucher(t, w, 25.00, 0)
		w.sessions.createErr = errors.New("write timeout")

		_, err := svc.InitiateVoucherPurchase(ctx, "r1", "pkg1", "", "0712345678")
		require.Error(t, err)
		assert.Len(t, gateway.pushes, 1, "the prompt already went out")
	})
}

func TestPaymentService_InitiateCreditTopup(t *testing.T) {
	ctx := context.Background()

	seedPrice := func(t *testing.T, w *testWorld, price float64) {
		t.Helper()
		require.NoError(t, w.settings.Upsert(ctx, &domain.PlatformSettings{SMSCreditUnitPrice: price}))
	}

	t.Run("prices from platform settings", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		seedPrice(t, w, 2.50)

		got, err := svc.InitiateCreditTopup(ctx, "acc1", 40, "0712345678")
		require.NoError(t, err)

		assert.Equal(t, 100.00, got.Amount)
		assert.True(t, strings.HasPrefix(got.Reference, "SMS"), "topup references carry the SMS prefix")
		require.Len(t, gateway.pushes, 1)
		assert.Equal(t, 100.00, gateway.pushes[0].Amount)

		session, err := w.sessions.GetByCheckoutID(ctx, got.CheckoutRequestID)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseTypeSMSCredit, session.PurchaseType)
		assert.Equal(t, int64(40), session.Credits)
		assert.Equal(t, "acc1", session.AccountID)
		assert.Empty(t, session.VoucherID)
	})

	t.Run("rejects non-positive credits", func(t *testing.T) {
		w, gateway, svc := newPaymentFixture(t)
		seedPrice(t, w, 2.50)

		_, err := svc.InitiateCreditTopup(ctx, "acc1", 0, "0712345678")
		require.Error(t, err)
		assert.Empty(t, gateway.pushes)
	})

	t.Run("requires configured pricing", func(t *testing.T) {
		cases := []struct {
			name string
			seed func(t *testing.T, w *testWorld)
		}{
			{"no settings document", func(t *testing.T, w *testWorld) {}},
			{"zero unit price", func(t *testing.T, w *testWorld) { seedPrice(t, w, 0) }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				w, gateway, svc := newPaymentFixture(t)
				tc.seed(t, w)
				_, err := svc.InitiateCreditTopup(ctx, "acc1", 40, "0712345678")
				require.Error(t, err)
				assert.Empty(t, gateway.pushes)
			})
		}
	})
}
