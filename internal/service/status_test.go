package service

import (
	"context"
	"testing"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusService_GetPaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown checkout", func(t *testing.T) {
		w := newTestWorld()
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)

		got, err := svc.GetPaymentStatus(ctx, "r1", "ws_CO_ghost")
		require.NoError(t, err)
		assert.Equal(t, PollStatusUnknown, got.Status)
	})

	t.Run("fresh session is pending", func(t *testing.T) {
		w := newTestWorld()
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)
		v := seedVoucher(t, w, 25.00, 0)
		seedSession(t, w, v, "ws_CO_1")

		got, err := svc.GetPaymentStatus(ctx, "r1", "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, PollStatusPending, got.Status)
		assert.Equal(t, v.Reference, got.Reference)
		assert.Nil(t, got.Voucher)
	})

	t.Run("stale pending reports timeout", func(t *testing.T) {
		w := newTestWorld()
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)
		v := seedVoucher(t, w, 25.00, 0)

		session := &domain.STKSession{
			CheckoutRequestID: "ws_CO_old",
			AccountReference:  v.Reference,
			Phone:             testPhone,
			Amount:            v.Price,
			PurchaseType:      domain.PurchaseTypeVoucher,
			VoucherID:         v.ID,
			AccountID:         "acc1",
			RouterID:          "r1",
			Status:            domain.STKStatusPending,
			CreatedAt:         time.Now().Add(-11 * time.Minute),
		}
		require.NoError(t, w.sessions.Create(ctx, session))

		got, err := svc.GetPaymentStatus(ctx, "r1", "ws_CO_old")
		require.NoError(t, err)
		assert.Equal(t, PollStatusTimeout, got.Status, "past the poll window the portal stops polling")
	})

	t.Run("user cancellation reports cancelled", func(t *testing.T) {
		w := newTestWorld()
		rec := w.reconciler(0.15)
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)
		v := seedVoucher(t, w, 25.00, 0)
		seedSession(t, w, v, "ws_CO_1")

		cb := stkResult("ws_CO_1", daraja.ResultCodeCancelledByUser, "Request cancelled by user", "", 0)
		require.True(t, rec.HandleSTKCallback(ctx, cb, rawOf(t, cb)).Accept)

		got, err := svc.GetPaymentStatus(ctx, "r1", "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, PollStatusCancelled, got.Status)
		assert.Equal(t, "Request cancelled by user", got.Message)
	})

	t.Run("gateway failure reports failed", func(t *testing.T) {
		w := newTestWorld()
		rec := w.reconciler(0.15)
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)
		v := seedVoucher(t, w, 25.00, 0)
		seedSession(t, w, v, "ws_CO_1")

		cb := stkResult("ws_CO_1", 1, "The balance is insufficient for the transaction", "", 0)
		require.True(t, rec.HandleSTKCallback(ctx, cb, rawOf(t, cb)).Accept)

		got, err := svc.GetPaymentStatus(ctx, "r1", "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, PollStatusFailed, got.Status)
		assert.Contains(t, got.Message, "insufficient")
	})

	t.Run("settled purchase returns the credentials", func(t *testing.T) {
		w := newTestWorld()
		rec := w.reconciler(0.15)
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)
		v := seedVoucher(t, w, 25.00, 0)
		seedSession(t, w, v, "ws_CO_1")

		conf := confirmation(testReceipt, v.Reference, "25.00", "")
		require.Equal(t, domain.WebhookOutcomeSuccess, rec.HandleC2BConfirmation(ctx, conf, rawOf(t, conf)).Outcome)

		got, err := svc.GetPaymentStatus(ctx, "r1", "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, PollStatusCompleted, got.Status)
		require.NotNil(t, got.Voucher)
		assert.Equal(t, v.Code, got.Voucher.Code)
		assert.Equal(t, v.Password, got.Voucher.Password)
		assert.Equal(t, int64(60), got.Voucher.DurationMinutes)
	})

	t.Run("settlement wins over an earlier failure result", func(t *testing.T) {
		// The failure result raced ahead but money arrived anyway; what the
		// store recorded as completed is what the payer gets.
		w := newTestWorld()
		rec := w.reconciler(0.15)
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)
		v := seedVoucher(t, w, 25.00, 0)
		seedSession(t, w, v, "ws_CO_1")

		cb := stkResult("ws_CO_1", 1037, "DS timeout", "", 0)
		require.True(t, rec.HandleSTKCallback(ctx, cb, rawOf(t, cb)).Accept)

		conf := confirmation(testReceipt, v.Reference, "25.00", "")
		require.Equal(t, domain.WebhookOutcomeSuccess, rec.HandleC2BConfirmation(ctx, conf, rawOf(t, conf)).Outcome)

		got, err := svc.GetPaymentStatus(ctx, "r1", "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, PollStatusCompleted, got.Status)
		require.NotNil(t, got.Voucher)
	})

	t.Run("credit topup completes without credentials", func(t *testing.T) {
		w := newTestWorld()
		rec := w.reconciler(0.15)
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)

		require.NoError(t, w.accounts.Create(ctx, &domain.Account{ID: "acc1"}))
		session := &domain.STKSession{
			CheckoutRequestID: "ws_CO_topup",
			AccountReference:  "SMS2K7Q9M4D",
			Phone:             testPhone,
			Amount:            100.00,
			PurchaseType:      domain.PurchaseTypeSMSCredit,
			AccountID:         "acc1",
			Credits:           50,
			Status:            domain.STKStatusPending,
		}
		require.NoError(t, w.sessions.Create(ctx, session))

		conf := confirmation(testReceipt, "SMS2K7Q9M4D", "100.00", "")
		require.Equal(t, domain.WebhookOutcomeSuccess, rec.HandleC2BConfirmation(ctx, conf, rawOf(t, conf)).Outcome)

		got, err := svc.GetPaymentStatus(ctx, "", "ws_CO_topup")
		require.NoError(t, err)
		assert.Equal(t, PollStatusCompleted, got.Status)
		assert.Nil(t, got.Voucher)
	})

	t.Run("another router's checkout answers unknown", func(t *testing.T) {
		w := newTestWorld()
		svc := NewStatusService(w.payments, w.sessions, w.vouchers, 0)
		v := seedVoucher(t, w, 25.00, 0)
		seedSession(t, w, v, "ws_CO_1")

		got, err := svc.GetPaymentStatus(ctx, "r2", "ws_CO_1")
		require.NoError(t, err)
		assert.Equal(t, PollStatusUnknown, got.Status)
		assert.Empty(t, got.Reference, "nothing about the session leaks across routers")
	})
}
