package domain

import (
	"context"
	"time"
)

// Payment status constants
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

// Payment is the read model the captive portal polls. It is written only by
// the webhook handlers; STK-initiated payments are keyed by checkout id,
// counter payments made directly against a billing reference carry only the
// gateway receipt.
type Payment struct {
	ID                string  `bson:"_id,omitempty" json:"id"`
	CheckoutRequestID string  `bson:"checkout_request_id,omitempty" json:"checkout_request_id,omitempty"`
	MpesaReceipt      string  `bson:"mpesa_receipt,omitempty" json:"mpesa_receipt,omitempty"`
	VoucherID         string  `bson:"voucher_id,omitempty" json:"voucher_id,omitempty"`
	RouterID          string  `bson:"router_id,omitempty" json:"router_id,omitempty"`
	AccountID         string  `bson:"account_id,omitempty" json:"account_id,omitempty"`
	Amount            float64 `bson:"amount" json:"amount"`
	PhoneHash         string  `bson:"phone_hash,omitempty" json:"-"`

	Status     string `bson:"status" json:"status"`
	ResultCode *int   `bson:"result_code,omitempty" json:"result_code,omitempty"`
	ResultDesc string `bson:"result_desc,omitempty" json:"result_desc,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// PaymentRepository defines the payment read model. Upserts never downgrade
// a completed payment.
type PaymentRepository interface {
	UpsertByCheckoutID(ctx context.Context, payment *Payment) error
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Payment, error)
	// GetByReceiptForAccount scopes a receipt lookup to one account so a
	// receipt from another operator's router never verifies here.
	GetByReceiptForAccount(ctx context.Context, receipt, accountID string) (*Payment, error)
	// CancelStalePending cancels pending payments older than the cutoff.
	CancelStalePending(ctx context.Context, olderThan time.Time) (int64, error)
}
