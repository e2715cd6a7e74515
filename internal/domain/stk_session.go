package domain

import (
	"context"
	"time"
)

// STK session status constants
const (
	STKStatusPending             = "pending"              // push accepted, awaiting result callback
	STKStatusPendingConfirmation = "pending_confirmation" // result ok, awaiting C2B settlement
	STKStatusFailed              = "failed"               // gateway reported failure/cancellation
	STKStatusCompleted           = "completed"            // settlement confirmed
)

// Purchase type constants
const (
	PurchaseTypeVoucher   = "voucher"
	PurchaseTypeSMSCredit = "sms_credit"
)

// STKSession is the initiation ledger row written after a successful STK
// push. It is the authoritative link from the gateway's checkout id back to
// what was being bought, and the only place the payer's phone number is
// stored in plaintext.
type STKSession struct {
	ID                string  `bson:"_id,omitempty" json:"id"`
	CheckoutRequestID string  `bson:"checkout_request_id" json:"checkout_request_id"`
	MerchantRequestID string  `bson:"merchant_request_id" json:"merchant_request_id"`
	AccountReference  string  `bson:"account_reference" json:"account_reference"`
	Phone             string  `bson:"phone" json:"-"`
	Amount            float64 `bson:"amount" json:"amount"`

	PurchaseType string `bson:"purchase_type" json:"purchase_type"`
	VoucherID    string `bson:"voucher_id,omitempty" json:"voucher_id,omitempty"`
	AccountID    string `bson:"account_id" json:"account_id"`
	RouterID     string `bson:"router_id,omitempty" json:"router_id,omitempty"`
	Credits      int64  `bson:"credits,omitempty" json:"credits,omitempty"`

	Status        string     `bson:"status" json:"status"`
	ResultCode    *int       `bson:"result_code,omitempty" json:"result_code,omitempty"`
	ResultDesc    string     `bson:"result_desc,omitempty" json:"result_desc,omitempty"`
	ReceiptNumber string     `bson:"receipt_number,omitempty" json:"receipt_number,omitempty"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// STKSessionRepository defines the initiation ledger. Status moves are
// conditional on the legal source statuses so a late result callback can
// never downgrade a completed session.
type STKSessionRepository interface {
	Create(ctx context.Context, session *STKSession) error
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*STKSession, error)
	// GetByReference returns the most recent session initiated for a billing
	// reference, used to recover the payer phone on C2B settlement.
	GetByReference(ctx context.Context, accountReference string) (*STKSession, error)
	// MarkPendingConfirmation moves pending -> pending_confirmation.
	MarkPendingConfirmation(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc, receipt string) error
	// MarkFailed moves pending -> failed.
	MarkFailed(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error
	// MarkCompleted moves any non-completed status to completed. Settlement
	// is authoritative even over an earlier failure result.
	MarkCompleted(ctx context.Context, checkoutRequestID string, receipt string) error
	// FailStalePending fails pending sessions older than the cutoff.
	FailStalePending(ctx context.Context, olderThan time.Time) (int64, error)
}
