package domain

import (
	"context"
	"time"
)

// Webhook callback type constants
const (
	CallbackTypeSTK             = "stk_callback"
	CallbackTypeC2BConfirmation = "c2b_confirmation"
	CallbackTypeC2BValidation   = "c2b_validation"
)

// Webhook processing outcome constants
const (
	WebhookOutcomeSuccess         = "success"
	WebhookOutcomeDuplicate       = "duplicate"
	WebhookOutcomeFailed          = "failed"
	WebhookOutcomeError           = "error"
	WebhookOutcomePaymentNotFound = "payment_not_found"
	WebhookOutcomeVoucherNotFound = "voucher_not_found"
	WebhookOutcomeAmountMismatch  = "amount_mismatch"
	WebhookOutcomeValidationError = "validation_error"
)

// WebhookLog is the append-only record of every gateway delivery and what
// the reconciler decided about it.
type WebhookLog struct {
	ID                string    `bson:"_id,omitempty" json:"id"`
	Source            string    `bson:"source" json:"source"` // mpesa
	CallbackType      string    `bson:"callback_type" json:"callback_type"`
	Outcome           string    `bson:"outcome" json:"outcome"`
	RawPayload        string    `bson:"raw_payload" json:"raw_payload"`
	VoucherID         string    `bson:"voucher_id,omitempty" json:"voucher_id,omitempty"`
	TransactionID     string    `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	CheckoutRequestID string    `bson:"checkout_request_id,omitempty" json:"checkout_request_id,omitempty"`
	Error             string    `bson:"error,omitempty" json:"error,omitempty"`
	ProcessingMs      int64     `bson:"processing_ms" json:"processing_ms"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}

type WebhookLogRepository interface {
	Insert(ctx context.Context, entry *WebhookLog) error
	ListRecent(ctx context.Context, limit int64) ([]*WebhookLog, error)
}
