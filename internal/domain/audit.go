package domain

import (
	"context"
	"time"
)

// Audit action constants
const (
	AuditActionPaymentConfirmed = "voucher.payment_confirmed"
	AuditActionManualUnlock     = "voucher.manual_unlock"
	AuditActionCreditTopup      = "account.credit_topup"
	AuditActionBatchGenerated   = "voucher.batch_generated"
)

// AuditLog is an append-only trail of money-adjacent mutations.
type AuditLog struct {
	ID         string         `bson:"_id,omitempty" json:"id"`
	AccountID  string         `bson:"account_id" json:"account_id"`
	Actor      string         `bson:"actor" json:"actor"` // system:mpesa, captive:<router>, operator:<id>
	Action     string         `bson:"action" json:"action"`
	EntityType string         `bson:"entity_type" json:"entity_type"`
	EntityID   string         `bson:"entity_id" json:"entity_id"`
	Details    map[string]any `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt  time.Time      `bson:"created_at" json:"created_at"`
}

type AuditLogRepository interface {
	Insert(ctx context.Context, entry *AuditLog) error
	ListByAccount(ctx context.Context, accountID string, limit int64) ([]*AuditLog, error)
}
