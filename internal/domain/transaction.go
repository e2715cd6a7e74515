package domain

import (
	"context"
	"math"
	"time"
)

// Transaction type constants
const (
	TransactionTypeVoucherSale = "voucher_sale"
	TransactionTypeSMSCredit   = "sms_credit"
)

// Transaction is the append-only revenue record. The unique index on
// MpesaReceipt is the storage-level idempotency backstop: two settlements of
// the same gateway receipt can never both book revenue.
type Transaction struct {
	ID              string    `bson:"_id,omitempty" json:"id"`
	AccountID       string    `bson:"account_id" json:"account_id"`
	RouterID        string    `bson:"router_id,omitempty" json:"router_id,omitempty"`
	VoucherID       string    `bson:"voucher_id,omitempty" json:"voucher_id,omitempty"`
	TransactionType string    `bson:"transaction_type" json:"transaction_type"`
	MpesaReceipt    string    `bson:"mpesa_receipt" json:"mpesa_receipt"`
	Amount          float64   `bson:"amount" json:"amount"`
	Commission      float64   `bson:"commission" json:"commission"`
	NetAmount       float64   `bson:"net_amount" json:"net_amount"`
	PhoneHash       string    `bson:"phone_hash,omitempty" json:"-"`
	Description     string    `bson:"description,omitempty" json:"description,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
}

// Round2 rounds a KES amount to cents. Gateway amounts and commissions are
// always stored rounded.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type TransactionRepository interface {
	// Create appends the record; a receipt collision surfaces as
	// ErrDuplicateReceipt.
	Create(ctx context.Context, tx *Transaction) error
	ListByAccount(ctx context.Context, accountID string, from, to time.Time, limit int64) ([]*Transaction, error)
}
