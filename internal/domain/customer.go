package domain

import (
	"context"
	"time"
)

// WifiCustomer aggregates a payer's purchase history per account, keyed by a
// one-way hash of their phone number. The plaintext number is only filled in
// when the initiation ledger captured it; confirmations that arrive with a
// gateway-hashed MSISDN stay pseudonymous.
type WifiCustomer struct {
	ID             string     `bson:"_id,omitempty" json:"id"`
	AccountID      string     `bson:"account_id" json:"account_id"`
	PhoneHash      string     `bson:"phone_hash" json:"phone_hash"`
	Phone          string     `bson:"phone,omitempty" json:"-"`
	TotalPurchases int64      `bson:"total_purchases" json:"total_purchases"`
	TotalSpend     float64    `bson:"total_spend" json:"total_spend"`
	LastPurchaseAt *time.Time `bson:"last_purchase_at,omitempty" json:"last_purchase_at,omitempty"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`
}

type WifiCustomerRepository interface {
	// UpsertPurchase increments the purchase counters for the hash, creating
	// the customer on first sight. Phone may be empty.
	UpsertPurchase(ctx context.Context, accountID, phoneHash, phone string, amount float64, at time.Time) error
	GetByPhoneHash(ctx context.Context, accountID, phoneHash string) (*WifiCustomer, error)
}
