package domain

import (
	"context"
	"time"
)

// Account type constants
const (
	AccountTypeIndividual = "individual"
	AccountTypeBusiness   = "business"
)

// Account is a router owner settling sales through the platform.
type Account struct {
	ID          string `bson:"_id,omitempty" json:"id"`
	Name        string `bson:"name" json:"name"`
	Email       string `bson:"email" json:"email"`
	AccountType string `bson:"account_type" json:"account_type"`
	// CommissionRate overrides the platform rate for this account when set.
	CommissionRate *float64  `bson:"commission_rate,omitempty" json:"commission_rate,omitempty"`
	SMSCredits     int64     `bson:"sms_credits" json:"sms_credits"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	IncrementSMSCredits(ctx context.Context, id string, credits int64) error
}
