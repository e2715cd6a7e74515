package domain

import (
	"context"
	"time"
)

// PlatformSettings is the singleton document holding platform-wide rates.
type PlatformSettings struct {
	ID                  string             `bson:"_id,omitempty" json:"id"`
	DefaultCommission   float64            `bson:"default_commission_rate" json:"default_commission_rate"`
	TypeCommissionRates map[string]float64 `bson:"type_commission_rates,omitempty" json:"type_commission_rates,omitempty"`
	SMSCreditUnitPrice  float64            `bson:"sms_credit_unit_price" json:"sms_credit_unit_price"`
	UpdatedAt           time.Time          `bson:"updated_at" json:"updated_at"`
}

type SettingsRepository interface {
	Get(ctx context.Context) (*PlatformSettings, error)
	Upsert(ctx context.Context, settings *PlatformSettings) error
}
