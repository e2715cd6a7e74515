package domain

import (
	"context"
	"crypto/rand"
	"time"
)

// Voucher status constants
const (
	VoucherStatusActive    = "active"    // in stock, sellable
	VoucherStatusPaid      = "paid"      // sold, credentials not yet activated
	VoucherStatusUsed      = "used"      // activated on the hotspot
	VoucherStatusExpired   = "expired"   // activation window or usage window elapsed
	VoucherStatusCancelled = "cancelled" // pulled from stock by the operator
)

// Package type constants
const (
	PackageTypeHotspot = "hotspot"
	PackageTypePPPoE   = "pppoe"
)

// voucherTransitions encodes the legal status moves. Everything else is a
// state conflict.
var voucherTransitions = map[string][]string{
	VoucherStatusActive:    {VoucherStatusPaid, VoucherStatusCancelled},
	VoucherStatusPaid:      {VoucherStatusUsed, VoucherStatusExpired},
	VoucherStatusUsed:      {VoucherStatusExpired},
	VoucherStatusExpired:   {},
	VoucherStatusCancelled: {},
}

// CanTransition reports whether a voucher may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range voucherTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// VoucherPayment is the payment sub-record written exactly once when a
// gateway confirmation settles the voucher. Its presence is the idempotency
// marker: a voucher with a populated TransactionID is sold.
type VoucherPayment struct {
	Method        string    `bson:"method" json:"method"` // mpesa
	TransactionID string    `bson:"transaction_id" json:"transaction_id"`
	PhoneHash     string    `bson:"phone_hash" json:"phone_hash"`
	Amount        float64   `bson:"amount" json:"amount"`
	Commission    float64   `bson:"commission" json:"commission"`
	PaidAt        time.Time `bson:"paid_at" json:"paid_at"`
}

// Voucher is a prepaid access credential sold through a router's captive
// portal. Reference is the public billing handle that travels through the
// payment gateway; Code is the private hotspot credential and must never
// leave the system except on the sanctioned status/verify responses.
type Voucher struct {
	ID        string `bson:"_id,omitempty" json:"id"`
	AccountID string `bson:"account_id" json:"account_id"`
	RouterID  string `bson:"router_id" json:"router_id"`
	PackageID string `bson:"package_id" json:"package_id"`
	BatchID   string `bson:"batch_id,omitempty" json:"batch_id,omitempty"`

	Reference string `bson:"reference" json:"reference"`
	Code      string `bson:"code" json:"-"`
	Password  string `bson:"password" json:"-"`

	// Denormalized sale fields, frozen at generation time so later package
	// edits don't reprice sold stock.
	Price           float64 `bson:"price" json:"price"`
	PackageType     string  `bson:"package_type" json:"package_type"`
	DurationMinutes int64   `bson:"duration_minutes" json:"duration_minutes"`
	Bandwidth       string  `bson:"bandwidth" json:"bandwidth"`

	Status  string          `bson:"status" json:"status"`
	Payment *VoucherPayment `bson:"payment,omitempty" json:"payment,omitempty"`

	// Activation window bookkeeping. PurchaseExpiresAt is set at sale time
	// when MaxDurationMinutes > 0; an external sweep expires overdue vouchers.
	MaxDurationMinutes int64      `bson:"max_duration_minutes" json:"max_duration_minutes"`
	PurchaseExpiresAt  *time.Time `bson:"purchase_expires_at,omitempty" json:"purchase_expires_at,omitempty"`
	ActivatedAt        *time.Time `bson:"activated_at,omitempty" json:"activated_at,omitempty"`
	ExpectedEndAt      *time.Time `bson:"expected_end_at,omitempty" json:"expected_end_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// codeCharset excludes 0/O, 1/I/L and vowels so printed vouchers stay
// unambiguous and never spell anything.
const codeCharset = "23456789BCDFGHJKMNPQRSTVWXZ"

// referenceCharset is Crockford base32: what payers can type into the
// M-Pesa bill reference prompt without confusion.
const referenceCharset = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GenerateVoucherCode returns a new 8-character private credential.
func GenerateVoucherCode() string {
	return randomString(8, codeCharset)
}

// GenerateReference returns a new public billing reference with the given
// prefix, e.g. VCH2K7Q9M4D.
func GenerateReference(prefix string) string {
	return prefix + randomString(8, referenceCharset)
}

func randomString(n int, charset string) string {
	b := make([]byte, n)
	rand.Read(b)
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// VoucherRepository defines operations for managing voucher stock and sales.
type VoucherRepository interface {
	CreateMany(ctx context.Context, vouchers []*Voucher) error
	GetByID(ctx context.Context, id string) (*Voucher, error)
	// GetByReference resolves a public billing reference to its voucher
	// regardless of status. Callers decide what statuses they accept.
	GetByReference(ctx context.Context, reference string) (*Voucher, error)
	// GetByCode resolves a private credential, used by hotspot activation.
	GetByCode(ctx context.Context, code string) (*Voucher, error)
	// FindAvailable picks one unsold active voucher for the router/package.
	FindAvailable(ctx context.Context, routerID, packageID string) (*Voucher, error)
	// AssignPayment atomically writes the payment sub-record and flips the
	// voucher to paid, but only if no payment is recorded yet and the voucher
	// is still active. Returns ErrAlreadyPaid when the guard fails.
	AssignPayment(ctx context.Context, id string, payment *VoucherPayment, purchaseExpiresAt *time.Time) error
	// MarkUsed flips a paid voucher to used and stamps the usage window.
	MarkUsed(ctx context.Context, id string, activatedAt, expectedEndAt time.Time) error
	// ExpireOverduePaid expires paid vouchers whose activation window lapsed.
	ExpireOverduePaid(ctx context.Context, now time.Time) (int64, error)
	// ExpireOverdueUsed expires used vouchers past their expected end.
	ExpireOverdueUsed(ctx context.Context, now time.Time) (int64, error)
	ListByAccount(ctx context.Context, accountID string, routerID, status string, limit int64) ([]*Voucher, error)
	CountByStatus(ctx context.Context, routerID, packageID string) (map[string]int64, error)
}
