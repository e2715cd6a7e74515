package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"github.com/oklog/ulid/v2"
)

// maxBatchSize bounds one generation request; larger print runs are split.
const maxBatchSize = 5000

// batchInsertAttempts bounds the regenerate-and-retry loop when a generated
// code or reference trips the unique index.
const batchInsertAttempts = 3

// ExportStore uploads generated artifacts and returns a public URL.
type ExportStore interface {
	Upload(ctx context.Context, data []byte, key string, contentType string) (string, error)
}

// BatchResult summarizes one voucher generation run. Credentials are only in
// the CSV; the voucher list serializes without codes.
type BatchResult struct {
	BatchID  string            `json:"batch_id"`
	Count    int               `json:"count"`
	CSVURL   string            `json:"csv_url,omitempty"`
	Vouchers []*domain.Voucher `json:"vouchers"`
}

// ActivationResult is returned when a hotspot login activates a voucher.
type ActivationResult struct {
	VoucherID       string    `json:"voucher_id"`
	PackageType     string    `json:"package_type"`
	Bandwidth       string    `json:"bandwidth"`
	DurationMinutes int64     `json:"duration_minutes"`
	ActivatedAt     time.Time `json:"activated_at"`
	ExpectedEndAt   time.Time `json:"expected_end_at"`
}

// VoucherService manages voucher stock: batch generation for operators,
// activation from the captive portal, and the expiry sweep.
type VoucherService struct {
	voucherRepo domain.VoucherRepository
	packageRepo domain.PackageRepository
	routerRepo  domain.RouterRepository
	auditRepo   domain.AuditLogRepository
	exports     ExportStore
}

// NewVoucherService creates a new voucher service. exports may be nil when no
// object store is configured; batches then skip the CSV upload.
func NewVoucherService(
	voucherRepo domain.VoucherRepository,
	packageRepo domain.PackageRepository,
	routerRepo domain.RouterRepository,
	auditRepo domain.AuditLogRepository,
	exports ExportStore,
) *VoucherService {
	return &VoucherService{
		voucherRepo: voucherRepo,
		packageRepo: packageRepo,
		routerRepo:  routerRepo,
		auditRepo:   auditRepo,
		exports:     exports,
	}
}

// GenerateBatch creates count sellable vouchers for one router/package pair,
// freezing the package's price and limits into each voucher.
func (s *VoucherService) GenerateBatch(ctx context.Context, accountID, routerID, packageID string, count int) (*BatchResult, error) {
	if count < 1 || count > maxBatchSize {
		return nil, fmt.Errorf("batch size must be between 1 and %d", maxBatchSize)
	}

	router, err := s.routerRepo.GetByID(ctx, routerID)
	if err != nil {
		return nil, err
	}
	if router.AccountID != accountID {
		return nil, domain.ErrForbidden
	}

	pkg, err := s.packageRepo.GetByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg.AccountID != accountID {
		return nil, domain.ErrForbidden
	}
	if pkg.RouterID != "" && pkg.RouterID != routerID {
		return nil, fmt.Errorf("package %s is not sold on router %s", packageID, routerID)
	}

	batchID := ulid.Make().String()
	vouchers := make([]*domain.Voucher, count)
	for attempt := 1; ; attempt++ {
		for i := range vouchers {
			code := domain.GenerateVoucherCode()
			password := code
			if pkg.PackageType == domain.PackageTypePPPoE {
				password = domain.GenerateVoucherCode()
			}
			vouchers[i] = &domain.Voucher{
				AccountID:          accountID,
				RouterID:           routerID,
				PackageID:          pkg.ID,
				BatchID:            batchID,
				Reference:          domain.GenerateReference("VCH"),
				Code:               code,
				Password:           password,
				Price:              pkg.Price,
				PackageType:        pkg.PackageType,
				DurationMinutes:    pkg.DurationMinutes,
				Bandwidth:          pkg.Bandwidth,
				MaxDurationMinutes: pkg.MaxDurationMinutes,
				Status:             domain.VoucherStatusActive,
			}
		}

		err := s.voucherRepo.CreateMany(ctx, vouchers)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrCodeCollision) || attempt == batchInsertAttempts {
			return nil, err
		}
		log.Printf("[Voucher] batch %s collided with existing codes, regenerating (attempt %d)", batchID, attempt)
	}

	csvURL := ""
	if s.exports != nil {
		key := fmt.Sprintf("batches/%s/%s.csv", accountID, batchID)
		url, err := s.exports.Upload(ctx, buildBatchCSV(vouchers), key, "text/csv")
		if err != nil {
			// the vouchers exist either way; the CSV can be re-exported
			log.Printf("[Voucher] batch CSV upload failed for %s: %v", batchID, err)
		} else {
			csvURL = url
		}
	}

	if err := s.auditRepo.Insert(ctx, &domain.AuditLog{
		AccountID:  accountID,
		Actor:      "operator:" + accountID,
		Action:     domain.AuditActionBatchGenerated,
		EntityType: "batch",
		EntityID:   batchID,
		Details: map[string]any{
			"router_id":  routerID,
			"package_id": packageID,
			"count":      count,
		},
	}); err != nil {
		log.Printf("[Voucher] audit write failed for batch %s: %v", batchID, err)
	}

	log.Printf("[Voucher] generated batch %s: %d vouchers for router %s package %s", batchID, count, routerID, packageID)
	return &BatchResult{
		BatchID:  batchID,
		Count:    count,
		CSVURL:   csvURL,
		Vouchers: vouchers,
	}, nil
}

// ActivateVoucher marks a paid voucher used when its code first logs in at
// the hotspot, starting the usage window. A repeat login on a still-running
// voucher returns the same window instead of failing.
func (s *VoucherService) ActivateVoucher(ctx context.Context, routerID, rawCode string) (*ActivationResult, error) {
	code := strings.ToUpper(strings.TrimSpace(rawCode))
	if code == "" {
		return nil, domain.ErrNotFound
	}

	voucher, err := s.voucherRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if voucher.RouterID != routerID {
		// a foreign router's code answers as unknown
		return nil, domain.ErrNotFound
	}

	switch voucher.Status {
	case domain.VoucherStatusUsed:
		if voucher.ActivatedAt != nil && voucher.ExpectedEndAt != nil && voucher.ExpectedEndAt.After(time.Now()) {
			return activationResultOf(voucher, *voucher.ActivatedAt, *voucher.ExpectedEndAt), nil
		}
		return nil, domain.ErrStateConflict
	case domain.VoucherStatusPaid:
		now := time.Now().UTC()
		end := now.Add(time.Duration(voucher.DurationMinutes) * time.Minute)
		if err := s.voucherRepo.MarkUsed(ctx, voucher.ID, now, end); err != nil {
			return nil, err
		}
		log.Printf("[Voucher] activated %s on router %s until %s", voucher.ID, routerID, end.Format(time.RFC3339))
		return activationResultOf(voucher, now, end), nil
	default:
		return nil, domain.ErrStateConflict
	}
}

// ExpireOverdue reclaims vouchers whose activation window or usage window has
// lapsed. Run on a schedule from the sweep tool.
func (s *VoucherService) ExpireOverdue(ctx context.Context) (paid, used int64, err error) {
	now := time.Now().UTC()
	paid, err = s.voucherRepo.ExpireOverduePaid(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	used, err = s.voucherRepo.ExpireOverdueUsed(ctx, now)
	if err != nil {
		return paid, 0, err
	}
	if paid+used > 0 {
		log.Printf("[Voucher] expired %d paid and %d used vouchers", paid, used)
	}
	return paid, used, nil
}

// ListVouchers returns an account's vouchers, optionally filtered by router
// and status.
func (s *VoucherService) ListVouchers(ctx context.Context, accountID, routerID, status string, limit int64) ([]*domain.Voucher, error) {
	return s.voucherRepo.ListByAccount(ctx, accountID, routerID, status, limit)
}

// StockByStatus reports how many vouchers sit in each status on a router.
func (s *VoucherService) StockByStatus(ctx context.Context, accountID, routerID, packageID string) (map[string]int64, error) {
	router, err := s.routerRepo.GetByID(ctx, routerID)
	if err != nil {
		return nil, err
	}
	if router.AccountID != accountID {
		return nil, domain.ErrForbidden
	}
	return s.voucherRepo.CountByStatus(ctx, routerID, packageID)
}

func activationResultOf(v *domain.Voucher, activatedAt, expectedEndAt time.Time) *ActivationResult {
	return &ActivationResult{
		VoucherID:       v.ID,
		PackageType:     v.PackageType,
		Bandwidth:       v.Bandwidth,
		DurationMinutes: v.DurationMinutes,
		ActivatedAt:     activatedAt,
		ExpectedEndAt:   expectedEndAt,
	}
}

// buildBatchCSV renders the one artifact that carries voucher credentials in
// bulk. It goes straight to the operator's export bucket, never into an API
// response.
func buildBatchCSV(vouchers []*domain.Voucher) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"reference", "code", "password", "package_type", "price", "duration_minutes", "bandwidth"})
	for _, v := range vouchers {
		w.Write([]string{
			v.Reference,
			v.Code,
			v.Password,
			v.PackageType,
			strconv.FormatFloat(v.Price, 'f', 2, 64),
			strconv.FormatInt(v.DurationMinutes, 10),
			v.Bandwidth,
		})
	}
	w.Flush()
	return buf.Bytes()
}
