package service

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"

	"github.com/nurunet/nurubill/internal/domain"
)

// receiptPattern matches M-Pesa receipt numbers: ten uppercase alphanumerics.
var receiptPattern = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// ErrNotRecognized is the only failure a verification attempt ever surfaces.
// Which check failed stays internal so the endpoint cannot be used to
// enumerate valid receipts.
var ErrNotRecognized = errors.New("transaction not recognized")

// VerifyService lets a purchaser whose confirmation never reached the portal
// unlock their voucher by typing the gateway receipt number.
type VerifyService struct {
	paymentRepo domain.PaymentRepository
	voucherRepo domain.VoucherRepository
	routerRepo  domain.RouterRepository
	auditRepo   domain.AuditLogRepository
}

// NewVerifyService creates a new verify service
func NewVerifyService(
	paymentRepo domain.PaymentRepository,
	voucherRepo domain.VoucherRepository,
	routerRepo domain.RouterRepository,
	auditRepo domain.AuditLogRepository,
) *VerifyService {
	return &VerifyService{
		paymentRepo: paymentRepo,
		voucherRepo: voucherRepo,
		routerRepo:  routerRepo,
		auditRepo:   auditRepo,
	}
}

// VerifyReceipt resolves a typed receipt to its voucher credentials. The
// lookup is scoped to the requesting router's owning account, so a receipt
// from another operator's shortcode never verifies here.
func (s *VerifyService) VerifyReceipt(ctx context.Context, routerID, rawReceipt, clientMAC string) (*VoucherCredentials, error) {
	receipt := strings.ToUpper(strings.TrimSpace(rawReceipt))
	if !receiptPattern.MatchString(receipt) {
		return nil, ErrNotRecognized
	}

	router, err := s.routerRepo.GetByID(ctx, routerID)
	if err != nil {
		s.logLookupErr("router", routerID, err)
		return nil, ErrNotRecognized
	}

	pay, err := s.paymentRepo.GetByReceiptForAccount(ctx, receipt, router.AccountID)
	if err != nil {
		s.logLookupErr("payment", receipt, err)
		return nil, ErrNotRecognized
	}
	if pay.Status != domain.PaymentStatusCompleted || pay.VoucherID == "" {
		return nil, ErrNotRecognized
	}

	voucher, err := s.voucherRepo.GetByID(ctx, pay.VoucherID)
	if err != nil {
		s.logLookupErr("voucher", pay.VoucherID, err)
		return nil, ErrNotRecognized
	}
	if voucher.RouterID != router.ID || voucher.Status != domain.VoucherStatusPaid {
		return nil, ErrNotRecognized
	}

	if err := s.auditRepo.Insert(ctx, &domain.AuditLog{
		AccountID:  voucher.AccountID,
		Actor:      "captive:" + router.ID,
		Action:     domain.AuditActionManualUnlock,
		EntityType: "voucher",
		EntityID:   voucher.ID,
		Details: map[string]any{
			"receipt": receipt,
			"mac":     clientMAC,
		},
	}); err != nil {
		log.Printf("[Verify] audit write failed for voucher %s: %v", voucher.ID, err)
	}

	log.Printf("[Verify] receipt %s unlocked voucher %s on router %s", receipt, voucher.ID, router.ID)
	return &VoucherCredentials{
		Code:            voucher.Code,
		Password:        voucher.Password,
		PackageType:     voucher.PackageType,
		Bandwidth:       voucher.Bandwidth,
		DurationMinutes: voucher.DurationMinutes,
	}, nil
}

// logLookupErr records the real cause of an opaque rejection. ErrNotFound is
// the expected miss and stays quiet.
func (s *VerifyService) logLookupErr(what, key string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	log.Printf("[Verify] %s lookup failed for %s: %v", what, key, err)
}
