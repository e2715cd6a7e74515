package service

import (
	"context"
	"errors"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
)

// Poll status values. Timeout and unknown are presentational: they describe
// what the poller should do, not a persisted state.
const (
	PollStatusPending   = "pending"
	PollStatusCompleted = "completed"
	PollStatusFailed    = "failed"
	PollStatusCancelled = "cancelled"
	PollStatusTimeout   = "timeout"
	PollStatusUnknown   = "unknown"
)

// DefaultPollTimeout is how long a pending checkout is reported as pending
// before the poller is told to stop and fall back to manual verification.
const DefaultPollTimeout = 10 * time.Minute

// VoucherCredentials is the sanctioned credential return: the only responses
// that may carry the private code are a completed poll and a successful
// manual verification.
type VoucherCredentials struct {
	Code            string `json:"code"`
	Password        string `json:"password"`
	PackageType     string `json:"package_type"`
	Bandwidth       string `json:"bandwidth"`
	DurationMinutes int64  `json:"duration_minutes"`
}

// PaymentStatus is the poll response for one checkout id.
type PaymentStatus struct {
	Status    string              `json:"status"`
	Message   string              `json:"message,omitempty"`
	Reference string              `json:"reference,omitempty"`
	Voucher   *VoucherCredentials `json:"voucher,omitempty"`
}

// StatusService answers captive portal polls. It is strictly read-only: even
// the timeout classification changes nothing in the store.
type StatusService struct {
	paymentRepo domain.PaymentRepository
	sessionRepo domain.STKSessionRepository
	voucherRepo domain.VoucherRepository
	pollTimeout time.Duration
}

// NewStatusService creates a new status service
func NewStatusService(
	paymentRepo domain.PaymentRepository,
	sessionRepo domain.STKSessionRepository,
	voucherRepo domain.VoucherRepository,
	pollTimeout time.Duration,
) *StatusService {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &StatusService{
		paymentRepo: paymentRepo,
		sessionRepo: sessionRepo,
		voucherRepo: voucherRepo,
		pollTimeout: pollTimeout,
	}
}

// GetPaymentStatus maps the persisted state of one checkout onto a poll
// status. The payment read model is written by the webhook channels; the
// initiation ledger fills in when no callback has arrived yet and supplies
// the clock for the timeout classification.
func (s *StatusService) GetPaymentStatus(ctx context.Context, routerID, checkoutRequestID string) (*PaymentStatus, error) {
	pay, err := s.paymentRepo.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	session, err := s.sessionRepo.GetByCheckoutID(ctx, checkoutRequestID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if pay == nil && session == nil {
		return &PaymentStatus{Status: PollStatusUnknown}, nil
	}

	// A checkout initiated for another router answers as unknown rather
	// than leaking its existence.
	owner := ""
	if pay != nil {
		owner = pay.RouterID
	}
	if owner == "" && session != nil {
		owner = session.RouterID
	}
	if routerID != "" && owner != "" && owner != routerID {
		return &PaymentStatus{Status: PollStatusUnknown}, nil
	}

	reference := ""
	if session != nil {
		reference = session.AccountReference
	}

	if pay != nil && pay.Status == domain.PaymentStatusCompleted {
		return s.completed(ctx, reference, voucherIDOf(pay, session))
	}
	if session != nil && session.Status == domain.STKStatusCompleted {
		return s.completed(ctx, reference, session.VoucherID)
	}

	if pay != nil && pay.Status == domain.PaymentStatusCancelled {
		return &PaymentStatus{Status: PollStatusCancelled, Message: pay.ResultDesc, Reference: reference}, nil
	}
	if pay != nil && pay.Status == domain.PaymentStatusFailed {
		return &PaymentStatus{Status: PollStatusFailed, Message: pay.ResultDesc, Reference: reference}, nil
	}
	if session != nil && session.Status == domain.STKStatusFailed {
		if session.ResultCode != nil && *session.ResultCode == daraja.ResultCodeCancelledByUser {
			return &PaymentStatus{Status: PollStatusCancelled, Message: session.ResultDesc, Reference: reference}, nil
		}
		return &PaymentStatus{Status: PollStatusFailed, Message: session.ResultDesc, Reference: reference}, nil
	}

	// Still pending. The timeout clock runs from initiation, not from the
	// last callback.
	startedAt := time.Time{}
	if session != nil {
		startedAt = session.CreatedAt
	} else {
		startedAt = pay.CreatedAt
	}
	if !startedAt.IsZero() && time.Since(startedAt) > s.pollTimeout {
		return &PaymentStatus{Status: PollStatusTimeout, Reference: reference}, nil
	}
	return &PaymentStatus{Status: PollStatusPending, Reference: reference}, nil
}

func (s *StatusService) completed(ctx context.Context, reference, voucherID string) (*PaymentStatus, error) {
	res := &PaymentStatus{Status: PollStatusCompleted, Reference: reference}
	if voucherID == "" {
		// credit top-ups complete without a voucher
		return res, nil
	}
	voucher, err := s.voucherRepo.GetByID(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if res.Reference == "" {
		res.Reference = voucher.Reference
	}
	res.Voucher = &VoucherCredentials{
		Code:            voucher.Code,
		Password:        voucher.Password,
		PackageType:     voucher.PackageType,
		Bandwidth:       voucher.Bandwidth,
		DurationMinutes: voucher.DurationMinutes,
	}
	return res, nil
}

func voucherIDOf(pay *domain.Payment, session *domain.STKSession) string {
	if pay != nil && pay.VoucherID != "" {
		return pay.VoucherID
	}
	if session != nil {
		return session.VoucherID
	}
	return ""
}
