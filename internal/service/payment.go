package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nurunet/nurubill/internal/config"
	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
	"github.com/oklog/ulid/v2"
)

// STKPushResult represents the response from a payment gateway push
type STKPushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

// STKGateway defines the interface for payment gateway push integrations
type STKGateway interface {
	// Push prompts the payer's phone for the given amount against the
	// billing reference.
	Push(ctx context.Context, phone string, amount float64, accountReference, description string) (*STKPushResult, error)
}

// MockSTKGateway is a mock implementation of STKGateway for development
type MockSTKGateway struct{}

// DarajaGatewayAdapter adapts the daraja.Client to the STKGateway interface
type DarajaGatewayAdapter struct {
	client *daraja.Client
}

// NewSTKGateway returns the appropriate STKGateway for the configuration.
// With no consumer key configured it returns a mock for development.
func NewSTKGateway(cfg config.DarajaConfig, publicBaseURL string) STKGateway {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		log.Println("[Payment] Using mock Daraja gateway (no credentials configured)")
		return &MockSTKGateway{}
	}

	base := strings.TrimSuffix(publicBaseURL, "/")
	client := daraja.NewClient(daraja.Config{
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		ShortCode:       cfg.ShortCode,
		Passkey:         cfg.Passkey,
		BaseURL:         cfg.BaseURL,
		STKCallbackURL:  base + "/webhooks/mpesa/stk-callback",
		ConfirmationURL: base + "/webhooks/mpesa/confirmation",
		ValidationURL:   base + "/webhooks/mpesa/validation",
	})

	log.Printf("[Payment] Using Daraja gateway (base: %s, shortcode: %s)", cfg.BaseURL, cfg.ShortCode)
	return &DarajaGatewayAdapter{client: client}
}

// Push generates a mock checkout session without calling the gateway
func (m *MockSTKGateway) Push(ctx context.Context, phone string, amount float64, accountReference, description string) (*STKPushResult, error) {
	id := ulid.Make().String()
	return &STKPushResult{
		MerchantRequestID: "MOCK-MR-" + id[:10],
		CheckoutRequestID: "ws_CO_MOCK_" + id,
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

// Push initiates a real STK push via the Daraja API
func (a *DarajaGatewayAdapter) Push(ctx context.Context, phone string, amount float64, accountReference, description string) (*STKPushResult, error) {
	resp, err := a.client.STKPush(ctx, phone, amount, accountReference, description)
	if err != nil {
		log.Printf("[Payment] Daraja push error: %v", err)
		return nil, fmt.Errorf("payment gateway error: %w", err)
	}
	return &STKPushResult{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// PurchaseSession is what the captive portal gets back after initiating a
// purchase; it polls payment status with the checkout request id.
type PurchaseSession struct {
	CheckoutRequestID string  `json:"checkout_request_id"`
	Reference         string  `json:"reference"`
	Amount            float64 `json:"amount"`
	CustomerMessage   string  `json:"customer_message"`
}

// PaymentService initiates gateway payments and writes the initiation
// ledger. The amount always comes from the voucher being sold, never from
// the caller.
type PaymentService struct {
	gateway      STKGateway
	voucherRepo  domain.VoucherRepository
	sessionRepo  domain.STKSessionRepository
	routerRepo   domain.RouterRepository
	settingsRepo domain.SettingsRepository
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	gateway STKGateway,
	voucherRepo domain.VoucherRepository,
	sessionRepo domain.STKSessionRepository,
	routerRepo domain.RouterRepository,
	settingsRepo domain.SettingsRepository,
) *PaymentService {
	return &PaymentService{
		gateway:      gateway,
		voucherRepo:  voucherRepo,
		sessionRepo:  sessionRepo,
		routerRepo:   routerRepo,
		settingsRepo: settingsRepo,
	}
}

// InitiateVoucherPurchase pushes a payment prompt for one voucher. With an
// explicit voucherID the caller buys that exact voucher (pre-printed stock);
// otherwise the oldest available voucher of the package is picked.
//
// The ledger row is written only after the gateway accepts the push, so a
// rejected push leaves no trace to reconcile against.
func (s *PaymentService) InitiateVoucherPurchase(ctx context.Context, routerID, packageID, voucherID, rawPhone string) (*PurchaseSession, error) {
	phone, err := daraja.NormalizeMSISDN(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number: %w", err)
	}

	router, err := s.routerRepo.GetByID(ctx, routerID)
	if err != nil {
		return nil, fmt.Errorf("router lookup failed: %w", err)
	}

	var voucher *domain.Voucher
	if voucherID != "" {
		voucher, err = s.voucherRepo.GetByID(ctx, voucherID)
		if err != nil {
			return nil, fmt.Errorf("voucher lookup failed: %w", err)
		}
		if voucher.RouterID != router.ID {
			return nil, domain.ErrForbidden
		}
		if voucher.Status != domain.VoucherStatusActive {
			return nil, domain.ErrStateConflict
		}
	} else {
		voucher, err = s.voucherRepo.FindAvailable(ctx, router.ID, packageID)
		if err != nil {
			return nil, err
		}
	}

	push, err := s.gateway.Push(ctx, phone, voucher.Price, voucher.Reference, "WiFi voucher")
	if err != nil {
		return nil, err
	}

	session := &domain.STKSession{
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		AccountReference:  voucher.Reference,
		Phone:             phone,
		Amount:            voucher.Price,
		PurchaseType:      domain.PurchaseTypeVoucher,
		VoucherID:         voucher.ID,
		AccountID:         voucher.AccountID,
		RouterID:          router.ID,
		Status:            domain.STKStatusPending,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		// the push is already on the payer's phone; settlement can still
		// resolve through the voucher reference, but initiation must
		// surface the fault
		log.Printf("[Payment] ledger write failed after push %s: %v", push.CheckoutRequestID, err)
		return nil, fmt.Errorf("failed to record payment session: %w", err)
	}

	log.Printf("[Payment] STK purchase initiated: checkout=%s voucher=%s amount=%.2f", push.CheckoutRequestID, voucher.ID, voucher.Price)
	return &PurchaseSession{
		CheckoutRequestID: push.CheckoutRequestID,
		Reference:         voucher.Reference,
		Amount:            voucher.Price,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}

// InitiateCreditTopup pushes a payment prompt for SMS credits, priced from
// platform settings.
func (s *PaymentService) InitiateCreditTopup(ctx context.Context, accountID string, credits int64, rawPhone string) (*PurchaseSession, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credits must be positive")
	}

	phone, err := daraja.NormalizeMSISDN(rawPhone)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number: %w", err)
	}

	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform settings unavailable: %w", err)
	}
	if settings.SMSCreditUnitPrice <= 0 {
		return nil, fmt.Errorf("sms credit price not configured")
	}

	amount := domain.Round2(float64(credits) * settings.SMSCreditUnitPrice)
	reference := domain.GenerateReference("SMS")

	push, err := s.gateway.Push(ctx, phone, amount, reference, "SMS credits")
	if err != nil {
		return nil, err
	}

	session := &domain.STKSession{
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		AccountReference:  reference,
		Phone:             phone,
		Amount:            amount,
		PurchaseType:      domain.PurchaseTypeSMSCredit,
		AccountID:         accountID,
		Credits:           credits,
		Status:            domain.STKStatusPending,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		log.Printf("[Payment] ledger write failed after push %s: %v", push.CheckoutRequestID, err)
		return nil, fmt.Errorf("failed to record payment session: %w", err)
	}

	log.Printf("[Payment] credit topup initiated: checkout=%s account=%s credits=%d amount=%.2f", push.CheckoutRequestID, accountID, credits, amount)
	return &PurchaseSession{
		CheckoutRequestID: push.CheckoutRequestID,
		Reference:         reference,
		Amount:            amount,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}
