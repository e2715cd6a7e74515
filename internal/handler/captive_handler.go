package handler

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
	"github.com/nurunet/nurubill/internal/service"
)

// CaptiveHandler serves the purchaser-facing captive portal API. Nothing here
// is authenticated; every response is scoped by the requesting router and the
// voucher code/password only ever leave on the sanctioned endpoints.
type CaptiveHandler struct {
	payments    *service.PaymentService
	status      *service.StatusService
	verify      *service.VerifyService
	vouchers    *service.VoucherService
	routerRepo  domain.RouterRepository
	packageRepo domain.PackageRepository
	cacheRepo   domain.CacheRepository
}

// NewCaptiveHandler creates a new CaptiveHandler
func NewCaptiveHandler(
	payments *service.PaymentService,
	status *service.StatusService,
	verify *service.VerifyService,
	vouchers *service.VoucherService,
	routerRepo domain.RouterRepository,
	packageRepo domain.PackageRepository,
	cacheRepo domain.CacheRepository,
) *CaptiveHandler {
	return &CaptiveHandler{
		payments:    payments,
		status:      status,
		verify:      verify,
		vouchers:    vouchers,
		routerRepo:  routerRepo,
		packageRepo: packageRepo,
		cacheRepo:   cacheRepo,
	}
}

// ListPackages handles GET /v1/captive/packages?router_id=
// The list is cached briefly; an operator plan edit shows up within the TTL.
func (h *CaptiveHandler) ListPackages(c *fiber.Ctx) error {
	routerID := c.Query("router_id")
	if routerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "router_id is required",
		})
	}

	ctx := c.UserContext()

	if h.cacheRepo != nil {
		cached, err := h.cacheRepo.GetRouterPackages(ctx, routerID)
		if err != nil {
			log.Printf("[Captive] package cache read failed for %s: %v", routerID, err)
		}
		if cached != nil {
			return c.JSON(fiber.Map{
				"success": true,
				"data":    cached,
			})
		}
	}

	router, err := h.routerRepo.GetByID(ctx, routerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "router not found",
			})
		}
		log.Printf("[Captive] router lookup failed for %s: %v", routerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch packages",
		})
	}

	packages, err := h.packageRepo.GetActiveByRouter(ctx, router.AccountID, routerID)
	if err != nil {
		log.Printf("[Captive] package lookup failed for %s: %v", routerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch packages",
		})
	}

	if h.cacheRepo != nil {
		if err := h.cacheRepo.SetRouterPackages(ctx, routerID, packages); err != nil {
			log.Printf("[Captive] package cache write failed for %s: %v", routerID, err)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    packages,
	})
}

// PurchaseRequest represents the request body for a voucher purchase
type PurchaseRequest struct {
	RouterID  string `json:"router_id"`
	PackageID string `json:"package_id"`
	VoucherID string `json:"voucher_id"` // optional: buy a specific pre-printed voucher
	Phone     string `json:"phone"`
}

// Purchase handles POST /v1/captive/purchase
// Pushes an STK prompt to the payer's phone and returns the checkout id the
// portal polls. The amount is never taken from the client.
func (h *CaptiveHandler) Purchase(c *fiber.Ctx) error {
	var req PurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.RouterID == "" || req.Phone == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "router_id and phone are required",
		})
	}
	if req.PackageID == "" && req.VoucherID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "package_id or voucher_id is required",
		})
	}

	session, err := h.payments.InitiateVoucherPurchase(c.UserContext(), req.RouterID, req.PackageID, req.VoucherID, req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, daraja.ErrInvalidMSISDN):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid phone number",
			})
		case errors.Is(err, domain.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "router or voucher not found",
			})
		case errors.Is(err, domain.ErrNoStock):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "no vouchers available for this package",
			})
		case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrStateConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "voucher is not available",
			})
		}
		log.Printf("[Captive] purchase initiation failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   "failed to initiate payment",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    session,
	})
}

// PaymentStatus handles GET /v1/captive/payment-status/:checkout_id?router_id=
func (h *CaptiveHandler) PaymentStatus(c *fiber.Ctx) error {
	checkoutID := c.Params("checkout_id")
	if checkoutID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "checkout_id is required",
		})
	}

	status, err := h.status.GetPaymentStatus(c.UserContext(), c.Query("router_id"), checkoutID)
	if err != nil {
		log.Printf("[Captive] status lookup failed for %s: %v", checkoutID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch payment status",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    status,
	})
}

// VerifyMpesaRequest represents the request body for manual verification
type VerifyMpesaRequest struct {
	RouterID string `json:"router_id"`
	Receipt  string `json:"receipt"`
	MAC      string `json:"mac"`
}

// VerifyMpesa handles POST /v1/captive/verify-mpesa
// Every failure answers the same way so receipts cannot be enumerated.
func (h *CaptiveHandler) VerifyMpesa(c *fiber.Ctx) error {
	var req VerifyMpesaRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.RouterID == "" || req.Receipt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "router_id and receipt are required",
		})
	}

	creds, err := h.verify.VerifyReceipt(c.UserContext(), req.RouterID, req.Receipt, req.MAC)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Transaction not recognized",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"voucher": creds,
		},
	})
}

// ActivateRequest represents the request body for a hotspot login activation
type ActivateRequest struct {
	RouterID string `json:"router_id"`
	Code     string `json:"code"`
}

// Activate handles POST /v1/captive/activate
// The hotspot calls this when a voucher code first logs in.
func (h *CaptiveHandler) Activate(c *fiber.Ctx) error {
	var req ActivateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.RouterID == "" || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "router_id and code are required",
		})
	}

	result, err := h.vouchers.ActivateVoucher(c.UserContext(), req.RouterID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "voucher not recognized",
			})
		case errors.Is(err, domain.ErrStateConflict):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "voucher is not usable",
			})
		}
		log.Printf("[Captive] activation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to activate voucher",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}
