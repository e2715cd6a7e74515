package handler

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/infrastructure/daraja"
	"github.com/nurunet/nurubill/internal/service"
)

// voucherStockTTL bounds how stale the ops dashboard stock counts may get.
const voucherStockTTL = 30 * time.Second

// OpsHandler serves the operator API. Every endpoint is scoped to the
// account in the verified token; only webhook log inspection needs the
// admin role.
type OpsHandler struct {
	vouchers       *service.VoucherService
	payments       *service.PaymentService
	packageRepo    domain.PackageRepository
	routerRepo     domain.RouterRepository
	txRepo         domain.TransactionRepository
	webhookLogRepo domain.WebhookLogRepository
	auditRepo      domain.AuditLogRepository
	cacheRepo      domain.CacheRepository
}

// NewOpsHandler creates a new OpsHandler
func NewOpsHandler(
	vouchers *service.VoucherService,
	payments *service.PaymentService,
	packageRepo domain.PackageRepository,
	routerRepo domain.RouterRepository,
	txRepo domain.TransactionRepository,
	webhookLogRepo domain.WebhookLogRepository,
	auditRepo domain.AuditLogRepository,
	cacheRepo domain.CacheRepository,
) *OpsHandler {
	return &OpsHandler{
		vouchers:       vouchers,
		payments:       payments,
		packageRepo:    packageRepo,
		routerRepo:     routerRepo,
		txRepo:         txRepo,
		webhookLogRepo: webhookLogRepo,
		auditRepo:      auditRepo,
		cacheRepo:      cacheRepo,
	}
}

// accountID pulls the verified account from the token middleware.
func accountID(c *fiber.Ctx) string {
	id, _ := c.Locals("accountID").(string)
	return id
}

// CreatePackageRequest represents the request body for creating a package
type CreatePackageRequest struct {
	RouterID           string  `json:"router_id"` // empty: sold on every router
	Name               string  `json:"name"`
	PackageType        string  `json:"package_type"`
	Price              float64 `json:"price"`
	DurationMinutes    int64   `json:"duration_minutes"`
	Bandwidth          string  `json:"bandwidth"`
	MaxDurationMinutes int64   `json:"max_duration_minutes"`
}

// CreatePackage handles POST /v1/ops/packages
func (h *OpsHandler) CreatePackage(c *fiber.Ctx) error {
	var req CreatePackageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "name is required",
		})
	}
	if req.PackageType != domain.PackageTypeHotspot && req.PackageType != domain.PackageTypePPPoE {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "package_type must be hotspot or pppoe",
		})
	}
	if req.Price <= 0 || req.DurationMinutes <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "price and duration_minutes must be positive",
		})
	}

	ctx := c.UserContext()
	acct := accountID(c)

	if req.RouterID != "" {
		router, err := h.routerRepo.GetByID(ctx, req.RouterID)
		if err != nil || router.AccountID != acct {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "router not found",
			})
		}
	}

	pkg := &domain.Package{
		AccountID:          acct,
		RouterID:           req.RouterID,
		Name:               req.Name,
		PackageType:        req.PackageType,
		Price:              req.Price,
		DurationMinutes:    req.DurationMinutes,
		Bandwidth:          req.Bandwidth,
		MaxDurationMinutes: req.MaxDurationMinutes,
		IsActive:           true,
	}
	if err := h.packageRepo.Create(ctx, pkg); err != nil {
		log.Printf("[Ops] package create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to create package",
		})
	}

	h.invalidatePackageCache(c, req.RouterID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    pkg,
	})
}

// ListPackages handles GET /v1/ops/packages
func (h *OpsHandler) ListPackages(c *fiber.Ctx) error {
	packages, err := h.packageRepo.ListByAccount(c.UserContext(), accountID(c))
	if err != nil {
		log.Printf("[Ops] package list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch packages",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    packages,
	})
}

// ListRouters handles GET /v1/ops/routers
// Routers are provisioned by the platform; this is the read model operators
// pick router ids from when creating packages and stock.
func (h *OpsHandler) ListRouters(c *fiber.Ctx) error {
	routers, err := h.routerRepo.ListByAccount(c.UserContext(), accountID(c))
	if err != nil {
		log.Printf("[Ops] router list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch routers",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    routers,
	})
}

// UpdatePackageRequest represents the request body for editing a package
type UpdatePackageRequest struct {
	Name               *string  `json:"name"`
	Price              *float64 `json:"price"`
	DurationMinutes    *int64   `json:"duration_minutes"`
	Bandwidth          *string  `json:"bandwidth"`
	MaxDurationMinutes *int64   `json:"max_duration_minutes"`
	IsActive           *bool    `json:"is_active"`
}

// UpdatePackage handles PATCH /v1/ops/packages/:id
// Edits reprice future sales only; sold vouchers keep their frozen terms.
func (h *OpsHandler) UpdatePackage(c *fiber.Ctx) error {
	var req UpdatePackageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	ctx := c.UserContext()
	pkg, err := h.packageRepo.GetByID(ctx, c.Params("id"))
	if err != nil || pkg.AccountID != accountID(c) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "package not found",
		})
	}

	if req.Name != nil {
		pkg.Name = *req.Name
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "price must be positive",
			})
		}
		pkg.Price = *req.Price
	}
	if req.DurationMinutes != nil {
		pkg.DurationMinutes = *req.DurationMinutes
	}
	if req.Bandwidth != nil {
		pkg.Bandwidth = *req.Bandwidth
	}
	if req.MaxDurationMinutes != nil {
		pkg.MaxDurationMinutes = *req.MaxDurationMinutes
	}
	if req.IsActive != nil {
		pkg.IsActive = *req.IsActive
	}

	if err := h.packageRepo.Update(ctx, pkg); err != nil {
		log.Printf("[Ops] package update failed for %s: %v", pkg.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to update package",
		})
	}

	h.invalidatePackageCache(c, pkg.RouterID)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    pkg,
	})
}

// GenerateBatchRequest represents the request body for voucher generation
type GenerateBatchRequest struct {
	RouterID  string `json:"router_id"`
	PackageID string `json:"package_id"`
	Count     int    `json:"count"`
}

// GenerateBatch handles POST /v1/ops/vouchers/batch
func (h *OpsHandler) GenerateBatch(c *fiber.Ctx) error {
	var req GenerateBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.RouterID == "" || req.PackageID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "router_id and package_id are required",
		})
	}

	result, err := h.vouchers.GenerateBatch(c.UserContext(), accountID(c), req.RouterID, req.PackageID, req.Count)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "router or package not found",
			})
		}
		log.Printf("[Ops] batch generation failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	h.invalidateStockCache(c, req.RouterID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// ListVouchers handles GET /v1/ops/vouchers?router_id=&status=&limit=
func (h *OpsHandler) ListVouchers(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 100))
	vouchers, err := h.vouchers.ListVouchers(c.UserContext(), accountID(c), c.Query("router_id"), c.Query("status"), limit)
	if err != nil {
		log.Printf("[Ops] voucher list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch vouchers",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    vouchers,
	})
}

// VoucherStock handles GET /v1/ops/vouchers/stock?router_id=&package_id=
func (h *OpsHandler) VoucherStock(c *fiber.Ctx) error {
	routerID := c.Query("router_id")
	if routerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "router_id is required",
		})
	}

	ctx := c.UserContext()
	packageID := c.Query("package_id")

	// cached counts are only kept for the unfiltered router view
	if h.cacheRepo != nil && packageID == "" {
		cached, err := h.cacheRepo.GetVoucherStock(ctx, routerID)
		if err != nil {
			log.Printf("[Ops] stock cache read failed for %s: %v", routerID, err)
		}
		if cached != nil {
			return c.JSON(fiber.Map{
				"success": true,
				"data":    cached,
			})
		}
	}

	counts, err := h.vouchers.StockByStatus(ctx, accountID(c), routerID, packageID)
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) || errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "router not found",
			})
		}
		log.Printf("[Ops] stock count failed for %s: %v", routerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to count stock",
		})
	}

	if h.cacheRepo != nil && packageID == "" {
		if err := h.cacheRepo.SetVoucherStock(ctx, routerID, counts, voucherStockTTL); err != nil {
			log.Printf("[Ops] stock cache write failed for %s: %v", routerID, err)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    counts,
	})
}

// ListTransactions handles GET /v1/ops/transactions?from=&to=&limit=
// from/to are RFC 3339 timestamps.
func (h *OpsHandler) ListTransactions(c *fiber.Ctx) error {
	var from, to time.Time
	var err error
	if raw := c.Query("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "from must be RFC 3339",
			})
		}
	}
	if raw := c.Query("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "to must be RFC 3339",
			})
		}
	}

	limit := int64(c.QueryInt("limit", 100))
	txs, err := h.txRepo.ListByAccount(c.UserContext(), accountID(c), from, to, limit)
	if err != nil {
		log.Printf("[Ops] transaction list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch transactions",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    txs,
	})
}

// ListWebhookLogs handles GET /v1/ops/webhook-logs?limit=
// Deliveries are platform-wide, so this is admin-only (enforced in routing).
func (h *OpsHandler) ListWebhookLogs(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 50))
	logs, err := h.webhookLogRepo.ListRecent(c.UserContext(), limit)
	if err != nil {
		log.Printf("[Ops] webhook log list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch webhook logs",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    logs,
	})
}

// ListAuditLogs handles GET /v1/ops/audit-logs?limit=
func (h *OpsHandler) ListAuditLogs(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 100))
	entries, err := h.auditRepo.ListByAccount(c.UserContext(), accountID(c), limit)
	if err != nil {
		log.Printf("[Ops] audit log list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "failed to fetch audit logs",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    entries,
	})
}

// TopupRequest represents the request body for an SMS credit top-up
type TopupRequest struct {
	Credits int64  `json:"credits"`
	Phone   string `json:"phone"`
}

// TopupSMSCredits handles POST /v1/ops/sms-credit/topup
// Pushes an STK prompt; the credits land when the C2B confirmation settles.
func (h *OpsHandler) TopupSMSCredits(c *fiber.Ctx) error {
	var req TopupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	if req.Credits <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "credits must be positive",
		})
	}

	session, err := h.payments.InitiateCreditTopup(c.UserContext(), accountID(c), req.Credits, req.Phone)
	if err != nil {
		if errors.Is(err, daraja.ErrInvalidMSISDN) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid phone number",
			})
		}
		log.Printf("[Ops] topup initiation failed: %v", err)
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

func (h *OpsHandler) invalidatePackageCache(c *fiber.Ctx, routerID string) {
	if h.cacheRepo == nil || routerID == "" {
		return
	}
	if err := h.cacheRepo.InvalidateRouterPackages(c.UserContext(), routerID); err != nil {
		log.Printf("[Ops] package cache invalidation failed for %s: %v", routerID, err)
	}
}

func (h *OpsHandler) invalidateStockCache(c *fiber.Ctx, routerID string) {
	if h.cacheRepo == nil || routerID == "" {
		return
	}
	if err := h.cacheRepo.InvalidateVoucherStock(c.UserContext(), routerID); err != nil {
		log.Printf("[Ops] stock cache invalidation failed for %s: %v", routerID, err)
	}
}
