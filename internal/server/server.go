package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nurunet/nurubill/internal/config"
	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/handler"
	"github.com/nurunet/nurubill/internal/middleware"
	"github.com/nurunet/nurubill/internal/repository"
	"github.com/nurunet/nurubill/internal/service"
	"github.com/nurunet/nurubill/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	MongoDB     *mongo.Database
	RedisClient *redis.Client
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *fiber.App {
	// Initialize repositories
	voucherRepo := repository.NewMongoVoucherRepository(deps.MongoDB)
	packageRepo := repository.NewMongoPackageRepository(deps.MongoDB)
	routerRepo := repository.NewMongoRouterRepository(deps.MongoDB)
	accountRepo := repository.NewMongoAccountRepository(deps.MongoDB)
	sessionRepo := repository.NewMongoSTKSessionRepository(deps.MongoDB)
	paymentRepo := repository.NewMongoPaymentRepository(deps.MongoDB)
	txRepo := repository.NewMongoTransactionRepository(deps.MongoDB)
	customerRepo := repository.NewMongoWifiCustomerRepository(deps.MongoDB)
	settingsRepo := repository.NewMongoSettingsRepository(deps.MongoDB)
	auditRepo := repository.NewMongoAuditLogRepository(deps.MongoDB)
	webhookLogRepo := repository.NewMongoWebhookLogRepository(deps.MongoDB)
	cacheRepo := repository.NewRedisCacheRepository(deps.RedisClient)

	// Batch CSV exports are optional; without an object store the batch
	// endpoint still works, it just returns no download URL.
	var exports service.ExportStore
	if deps.Config.S3.Endpoint != "" {
		s3Repo, err := repository.NewS3ExportRepository(context.Background(), deps.Config.S3)
		if err != nil {
			log.Printf("Warning: Failed to initialize S3 export repository: %v", err)
		} else {
			exports = s3Repo
		}
	}

	// Initialize services
	gateway := service.NewSTKGateway(deps.Config.Daraja, deps.Config.Server.PublicBaseURL)
	commission := service.NewCommissionResolver(accountRepo, settingsRepo, deps.Config.Billing.DefaultCommissionRate)

	reconciler := service.NewReconciler(
		voucherRepo,
		sessionRepo,
		paymentRepo,
		txRepo,
		customerRepo,
		accountRepo,
		auditRepo,
		webhookLogRepo,
		commission,
	)

	paymentService := service.NewPaymentService(gateway, voucherRepo, sessionRepo, routerRepo, settingsRepo)
	statusService := service.NewStatusService(paymentRepo, sessionRepo, voucherRepo, time.Duration(deps.Config.Billing.PollTimeoutMinutes)*time.Minute)
	verifyService := service.NewVerifyService(paymentRepo, voucherRepo, routerRepo, auditRepo)
	voucherService := service.NewVoucherService(voucherRepo, packageRepo, routerRepo, auditRepo, exports)

	// Initialize handlers
	webhookHandler := handler.NewWebhookHandler(reconciler, deps.Config.Webhook.Secret)
	captiveHandler := handler.NewCaptiveHandler(paymentService, statusService, verifyService, voucherService, routerRepo, packageRepo, cacheRepo)
	opsHandler := handler.NewOpsHandler(voucherService, paymentService, packageRepo, routerRepo, txRepo, webhookLogRepo, auditRepo, cacheRepo)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "NuruBill Hotspot Billing API",
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(telemetry.FiberMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Idempotency-Key",
		AllowMethods: "GET, POST, PATCH, OPTIONS",
	}))

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "nurubill",
		})
	})

	// ===========================================
	// WEBHOOKS - M-Pesa gateway callbacks (HMAC-signed)
	// ===========================================
	webhooks := app.Group("/webhooks/mpesa")
	webhooks.Post("/stk-callback", webhookHandler.STKCallback)
	webhooks.Post("/confirmation", webhookHandler.Confirmation)
	webhooks.Post("/validation", webhookHandler.Validation)

	// API v1 routes
	v1 := app.Group("/v1")

	// ===========================================
	// CAPTIVE API - /v1/captive/* (public, purchaser-facing)
	// ===========================================
	captive := v1.Group("/captive")
	captive.Get("/packages", captiveHandler.ListPackages)
	captive.Post("/purchase",
		middleware.Idempotency(deps.RedisClient, time.Duration(deps.Config.Billing.PollTimeoutMinutes)*time.Minute),
		captiveHandler.Purchase)
	captive.Get("/payment-status/:checkout_id", captiveHandler.PaymentStatus)
	captive.Post("/verify-mpesa",
		middleware.RateLimit(deps.RedisClient, 10, time.Minute),
		captiveHandler.VerifyMpesa)
	captive.Post("/activate", captiveHandler.Activate)

	// ===========================================
	// OPS API - /v1/ops/* (requires 'operator' or 'admin' role)
	// ===========================================
	ops := v1.Group("/ops")
	ops.Use(middleware.VerifyOperatorToken(deps.Config.JWT.Secret))
	ops.Use(middleware.AuthorizeRole(domain.RoleOperator, domain.RoleAdmin))

	opsPackages := ops.Group("/packages")
	opsPackages.Post("/", opsHandler.CreatePackage)
	opsPackages.Get("/", opsHandler.ListPackages)
	opsPackages.Patch("/:id", opsHandler.UpdatePackage)

	opsVouchers := ops.Group("/vouchers")
	opsVouchers.Post("/batch", opsHandler.GenerateBatch)
	opsVouchers.Get("/stock", opsHandler.VoucherStock)
	opsVouchers.Get("/", opsHandler.ListVouchers)

	ops.Get("/routers", opsHandler.ListRouters)
	ops.Get("/transactions", opsHandler.ListTransactions)
	ops.Get("/audit-logs", opsHandler.ListAuditLogs)
	ops.Post("/sms-credit/topup", opsHandler.TopupSMSCredits)

	// Webhook deliveries are platform-wide, not account-scoped
	ops.Get("/webhook-logs", middleware.AuthorizeRole(domain.RoleAdmin), opsHandler.ListWebhookLogs)

	return app
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("Error: %v", err)
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}
