package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nurunet/nurubill/internal/config"
	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/repository"
	"github.com/nurunet/nurubill/internal/service"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Seeds a demo billing account into a fresh database: platform settings, one
// account, one router, three hotspot packages and a stack of vouchers per
// package. Prints the generated IDs so they can go straight into the portal
// and captive page configs.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB.Database)

	voucherRepo := repository.NewMongoVoucherRepository(db)
	packageRepo := repository.NewMongoPackageRepository(db)
	routerRepo := repository.NewMongoRouterRepository(db)
	accountRepo := repository.NewMongoAccountRepository(db)
	settingsRepo := repository.NewMongoSettingsRepository(db)
	auditRepo := repository.NewMongoAuditLogRepository(db)

	// Platform settings (upsert, safe to rerun)
	settings := &domain.PlatformSettings{
		DefaultCommission: 0.10,
		TypeCommissionRates: map[string]float64{
			domain.AccountTypeIndividual: 0.12,
			domain.AccountTypeBusiness:   0.08,
		},
		SMSCreditUnitPrice: 2.50,
	}
	if err := settingsRepo.Upsert(ctx, settings); err != nil {
		log.Fatalf("Failed to seed settings: %v", err)
	}
	fmt.Println("Created: platform settings")

	account := &domain.Account{
		Name:        "Nuru Cafe Demo",
		Email:       "demo@nurunet.example",
		AccountType: domain.AccountTypeBusiness,
		SMSCredits:  100,
	}
	if err := accountRepo.Create(ctx, account); err != nil {
		log.Fatalf("Failed to seed account: %v", err)
	}
	fmt.Printf("Created: account %s (%s)\n", account.Name, account.ID)

	router := &domain.Router{
		AccountID: account.ID,
		Name:      "Nuru Cafe Front AP",
		Host:      "10.10.0.1",
		Status:    "online",
	}
	if err := routerRepo.Create(ctx, router); err != nil {
		log.Fatalf("Failed to seed router: %v", err)
	}
	fmt.Printf("Created: router %s (%s)\n", router.Name, router.ID)

	packages := []*domain.Package{
		{
			AccountID:          account.ID,
			Name:               "1 Hour Express",
			PackageType:        domain.PackageTypeHotspot,
			Price:              10,
			DurationMinutes:    60,
			Bandwidth:          "3M/3M",
			MaxDurationMinutes: 24 * 60,
			IsActive:           true,
		},
		{
			AccountID:          account.ID,
			Name:               "Half Day",
			PackageType:        domain.PackageTypeHotspot,
			Price:              25,
			DurationMinutes:    12 * 60,
			Bandwidth:          "5M/5M",
			MaxDurationMinutes: 48 * 60,
			IsActive:           true,
		},
		{
			AccountID:          account.ID,
			Name:               "Weekly Unlimited",
			PackageType:        domain.PackageTypeHotspot,
			Price:              250,
			DurationMinutes:    7 * 24 * 60,
			Bandwidth:          "10M/10M",
			IsActive:           true,
		},
	}

	// The service freezes package terms into each voucher exactly as the
	// ops endpoint would, so seeded stock behaves like operator stock.
	voucherService := service.NewVoucherService(voucherRepo, packageRepo, routerRepo, auditRepo, nil)

	for _, pkg := range packages {
		if err := packageRepo.Create(ctx, pkg); err != nil {
			log.Fatalf("Failed to seed package %s: %v", pkg.Name, err)
		}
		fmt.Printf("Created: package %s (%s)\n", pkg.Name, pkg.ID)

		batch, err := voucherService.GenerateBatch(ctx, account.ID, router.ID, pkg.ID, 20)
		if err != nil {
			log.Fatalf("Failed to generate vouchers for %s: %v", pkg.Name, err)
		}
		fmt.Printf("Created: %d vouchers for %s (batch %s)\n", batch.Count, pkg.Name, batch.BatchID)
	}

	fmt.Println("Seeding Billing Demo Complete.")
	fmt.Printf("\nCaptive portal query string: ?router_id=%s\n", router.ID)
}
