package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nurunet/nurubill/internal/config"
	"github.com/nurunet/nurubill/internal/domain"
	"github.com/nurunet/nurubill/internal/repository"
	"github.com/nurunet/nurubill/internal/service"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

// Cron-driven sweep. Three independent passes run concurrently:
//   - vouchers: paid stock whose purchase window lapsed unactivated, and
//     activated vouchers whose usage window ended, flip to expired
//   - sessions: STK initiations still pending past the stale cutoff flip
//     to failed, so status polls stop reporting a dead checkout as pending
//   - payments: pending poll rows past the same cutoff flip to cancelled
func main() {
	staleMinutes := flag.Int64("stale-minutes", 0, "Pending session cutoff in minutes (default STALE_SESSION_MINUTES)")
	dryRun := flag.Bool("dry-run", false, "Preview what would be swept without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cutoffMinutes := cfg.Billing.StaleSessionMinutes
	if *staleMinutes > 0 {
		cutoffMinutes = *staleMinutes
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB.Database)
	now := time.Now()
	cutoff := now.Add(-time.Duration(cutoffMinutes) * time.Minute)

	if *dryRun {
		preview(ctx, db, now, cutoff, cutoffMinutes)
		return
	}

	voucherRepo := repository.NewMongoVoucherRepository(db)
	packageRepo := repository.NewMongoPackageRepository(db)
	routerRepo := repository.NewMongoRouterRepository(db)
	auditRepo := repository.NewMongoAuditLogRepository(db)
	sessionRepo := repository.NewMongoSTKSessionRepository(db)
	paymentRepo := repository.NewMongoPaymentRepository(db)

	voucherService := service.NewVoucherService(voucherRepo, packageRepo, routerRepo, auditRepo, nil)

	var expiredPaid, expiredUsed, failedSessions, cancelledPayments int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		paid, used, err := voucherService.ExpireOverdue(gctx)
		if err != nil {
			return fmt.Errorf("voucher sweep: %w", err)
		}
		expiredPaid, expiredUsed = paid, used
		return nil
	})

	g.Go(func() error {
		failed, err := sessionRepo.FailStalePending(gctx, cutoff)
		if err != nil {
			return fmt.Errorf("session sweep: %w", err)
		}
		failedSessions = failed
		return nil
	})

	g.Go(func() error {
		cancelled, err := paymentRepo.CancelStalePending(gctx, cutoff)
		if err != nil {
			return fmt.Errorf("payment sweep: %w", err)
		}
		cancelledPayments = cancelled
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	fmt.Printf("✅ Sweep complete:\n")
	fmt.Printf("   Paid vouchers expired (purchase window lapsed): %d\n", expiredPaid)
	fmt.Printf("   Used vouchers expired (usage window ended):     %d\n", expiredUsed)
	fmt.Printf("   Stale pending sessions failed (>%dm):           %d\n", cutoffMinutes, failedSessions)
	fmt.Printf("   Stale pending payments cancelled (>%dm):        %d\n", cutoffMinutes, cancelledPayments)
}

// preview counts with the same filters the sweep writes with.
func preview(ctx context.Context, db *mongo.Database, now, cutoff time.Time, cutoffMinutes int64) {
	count := func(coll string, filter bson.M) int64 {
		n, err := db.Collection(coll).CountDocuments(ctx, filter)
		if err != nil {
			log.Fatalf("Failed to count %s: %v", coll, err)
		}
		return n
	}

	overduePaid := count("vouchers", bson.M{
		"status":              domain.VoucherStatusPaid,
		"purchase_expires_at": bson.M{"$lte": now},
	})
	overdueUsed := count("vouchers", bson.M{
		"status":          domain.VoucherStatusUsed,
		"expected_end_at": bson.M{"$lte": now},
	})
	staleSessions := count("stk_sessions", bson.M{
		"status":     domain.STKStatusPending,
		"created_at": bson.M{"$lt": cutoff},
	})
	stalePayments := count("payments", bson.M{
		"status":     domain.PaymentStatusPending,
		"created_at": bson.M{"$lt": cutoff},
	})

	fmt.Printf("Dry run, nothing written. Would sweep:\n")
	fmt.Printf("   Paid vouchers past their purchase window: %d\n", overduePaid)
	fmt.Printf("   Used vouchers past their usage window:    %d\n", overdueUsed)
	fmt.Printf("   Pending sessions older than %dm:          %d\n", cutoffMinutes, staleSessions)
	fmt.Printf("   Pending payments older than %dm:          %d\n", cutoffMinutes, stalePayments)
}
