package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSTKSessionRepository implements domain.STKSessionRepository
type MongoSTKSessionRepository struct {
	collection *mongo.Collection
}

// NewMongoSTKSessionRepository creates a new STK session repository
func NewMongoSTKSessionRepository(db *mongo.Database) *MongoSTKSessionRepository {
	collection := db.Collection("stk_sessions")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One ledger row per gateway checkout id
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "checkout_request_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	// Settlement resolves by billing reference, newest first
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "account_reference", Value: 1},
			{Key: "created_at", Value: -1},
		},
	})

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
		},
	})

	return &MongoSTKSessionRepository{
		collection: collection,
	}
}

func (r *MongoSTKSessionRepository) Create(ctx context.Context, session *domain.STKSession) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	objID := primitive.NewObjectID()
	session.ID = objID.Hex()

	doc := bson.M{
		"_id":                 objID,
		"checkout_request_id": session.CheckoutRequestID,
		"merchant_request_id": session.MerchantRequestID,
		"account_reference":   session.AccountReference,
		"phone":               session.Phone,
		"amount":              session.Amount,
		"purchase_type":       session.PurchaseType,
		"voucher_id":          session.VoucherID,
		"account_id":          session.AccountID,
		"router_id":           session.RouterID,
		"credits":             session.Credits,
		"status":              session.Status,
		"created_at":          session.CreatedAt,
		"updated_at":          session.UpdatedAt,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create stk session: %w", err)
	}
	return nil
}

func (r *MongoSTKSessionRepository) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.STKSession, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"checkout_request_id": checkoutRequestID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stk session: %w", err)
	}
	return mapBsonToSTKSession(raw), nil
}

func (r *MongoSTKSessionRepository) GetByReference(ctx context.Context, accountReference string) (*domain.STKSession, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"account_reference": accountReference}, opts).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get stk session by reference: %w", err)
	}
	return mapBsonToSTKSession(raw), nil
}

func (r *MongoSTKSessionRepository) MarkPendingConfirmation(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc, receipt string) error {
	filter := bson.M{
		"checkout_request_id": checkoutRequestID,
		"status":              domain.STKStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":         domain.STKStatusPendingConfirmation,
			"result_code":    resultCode,
			"result_desc":    resultDesc,
			"receipt_number": receipt,
			"updated_at":     time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark stk session pending confirmation: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (r *MongoSTKSessionRepository) MarkFailed(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc string) error {
	filter := bson.M{
		"checkout_request_id": checkoutRequestID,
		"status":              domain.STKStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":      domain.STKStatusFailed,
			"result_code": resultCode,
			"result_desc": resultDesc,
			"updated_at":  time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark stk session failed: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

// MarkCompleted accepts any non-completed source status. A settlement
// arriving after a failure result means the money moved regardless of what
// the result callback claimed.
func (r *MongoSTKSessionRepository) MarkCompleted(ctx context.Context, checkoutRequestID string, receipt string) error {
	now := time.Now().UTC()
	filter := bson.M{
		"checkout_request_id": checkoutRequestID,
		"status":              bson.M{"$ne": domain.STKStatusCompleted},
	}
	update := bson.M{
		"$set": bson.M{
			"status":         domain.STKStatusCompleted,
			"receipt_number": receipt,
			"completed_at":   now,
			"updated_at":     now,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark stk session completed: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (r *MongoSTKSessionRepository) FailStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	filter := bson.M{
		"status": domain.STKStatusPending,
		"created_at": bson.M{
			"$lt": olderThan,
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":      domain.STKStatusFailed,
			"result_desc": "no gateway result received",
			"updated_at":  time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale stk sessions: %w", err)
	}
	return result.ModifiedCount, nil
}

func mapBsonToSTKSession(raw bson.M) *domain.STKSession {
	s := &domain.STKSession{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		s.ID = oid.Hex()
	}
	if checkoutID, ok := raw["checkout_request_id"].(string); ok {
		s.CheckoutRequestID = checkoutID
	}
	if merchantID, ok := raw["merchant_request_id"].(string); ok {
		s.MerchantRequestID = merchantID
	}
	if reference, ok := raw["account_reference"].(string); ok {
		s.AccountReference = reference
	}
	if phone, ok := raw["phone"].(string); ok {
		s.Phone = phone
	}
	s.Amount = bsonFloat(raw["amount"])
	if purchaseType, ok := raw["purchase_type"].(string); ok {
		s.PurchaseType = purchaseType
	}
	if voucherID, ok := raw["voucher_id"].(string); ok {
		s.VoucherID = voucherID
	}
	if accountID, ok := raw["account_id"].(string); ok {
		s.AccountID = accountID
	}
	if routerID, ok := raw["router_id"].(string); ok {
		s.RouterID = routerID
	}
	s.Credits = bsonInt64(raw["credits"])
	if status, ok := raw["status"].(string); ok {
		s.Status = status
	}
	if raw["result_code"] != nil {
		code := int(bsonInt64(raw["result_code"]))
		s.ResultCode = &code
	}
	if resultDesc, ok := raw["result_desc"].(string); ok {
		s.ResultDesc = resultDesc
	}
	if receipt, ok := raw["receipt_number"].(string); ok {
		s.ReceiptNumber = receipt
	}
	if t, ok := raw["completed_at"].(primitive.DateTime); ok {
		tt := t.Time()
		s.CompletedAt = &tt
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		s.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		s.UpdatedAt = updated.Time()
	}

	return s
}
