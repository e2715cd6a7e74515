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

// MongoPaymentRepository implements domain.PaymentRepository
type MongoPaymentRepository struct {
	collection *mongo.Collection
}

// NewMongoPaymentRepository creates a new payment repository
func NewMongoPaymentRepository(db *mongo.Database) *MongoPaymentRepository {
	collection := db.Collection("payments")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Counter payments carry no checkout id, so both keys are sparse unique
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "checkout_request_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "mpesa_receipt", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "account_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
	})

	return &MongoPaymentRepository{
		collection: collection,
	}
}

// UpsertByCheckoutID creates or updates the payment row for a checkout id.
// A row already marked completed is never downgraded: late or replayed
// result callbacks lose against settlement.
func (r *MongoPaymentRepository) UpsertByCheckoutID(ctx context.Context, payment *domain.Payment) error {
	if payment.CheckoutRequestID == "" {
		return r.insertWithoutCheckout(ctx, payment)
	}

	now := time.Now().UTC()
	set := bson.M{
		"status":     payment.Status,
		"updated_at": now,
	}
	if payment.MpesaReceipt != "" {
		set["mpesa_receipt"] = payment.MpesaReceipt
	}
	if payment.VoucherID != "" {
		set["voucher_id"] = payment.VoucherID
	}
	if payment.RouterID != "" {
		set["router_id"] = payment.RouterID
	}
	if payment.AccountID != "" {
		set["account_id"] = payment.AccountID
	}
	if payment.PhoneHash != "" {
		set["phone_hash"] = payment.PhoneHash
	}
	if payment.ResultCode != nil {
		set["result_code"] = *payment.ResultCode
	}
	if payment.ResultDesc != "" {
		set["result_desc"] = payment.ResultDesc
	}

	filter := bson.M{
		"checkout_request_id": payment.CheckoutRequestID,
	}
	// completed is terminal unless this write is itself the completion
	if payment.Status != domain.PaymentStatusCompleted {
		filter["status"] = bson.M{"$ne": domain.PaymentStatusCompleted}
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"checkout_request_id": payment.CheckoutRequestID,
			"amount":              payment.Amount,
			"created_at":          now,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// the guarded filter plus upsert can race a completed row; that is
		// exactly the downgrade we refuse, not a failure
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to upsert payment: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepository) insertWithoutCheckout(ctx context.Context, payment *domain.Payment) error {
	now := time.Now().UTC()
	objID := primitive.NewObjectID()
	payment.ID = objID.Hex()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	doc := bson.M{
		"_id":        objID,
		"amount":     payment.Amount,
		"status":     payment.Status,
		"created_at": now,
		"updated_at": now,
	}
	if payment.MpesaReceipt != "" {
		doc["mpesa_receipt"] = payment.MpesaReceipt
	}
	if payment.VoucherID != "" {
		doc["voucher_id"] = payment.VoucherID
	}
	if payment.RouterID != "" {
		doc["router_id"] = payment.RouterID
	}
	if payment.AccountID != "" {
		doc["account_id"] = payment.AccountID
	}
	if payment.PhoneHash != "" {
		doc["phone_hash"] = payment.PhoneHash
	}
	if payment.ResultDesc != "" {
		doc["result_desc"] = payment.ResultDesc
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// same receipt already recorded, nothing to add
			return nil
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepository) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*domain.Payment, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"checkout_request_id": checkoutRequestID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return mapBsonToPayment(raw), nil
}

func (r *MongoPaymentRepository) GetByReceiptForAccount(ctx context.Context, receipt, accountID string) (*domain.Payment, error) {
	filter := bson.M{
		"mpesa_receipt": receipt,
		"account_id":    accountID,
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, filter).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment by receipt: %w", err)
	}
	return mapBsonToPayment(raw), nil
}

func (r *MongoPaymentRepository) CancelStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	filter := bson.M{
		"status": domain.PaymentStatusPending,
		"created_at": bson.M{
			"$lt": olderThan,
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":      domain.PaymentStatusCancelled,
			"result_desc": "no settlement received",
			"updated_at":  time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale payments: %w", err)
	}
	return result.ModifiedCount, nil
}

func mapBsonToPayment(raw bson.M) *domain.Payment {
	p := &domain.Payment{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		p.ID = oid.Hex()
	}
	if checkoutID, ok := raw["checkout_request_id"].(string); ok {
		p.CheckoutRequestID = checkoutID
	}
	if receipt, ok := raw["mpesa_receipt"].(string); ok {
		p.MpesaReceipt = receipt
	}
	if voucherID, ok := raw["voucher_id"].(string); ok {
		p.VoucherID = voucherID
	}
	if routerID, ok := raw["router_id"].(string); ok {
		p.RouterID = routerID
	}
	if accountID, ok := raw["account_id"].(string); ok {
		p.AccountID = accountID
	}
	p.Amount = bsonFloat(raw["amount"])
	if phoneHash, ok := raw["phone_hash"].(string); ok {
		p.PhoneHash = phoneHash
	}
	if status, ok := raw["status"].(string); ok {
		p.Status = status
	}
	if raw["result_code"] != nil {
		code := int(bsonInt64(raw["result_code"]))
		p.ResultCode = &code
	}
	if resultDesc, ok := raw["result_desc"].(string); ok {
		p.ResultDesc = resultDesc
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		p.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		p.UpdatedAt = updated.Time()
	}

	return p
}
