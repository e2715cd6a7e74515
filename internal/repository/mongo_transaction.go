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

// MongoTransactionRepository implements domain.TransactionRepository
type MongoTransactionRepository struct {
	collection *mongo.Collection
}

// NewMongoTransactionRepository creates a new transaction repository
func NewMongoTransactionRepository(db *mongo.Database) *MongoTransactionRepository {
	collection := db.Collection("transactions")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The storage-level idempotency backstop: one revenue record per
	// gateway receipt, no matter how the application races.
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

	return &MongoTransactionRepository{
		collection: collection,
	}
}

func (r *MongoTransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	tx.CreatedAt = time.Now().UTC()

	objID := primitive.NewObjectID()
	tx.ID = objID.Hex()

	doc := bson.M{
		"_id":              objID,
		"account_id":       tx.AccountID,
		"router_id":        tx.RouterID,
		"voucher_id":       tx.VoucherID,
		"transaction_type": tx.TransactionType,
		"mpesa_receipt":    tx.MpesaReceipt,
		"amount":           tx.Amount,
		"commission":       tx.Commission,
		"net_amount":       tx.NetAmount,
		"phone_hash":       tx.PhoneHash,
		"description":      tx.Description,
		"created_at":       tx.CreatedAt,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateReceipt
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *MongoTransactionRepository) ListByAccount(ctx context.Context, accountID string, from, to time.Time, limit int64) ([]*domain.Transaction, error) {
	filter := bson.M{"account_id": accountID}

	createdAt := bson.M{}
	if !from.IsZero() {
		createdAt["$gte"] = from
	}
	if !to.IsZero() {
		createdAt["$lte"] = to
	}
	if len(createdAt) > 0 {
		filter["created_at"] = createdAt
	}

	if limit <= 0 || limit > 500 {
		limit = 500
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var transactions []*domain.Transaction
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		transactions = append(transactions, mapBsonToTransaction(raw))
	}
	return transactions, nil
}

func mapBsonToTransaction(raw bson.M) *domain.Transaction {
	tx := &domain.Transaction{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		tx.ID = oid.Hex()
	}
	if accountID, ok := raw["account_id"].(string); ok {
		tx.AccountID = accountID
	}
	if routerID, ok := raw["router_id"].(string); ok {
		tx.RouterID = routerID
	}
	if voucherID, ok := raw["voucher_id"].(string); ok {
		tx.VoucherID = voucherID
	}
	if txType, ok := raw["transaction_type"].(string); ok {
		tx.TransactionType = txType
	}
	if receipt, ok := raw["mpesa_receipt"].(string); ok {
		tx.MpesaReceipt = receipt
	}
	tx.Amount = bsonFloat(raw["amount"])
	tx.Commission = bsonFloat(raw["commission"])
	tx.NetAmount = bsonFloat(raw["net_amount"])
	if phoneHash, ok := raw["phone_hash"].(string); ok {
		tx.PhoneHash = phoneHash
	}
	if description, ok := raw["description"].(string); ok {
		tx.Description = description
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		tx.CreatedAt = created.Time()
	}

	return tx
}
