package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoWifiCustomerRepository implements domain.WifiCustomerRepository
type MongoWifiCustomerRepository struct {
	collection *mongo.Collection
}

// NewMongoWifiCustomerRepository creates a new wifi customer repository
func NewMongoWifiCustomerRepository(db *mongo.Database) *MongoWifiCustomerRepository {
	collection := db.Collection("wifi_customers")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "account_id", Value: 1},
			{Key: "phone_hash", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})

	return &MongoWifiCustomerRepository{
		collection: collection,
	}
}

// UpsertPurchase folds one purchase into the customer record, creating it on
// first sight of the hash.
func (r *MongoWifiCustomerRepository) UpsertPurchase(ctx context.Context, accountID, phoneHash, phone string, amount float64, at time.Time) error {
	filter := bson.M{
		"account_id": accountID,
		"phone_hash": phoneHash,
	}

	set := bson.M{
		"last_purchase_at": at,
		"updated_at":       time.Now().UTC(),
	}
	// plaintext only arrives via the initiation ledger; never blank it out
	if phone != "" {
		set["phone"] = phone
	}

	update := bson.M{
		"$inc": bson.M{
			"total_purchases": 1,
			"total_spend":     amount,
		},
		"$set": set,
		"$setOnInsert": bson.M{
			"account_id": accountID,
			"phone_hash": phoneHash,
			"created_at": time.Now().UTC(),
		},
	}

	if _, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert wifi customer: %w", err)
	}
	return nil
}

func (r *MongoWifiCustomerRepository) GetByPhoneHash(ctx context.Context, accountID, phoneHash string) (*domain.WifiCustomer, error) {
	filter := bson.M{
		"account_id": accountID,
		"phone_hash": phoneHash,
	}

	var customer domain.WifiCustomer
	if err := r.collection.FindOne(ctx, filter).Decode(&customer); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wifi customer: %w", err)
	}
	return &customer, nil
}
