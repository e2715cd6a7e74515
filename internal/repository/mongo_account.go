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

// MongoAccountRepository implements domain.AccountRepository
type MongoAccountRepository struct {
	collection *mongo.Collection
}

// NewMongoAccountRepository creates a new account repository
func NewMongoAccountRepository(db *mongo.Database) *MongoAccountRepository {
	collection := db.Collection("accounts")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return &MongoAccountRepository{
		collection: collection,
	}
}

func (r *MongoAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	objID := primitive.NewObjectID()
	account.ID = objID.Hex()

	doc := bson.M{
		"_id":          objID,
		"name":         account.Name,
		"email":        account.Email,
		"account_type": account.AccountType,
		"sms_credits":  account.SMSCredits,
		"created_at":   account.CreatedAt,
		"updated_at":   account.UpdatedAt,
	}
	if account.CommissionRate != nil {
		doc["commission_rate"] = *account.CommissionRate
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *MongoAccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid account id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return mapBsonToAccount(raw), nil
}

func (r *MongoAccountRepository) IncrementSMSCredits(ctx context.Context, id string, credits int64) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid account id: %w", err)
	}

	update := bson.M{
		"$inc": bson.M{"sms_credits": credits},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID}, update)
	if err != nil {
		return fmt.Errorf("failed to increment sms credits: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func mapBsonToAccount(raw bson.M) *domain.Account {
	account := &domain.Account{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		account.ID = oid.Hex()
	}
	if name, ok := raw["name"].(string); ok {
		account.Name = name
	}
	if email, ok := raw["email"].(string); ok {
		account.Email = email
	}
	if accountType, ok := raw["account_type"].(string); ok {
		account.AccountType = accountType
	}
	if raw["commission_rate"] != nil {
		rate := bsonFloat(raw["commission_rate"])
		account.CommissionRate = &rate
	}
	account.SMSCredits = bsonInt64(raw["sms_credits"])
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		account.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		account.UpdatedAt = updated.Time()
	}

	return account
}
