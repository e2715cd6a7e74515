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

// MongoWebhookLogRepository implements domain.WebhookLogRepository
type MongoWebhookLogRepository struct {
	collection *mongo.Collection
}

// NewMongoWebhookLogRepository creates a new webhook log repository
func NewMongoWebhookLogRepository(db *mongo.Database) *MongoWebhookLogRepository {
	collection := db.Collection("webhook_logs")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "transaction_id", Value: 1}},
	})

	return &MongoWebhookLogRepository{
		collection: collection,
	}
}

func (r *MongoWebhookLogRepository) Insert(ctx context.Context, entry *domain.WebhookLog) error {
	entry.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert webhook log: %w", err)
	}
	return nil
}

func (r *MongoWebhookLogRepository) ListRecent(ctx context.Context, limit int64) ([]*domain.WebhookLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.WebhookLog
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode webhook logs: %w", err)
	}
	return entries, nil
}
