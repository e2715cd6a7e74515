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

// MongoAuditLogRepository implements domain.AuditLogRepository
type MongoAuditLogRepository struct {
	collection *mongo.Collection
}

// NewMongoAuditLogRepository creates a new audit log repository
func NewMongoAuditLogRepository(db *mongo.Database) *MongoAuditLogRepository {
	collection := db.Collection("audit_logs")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "account_id", Value: 1},
			{Key: "created_at", Value: -1},
		},
	})

	return &MongoAuditLogRepository{
		collection: collection,
	}
}

func (r *MongoAuditLogRepository) Insert(ctx context.Context, entry *domain.AuditLog) error {
	entry.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *MongoAuditLogRepository) ListByAccount(ctx context.Context, accountID string, limit int64) ([]*domain.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*domain.AuditLog
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit logs: %w", err)
	}
	return entries, nil
}
