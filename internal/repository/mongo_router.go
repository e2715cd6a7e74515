package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nurunet/nurubill/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoRouterRepository implements domain.RouterRepository
type MongoRouterRepository struct {
	collection *mongo.Collection
}

// NewMongoRouterRepository creates a new router repository
func NewMongoRouterRepository(db *mongo.Database) *MongoRouterRepository {
	collection := db.Collection("routers")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "account_id", Value: 1}},
	})

	return &MongoRouterRepository{
		collection: collection,
	}
}

func (r *MongoRouterRepository) Create(ctx context.Context, router *domain.Router) error {
	router.CreatedAt = time.Now().UTC()

	objID := primitive.NewObjectID()
	router.ID = objID.Hex()

	doc := bson.M{
		"_id":        objID,
		"account_id": router.AccountID,
		"name":       router.Name,
		"host":       router.Host,
		"status":     router.Status,
		"created_at": router.CreatedAt,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	return nil
}

func (r *MongoRouterRepository) GetByID(ctx context.Context, id string) (*domain.Router, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid router id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get router: %w", err)
	}
	return mapBsonToRouter(raw), nil
}

func (r *MongoRouterRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Router, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return nil, fmt.Errorf("failed to list routers: %w", err)
	}
	defer cursor.Close(ctx)

	var routers []*domain.Router
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		routers = append(routers, mapBsonToRouter(raw))
	}
	return routers, nil
}

func mapBsonToRouter(raw bson.M) *domain.Router {
	router := &domain.Router{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		router.ID = oid.Hex()
	}
	if accountID, ok := raw["account_id"].(string); ok {
		router.AccountID = accountID
	}
	if name, ok := raw["name"].(string); ok {
		router.Name = name
	}
	if host, ok := raw["host"].(string); ok {
		router.Host = host
	}
	if status, ok := raw["status"].(string); ok {
		router.Status = status
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		router.CreatedAt = created.Time()
	}

	return router
}
