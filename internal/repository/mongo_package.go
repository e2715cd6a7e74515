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

// MongoPackageRepository implements domain.PackageRepository
type MongoPackageRepository struct {
	collection *mongo.Collection
}

// NewMongoPackageRepository creates a new package repository
func NewMongoPackageRepository(db *mongo.Database) *MongoPackageRepository {
	collection := db.Collection("packages")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "account_id", Value: 1},
			{Key: "is_active", Value: 1},
		},
	})

	return &MongoPackageRepository{
		collection: collection,
	}
}

func (r *MongoPackageRepository) Create(ctx context.Context, pkg *domain.Package) error {
	now := time.Now().UTC()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now

	objID := primitive.NewObjectID()
	pkg.ID = objID.Hex()

	doc := bson.M{
		"_id":                  objID,
		"account_id":           pkg.AccountID,
		"router_id":            pkg.RouterID,
		"name":                 pkg.Name,
		"package_type":         pkg.PackageType,
		"price":                pkg.Price,
		"duration_minutes":     pkg.DurationMinutes,
		"bandwidth":            pkg.Bandwidth,
		"max_duration_minutes": pkg.MaxDurationMinutes,
		"is_active":            pkg.IsActive,
		"created_at":           pkg.CreatedAt,
		"updated_at":           pkg.UpdatedAt,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create package: %w", err)
	}
	return nil
}

func (r *MongoPackageRepository) GetByID(ctx context.Context, id string) (*domain.Package, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid package id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return mapBsonToPackage(raw), nil
}

// GetActiveByRouter returns the plans a router may sell: plans bound to the
// router plus the account's router-wide plans.
func (r *MongoPackageRepository) GetActiveByRouter(ctx context.Context, accountID, routerID string) ([]*domain.Package, error) {
	filter := bson.M{
		"account_id": accountID,
		"is_active":  true,
		"$or": []bson.M{
			{"router_id": routerID},
			{"router_id": ""},
		},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages for router: %w", err)
	}
	defer cursor.Close(ctx)

	var packages []*domain.Package
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		packages = append(packages, mapBsonToPackage(raw))
	}
	return packages, nil
}

func (r *MongoPackageRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Package, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"account_id": accountID})
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer cursor.Close(ctx)

	var packages []*domain.Package
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		packages = append(packages, mapBsonToPackage(raw))
	}
	return packages, nil
}

func (r *MongoPackageRepository) Update(ctx context.Context, pkg *domain.Package) error {
	objID, err := primitive.ObjectIDFromHex(pkg.ID)
	if err != nil {
		return fmt.Errorf("invalid package id: %w", err)
	}

	pkg.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"name":                 pkg.Name,
			"package_type":         pkg.PackageType,
			"price":                pkg.Price,
			"duration_minutes":     pkg.DurationMinutes,
			"bandwidth":            pkg.Bandwidth,
			"max_duration_minutes": pkg.MaxDurationMinutes,
			"is_active":            pkg.IsActive,
			"updated_at":           pkg.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID}, update)
	if err != nil {
		return fmt.Errorf("failed to update package: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func mapBsonToPackage(raw bson.M) *domain.Package {
	pkg := &domain.Package{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		pkg.ID = oid.Hex()
	}
	if accountID, ok := raw["account_id"].(string); ok {
		pkg.AccountID = accountID
	}
	if routerID, ok := raw["router_id"].(string); ok {
		pkg.RouterID = routerID
	}
	if name, ok := raw["name"].(string); ok {
		pkg.Name = name
	}
	if packageType, ok := raw["package_type"].(string); ok {
		pkg.PackageType = packageType
	}
	pkg.Price = bsonFloat(raw["price"])
	pkg.DurationMinutes = bsonInt64(raw["duration_minutes"])
	if bandwidth, ok := raw["bandwidth"].(string); ok {
		pkg.Bandwidth = bandwidth
	}
	pkg.MaxDurationMinutes = bsonInt64(raw["max_duration_minutes"])
	if isActive, ok := raw["is_active"].(bool); ok {
		pkg.IsActive = isActive
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		pkg.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		pkg.UpdatedAt = updated.Time()
	}

	return pkg
}
