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

// settingsDocID is the fixed _id of the singleton settings document
const settingsDocID = "platform_settings"

// MongoSettingsRepository implements domain.SettingsRepository
type MongoSettingsRepository struct {
	collection *mongo.Collection
}

// NewMongoSettingsRepository creates a new settings repository
func NewMongoSettingsRepository(db *mongo.Database) *MongoSettingsRepository {
	return &MongoSettingsRepository{
		collection: db.Collection("settings"),
	}
}

func (r *MongoSettingsRepository) Get(ctx context.Context) (*domain.PlatformSettings, error) {
	var settings domain.PlatformSettings
	if err := r.collection.FindOne(ctx, bson.M{"_id": settingsDocID}).Decode(&settings); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &settings, nil
}

func (r *MongoSettingsRepository) Upsert(ctx context.Context, settings *domain.PlatformSettings) error {
	settings.ID = settingsDocID
	settings.UpdatedAt = time.Now().UTC()

	update := bson.M{
		"$set": bson.M{
			"default_commission_rate": settings.DefaultCommission,
			"type_commission_rates":   settings.TypeCommissionRates,
			"sms_credit_unit_price":   settings.SMSCreditUnitPrice,
			"updated_at":              settings.UpdatedAt,
		},
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": settingsDocID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}
