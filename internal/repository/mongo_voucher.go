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

// MongoVoucherRepository implements domain.VoucherRepository
type MongoVoucherRepository struct {
	collection *mongo.Collection
}

// NewMongoVoucherRepository creates a new voucher repository
func NewMongoVoucherRepository(db *mongo.Database) *MongoVoucherRepository {
	collection := db.Collection("vouchers")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Reference and code are both lookup keys and must be unique across the
	// whole platform, not per account.
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "reference", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	// Stock picks filter on router/package/status
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "router_id", Value: 1},
			{Key: "package_id", Value: 1},
			{Key: "status", Value: 1},
		},
	})

	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "account_id", Value: 1},
			{Key: "status", Value: 1},
		},
	})

	return &MongoVoucherRepository{
		collection: collection,
	}
}

func (r *MongoVoucherRepository) CreateMany(ctx context.Context, vouchers []*domain.Voucher) error {
	if len(vouchers) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ids := make([]primitive.ObjectID, len(vouchers))
	docs := make([]interface{}, 0, len(vouchers))
	for i, v := range vouchers {
		ids[i] = primitive.NewObjectID()
		v.ID = ids[i].Hex()
		v.CreatedAt = now
		v.UpdatedAt = now

		docs = append(docs, bson.M{
			"_id":                  ids[i],
			"account_id":           v.AccountID,
			"router_id":            v.RouterID,
			"package_id":           v.PackageID,
			"batch_id":             v.BatchID,
			"reference":            v.Reference,
			"code":                 v.Code,
			"password":             v.Password,
			"price":                v.Price,
			"package_type":         v.PackageType,
			"duration_minutes":     v.DurationMinutes,
			"bandwidth":            v.Bandwidth,
			"status":               v.Status,
			"max_duration_minutes": v.MaxDurationMinutes,
			"created_at":           v.CreatedAt,
			"updated_at":           v.UpdatedAt,
		})
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to create vouchers: %w", err)
		}
		// Ordered inserts stop at the first duplicate and can leave a prefix
		// behind. Sweep it so a retry starts from nothing.
		if _, delErr := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); delErr != nil {
			return fmt.Errorf("failed to sweep partial batch: %w", delErr)
		}
		return fmt.Errorf("voucher code or reference collision: %w", domain.ErrCodeCollision)
	}
	return nil
}

func (r *MongoVoucherRepository) GetByID(ctx context.Context, id string) (*domain.Voucher, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid voucher id: %w", err)
	}

	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return mapBsonToVoucher(raw), nil
}

func (r *MongoVoucherRepository) GetByReference(ctx context.Context, reference string) (*domain.Voucher, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"reference": reference}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get voucher by reference: %w", err)
	}
	return mapBsonToVoucher(raw), nil
}

func (r *MongoVoucherRepository) GetByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, bson.M{"code": code}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get voucher by code: %w", err)
	}
	return mapBsonToVoucher(raw), nil
}

// FindAvailable picks the oldest unsold voucher so printed stock rotates
// first-in first-out.
func (r *MongoVoucherRepository) FindAvailable(ctx context.Context, routerID, packageID string) (*domain.Voucher, error) {
	filter := bson.M{
		"router_id":  routerID,
		"package_id": packageID,
		"status":     domain.VoucherStatusActive,
		"payment.transaction_id": bson.M{
			"$exists": false,
		},
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})

	var raw bson.M
	if err := r.collection.FindOne(ctx, filter, opts).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNoStock
		}
		return nil, fmt.Errorf("failed to find available voucher: %w", err)
	}
	return mapBsonToVoucher(raw), nil
}

// AssignPayment is the single settlement write. The filter guards on both
// the payment sub-record being absent and the status still being active, so
// concurrent confirmations for the same voucher cannot both match.
func (r *MongoVoucherRepository) AssignPayment(ctx context.Context, id string, payment *domain.VoucherPayment, purchaseExpiresAt *time.Time) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid voucher id: %w", err)
	}

	now := time.Now().UTC()
	set := bson.M{
		"status": domain.VoucherStatusPaid,
		"payment": bson.M{
			"method":         payment.Method,
			"transaction_id": payment.TransactionID,
			"phone_hash":     payment.PhoneHash,
			"amount":         payment.Amount,
			"commission":     payment.Commission,
			"paid_at":        payment.PaidAt,
		},
		"updated_at": now,
	}
	if purchaseExpiresAt != nil {
		set["purchase_expires_at"] = *purchaseExpiresAt
	}

	filter := bson.M{
		"_id":    objID,
		"status": domain.VoucherStatusActive,
		"payment.transaction_id": bson.M{
			"$exists": false,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to assign payment: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrAlreadyPaid
	}
	return nil
}

func (r *MongoVoucherRepository) MarkUsed(ctx context.Context, id string, activatedAt, expectedEndAt time.Time) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid voucher id: %w", err)
	}

	update := bson.M{
		"$set": bson.M{
			"status":          domain.VoucherStatusUsed,
			"activated_at":    activatedAt,
			"expected_end_at": expectedEndAt,
			"updated_at":      time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": objID, "status": domain.VoucherStatusPaid}, update)
	if err != nil {
		return fmt.Errorf("failed to mark voucher used: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (r *MongoVoucherRepository) ExpireOverduePaid(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"status": domain.VoucherStatusPaid,
		"purchase_expires_at": bson.M{
			"$lte": now,
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     domain.VoucherStatusExpired,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue paid vouchers: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *MongoVoucherRepository) ExpireOverdueUsed(ctx context.Context, now time.Time) (int64, error) {
	filter := bson.M{
		"status": domain.VoucherStatusUsed,
		"expected_end_at": bson.M{
			"$lte": now,
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":     domain.VoucherStatusExpired,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue used vouchers: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *MongoVoucherRepository) ListByAccount(ctx context.Context, accountID string, routerID, status string, limit int64) ([]*domain.Voucher, error) {
	filter := bson.M{"account_id": accountID}
	if routerID != "" {
		filter["router_id"] = routerID
	}
	if status != "" {
		filter["status"] = status
	}

	if limit <= 0 || limit > 500 {
		limit = 500
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	defer cursor.Close(ctx)

	var vouchers []*domain.Voucher
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		vouchers = append(vouchers, mapBsonToVoucher(raw))
	}
	return vouchers, nil
}

func (r *MongoVoucherRepository) CountByStatus(ctx context.Context, routerID, packageID string) (map[string]int64, error) {
	match := bson.M{"router_id": routerID}
	if packageID != "" {
		match["package_id"] = packageID
	}

	pipeline := []bson.M{
		{"$match": match},
		{"$group": bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count vouchers: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func mapBsonToVoucher(raw bson.M) *domain.Voucher {
	v := &domain.Voucher{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		v.ID = oid.Hex()
	}
	if accountID, ok := raw["account_id"].(string); ok {
		v.AccountID = accountID
	}
	if routerID, ok := raw["router_id"].(string); ok {
		v.RouterID = routerID
	}
	if packageID, ok := raw["package_id"].(string); ok {
		v.PackageID = packageID
	}
	if batchID, ok := raw["batch_id"].(string); ok {
		v.BatchID = batchID
	}
	if reference, ok := raw["reference"].(string); ok {
		v.Reference = reference
	}
	if code, ok := raw["code"].(string); ok {
		v.Code = code
	}
	if password, ok := raw["password"].(string); ok {
		v.Password = password
	}
	v.Price = bsonFloat(raw["price"])
	if packageType, ok := raw["package_type"].(string); ok {
		v.PackageType = packageType
	}
	v.DurationMinutes = bsonInt64(raw["duration_minutes"])
	if bandwidth, ok := raw["bandwidth"].(string); ok {
		v.Bandwidth = bandwidth
	}
	if status, ok := raw["status"].(string); ok {
		v.Status = status
	}
	v.MaxDurationMinutes = bsonInt64(raw["max_duration_minutes"])

	if payment, ok := raw["payment"].(bson.M); ok {
		v.Payment = &domain.VoucherPayment{
			Amount:     bsonFloat(payment["amount"]),
			Commission: bsonFloat(payment["commission"]),
		}
		if method, ok := payment["method"].(string); ok {
			v.Payment.Method = method
		}
		if txID, ok := payment["transaction_id"].(string); ok {
			v.Payment.TransactionID = txID
		}
		if phoneHash, ok := payment["phone_hash"].(string); ok {
			v.Payment.PhoneHash = phoneHash
		}
		if paidAt, ok := payment["paid_at"].(primitive.DateTime); ok {
			v.Payment.PaidAt = paidAt.Time()
		}
	}

	if t, ok := raw["purchase_expires_at"].(primitive.DateTime); ok {
		tt := t.Time()
		v.PurchaseExpiresAt = &tt
	}
	if t, ok := raw["activated_at"].(primitive.DateTime); ok {
		tt := t.Time()
		v.ActivatedAt = &tt
	}
	if t, ok := raw["expected_end_at"].(primitive.DateTime); ok {
		tt := t.Time()
		v.ExpectedEndAt = &tt
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		v.CreatedAt = created.Time()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		v.UpdatedAt = updated.Time()
	}

	return v
}

// bsonFloat tolerates the numeric types the driver may hand back
func bsonFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	}
	return 0
}

func bsonInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
