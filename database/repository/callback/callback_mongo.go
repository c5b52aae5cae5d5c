package callbackRepo

import (
	"context"
	"fmt"
	"time"

	"hospital/database"
	"hospital/models"
	"hospital/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoUnmatchedCallbackRepo implements UnmatchedCallbackRepository using MongoDB.
type MongoUnmatchedCallbackRepo struct {
	coll *mongo.Collection
}

func NewMongoUnmatchedCallbackRepo() UnmatchedCallbackRepository {
	repo := &MongoUnmatchedCallbackRepo{coll: database.DB().Collection("unmatched_callbacks")}
	if err := repo.ensureIndexes(); err != nil {
		utils.GetLogger().Error("failed to create unmatched callback indexes", zap.Error(err))
	}
	return repo
}

func (r *MongoUnmatchedCallbackRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "checkoutRequestId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "receivedAt", Value: -1}}},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (r *MongoUnmatchedCallbackRepo) Record(ctx context.Context, cb *models.UnmatchedCallback) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{
		"$setOnInsert": bson.M{
			"id":                cb.ID,
			"merchantRequestId": cb.MerchantRequestID,
			"resultCode":        cb.ResultCode,
			"resultDesc":        cb.ResultDesc,
			"receiptNumber":     cb.ReceiptNumber,
			"amount":            cb.Amount,
			"phoneNumber":       cb.PhoneNumber,
			"payload":           cb.Payload,
			"receivedAt":        cb.ReceivedAt,
		},
		"$set": bson.M{"lastReceivedAt": cb.ReceivedAt},
		"$inc": bson.M{"deliveries": 1},
	}
	filter := bson.M{"checkoutRequestId": cb.CheckoutRequestID}
	if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to record unmatched callback %s: %w", cb.CheckoutRequestID, err)
	}
	return nil
}

func (r *MongoUnmatchedCallbackRepo) ListRecent(ctx context.Context, limit int64) ([]models.UnmatchedCallback, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "receivedAt", Value: -1}}).SetLimit(limit)
	cursor, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve unmatched callbacks: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.UnmatchedCallback
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode unmatched callbacks: %w", err)
	}
	return out, nil
}
