package transactionRepo

import (
	"context"
	"fmt"
	"time"

	"hospital/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ensureIndexes creates the lookup indexes plus the partial unique index that
// allows at most one pending transaction per invoice across all instances.
func (r *MongoTransactionRepo) ensureIndexes() error {
	ctx, cancel := withTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "checkoutRequestId", Value: 1}}},
		{Keys: bson.D{{Key: "invoiceId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "invoiceSettledAt", Value: 1}, {Key: "resolvedAt", Value: 1}}},
		{
			Keys: bson.D{{Key: "invoiceId", Value: 1}},
			Options: options.Index().
				SetName("one_pending_per_invoice").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": models.TransactionStatusPending}),
		},
	}

	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
