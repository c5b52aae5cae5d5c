package transactionRepo

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

// MongoTransactionRepo implements TransactionRepository using MongoDB.
type MongoTransactionRepo struct {
	coll *mongo.Collection
}

// NewMongoTransactionRepo creates a new instance of TransactionRepository using MongoDB.
func NewMongoTransactionRepo() TransactionRepository {
	coll := database.DB().Collection("transactions")
	repo := &MongoTransactionRepo{coll: coll}

	if err := repo.ensureIndexes(); err != nil {
		utils.GetLogger().Error("failed to create transaction indexes", zap.Error(err))
	}
	return repo
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

func (r *MongoTransactionRepo) Insert(ctx context.Context, tx *models.Transaction) error {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	tx.UpdatedAt = tx.CreatedAt

	if _, err := r.coll.InsertOne(ctx, tx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrPendingExists
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *MongoTransactionRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	return r.findOne(ctx, bson.M{"id": id}, nil)
}

func (r *MongoTransactionRepo) GetByCheckoutID(ctx context.Context, merchantRequestID, checkoutRequestID string) (*models.Transaction, error) {
	filter := bson.M{"checkoutRequestId": checkoutRequestID}
	if merchantRequestID != "" {
		filter["merchantRequestId"] = merchantRequestID
	}
	return r.findOne(ctx, filter, nil)
}

func (r *MongoTransactionRepo) LatestForInvoice(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return r.findOne(ctx, bson.M{"invoiceId": invoiceID}, opts)
}

func (r *MongoTransactionRepo) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*models.Transaction, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	if opts == nil {
		opts = options.FindOne()
	}

	var tx models.Transaction
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&tx); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return &tx, nil
}

func (r *MongoTransactionRepo) ListForInvoice(ctx context.Context, invoiceID string) ([]models.Transaction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return r.find(ctx, bson.M{"invoiceId": invoiceID}, opts)
}

func (r *MongoTransactionRepo) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int64) ([]models.Transaction, error) {
	filter := bson.M{
		"status":    models.TransactionStatusPending,
		"createdAt": bson.M{"$lt": cutoff},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(limit)
	return r.find(ctx, filter, opts)
}

func (r *MongoTransactionRepo) ListUnsettledBefore(ctx context.Context, cutoff time.Time, limit int64) ([]models.Transaction, error) {
	filter := bson.M{
		"status":           models.TransactionStatusCompleted,
		"invoiceSettledAt": bson.M{"$exists": false},
		"resolvedAt":       bson.M{"$lt": cutoff},
	}
	opts := options.Find().SetSort(bson.D{{Key: "resolvedAt", Value: 1}}).SetLimit(limit)
	return r.find(ctx, filter, opts)
}

func (r *MongoTransactionRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Transaction, error) {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []models.Transaction
	for cursor.Next(ctx) {
		var tx models.Transaction
		if err := cursor.Decode(&tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, cursor.Err()
}

func (r *MongoTransactionRepo) SetGatewayIDs(ctx context.Context, id, merchantRequestID, checkoutRequestID string) error {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"merchantRequestId": merchantRequestID,
		"checkoutRequestId": checkoutRequestID,
		"updatedAt":         time.Now(),
	}}
	result, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to attach gateway ids to transaction %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoTransactionRepo) MarkInvoiceSettled(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{"$set": bson.M{"invoiceSettledAt": at, "updatedAt": at}}
	result, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to mark transaction %s settled: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoTransactionRepo) ResolvePending(ctx context.Context, id string, res models.TransactionResolution) (*models.Transaction, bool, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{
		"status":     res.Status,
		"resolvedBy": res.Source,
		"resolvedAt": res.ResolvedAt,
		"updatedAt":  res.ResolvedAt,
	}
	if res.ResultCode != nil {
		set["resultCode"] = *res.ResultCode
	}
	if res.ResultDesc != "" {
		set["resultDesc"] = res.ResultDesc
	}
	if res.ReceiptNumber != "" {
		set["receiptNumber"] = res.ReceiptNumber
	}
	if len(res.Metadata) > 0 {
		set["metadata"] = res.Metadata
	}

	filter := bson.M{"id": id, "status": models.TransactionStatusPending}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var tx models.Transaction
	err := r.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&tx)
	if err == nil {
		return &tx, true, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, fmt.Errorf("failed to resolve transaction %s: %w", id, err)
	}

	// Either the id is unknown or another path already resolved it.
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
