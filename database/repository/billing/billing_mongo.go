package billingRepo

import (
	"context"
	"fmt"
	"time"

	"hospital/database"
	"hospital/models"
	"hospital/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoBillingRepo implements BillingRepository using MongoDB.
type MongoBillingRepo struct {
	coll *mongo.Collection
}

// NewMongoBillingRepo creates a new instance of BillingRepository using MongoDB.
func NewMongoBillingRepo() BillingRepository {
	coll := database.DB().Collection("billings")
	repo := &MongoBillingRepo{coll: coll}

	if err := repo.ensureIndexes(); err != nil {
		utils.GetLogger().Error("failed to create billing indexes", zap.Error(err))
	}
	return repo
}

// withTimeout bounds a repository call by d on top of the caller's context.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

func (r *MongoBillingRepo) GetByID(ctx context.Context, billingID string) (*models.Billing, error) {
	return r.findOne(ctx, bson.M{"id": billingID})
}

func (r *MongoBillingRepo) GetByPatientID(ctx context.Context, patientID string) (*models.Billing, error) {
	return r.findOne(ctx, bson.M{"patientId": patientID})
}

func (r *MongoBillingRepo) findOne(ctx context.Context, filter bson.M) (*models.Billing, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	var b models.Billing
	if err := r.coll.FindOne(ctx, filter).Decode(&b); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch billing: %w", err)
	}
	return &b, nil
}

// FindInvoice loads the billing document and locates the embedded invoice.
func (r *MongoBillingRepo) FindInvoice(ctx context.Context, billingID, invoiceID string) (*models.Billing, *models.Invoice, error) {
	b, err := r.GetByID(ctx, billingID)
	if err != nil {
		return nil, nil, err
	}
	inv, ok := b.Invoice(invoiceID)
	if !ok {
		return b, nil, ErrNotFound
	}
	return b, inv, nil
}

func (r *MongoBillingRepo) AppendInvoice(ctx context.Context, patientID string, invoice models.Invoice) (*models.Billing, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	filter := bson.M{"patientId": patientID}
	update := bson.M{
		"$push": bson.M{"invoices": invoice},
		"$set":  bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{
			"id":              uuid.New().String(),
			"expenses":        bson.A{},
			"insuranceClaims": bson.A{},
			"createdAt":       now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var b models.Billing
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	if mongo.IsDuplicateKeyError(err) {
		// Two first invoices for the same patient raced on the upsert; the loser
		// now finds the winner's document and pushes onto it.
		err = r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append invoice for patient %s: %w", patientID, err)
	}
	return &b, nil
}

func (r *MongoBillingRepo) TransitionInvoice(ctx context.Context, billingID, invoiceID string, t models.InvoiceTransition) (bool, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"id": billingID,
		"invoices": bson.M{
			"$elemMatch": bson.M{
				"id":     invoiceID,
				"status": bson.M{"$in": t.From},
			},
		},
	}

	set := bson.M{
		"invoices.$.status": t.To,
		"updatedAt":         time.Now(),
	}
	if t.PaidDate != nil {
		set["invoices.$.paidDate"] = *t.PaidDate
	}
	if t.PaymentMethod != "" {
		set["invoices.$.paymentMethod"] = t.PaymentMethod
	}

	result, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("failed to transition invoice %s: %w", invoiceID, err)
	}
	return result.MatchedCount == 1, nil
}

func (r *MongoBillingRepo) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, 30*time.Second)
	defer cancel()

	due := bson.M{
		"status":  models.InvoiceStatusPending,
		"dueDate": bson.M{"$lt": now},
	}
	filter := bson.M{"invoices": bson.M{"$elemMatch": due}}
	update := bson.M{"$set": bson.M{
		"invoices.$[inv].status": models.InvoiceStatusOverdue,
		"updatedAt":              now,
	}}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{
			"inv.status":  models.InvoiceStatusPending,
			"inv.dueDate": bson.M{"$lt": now},
		}},
	})

	result, err := r.coll.UpdateMany(ctx, filter, update, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue invoices: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *MongoBillingRepo) AppendExpense(ctx context.Context, billingID string, expense models.Expense) error {
	return r.push(ctx, billingID, "expenses", expense)
}

func (r *MongoBillingRepo) AppendInsuranceClaim(ctx context.Context, billingID string, claim models.InsuranceClaim) error {
	return r.push(ctx, billingID, "insuranceClaims", claim)
}

func (r *MongoBillingRepo) push(ctx context.Context, billingID, field string, value interface{}) error {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	update := bson.M{
		"$push": bson.M{field: value},
		"$set":  bson.M{"updatedAt": time.Now()},
	}
	result, err := r.coll.UpdateOne(ctx, bson.M{"id": billingID}, update)
	if err != nil {
		return fmt.Errorf("failed to append %s to billing %s: %w", field, billingID, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
