package transactionRepo

import (
	"context"
	"errors"
	"time"

	"hospital/models"
)

var (
	// ErrNotFound is returned when no transaction matches.
	ErrNotFound = errors.New("transactionRepo: not found")
	// ErrPendingExists is returned by Insert when the invoice already has a pending transaction.
	ErrPendingExists = errors.New("transactionRepo: invoice already has a pending transaction")
)

// TransactionRepository persists payment attempts.
type TransactionRepository interface {
	// Insert stores a new pending transaction. The one-pending-per-invoice rule is
	// enforced by the store, not by the caller.
	Insert(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByCheckoutID(ctx context.Context, merchantRequestID, checkoutRequestID string) (*models.Transaction, error)
	LatestForInvoice(ctx context.Context, invoiceID string) (*models.Transaction, error)
	ListForInvoice(ctx context.Context, invoiceID string) ([]models.Transaction, error)
	SetGatewayIDs(ctx context.Context, id, merchantRequestID, checkoutRequestID string) error

	// ResolvePending writes res only if the transaction is still pending. It returns the
	// stored document and whether this call performed the transition.
	ResolvePending(ctx context.Context, id string, res models.TransactionResolution) (*models.Transaction, bool, error)

	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int64) ([]models.Transaction, error)

	// MarkInvoiceSettled records that the invoice write for a completed transaction succeeded.
	MarkInvoiceSettled(ctx context.Context, id string, at time.Time) error
	// ListUnsettledBefore returns completed transactions resolved before cutoff whose
	// invoice write never succeeded.
	ListUnsettledBefore(ctx context.Context, cutoff time.Time, limit int64) ([]models.Transaction, error)
}
