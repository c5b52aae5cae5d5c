package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	transactionRepo "hospital/database/repository/transaction"
	"hospital/models"
	"hospital/services/billing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome is a definitive gateway answer for one transaction.
type Outcome struct {
	Status        models.TransactionStatus
	ResultCode    *int
	ResultDesc    string
	ReceiptNumber string
	Metadata      map[string]interface{}
}

// Completed is a successful payment carrying the gateway receipt.
func Completed(receipt, desc string, metadata map[string]interface{}) Outcome {
	code := 0
	return Outcome{
		Status:        models.TransactionStatusCompleted,
		ResultCode:    &code,
		ResultDesc:    desc,
		ReceiptNumber: receipt,
		Metadata:      metadata,
	}
}

// Failed is a definitive gateway refusal.
func Failed(code int, desc string, metadata map[string]interface{}) Outcome {
	return Outcome{
		Status:     models.TransactionStatusFailed,
		ResultCode: &code,
		ResultDesc: desc,
		Metadata:   metadata,
	}
}

// Cancelled is a caller abort before any gateway confirmation.
func Cancelled(reason string) Outcome {
	return Outcome{Status: models.TransactionStatusCancelled, ResultDesc: reason}
}

// OpenRequest describes a new payment attempt.
type OpenRequest struct {
	BillingID   string
	InvoiceID   string
	PatientID   string
	PhoneNumber string
	Amount      decimal.Decimal
}

// Tracker keeps one record per payment attempt and is the only place that
// applies gateway results to an invoice.
type Tracker struct {
	Repo   transactionRepo.TransactionRepository
	Ledger billing.Ledger
	Logger *zap.Logger
	Clock  func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(repo transactionRepo.TransactionRepository, ledger billing.Ledger, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{Repo: repo, Ledger: ledger, Logger: logger, Clock: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Clock == nil {
		return time.Now()
	}
	return t.Clock()
}

// Open reserves the invoice's single pending slot.
func (t *Tracker) Open(ctx context.Context, req OpenRequest) (*models.Transaction, error) {
	tx := &models.Transaction{
		ID:          uuid.New().String(),
		InvoiceID:   req.InvoiceID,
		BillingID:   req.BillingID,
		PatientID:   req.PatientID,
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
		Status:      models.TransactionStatusPending,
		CreatedAt:   t.now(),
	}
	if err := t.Repo.Insert(ctx, tx); err != nil {
		if errors.Is(err, transactionRepo.ErrPendingExists) {
			return nil, ErrConcurrentPaymentInProgress
		}
		return nil, err
	}

	t.Logger.Info("payment transaction opened",
		zap.String("transaction_id", tx.ID),
		zap.String("invoice_id", tx.InvoiceID),
		zap.String("amount", tx.Amount.String()))
	return tx, nil
}

// AttachGatewayIDs records the ids the gateway assigned to the push.
func (t *Tracker) AttachGatewayIDs(ctx context.Context, txID, merchantRequestID, checkoutRequestID string) error {
	return t.mapErr(t.Repo.SetGatewayIDs(ctx, txID, merchantRequestID, checkoutRequestID))
}

// Resolve moves a pending transaction to a terminal state exactly once. When the
// transaction is already terminal the stored state is returned with applied=false.
func (t *Tracker) Resolve(ctx context.Context, txID string, outcome Outcome, source models.ResolutionSource) (*models.Transaction, bool, error) {
	if !outcome.Status.IsTerminal() {
		return nil, false, fmt.Errorf("payment: cannot resolve to %q", outcome.Status)
	}

	tx, applied, err := t.Repo.ResolvePending(ctx, txID, models.TransactionResolution{
		Status:        outcome.Status,
		ResultCode:    outcome.ResultCode,
		ResultDesc:    outcome.ResultDesc,
		ReceiptNumber: outcome.ReceiptNumber,
		Metadata:      outcome.Metadata,
		Source:        source,
		ResolvedAt:    t.now(),
	})
	if err != nil {
		return nil, false, t.mapErr(err)
	}

	log := t.Logger.With(
		zap.String("transaction_id", tx.ID),
		zap.String("invoice_id", tx.InvoiceID),
		zap.String("source", string(source)))

	if !applied {
		log.Debug("transaction already resolved",
			zap.String("status", string(tx.Status)),
			zap.String("resolved_by", string(tx.ResolvedBy)),
			zap.String("ignored_status", string(outcome.Status)))
		if tx.Status == models.TransactionStatusCancelled && outcome.Status == models.TransactionStatusCompleted {
			log.Warn("gateway confirmed payment on a cancelled transaction; manual reconciliation required",
				zap.String("receipt", outcome.ReceiptNumber))
		}
		// A previous delivery may have crashed between the two writes.
		if tx.NeedsSettlement() {
			if err := t.settleInvoice(ctx, tx); err != nil {
				return tx, false, err
			}
		}
		return tx, false, nil
	}

	log.Info("transaction resolved",
		zap.String("status", string(tx.Status)),
		zap.String("result_desc", tx.ResultDesc))

	if tx.Status == models.TransactionStatusCompleted {
		if err := t.settleInvoice(ctx, tx); err != nil {
			return tx, true, err
		}
	}
	return tx, true, nil
}

func (t *Tracker) settleInvoice(ctx context.Context, tx *models.Transaction) error {
	err := t.Ledger.MarkPaidFromGateway(ctx, tx.BillingID, tx.InvoiceID, models.PaymentMethodMpesa)
	if errors.Is(err, billing.ErrAlreadySettled) {
		t.Logger.Error("payment received for a cancelled invoice",
			zap.String("transaction_id", tx.ID),
			zap.String("invoice_id", tx.InvoiceID),
			zap.String("receipt", tx.ReceiptNumber))
	} else if err != nil {
		return fmt.Errorf("settle invoice %s: %w", tx.InvoiceID, err)
	}

	// MarkPaidFromGateway is idempotent, so a lost marker only costs a repeat write.
	at := t.now()
	if err := t.Repo.MarkInvoiceSettled(ctx, tx.ID, at); err != nil {
		t.Logger.Warn("failed to record invoice settlement",
			zap.String("transaction_id", tx.ID), zap.Error(err))
		return nil
	}
	tx.InvoiceSettledAt = &at
	return nil
}

// Settle retries the invoice write for a completed transaction whose earlier
// attempt failed. It is a no-op for any other transaction.
func (t *Tracker) Settle(ctx context.Context, tx *models.Transaction) error {
	if !tx.NeedsSettlement() {
		return nil
	}
	if err := t.settleInvoice(ctx, tx); err != nil {
		return err
	}
	t.Logger.Info("invoice settled on retry",
		zap.String("transaction_id", tx.ID),
		zap.String("invoice_id", tx.InvoiceID))
	return nil
}

// Cancel aborts a pending transaction.
func (t *Tracker) Cancel(ctx context.Context, txID, reason string) (*models.Transaction, error) {
	tx, applied, err := t.Resolve(ctx, txID, Cancelled(reason), models.ResolvedByCaller)
	if err != nil {
		return nil, err
	}
	if !applied {
		return tx, ErrNotPending
	}
	return tx, nil
}

func (t *Tracker) Get(ctx context.Context, txID string) (*models.Transaction, error) {
	tx, err := t.Repo.GetByID(ctx, txID)
	return tx, t.mapErr(err)
}

func (t *Tracker) GetByCheckout(ctx context.Context, merchantRequestID, checkoutRequestID string) (*models.Transaction, error) {
	tx, err := t.Repo.GetByCheckoutID(ctx, merchantRequestID, checkoutRequestID)
	return tx, t.mapErr(err)
}

func (t *Tracker) LatestForInvoice(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	tx, err := t.Repo.LatestForInvoice(ctx, invoiceID)
	if errors.Is(err, transactionRepo.ErrNotFound) {
		return nil, ErrNoPayment
	}
	return tx, err
}

// History lists every attempt on an invoice, newest first.
func (t *Tracker) History(ctx context.Context, invoiceID string) ([]models.Transaction, error) {
	return t.Repo.ListForInvoice(ctx, invoiceID)
}

// StalePending returns transactions still pending after olderThan.
func (t *Tracker) StalePending(ctx context.Context, olderThan time.Duration, limit int64) ([]models.Transaction, error) {
	return t.Repo.ListPendingBefore(ctx, t.now().Add(-olderThan), limit)
}

// UnsettledCompleted returns completed transactions resolved more than olderThan
// ago whose invoice write has not succeeded.
func (t *Tracker) UnsettledCompleted(ctx context.Context, olderThan time.Duration, limit int64) ([]models.Transaction, error) {
	return t.Repo.ListUnsettledBefore(ctx, t.now().Add(-olderThan), limit)
}

func (t *Tracker) mapErr(err error) error {
	if errors.Is(err, transactionRepo.ErrNotFound) {
		return ErrTransactionNotFound
	}
	return err
}
