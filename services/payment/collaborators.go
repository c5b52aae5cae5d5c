package payment

import (
	"context"
	"time"

	"hospital/models"

	"github.com/shopspring/decimal"
)

// VerificationScheduler defers a direct verification of a transaction whose
// outcome could not be established while the caller was polling.
type VerificationScheduler interface {
	ScheduleVerification(ctx context.Context, txID string, delay time.Duration) error
}

// Notifier tells the patient about a resolved payment.
type Notifier interface {
	PaymentResolved(ctx context.Context, tx *models.Transaction) error
}

type nopScheduler struct{}

func (nopScheduler) ScheduleVerification(context.Context, string, time.Duration) error { return nil }

type nopNotifier struct{}

func (nopNotifier) PaymentResolved(context.Context, *models.Transaction) error { return nil }

// Service is the payment surface exposed to HTTP handlers.
type Service interface {
	InitiatePayment(ctx context.Context, caller models.Caller, billingID, invoiceID, phoneNumber string, amount decimal.Decimal) (*models.PaymentInitiation, error)
	HandleCallback(ctx context.Context, cb models.STKCallback) error
	CheckStatus(ctx context.Context, caller models.Caller, billingID, invoiceID string) (*models.PaymentStatusResponse, error)
	AwaitResolution(ctx context.Context, caller models.Caller, billingID, invoiceID string) (*models.PaymentStatusResponse, error)
	CancelPayment(ctx context.Context, caller models.Caller, billingID, invoiceID string) (*models.Transaction, error)
	History(ctx context.Context, caller models.Caller, billingID, invoiceID string) ([]models.Transaction, error)
	UnmatchedCallbacks(ctx context.Context, limit int64) ([]models.UnmatchedCallback, error)
}

var _ Service = (*Coordinator)(nil)
