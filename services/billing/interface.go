package billing

import (
	"context"
	"time"

	billingRepo "hospital/database/repository/billing"
	"hospital/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger owns invoices inside a patient's billing aggregate and enforces the
// invoice state machine.
type Ledger interface {
	CreateInvoice(ctx context.Context, patientID string, items []models.InvoiceItemInput) (*models.Billing, *models.Invoice, error)
	GetBilling(ctx context.Context, billingID string) (*models.Billing, error)
	GetBillingByPatient(ctx context.Context, patientID string) (*models.Billing, error)
	GetInvoice(ctx context.Context, billingID, invoiceID string) (*models.Billing, *models.Invoice, error)

	// RecordDirectPayment settles an invoice paid at the counter (Cash, Card, Bank, Insurance).
	RecordDirectPayment(ctx context.Context, billingID, invoiceID string, method models.PaymentMethod, amount decimal.Decimal) (*models.Invoice, error)
	// MarkPaidFromGateway settles an invoice after a confirmed gateway payment.
	// It is a no-op on an invoice that is already Paid.
	MarkPaidFromGateway(ctx context.Context, billingID, invoiceID string, method models.PaymentMethod) error

	CancelInvoice(ctx context.Context, billingID, invoiceID string) (*models.Invoice, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)

	AddExpense(ctx context.Context, billingID string, req models.ExpenseRequest, recordedBy string) (*models.Expense, error)
	AddInsuranceClaim(ctx context.Context, billingID string, req models.InsuranceClaimRequest) (*models.InsuranceClaim, error)
}

// DefaultLedger implements Ledger.
type DefaultLedger struct {
	Repo    billingRepo.BillingRepository
	Logger  *zap.Logger
	DueDays int
	Clock   func() time.Time
}

// NewLedger wires a DefaultLedger with sane fallbacks.
func NewLedger(repo billingRepo.BillingRepository, logger *zap.Logger, dueDays int) *DefaultLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dueDays <= 0 {
		dueDays = 30
	}
	return &DefaultLedger{
		Repo:    repo,
		Logger:  logger,
		DueDays: dueDays,
		Clock:   time.Now,
	}
}

func (l *DefaultLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

func (l *DefaultLedger) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}
