package billingRepo

import (
	"context"
	"errors"
	"time"

	"hospital/models"
)

// ErrNotFound is returned when no billing document (or embedded invoice) matches.
var ErrNotFound = errors.New("billingRepo: not found")

// BillingRepository persists per-patient billing aggregates. Every mutation of an
// embedded invoice is a single conditional update on the owning document.
type BillingRepository interface {
	GetByID(ctx context.Context, billingID string) (*models.Billing, error)
	GetByPatientID(ctx context.Context, patientID string) (*models.Billing, error)
	FindInvoice(ctx context.Context, billingID, invoiceID string) (*models.Billing, *models.Invoice, error)

	// AppendInvoice adds the invoice to the patient's aggregate, creating the aggregate if absent.
	AppendInvoice(ctx context.Context, patientID string, invoice models.Invoice) (*models.Billing, error)

	// TransitionInvoice applies t only if the invoice's current status is in t.From.
	// It reports whether the update matched.
	TransitionInvoice(ctx context.Context, billingID, invoiceID string, t models.InvoiceTransition) (bool, error)

	// MarkOverdue moves every Pending invoice due before now to Overdue.
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)

	AppendExpense(ctx context.Context, billingID string, expense models.Expense) error
	AppendInsuranceClaim(ctx context.Context, billingID string, claim models.InsuranceClaim) error
}
