package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	billingRepo "hospital/database/repository/billing"
	"hospital/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var payableStatuses = []models.InvoiceStatus{models.InvoiceStatusPending, models.InvoiceStatusOverdue}

// CreateInvoice validates the items, computes the total and appends a Pending
// invoice to the patient's billing aggregate.
func (l *DefaultLedger) CreateInvoice(ctx context.Context, patientID string, items []models.InvoiceItemInput) (*models.Billing, *models.Invoice, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, nil, fmt.Errorf("%w: missing patient", ErrInvalidItems)
	}
	lines, total, err := buildItems(items)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()
	inv := models.Invoice{
		ID:          uuid.New().String(),
		Items:       lines,
		TotalAmount: total,
		Status:      models.InvoiceStatusPending,
		DueDate:     now.AddDate(0, 0, l.DueDays),
		CreatedAt:   now,
	}

	b, err := l.Repo.AppendInvoice(ctx, patientID, inv)
	if err != nil {
		return nil, nil, fmt.Errorf("create invoice: %w", err)
	}

	l.logger().Info("invoice created",
		zap.String("billing_id", b.ID),
		zap.String("invoice_id", inv.ID),
		zap.String("patient_id", patientID),
		zap.String("total", total.String()))
	return b, &inv, nil
}

// buildItems validates caller items; the total is always derived from them.
func buildItems(items []models.InvoiceItemInput) ([]models.InvoiceItem, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, ErrInvalidItems
	}
	total := decimal.Zero
	lines := make([]models.InvoiceItem, 0, len(items))
	for i, it := range items {
		name := strings.TrimSpace(it.ServiceName)
		if name == "" {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d has no service name", ErrInvalidItems, i)
		}
		if it.Amount.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: item %d has a negative amount", ErrInvalidItems, i)
		}
		lines = append(lines, models.InvoiceItem{
			ServiceName: name,
			Description: strings.TrimSpace(it.Description),
			Amount:      it.Amount,
		})
		total = total.Add(it.Amount)
	}
	return lines, total, nil
}

func (l *DefaultLedger) GetBilling(ctx context.Context, billingID string) (*models.Billing, error) {
	b, err := l.Repo.GetByID(ctx, billingID)
	if errors.Is(err, billingRepo.ErrNotFound) {
		return nil, ErrBillingNotFound
	}
	return b, err
}

func (l *DefaultLedger) GetBillingByPatient(ctx context.Context, patientID string) (*models.Billing, error) {
	b, err := l.Repo.GetByPatientID(ctx, patientID)
	if errors.Is(err, billingRepo.ErrNotFound) {
		return nil, ErrBillingNotFound
	}
	return b, err
}

func (l *DefaultLedger) GetInvoice(ctx context.Context, billingID, invoiceID string) (*models.Billing, *models.Invoice, error) {
	b, inv, err := l.Repo.FindInvoice(ctx, billingID, invoiceID)
	if errors.Is(err, billingRepo.ErrNotFound) {
		return nil, nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return b, inv, nil
}

func (l *DefaultLedger) RecordDirectPayment(ctx context.Context, billingID, invoiceID string, method models.PaymentMethod, amount decimal.Decimal) (*models.Invoice, error) {
	if !method.IsDirect() {
		return nil, ErrInvalidPaymentMethod
	}

	_, inv, err := l.GetInvoice(ctx, billingID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !amount.Equal(inv.TotalAmount) {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrAmountMismatch, inv.TotalAmount, amount)
	}
	if !inv.Status.IsPayable() {
		return nil, ErrAlreadySettled
	}

	paidAt := l.now()
	ok, err := l.Repo.TransitionInvoice(ctx, billingID, invoiceID, models.InvoiceTransition{
		From:          payableStatuses,
		To:            models.InvoiceStatusPaid,
		PaidDate:      &paidAt,
		PaymentMethod: method,
	})
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if !ok {
		// Settled between our read and the conditional write.
		return nil, ErrAlreadySettled
	}

	inv.Status = models.InvoiceStatusPaid
	inv.PaidDate = &paidAt
	inv.PaymentMethod = method

	l.logger().Info("direct payment recorded",
		zap.String("billing_id", billingID),
		zap.String("invoice_id", invoiceID),
		zap.String("method", string(method)))
	return inv, nil
}

func (l *DefaultLedger) MarkPaidFromGateway(ctx context.Context, billingID, invoiceID string, method models.PaymentMethod) error {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		paidAt := l.now()
		ok, err := l.Repo.TransitionInvoice(ctx, billingID, invoiceID, models.InvoiceTransition{
			From:          payableStatuses,
			To:            models.InvoiceStatusPaid,
			PaidDate:      &paidAt,
			PaymentMethod: method,
		})
		if err != nil {
			return fmt.Errorf("mark paid: %w", err)
		}
		if ok {
			l.logger().Info("invoice paid via gateway",
				zap.String("billing_id", billingID),
				zap.String("invoice_id", invoiceID),
				zap.String("method", string(method)))
			return nil
		}

		_, inv, err := l.GetInvoice(ctx, billingID, invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case models.InvoiceStatusPaid:
			if inv.PaymentMethod != method {
				l.logger().Warn("gateway payment confirmed on invoice already paid by another method",
					zap.String("billing_id", billingID),
					zap.String("invoice_id", invoiceID),
					zap.String("paid_by", string(inv.PaymentMethod)),
					zap.String("gateway_method", string(method)))
			}
			return nil
		case models.InvoiceStatusCancelled:
			return ErrAlreadySettled
		}
		// Still payable: the status moved under us (Pending -> Overdue); try again.
	}
	return fmt.Errorf("mark paid: invoice %s kept changing state", invoiceID)
}

func (l *DefaultLedger) CancelInvoice(ctx context.Context, billingID, invoiceID string) (*models.Invoice, error) {
	ok, err := l.Repo.TransitionInvoice(ctx, billingID, invoiceID, models.InvoiceTransition{
		From: []models.InvoiceStatus{models.InvoiceStatusPending},
		To:   models.InvoiceStatusCancelled,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel invoice: %w", err)
	}

	_, inv, err := l.GetInvoice(ctx, billingID, invoiceID)
	if err != nil {
		return nil, err
	}
	if ok {
		l.logger().Info("invoice cancelled", zap.String("billing_id", billingID), zap.String("invoice_id", invoiceID))
		return inv, nil
	}
	if inv.Status.IsTerminal() {
		return nil, ErrAlreadySettled
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, models.InvoiceStatusCancelled)
}

func (l *DefaultLedger) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := l.Repo.MarkOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger().Info("overdue invoices marked", zap.Int64("billings", n))
	}
	return n, nil
}

func (l *DefaultLedger) AddExpense(ctx context.Context, billingID string, req models.ExpenseRequest, recordedBy string) (*models.Expense, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	exp := models.Expense{
		ID:          uuid.New().String(),
		Category:    req.Category,
		Description: req.Description,
		Amount:      req.Amount,
		Date:        l.now(),
		RecordedBy:  recordedBy,
	}
	if req.Date != nil {
		exp.Date = *req.Date
	}
	if err := l.Repo.AppendExpense(ctx, billingID, exp); err != nil {
		if errors.Is(err, billingRepo.ErrNotFound) {
			return nil, ErrBillingNotFound
		}
		return nil, err
	}
	return &exp, nil
}

func (l *DefaultLedger) AddInsuranceClaim(ctx context.Context, billingID string, req models.InsuranceClaimRequest) (*models.InsuranceClaim, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.InvoiceID != "" {
		if _, _, err := l.GetInvoice(ctx, billingID, req.InvoiceID); err != nil {
			return nil, err
		}
	}
	claim := models.InsuranceClaim{
		ID:           uuid.New().String(),
		InvoiceID:    req.InvoiceID,
		Provider:     req.Provider,
		PolicyNumber: req.PolicyNumber,
		Amount:       req.Amount,
		Status:       "Submitted",
		SubmittedAt:  l.now(),
	}
	if err := l.Repo.AppendInsuranceClaim(ctx, billingID, claim); err != nil {
		if errors.Is(err, billingRepo.ErrNotFound) {
			return nil, ErrBillingNotFound
		}
		return nil, err
	}
	return &claim, nil
}
