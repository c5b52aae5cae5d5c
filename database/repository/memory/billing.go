package memory

import (
	"context"
	"sync"
	"time"

	billingRepo "hospital/database/repository/billing"
	"hospital/models"

	"github.com/google/uuid"
)

// BillingStore implements billingRepo.BillingRepository in memory.
// It is suitable for single-instance development and testing; every method
// is atomic with respect to the others, matching the per-document guarantees
// the Mongo implementation gets from conditional updates.
type BillingStore struct {
	mu        sync.RWMutex
	byID      map[string]*models.Billing
	byPatient map[string]string
}

// NewBillingStore creates an empty in-memory billing store.
func NewBillingStore() *BillingStore {
	return &BillingStore{
		byID:      make(map[string]*models.Billing),
		byPatient: make(map[string]string),
	}
}

var _ billingRepo.BillingRepository = (*BillingStore)(nil)

func (s *BillingStore) GetByID(_ context.Context, billingID string) (*models.Billing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.byID[billingID]
	if !ok {
		return nil, billingRepo.ErrNotFound
	}
	return cloneBilling(b), nil
}

func (s *BillingStore) GetByPatientID(ctx context.Context, patientID string) (*models.Billing, error) {
	s.mu.RLock()
	id, ok := s.byPatient[patientID]
	s.mu.RUnlock()
	if !ok {
		return nil, billingRepo.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *BillingStore) FindInvoice(ctx context.Context, billingID, invoiceID string) (*models.Billing, *models.Invoice, error) {
	b, err := s.GetByID(ctx, billingID)
	if err != nil {
		return nil, nil, err
	}
	inv, ok := b.Invoice(invoiceID)
	if !ok {
		return b, nil, billingRepo.ErrNotFound
	}
	return b, inv, nil
}

func (s *BillingStore) AppendInvoice(_ context.Context, patientID string, invoice models.Invoice) (*models.Billing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	id, ok := s.byPatient[patientID]
	if !ok {
		id = uuid.New().String()
		s.byID[id] = &models.Billing{
			ID:              id,
			PatientID:       patientID,
			Invoices:        []models.Invoice{},
			Expenses:        []models.Expense{},
			InsuranceClaims: []models.InsuranceClaim{},
			CreatedAt:       now,
		}
		s.byPatient[patientID] = id
	}
	b := s.byID[id]
	b.Invoices = append(b.Invoices, invoice)
	b.UpdatedAt = now
	return cloneBilling(b), nil
}

func (s *BillingStore) TransitionInvoice(_ context.Context, billingID, invoiceID string, t models.InvoiceTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[billingID]
	if !ok {
		return false, nil
	}
	inv, ok := b.Invoice(invoiceID)
	if !ok || !statusIn(inv.Status, t.From) {
		return false, nil
	}

	inv.Status = t.To
	if t.PaidDate != nil {
		paid := *t.PaidDate
		inv.PaidDate = &paid
	}
	if t.PaymentMethod != "" {
		inv.PaymentMethod = t.PaymentMethod
	}
	b.UpdatedAt = time.Now()
	return true, nil
}

func (s *BillingStore) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modified int64
	for _, b := range s.byID {
		touched := false
		for i := range b.Invoices {
			inv := &b.Invoices[i]
			if inv.Status == models.InvoiceStatusPending && inv.DueDate.Before(now) {
				inv.Status = models.InvoiceStatusOverdue
				touched = true
			}
		}
		if touched {
			b.UpdatedAt = now
			modified++
		}
	}
	return modified, nil
}

func (s *BillingStore) AppendExpense(_ context.Context, billingID string, expense models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[billingID]
	if !ok {
		return billingRepo.ErrNotFound
	}
	b.Expenses = append(b.Expenses, expense)
	b.UpdatedAt = time.Now()
	return nil
}

func (s *BillingStore) AppendInsuranceClaim(_ context.Context, billingID string, claim models.InsuranceClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byID[billingID]
	if !ok {
		return billingRepo.ErrNotFound
	}
	b.InsuranceClaims = append(b.InsuranceClaims, claim)
	b.UpdatedAt = time.Now()
	return nil
}

func statusIn(s models.InvoiceStatus, set []models.InvoiceStatus) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

func cloneBilling(b *models.Billing) *models.Billing {
	out := *b
	out.Invoices = make([]models.Invoice, len(b.Invoices))
	for i, inv := range b.Invoices {
		inv.Items = append([]models.InvoiceItem(nil), inv.Items...)
		if inv.PaidDate != nil {
			paid := *inv.PaidDate
			inv.PaidDate = &paid
		}
		out.Invoices[i] = inv
	}
	out.Expenses = append([]models.Expense(nil), b.Expenses...)
	out.InsuranceClaims = append([]models.InsuranceClaim(nil), b.InsuranceClaims...)
	return &out
}
