package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "Pending"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusOverdue   InvoiceStatus = "Overdue"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusPending:   {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled},
	InvoiceStatusOverdue:   {InvoiceStatusPaid},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

// CanTransitionTo reports whether moving from s to next is a permitted invoice transition.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for Paid and Cancelled.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

// IsPayable returns true when the invoice still accepts a payment.
func (s InvoiceStatus) IsPayable() bool {
	return s == InvoiceStatusPending || s == InvoiceStatusOverdue
}

// PaymentMethod identifies how an invoice was settled.
type PaymentMethod string

const (
	PaymentMethodCash      PaymentMethod = "Cash"
	PaymentMethodCard      PaymentMethod = "Card"
	PaymentMethodBank      PaymentMethod = "Bank"
	PaymentMethodInsurance PaymentMethod = "Insurance"
	PaymentMethodMpesa     PaymentMethod = "M-Pesa"
)

// IsDirect returns true for methods recorded synchronously at the counter.
func (m PaymentMethod) IsDirect() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodBank, PaymentMethodInsurance:
		return true
	default:
		return false
	}
}

// InvoiceItem is a single billable line.
type InvoiceItem struct {
	ServiceName string          `bson:"serviceName" json:"serviceName"`
	Description string          `bson:"description,omitempty" json:"description,omitempty"`
	Amount      decimal.Decimal `bson:"amount" json:"amount"`
}

// Invoice is embedded in a patient's Billing document.
type Invoice struct {
	ID            string          `bson:"id" json:"id"`
	Items         []InvoiceItem   `bson:"items" json:"items"`
	TotalAmount   decimal.Decimal `bson:"totalAmount" json:"totalAmount"`
	Status        InvoiceStatus   `bson:"status" json:"status"`
	DueDate       time.Time       `bson:"dueDate" json:"dueDate"`
	PaidDate      *time.Time      `bson:"paidDate,omitempty" json:"paidDate,omitempty"`
	PaymentMethod PaymentMethod   `bson:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	CreatedAt     time.Time       `bson:"createdAt" json:"createdAt"`
}

// Expense is an append-only hospital expense entry consumed by reporting.
type Expense struct {
	ID          string          `bson:"id" json:"id"`
	Category    string          `bson:"category" json:"category"`
	Description string          `bson:"description,omitempty" json:"description,omitempty"`
	Amount      decimal.Decimal `bson:"amount" json:"amount"`
	Date        time.Time       `bson:"date" json:"date"`
	RecordedBy  string          `bson:"recordedBy,omitempty" json:"recordedBy,omitempty"`
}

// InsuranceClaim is an append-only claim raised against an invoice.
type InsuranceClaim struct {
	ID           string          `bson:"id" json:"id"`
	InvoiceID    string          `bson:"invoiceId,omitempty" json:"invoiceId,omitempty"`
	Provider     string          `bson:"provider" json:"provider"`
	PolicyNumber string          `bson:"policyNumber" json:"policyNumber"`
	Amount       decimal.Decimal `bson:"amount" json:"amount"`
	Status       string          `bson:"status" json:"status"`
	SubmittedAt  time.Time       `bson:"submittedAt" json:"submittedAt"`
}

// Billing is the per-patient billing aggregate.
type Billing struct {
	ID              string           `bson:"id" json:"id"`
	PatientID       string           `bson:"patientId" json:"patientId"`
	Invoices        []Invoice        `bson:"invoices" json:"invoices"`
	Expenses        []Expense        `bson:"expenses" json:"expenses"`
	InsuranceClaims []InsuranceClaim `bson:"insuranceClaims" json:"insuranceClaims"`
	CreatedAt       time.Time        `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time        `bson:"updatedAt" json:"updatedAt"`
}

// Invoice returns the embedded invoice with the given id.
func (b *Billing) Invoice(invoiceID string) (*Invoice, bool) {
	for i := range b.Invoices {
		if b.Invoices[i].ID == invoiceID {
			return &b.Invoices[i], true
		}
	}
	return nil, false
}

// InvoiceTransition describes a conditional status change on one embedded invoice.
type InvoiceTransition struct {
	From          []InvoiceStatus
	To            InvoiceStatus
	PaidDate      *time.Time
	PaymentMethod PaymentMethod
}
