package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a mobile-money payment attempt.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// IsTerminal returns true for every status except pending.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}

// ResolutionSource records which confirmation path settled a transaction.
type ResolutionSource string

const (
	ResolvedByWebhook      ResolutionSource = "webhook"
	ResolvedByQuery        ResolutionSource = "query"
	ResolvedByVerification ResolutionSource = "verification"
	ResolvedByPush         ResolutionSource = "push"
	ResolvedByCaller       ResolutionSource = "caller"
)

// Transaction is one attempted M-Pesa payment against an invoice.
type Transaction struct {
	ID                string                 `bson:"id" json:"id"`
	InvoiceID         string                 `bson:"invoiceId" json:"invoiceId"`
	BillingID         string                 `bson:"billingId" json:"billingId"`
	PatientID         string                 `bson:"patientId" json:"patientId"`
	PhoneNumber       string                 `bson:"phoneNumber" json:"phoneNumber"`
	Amount            decimal.Decimal        `bson:"amount" json:"amount"`
	MerchantRequestID string                 `bson:"merchantRequestId,omitempty" json:"merchantRequestId,omitempty"`
	CheckoutRequestID string                 `bson:"checkoutRequestId,omitempty" json:"checkoutRequestId,omitempty"`
	ResultCode        *int                   `bson:"resultCode,omitempty" json:"resultCode,omitempty"`
	ResultDesc        string                 `bson:"resultDesc,omitempty" json:"resultDesc,omitempty"`
	ReceiptNumber     string                 `bson:"receiptNumber,omitempty" json:"receiptNumber,omitempty"`
	Status            TransactionStatus      `bson:"status" json:"status"`
	Metadata          map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	ResolvedBy        ResolutionSource       `bson:"resolvedBy,omitempty" json:"resolvedBy,omitempty"`
	CreatedAt         time.Time              `bson:"createdAt" json:"createdAt"`
	UpdatedAt         time.Time              `bson:"updatedAt" json:"updatedAt"`
	ResolvedAt        *time.Time             `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
	// InvoiceSettledAt is set once a completed payment has been written onto its invoice.
	InvoiceSettledAt  *time.Time             `bson:"invoiceSettledAt,omitempty" json:"invoiceSettledAt,omitempty"`
}

// NeedsSettlement reports a completed payment that has not reached its invoice yet.
func (t *Transaction) NeedsSettlement() bool {
	return t.Status == TransactionStatusCompleted && t.InvoiceSettledAt == nil
}

// TransactionResolution is the terminal outcome written onto a pending transaction.
type TransactionResolution struct {
	Status        TransactionStatus
	ResultCode    *int
	ResultDesc    string
	ReceiptNumber string
	Metadata      map[string]interface{}
	Source        ResolutionSource
	ResolvedAt    time.Time
}
