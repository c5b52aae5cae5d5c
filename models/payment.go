package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// --- Request payloads ---

type InvoiceItemInput struct {
	ServiceName string          `json:"serviceName" binding:"required"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type CreateInvoiceRequest struct {
	Items []InvoiceItemInput `json:"items" binding:"required,min=1,dive"`
}

type DirectPaymentRequest struct {
	PaymentMethod PaymentMethod   `json:"paymentMethod" binding:"required,oneof=Cash Card Bank Insurance"`
	Amount        decimal.Decimal `json:"amount"`
}

type MpesaPaymentRequest struct {
	PhoneNumber string          `json:"phoneNumber" binding:"required,ke_msisdn"`
	Amount      decimal.Decimal `json:"amount"`
}

type ExpenseRequest struct {
	Category    string          `json:"category" binding:"required"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Date        *time.Time      `json:"date"`
}

type InsuranceClaimRequest struct {
	InvoiceID    string          `json:"invoiceId"`
	Provider     string          `json:"provider" binding:"required"`
	PolicyNumber string          `json:"policyNumber" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
}

// --- Responses ---

// PaymentInitiation is returned once the STK push has been accepted by the gateway.
type PaymentInitiation struct {
	TransactionID     string `json:"transactionId"`
	MerchantRequestID string `json:"merchantRequestId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	CustomerMessage   string `json:"customerMessage,omitempty"`
}

// PaymentStatus values reported to pollers.
const (
	PaymentStatusPending             = "pending"
	PaymentStatusCompleted           = "completed"
	PaymentStatusFailed              = "failed"
	PaymentStatusCancelled           = "cancelled"
	PaymentStatusPendingVerification = "pending_verification"
)

// PaymentStatusResponse answers "is this invoice paid yet".
type PaymentStatusResponse struct {
	InvoiceID     string        `json:"invoiceId"`
	TransactionID string        `json:"transactionId"`
	Status        string        `json:"status"`
	InvoiceStatus InvoiceStatus `json:"invoiceStatus,omitempty"`
	ReceiptNumber string        `json:"receiptNumber,omitempty"`
	ResultDesc    string        `json:"resultDesc,omitempty"`
	Message       string        `json:"message,omitempty"`
}
