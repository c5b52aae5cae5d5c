// File: hospital/handlers/bundle.go
package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups all endpoint handlers into one struct.
type HandlerBundle struct {
	// Billing endpoints
	CreateInvoiceHandler     gin.HandlerFunc
	GetPatientBillingHandler gin.HandlerFunc
	GetInvoiceHandler        gin.HandlerFunc
	RecordPaymentHandler     gin.HandlerFunc
	CancelInvoiceHandler     gin.HandlerFunc
	AddExpenseHandler        gin.HandlerFunc
	AddInsuranceClaimHandler gin.HandlerFunc

	// M-Pesa endpoints
	InitiateMpesaHandler      gin.HandlerFunc
	PaymentStatusHandler      gin.HandlerFunc
	CancelMpesaHandler        gin.HandlerFunc
	TransactionHistoryHandler gin.HandlerFunc
	MpesaCallbackHandler      gin.HandlerFunc
	UnmatchedCallbacksHandler gin.HandlerFunc
}

func NewHandlerBundle(bh *BillingHandler, ph *PaymentHandler) *HandlerBundle {
	return &HandlerBundle{
		CreateInvoiceHandler:     bh.CreateInvoice,
		GetPatientBillingHandler: bh.GetPatientBilling,
		GetInvoiceHandler:        bh.GetInvoice,
		RecordPaymentHandler:     bh.RecordPayment,
		CancelInvoiceHandler:     bh.CancelInvoice,
		AddExpenseHandler:        bh.AddExpense,
		AddInsuranceClaimHandler: bh.AddInsuranceClaim,

		InitiateMpesaHandler:      ph.InitiateMpesa,
		PaymentStatusHandler:      ph.PaymentStatus,
		CancelMpesaHandler:        ph.CancelMpesa,
		TransactionHistoryHandler: ph.TransactionHistory,
		MpesaCallbackHandler:      ph.MpesaCallback,
		UnmatchedCallbacksHandler: ph.UnmatchedCallbacks,
	}
}
