package handlers

import (
	"net/http"

	"hospital/middleware"
	"hospital/models"
	"hospital/services/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BillingHandler serves invoice, expense and insurance-claim endpoints.
type BillingHandler struct {
	Ledger billing.Ledger
}

func NewBillingHandler(ledger billing.Ledger) *BillingHandler {
	return &BillingHandler{Ledger: ledger}
}

// CreateInvoice handles POST /api/billing/patients/:patientId/invoices.
func (h *BillingHandler) CreateInvoice(c *gin.Context) {
	var req models.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	patientID := c.Param("patientId")
	b, inv, err := h.Ledger.CreateInvoice(c.Request.Context(), patientID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	getLogger(c).Info("invoice created",
		zap.String("billing_id", b.ID),
		zap.String("invoice_id", inv.ID),
		zap.String("total", inv.TotalAmount.String()))
	c.JSON(http.StatusCreated, gin.H{"billingId": b.ID, "invoice": inv})
}

// GetPatientBilling handles GET /api/billing/patients/:patientId.
func (h *BillingHandler) GetPatientBilling(c *gin.Context) {
	patientID := c.Param("patientId")
	if !middleware.CallerFrom(c).CanAccessPatient(patientID) {
		respondError(c, billing.ErrForbidden)
		return
	}

	b, err := h.Ledger.GetBillingByPatient(c.Request.Context(), patientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetInvoice handles GET /api/billing/:billingId/invoices/:invoiceId.
func (h *BillingHandler) GetInvoice(c *gin.Context) {
	b, inv, err := h.Ledger.GetInvoice(c.Request.Context(), c.Param("billingId"), c.Param("invoiceId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !middleware.CallerFrom(c).CanAccessPatient(b.PatientID) {
		respondError(c, billing.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, gin.H{"billingId": b.ID, "patientId": b.PatientID, "invoice": inv})
}

// RecordPayment handles PUT .../invoices/:invoiceId/payment for counter payments.
func (h *BillingHandler) RecordPayment(c *gin.Context) {
	var req models.DirectPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	inv, err := h.Ledger.RecordDirectPayment(c.Request.Context(), c.Param("billingId"), c.Param("invoiceId"), req.PaymentMethod, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment recorded", "invoice": inv})
}

// CancelInvoice handles PUT .../invoices/:invoiceId/cancel.
func (h *BillingHandler) CancelInvoice(c *gin.Context) {
	inv, err := h.Ledger.CancelInvoice(c.Request.Context(), c.Param("billingId"), c.Param("invoiceId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Invoice cancelled", "invoice": inv})
}

// AddExpense handles POST /api/billing/:billingId/expenses.
func (h *BillingHandler) AddExpense(c *gin.Context) {
	var req models.ExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	exp, err := h.Ledger.AddExpense(c.Request.Context(), c.Param("billingId"), req, middleware.CallerFrom(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

// AddInsuranceClaim handles POST /api/billing/:billingId/insurance-claims.
func (h *BillingHandler) AddInsuranceClaim(c *gin.Context) {
	var req models.InsuranceClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	claim, err := h.Ledger.AddInsuranceClaim(c.Request.Context(), c.Param("billingId"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, claim)
}
