package handlers

import (
	"errors"
	"net/http"

	"hospital/services/billing"
	"hospital/services/mpesa"
	"hospital/services/payment"
	"hospital/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is checked in order; the first match wins.
var errorTable = []errorMapping{
	{billing.ErrBillingNotFound, http.StatusNotFound, "billing_not_found"},
	{billing.ErrInvoiceNotFound, http.StatusNotFound, "invoice_not_found"},
	{payment.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found"},
	{payment.ErrNoPayment, http.StatusNotFound, "no_payment"},

	{mpesa.ErrInvalidPhone, http.StatusBadRequest, "invalid_phone"},
	{mpesa.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{billing.ErrInvalidItems, http.StatusBadRequest, "invalid_items"},
	{billing.ErrInvalidPaymentMethod, http.StatusBadRequest, "invalid_payment_method"},
	{billing.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{billing.ErrAmountMismatch, http.StatusUnprocessableEntity, "amount_mismatch"},

	{billing.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{billing.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{payment.ErrConcurrentPaymentInProgress, http.StatusConflict, "payment_in_progress"},
	{payment.ErrNotPending, http.StatusConflict, "payment_not_pending"},

	{billing.ErrForbidden, http.StatusForbidden, "forbidden"},

	{mpesa.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
	{mpesa.ErrGatewayAuth, http.StatusServiceUnavailable, "gateway_auth_failed"},
	{mpesa.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
}

// respondError writes err using the shared error table.
func respondError(c *gin.Context, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			utils.JSONError(c, m.status, m.code, m.target.Error(), detailsFor(err, m.target))
			return
		}
	}
	getLogger(c).Error("unhandled error", zap.Error(err))
	utils.JSONError(c, http.StatusInternalServerError, "internal_error", "Internal Server Error", "")
}

// respondBindError reports a malformed or invalid request body.
func respondBindError(c *gin.Context, err error) {
	utils.JSONError(c, http.StatusBadRequest, "invalid_request", "Invalid request", err.Error())
}

func detailsFor(err, target error) string {
	if err.Error() == target.Error() {
		return ""
	}
	return err.Error()
}
