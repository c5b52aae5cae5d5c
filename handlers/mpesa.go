package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"hospital/middleware"
	"hospital/models"
	"hospital/services/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// callbackAck is the only body the gateway ever receives from the webhook.
var callbackAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

// PaymentHandler serves the M-Pesa endpoints.
type PaymentHandler struct {
	Payments payment.Service
	// CallbackToken must match the callback URL's token query parameter when set.
	CallbackToken   string
	CallbackTimeout time.Duration
	Logger          *zap.Logger

	inflight sync.WaitGroup
}

func NewPaymentHandler(svc payment.Service, callbackToken string, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{
		Payments:        svc,
		CallbackToken:   callbackToken,
		CallbackTimeout: 30 * time.Second,
		Logger:          logger,
	}
}

// InitiateMpesa handles POST .../invoices/:invoiceId/mpesa.
func (h *PaymentHandler) InitiateMpesa(c *gin.Context) {
	var req models.MpesaPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	init, err := h.Payments.InitiatePayment(c.Request.Context(), middleware.CallerFrom(c),
		c.Param("billingId"), c.Param("invoiceId"), req.PhoneNumber, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, init)
}

// PaymentStatus handles GET .../invoices/:invoiceId/payment-status. With
// ?wait=true it blocks until the payment resolves or verification times out.
func (h *PaymentHandler) PaymentStatus(c *gin.Context) {
	caller := middleware.CallerFrom(c)
	billingID, invoiceID := c.Param("billingId"), c.Param("invoiceId")

	var (
		resp *models.PaymentStatusResponse
		err  error
	)
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		resp, err = h.Payments.AwaitResolution(c.Request.Context(), caller, billingID, invoiceID)
	} else {
		resp, err = h.Payments.CheckStatus(c.Request.Context(), caller, billingID, invoiceID)
	}

	if errors.Is(err, payment.ErrVerificationTimeout) && resp != nil {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelMpesa handles DELETE .../invoices/:invoiceId/mpesa.
func (h *PaymentHandler) CancelMpesa(c *gin.Context) {
	tx, err := h.Payments.CancelPayment(c.Request.Context(), middleware.CallerFrom(c), c.Param("billingId"), c.Param("invoiceId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment cancelled", "transaction": tx})
}

// TransactionHistory handles GET .../invoices/:invoiceId/transactions.
func (h *PaymentHandler) TransactionHistory(c *gin.Context) {
	txs, err := h.Payments.History(c.Request.Context(), middleware.CallerFrom(c), c.Param("billingId"), c.Param("invoiceId"))
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// UnmatchedCallbacks handles GET /api/payments/mpesa/unmatched: gateway results
// that arrived for no known transaction, newest first.
func (h *PaymentHandler) UnmatchedCallbacks(c *gin.Context) {
	limit := int64(100)
	if v, err := strconv.ParseInt(c.Query("limit"), 10, 64); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	cbs, err := h.Payments.UnmatchedCallbacks(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if cbs == nil {
		cbs = []models.UnmatchedCallback{}
	}
	c.JSON(http.StatusOK, gin.H{"callbacks": cbs})
}

// MpesaCallback handles the gateway webhook. The gateway is always answered
// 200 straight away; the result is applied afterwards on a detached context.
func (h *PaymentHandler) MpesaCallback(c *gin.Context) {
	log := getLogger(c)

	if h.CallbackToken != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(h.CallbackToken)) != 1 {
		log.Warn("mpesa callback with bad token dropped", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusOK, callbackAck)
		return
	}

	var env models.STKCallbackEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		log.Warn("malformed mpesa callback dropped", zap.Error(err))
		c.JSON(http.StatusOK, callbackAck)
		return
	}
	c.JSON(http.StatusOK, callbackAck)

	cb := env.Body.StkCallback
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.CallbackTimeout)
		defer cancel()

		if err := h.Payments.HandleCallback(ctx, cb); err != nil {
			log.Error("mpesa callback processing failed",
				zap.String("checkout_request_id", cb.CheckoutRequestID),
				zap.Int("result_code", cb.ResultCode),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every accepted callback has been processed.
func (h *PaymentHandler) Wait() {
	h.inflight.Wait()
}
