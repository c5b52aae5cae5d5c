package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	callbackRepo "hospital/database/repository/callback"
	"hospital/models"
	"hospital/services/billing"
	"hospital/services/mpesa"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options configures a Coordinator. Only Ledger, Tracker and Gateway are required.
type Options struct {
	Ledger    billing.Ledger
	Tracker   *Tracker
	Gateway   mpesa.Gateway
	Throttle  QueryThrottle
	Scheduler VerificationScheduler
	Notifier  Notifier
	Logger    *zap.Logger
	// Unmatched stores callbacks that match no transaction. Nil only logs them.
	Unmatched callbackRepo.UnmatchedCallbackRepository

	PollInterval time.Duration
	PollTimeout  time.Duration
	// CallbackLookupRetries bounds how long a webhook waits for the push
	// response to be recorded before it is dropped.
	CallbackLookupRetries int
	CallbackLookupDelay   time.Duration
}

// Coordinator drives the webhook and polling confirmation paths of M-Pesa payments.
type Coordinator struct {
	ledger    billing.Ledger
	tracker   *Tracker
	gateway   mpesa.Gateway
	throttle  QueryThrottle
	scheduler VerificationScheduler
	notifier  Notifier
	logger    *zap.Logger
	unmatched callbackRepo.UnmatchedCallbackRepository

	pollInterval   time.Duration
	pollTimeout    time.Duration
	lookupRetries  int
	lookupDelay    time.Duration
	cleanupTimeout time.Duration
	clock          func() time.Time
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		ledger:         opts.Ledger,
		tracker:        opts.Tracker,
		gateway:        opts.Gateway,
		throttle:       opts.Throttle,
		scheduler:      opts.Scheduler,
		notifier:       opts.Notifier,
		logger:         opts.Logger,
		unmatched:      opts.Unmatched,
		pollInterval:   opts.PollInterval,
		pollTimeout:    opts.PollTimeout,
		lookupRetries:  opts.CallbackLookupRetries,
		lookupDelay:    opts.CallbackLookupDelay,
		cleanupTimeout: 10 * time.Second,
		clock:          time.Now,
	}
	if c.throttle == nil {
		c.throttle = NewMemoryThrottle()
	}
	if c.scheduler == nil {
		c.scheduler = nopScheduler{}
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 5 * time.Second
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 60 * time.Second
	}
	switch {
	case c.lookupRetries == 0:
		c.lookupRetries = 3
	case c.lookupRetries < 0: // disabled
		c.lookupRetries = 0
	}
	if c.lookupDelay <= 0 {
		c.lookupDelay = 500 * time.Millisecond
	}
	return c
}

// PollInterval is the minimum spacing between direct queries for one transaction.
func (c *Coordinator) PollInterval() time.Duration { return c.pollInterval }

// PollTimeout is how long polling runs before the final verification.
func (c *Coordinator) PollTimeout() time.Duration { return c.pollTimeout }

// InitiatePayment starts an STK push for the full invoice total.
func (c *Coordinator) InitiatePayment(ctx context.Context, caller models.Caller, billingID, invoiceID, phoneNumber string, amount decimal.Decimal) (*models.PaymentInitiation, error) {
	msisdn, err := mpesa.FormatPhone(phoneNumber)
	if err != nil {
		return nil, err
	}

	b, inv, err := c.ledger.GetInvoice(ctx, billingID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessPatient(b.PatientID) {
		return nil, ErrForbidden
	}
	if !inv.Status.IsPayable() {
		return nil, billing.ErrAlreadySettled
	}
	if !amount.Equal(inv.TotalAmount) {
		return nil, billing.ErrAmountMismatch
	}

	// A confirmed payment whose invoice write failed must not be charged again.
	latest, err := c.tracker.LatestForInvoice(ctx, inv.ID)
	if err != nil && !errors.Is(err, ErrNoPayment) {
		return nil, err
	}
	if latest != nil && latest.NeedsSettlement() {
		if err := c.settle(ctx, latest); err != nil {
			return nil, err
		}
		return nil, billing.ErrAlreadySettled
	}

	tx, err := c.tracker.Open(ctx, OpenRequest{
		BillingID:   b.ID,
		InvoiceID:   inv.ID,
		PatientID:   b.PatientID,
		PhoneNumber: msisdn,
		Amount:      inv.TotalAmount,
	})
	if err != nil {
		return nil, err
	}

	log := c.logger.With(zap.String("transaction_id", tx.ID), zap.String("invoice_id", inv.ID))

	push, err := c.gateway.InitiatePush(ctx, msisdn, inv.TotalAmount, inv.ID)
	if err != nil {
		// Free the invoice's pending slot so the caller can try again.
		cctx, cancel := c.detached(ctx)
		defer cancel()
		if _, _, rerr := c.tracker.Resolve(cctx, tx.ID, Outcome{
			Status:     models.TransactionStatusFailed,
			ResultDesc: err.Error(),
		}, models.ResolvedByPush); rerr != nil {
			log.Error("failed to release transaction after push error", zap.Error(rerr))
		}
		log.Warn("stk push failed", zap.Error(err))
		return nil, err
	}

	cctx, cancel := c.detached(ctx)
	defer cancel()
	if err := c.tracker.AttachGatewayIDs(cctx, tx.ID, push.MerchantRequestID, push.CheckoutRequestID); err != nil {
		log.Error("failed to record gateway ids",
			zap.String("checkout_request_id", push.CheckoutRequestID), zap.Error(err))
		return nil, fmt.Errorf("record gateway ids: %w", err)
	}

	log.Info("payment initiated", zap.String("checkout_request_id", push.CheckoutRequestID))
	return &models.PaymentInitiation{
		TransactionID:     tx.ID,
		MerchantRequestID: push.MerchantRequestID,
		CheckoutRequestID: push.CheckoutRequestID,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}

// HandleCallback applies an asynchronous gateway result.
func (c *Coordinator) HandleCallback(ctx context.Context, cb models.STKCallback) error {
	log := c.logger.With(
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.String("merchant_request_id", cb.MerchantRequestID),
		zap.Int("result_code", cb.ResultCode))

	if cb.CheckoutRequestID == "" {
		c.recordUnmatched(ctx, cb, log)
		return ErrTransactionNotFound
	}

	// The callback can overtake the push response, so wait briefly for the ids.
	var (
		tx  *models.Transaction
		err error
	)
	for attempt := 0; ; attempt++ {
		tx, err = c.tracker.GetByCheckout(ctx, cb.MerchantRequestID, cb.CheckoutRequestID)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			log.Warn("callback lookup failed", zap.Error(err))
			return err
		}
		if attempt >= c.lookupRetries {
			c.recordUnmatched(ctx, cb, log)
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.lookupDelay):
		}
	}

	var outcome Outcome
	meta := cb.CallbackMetadata.AsMap()
	if cb.ResultCode == mpesa.ResultSuccess {
		receipt, paid, _ := callbackDetails(cb)
		if !paid.IsZero() && !paid.Equal(tx.Amount) {
			log.Warn("callback amount differs from transaction amount",
				zap.String("paid", paid.String()), zap.String("expected", tx.Amount.String()))
		}
		outcome = Completed(receipt, cb.ResultDesc, meta)
	} else {
		outcome = Failed(cb.ResultCode, cb.ResultDesc, meta)
	}

	_, _, err = c.resolve(ctx, tx, outcome, models.ResolvedByWebhook)
	return err
}

// recordUnmatched keeps a callback that matched no transaction so the payment
// can still be reconciled by hand.
func (c *Coordinator) recordUnmatched(ctx context.Context, cb models.STKCallback, log *zap.Logger) {
	receipt, amount, phone := callbackDetails(cb)
	fields := []zap.Field{
		zap.String("receipt", receipt),
		zap.String("amount", amount.String()),
		zap.String("phone", phone),
		zap.String("result_desc", cb.ResultDesc),
	}
	if cb.ResultCode == mpesa.ResultSuccess {
		log.Error("payment confirmed for unknown transaction; manual reconciliation required", fields...)
	} else {
		log.Warn("callback for unknown transaction", fields...)
	}

	if c.unmatched == nil || cb.CheckoutRequestID == "" {
		return
	}
	now := c.clock()
	rec := &models.UnmatchedCallback{
		ID:                uuid.New().String(),
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		ReceiptNumber:     receipt,
		Amount:            amount,
		PhoneNumber:       phone,
		Payload:           cb,
		ReceivedAt:        now,
	}
	cctx, cancel := c.detached(ctx)
	defer cancel()
	if err := c.unmatched.Record(cctx, rec); err != nil {
		log.Error("failed to store unmatched callback", append(fields, zap.Error(err))...)
	}
}

// UnmatchedCallbacks lists stored callbacks that matched no transaction, newest first.
func (c *Coordinator) UnmatchedCallbacks(ctx context.Context, limit int64) ([]models.UnmatchedCallback, error) {
	if c.unmatched == nil {
		return nil, nil
	}
	return c.unmatched.ListRecent(ctx, limit)
}

// callbackDetails extracts the receipt, amount and payer phone from a success callback.
func callbackDetails(cb models.STKCallback) (receipt string, amount decimal.Decimal, phone string) {
	if v, ok := cb.CallbackMetadata.Lookup("MpesaReceiptNumber"); ok && v != nil {
		receipt = metadataString(v)
	}
	if v, ok := cb.CallbackMetadata.Lookup("Amount"); ok && v != nil {
		if d, err := decimal.NewFromString(metadataString(v)); err == nil {
			amount = d
		}
	}
	if v, ok := cb.CallbackMetadata.Lookup("PhoneNumber"); ok && v != nil {
		phone = metadataString(v)
	}
	return receipt, amount, phone
}

// metadataString renders JSON numbers without exponents; phone numbers arrive as floats.
func metadataString(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}

// CheckStatus answers a single poll. Once the transaction is older than the
// poll timeout a final direct verification is made; if that is inconclusive the
// response carries pending_verification and ErrVerificationTimeout is returned.
func (c *Coordinator) CheckStatus(ctx context.Context, caller models.Caller, billingID, invoiceID string) (*models.PaymentStatusResponse, error) {
	tx, err := c.transactionFor(ctx, caller, billingID, invoiceID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() || tx.CheckoutRequestID == "" {
		_ = c.settle(ctx, tx)
		return c.statusResponse(ctx, tx, ""), nil
	}

	if c.clock().Sub(tx.CreatedAt) >= c.pollTimeout {
		return c.finalVerification(ctx, tx)
	}

	if c.allow(ctx, "query:"+tx.ID, c.pollInterval) {
		updated, _, err := c.query(ctx, tx, models.ResolvedByQuery)
		if err != nil {
			c.logger.Warn("status query failed",
				zap.String("transaction_id", tx.ID), zap.Error(err))
		}
		tx = updated
	}
	return c.statusResponse(ctx, tx, ""), nil
}

// AwaitResolution blocks until the payment is resolved: it polls every poll
// interval until the poll timeout, then makes one mandatory direct verification.
func (c *Coordinator) AwaitResolution(ctx context.Context, caller models.Caller, billingID, invoiceID string) (*models.PaymentStatusResponse, error) {
	tx, err := c.transactionFor(ctx, caller, billingID, invoiceID)
	if err != nil {
		return nil, err
	}

	deadline := tx.CreatedAt.Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if tx.Status.IsTerminal() {
			_ = c.settle(ctx, tx)
			return c.statusResponse(ctx, tx, ""), nil
		}
		if !c.clock().Before(deadline) {
			break
		}
		if tx.CheckoutRequestID != "" && c.allow(ctx, "query:"+tx.ID, c.pollInterval) {
			updated, resolved, err := c.query(ctx, tx, models.ResolvedByQuery)
			if err != nil {
				c.logger.Debug("poll query failed", zap.String("transaction_id", tx.ID), zap.Error(err))
			}
			if resolved {
				return c.statusResponse(ctx, updated, ""), nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if tx, err = c.tracker.Get(ctx, tx.ID); err != nil {
			return nil, err
		}
	}

	if tx.CheckoutRequestID == "" {
		return c.statusResponse(ctx, tx, ""), nil
	}
	return c.finalVerification(ctx, tx)
}

// CancelPayment aborts the invoice's pending payment before any confirmation.
func (c *Coordinator) CancelPayment(ctx context.Context, caller models.Caller, billingID, invoiceID string) (*models.Transaction, error) {
	tx, err := c.transactionFor(ctx, caller, billingID, invoiceID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return tx, ErrNotPending
	}

	cancelled, err := c.tracker.Cancel(ctx, tx.ID, "cancelled by "+string(caller.Role))
	if err != nil {
		return cancelled, err
	}
	c.notify(ctx, cancelled)
	return cancelled, nil
}

// VerifyTransaction makes one direct verification of a pending transaction.
// It returns ErrVerificationTimeout while the gateway is still inconclusive.
func (c *Coordinator) VerifyTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	tx, err := c.tracker.Get(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx.Status.IsTerminal() {
		return tx, c.settle(ctx, tx)
	}
	if tx.CheckoutRequestID == "" {
		return tx, ErrVerificationTimeout
	}

	updated, resolved, err := c.query(ctx, tx, models.ResolvedByVerification)
	if err != nil {
		return updated, err
	}
	if !resolved {
		return updated, ErrVerificationTimeout
	}
	return updated, nil
}

// History lists the payment attempts on an invoice.
func (c *Coordinator) History(ctx context.Context, caller models.Caller, billingID, invoiceID string) ([]models.Transaction, error) {
	b, _, err := c.ledger.GetInvoice(ctx, billingID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessPatient(b.PatientID) {
		return nil, ErrForbidden
	}
	return c.tracker.History(ctx, invoiceID)
}

func (c *Coordinator) finalVerification(ctx context.Context, tx *models.Transaction) (*models.PaymentStatusResponse, error) {
	log := c.logger.With(zap.String("transaction_id", tx.ID), zap.String("invoice_id", tx.InvoiceID))

	if c.allow(ctx, "verify:"+tx.ID, c.pollTimeout) {
		updated, resolved, err := c.query(ctx, tx, models.ResolvedByVerification)
		if resolved {
			return c.statusResponse(ctx, updated, ""), nil
		}
		if err != nil {
			log.Warn("final verification failed", zap.Error(err))
		}
		if err := c.scheduler.ScheduleVerification(ctx, tx.ID, c.pollInterval); err != nil {
			log.Error("failed to schedule verification", zap.Error(err))
		}
		log.Info("payment unverified after poll timeout")
		tx = updated
	} else {
		fresh, err := c.tracker.Get(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status.IsTerminal() {
			_ = c.settle(ctx, fresh)
			return c.statusResponse(ctx, fresh, ""), nil
		}
		tx = fresh
	}

	resp := c.statusResponse(ctx, tx, models.PaymentStatusPendingVerification)
	resp.Message = "Payment could not be confirmed yet. It will be verified automatically."
	return resp, ErrVerificationTimeout
}

// query asks the gateway directly and feeds a definitive answer into Resolve.
// resolved is false while the gateway has no answer.
func (c *Coordinator) query(ctx context.Context, tx *models.Transaction, source models.ResolutionSource) (*models.Transaction, bool, error) {
	res, err := c.gateway.QueryStatus(ctx, tx.CheckoutRequestID)
	if errors.Is(err, mpesa.ErrGatewayQueryPending) {
		return tx, false, nil
	}
	if err != nil {
		return tx, false, err
	}

	var outcome Outcome
	if res.Success() {
		outcome = Completed("", res.ResultDesc, res.Raw)
	} else {
		outcome = Failed(res.ResultCode, res.ResultDesc, res.Raw)
	}
	resolved, _, err := c.resolve(ctx, tx, outcome, source)
	if err != nil {
		return tx, false, err
	}
	return resolved, true, nil
}

func (c *Coordinator) resolve(ctx context.Context, tx *models.Transaction, outcome Outcome, source models.ResolutionSource) (*models.Transaction, bool, error) {
	resolved, applied, err := c.tracker.Resolve(ctx, tx.ID, outcome, source)
	if err != nil {
		return tx, false, err
	}
	if applied {
		c.notify(ctx, resolved)
	}
	return resolved, applied, nil
}

// settle retries the invoice write of a completed transaction left unsettled by
// an earlier failure. Errors are logged and returned.
func (c *Coordinator) settle(ctx context.Context, tx *models.Transaction) error {
	if !tx.NeedsSettlement() {
		return nil
	}
	if err := c.tracker.Settle(ctx, tx); err != nil {
		c.logger.Error("invoice settlement retry failed",
			zap.String("transaction_id", tx.ID),
			zap.String("invoice_id", tx.InvoiceID),
			zap.Error(err))
		return err
	}
	return nil
}

func (c *Coordinator) notify(ctx context.Context, tx *models.Transaction) {
	if err := c.notifier.PaymentResolved(ctx, tx); err != nil {
		c.logger.Warn("payment notification failed",
			zap.String("transaction_id", tx.ID), zap.Error(err))
	}
}

// transactionFor loads the newest transaction on an invoice the caller may see.
func (c *Coordinator) transactionFor(ctx context.Context, caller models.Caller, billingID, invoiceID string) (*models.Transaction, error) {
	b, _, err := c.ledger.GetInvoice(ctx, billingID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccessPatient(b.PatientID) {
		return nil, ErrForbidden
	}
	tx, err := c.tracker.LatestForInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if tx.BillingID != billingID {
		return nil, ErrNoPayment
	}
	return tx, nil
}

func (c *Coordinator) statusResponse(ctx context.Context, tx *models.Transaction, override string) *models.PaymentStatusResponse {
	resp := &models.PaymentStatusResponse{
		InvoiceID:     tx.InvoiceID,
		TransactionID: tx.ID,
		Status:        string(tx.Status),
		ReceiptNumber: tx.ReceiptNumber,
		ResultDesc:    tx.ResultDesc,
	}
	if override != "" {
		resp.Status = override
	}
	if _, inv, err := c.ledger.GetInvoice(ctx, tx.BillingID, tx.InvoiceID); err == nil {
		resp.InvoiceStatus = inv.Status
	}
	return resp
}

// allow fails open when the throttle store is unreachable.
func (c *Coordinator) allow(ctx context.Context, key string, window time.Duration) bool {
	ok, err := c.throttle.Allow(ctx, key, window)
	if err != nil {
		c.logger.Warn("query throttle unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// detached outlives the request context for cleanup writes.
func (c *Coordinator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
}
