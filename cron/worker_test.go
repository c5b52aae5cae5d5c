package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hospital/database/repository/memory"
	"hospital/models"
	"hospital/services/billing"
	"hospital/services/mpesa"
	"hospital/services/payment"
	"hospital/services/tasks"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway answers every query with result, or err when set.
type stubGateway struct {
	result *mpesa.QueryResult
	err    error
}

func (g *stubGateway) Authenticate(context.Context) (string, error) { return "tok", nil }

func (g *stubGateway) InitiatePush(context.Context, string, decimal.Decimal, string) (*mpesa.PushResult, error) {
	return &mpesa.PushResult{MerchantRequestID: "m-1", CheckoutRequestID: "ws_CO_1"}, nil
}

func (g *stubGateway) QueryStatus(context.Context, string) (*mpesa.QueryResult, error) {
	return g.result, g.err
}

type captureScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (s *captureScheduler) ScheduleVerification(_ context.Context, txID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, txID)
	return nil
}

// flakyLedger fails the first N gateway settlements.
type flakyLedger struct {
	billing.Ledger
	failures int
}

func (l *flakyLedger) MarkPaidFromGateway(ctx context.Context, billingID, invoiceID string, method models.PaymentMethod) error {
	if l.failures > 0 {
		l.failures--
		return errors.New("write concern timeout")
	}
	return l.Ledger.MarkPaidFromGateway(ctx, billingID, invoiceID, method)
}

type env struct {
	worker  *Worker
	gateway *stubGateway
	ledger  *billing.DefaultLedger
	sched   *captureScheduler
	billing *models.Billing
	invoice *models.Invoice
	txID    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	ledger := billing.NewLedger(memory.NewBillingStore(), nil, 30)
	b, inv, err := ledger.CreateInvoice(ctx, "patient-1", []models.InvoiceItemInput{
		{ServiceName: "Consultation", Amount: decimal.NewFromInt(1500)},
	})
	require.NoError(t, err)

	gw := &stubGateway{err: mpesa.ErrGatewayQueryPending}
	sched := &captureScheduler{}
	tracker := payment.NewTracker(memory.NewTransactionStore(), ledger, nil)
	coord := payment.NewCoordinator(payment.Options{
		Ledger:      ledger,
		Tracker:     tracker,
		Gateway:     gw,
		Scheduler:   sched,
		PollTimeout: time.Minute,
	})

	init, err := coord.InitiatePayment(ctx, models.Caller{UserID: "patient-1", Role: models.RolePatient},
		b.ID, inv.ID, "0712345678", decimal.NewFromInt(1500))
	require.NoError(t, err)

	return &env{
		worker: &Worker{
			Ledger:      ledger,
			Coordinator: coord,
			Tracker:     tracker,
			Scheduler:   sched,
		},
		gateway: gw,
		ledger:  ledger,
		sched:   sched,
		billing: b,
		invoice: inv,
		txID:    init.TransactionID,
	}
}

func verifyTask(t *testing.T, txID string) *asynq.Task {
	task, _, err := tasks.NewVerifyPaymentTask(txID, 0)
	require.NoError(t, err)
	return task
}

func TestHandleVerifyPayment_RetriesWhileInconclusive(t *testing.T) {
	e := newEnv(t)

	err := e.worker.handleVerifyPayment(context.Background(), verifyTask(t, e.txID))
	assert.ErrorIs(t, err, payment.ErrVerificationTimeout)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	e.gateway.err = nil
	e.gateway.result = &mpesa.QueryResult{ResultCode: 0, ResultDesc: "ok"}
	require.NoError(t, e.worker.handleVerifyPayment(context.Background(), verifyTask(t, e.txID)))

	_, inv, err := e.ledger.GetInvoice(context.Background(), e.billing.ID, e.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
}

func TestHandleVerifyPayment_SkipsUnknownAndMalformed(t *testing.T) {
	e := newEnv(t)

	err := e.worker.handleVerifyPayment(context.Background(), verifyTask(t, "missing"))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = e.worker.handleVerifyPayment(context.Background(), asynq.NewTask(tasks.TypeVerifyPayment, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleOverdueSweep(t *testing.T) {
	e := newEnv(t)
	e.worker.Clock = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	require.NoError(t, e.worker.handleOverdueSweep(context.Background(), tasks.NewOverdueSweepTask()))

	_, inv, err := e.ledger.GetInvoice(context.Background(), e.billing.ID, e.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusOverdue, inv.Status)
}

func TestHandleStaleSweep(t *testing.T) {
	e := newEnv(t)

	require.NoError(t, e.worker.handleStaleSweep(context.Background(), tasks.NewStaleSweepTask()))
	assert.Empty(t, e.sched.ids, "fresh payments are left to pollers")

	e.worker.Tracker.Clock = func() time.Time { return time.Now().Add(5 * time.Minute) }
	require.NoError(t, e.worker.handleStaleSweep(context.Background(), tasks.NewStaleSweepTask()))
	assert.Equal(t, []string{e.txID}, e.sched.ids)
}

func TestHandleStaleSweep_SettlesCompletedPayments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.worker.Tracker.Ledger = &flakyLedger{Ledger: e.ledger, failures: 1}

	_, _, err := e.worker.Tracker.Resolve(ctx, e.txID, payment.Completed("NLJ7RT61SV", "ok", nil), models.ResolvedByWebhook)
	require.Error(t, err)
	_, inv, err := e.ledger.GetInvoice(ctx, e.billing.ID, e.invoice.ID)
	require.NoError(t, err)
	require.Equal(t, models.InvoiceStatusPending, inv.Status)

	e.worker.Tracker.Clock = func() time.Time { return time.Now().Add(5 * time.Minute) }
	require.NoError(t, e.worker.handleStaleSweep(ctx, tasks.NewStaleSweepTask()))

	_, inv, err = e.ledger.GetInvoice(ctx, e.billing.ID, e.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, models.PaymentMethodMpesa, inv.PaymentMethod)

	tx, err := e.worker.Tracker.Get(ctx, e.txID)
	require.NoError(t, err)
	assert.NotNil(t, tx.InvoiceSettledAt)
	assert.Empty(t, e.sched.ids)
}

func TestRetryDelay(t *testing.T) {
	verify := verifyTask(t, "tx")
	assert.Equal(t, 30*time.Second, retryDelay(0, nil, verify))
	assert.Equal(t, 60*time.Second, retryDelay(1, nil, verify))
	assert.Equal(t, 30*time.Minute, retryDelay(20, nil, verify))
}
