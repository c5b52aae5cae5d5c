package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"hospital/database/repository/memory"
	"hospital/models"
	"hospital/services/billing"
	"hospital/services/mpesa"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Authenticate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) InitiatePush(ctx context.Context, phone string, amount decimal.Decimal, ref string) (*mpesa.PushResult, error) {
	args := m.Called(ctx, phone, amount, ref)
	res, _ := args.Get(0).(*mpesa.PushResult)
	return res, args.Error(1)
}

func (m *mockGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error) {
	args := m.Called(ctx, checkoutRequestID)
	res, _ := args.Get(0).(*mpesa.QueryResult)
	return res, args.Error(1)
}

type recordingNotifier struct {
	mu  sync.Mutex
	txs []models.Transaction
}

func (n *recordingNotifier) PaymentResolved(_ context.Context, tx *models.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txs = append(n.txs, *tx)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.txs)
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingScheduler) ScheduleVerification(_ context.Context, txID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, txID)
	return nil
}

func (s *recordingScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// countingLedger records gateway settlements and can fail the first N of them.
type countingLedger struct {
	billing.Ledger
	mu       sync.Mutex
	calls    int
	failures int
}

func (l *countingLedger) settleCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *countingLedger) MarkPaidFromGateway(ctx context.Context, billingID, invoiceID string, method models.PaymentMethod) error {
	l.mu.Lock()
	l.calls++
	fail := l.failures > 0
	if fail {
		l.failures--
	}
	l.mu.Unlock()
	if fail {
		return context.DeadlineExceeded
	}
	return l.Ledger.MarkPaidFromGateway(ctx, billingID, invoiceID, method)
}

type fixture struct {
	ledger    *countingLedger
	txs       *memory.TransactionStore
	unmatched *memory.UnmatchedCallbackStore
	tracker   *Tracker
	gateway   *mockGateway
	notifier  *recordingNotifier
	scheduler *recordingScheduler
	coord     *Coordinator

	billing *models.Billing
	invoice *models.Invoice
	patient models.Caller
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()

	base := billing.NewLedger(memory.NewBillingStore(), nil, 30)
	b, inv, err := base.CreateInvoice(context.Background(), "patient-1", []models.InvoiceItemInput{
		{ServiceName: "Consultation", Amount: decimal.NewFromInt(1000)},
		{ServiceName: "Lab", Amount: decimal.NewFromInt(500)},
	})
	require.NoError(t, err)

	f := &fixture{
		ledger:    &countingLedger{Ledger: base},
		txs:       memory.NewTransactionStore(),
		unmatched: memory.NewUnmatchedCallbackStore(),
		gateway:   &mockGateway{},
		notifier:  &recordingNotifier{},
		scheduler: &recordingScheduler{},
		billing:   b,
		invoice:   inv,
		patient:   models.Caller{UserID: "patient-1", Role: models.RolePatient},
	}
	f.tracker = NewTracker(f.txs, f.ledger, nil)

	opts := Options{
		Ledger:                f.ledger,
		Tracker:               f.tracker,
		Gateway:               f.gateway,
		Scheduler:             f.scheduler,
		Notifier:              f.notifier,
		Unmatched:             f.unmatched,
		PollInterval:          5 * time.Second,
		PollTimeout:           60 * time.Second,
		CallbackLookupRetries: -1,
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.coord = NewCoordinator(opts)
	return f
}

func amountOf(v int64) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(decimal.NewFromInt(v)) })
}

func (f *fixture) expectPush(checkoutID string) *mock.Call {
	return f.gateway.On("InitiatePush", mock.Anything, "254712345678", amountOf(1500), f.invoice.ID).
		Return(&mpesa.PushResult{
			MerchantRequestID: "m-" + checkoutID,
			CheckoutRequestID: checkoutID,
			CustomerMessage:   "Success. Request accepted for processing",
		}, nil)
}

func (f *fixture) initiate(t *testing.T) *models.PaymentInitiation {
	t.Helper()
	init, err := f.coord.InitiatePayment(context.Background(), f.patient, f.billing.ID, f.invoice.ID, "0712345678", decimal.NewFromInt(1500))
	require.NoError(t, err)
	return init
}

func (f *fixture) currentInvoice(t *testing.T) *models.Invoice {
	t.Helper()
	_, inv, err := f.ledger.GetInvoice(context.Background(), f.billing.ID, f.invoice.ID)
	require.NoError(t, err)
	return inv
}

func successCallback(init *models.PaymentInitiation, receipt string) models.STKCallback {
	return models.STKCallback{
		MerchantRequestID: init.MerchantRequestID,
		CheckoutRequestID: init.CheckoutRequestID,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		CallbackMetadata: &models.CallbackMetadata{Item: []models.CallbackItem{
			{Name: "Amount", Value: 1500.0},
			{Name: "MpesaReceiptNumber", Value: receipt},
			{Name: "TransactionDate", Value: 20250301123045.0},
			{Name: "PhoneNumber", Value: 254712345678.0},
		}},
	}
}
