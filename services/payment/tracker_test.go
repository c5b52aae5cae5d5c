package payment

import (
	"context"
	"testing"
	"time"

	"hospital/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFor(t *testing.T, f *fixture) *models.Transaction {
	t.Helper()
	tx, err := f.tracker.Open(context.Background(), OpenRequest{
		BillingID:   f.billing.ID,
		InvoiceID:   f.invoice.ID,
		PatientID:   f.billing.PatientID,
		PhoneNumber: "254712345678",
		Amount:      decimal.NewFromInt(1500),
	})
	require.NoError(t, err)
	return tx
}

func TestTrackerOpen_SinglePendingPerInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := openFor(t, f)
	_, err := f.tracker.Open(ctx, OpenRequest{BillingID: f.billing.ID, InvoiceID: f.invoice.ID})
	assert.ErrorIs(t, err, ErrConcurrentPaymentInProgress)

	_, applied, err := f.tracker.Resolve(ctx, first.ID, Failed(1037, "DS timeout user cannot be reached", nil), models.ResolvedByQuery)
	require.NoError(t, err)
	assert.True(t, applied)

	second := openFor(t, f)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestTrackerResolve_ExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := openFor(t, f)

	done, applied, err := f.tracker.Resolve(ctx, tx.ID, Completed("NLJ7RT61SV", "ok", nil), models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TransactionStatusCompleted, done.Status)
	paidAt := *f.currentInvoice(t).PaidDate

	for _, outcome := range []Outcome{Failed(1, "insufficient", nil), Completed("OTHER", "ok", nil), Cancelled("late")} {
		again, applied, err := f.tracker.Resolve(ctx, tx.ID, outcome, models.ResolvedByQuery)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, models.TransactionStatusCompleted, again.Status)
		assert.Equal(t, "NLJ7RT61SV", again.ReceiptNumber)
		assert.Equal(t, models.ResolvedByWebhook, again.ResolvedBy)
	}

	inv := f.currentInvoice(t)
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, paidAt, *inv.PaidDate)
}

func TestTrackerResolve_FailureDoesNotTouchInvoice(t *testing.T) {
	f := newFixture(t)
	tx := openFor(t, f)

	_, applied, err := f.tracker.Resolve(context.Background(), tx.ID, Failed(2001, "The initiator information is invalid.", nil), models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 0, f.ledger.calls)
	assert.Equal(t, models.InvoiceStatusPending, f.currentInvoice(t).Status)
}

func TestTrackerResolve_RedeliveryHealsInvoice(t *testing.T) {
	f := newFixture(t)
	f.ledger.failures = 1
	ctx := context.Background()
	tx := openFor(t, f)

	_, applied, err := f.tracker.Resolve(ctx, tx.ID, Completed("R1", "ok", nil), models.ResolvedByWebhook)
	assert.Error(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.InvoiceStatusPending, f.currentInvoice(t).Status)

	_, applied, err = f.tracker.Resolve(ctx, tx.ID, Completed("R1", "ok", nil), models.ResolvedByQuery)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, models.InvoiceStatusPaid, f.currentInvoice(t).Status)
	assert.Equal(t, 2, f.ledger.settleCalls())

	// Once the settlement is recorded, later deliveries skip the ledger.
	_, _, err = f.tracker.Resolve(ctx, tx.ID, Completed("R1", "ok", nil), models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ledger.settleCalls())
}

func TestTrackerUnsettledCompleted(t *testing.T) {
	f := newFixture(t)
	f.ledger.failures = 1
	ctx := context.Background()
	base := time.Now()
	f.tracker.Clock = func() time.Time { return base }
	tx := openFor(t, f)

	_, _, err := f.tracker.Resolve(ctx, tx.ID, Completed("R1", "ok", nil), models.ResolvedByWebhook)
	require.Error(t, err)

	unsettled, err := f.tracker.UnsettledCompleted(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)

	f.tracker.Clock = func() time.Time { return base.Add(2 * time.Minute) }
	unsettled, err = f.tracker.UnsettledCompleted(ctx, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, tx.ID, unsettled[0].ID)

	require.NoError(t, f.tracker.Settle(ctx, &unsettled[0]))
	assert.Equal(t, models.InvoiceStatusPaid, f.currentInvoice(t).Status)

	unsettled, err = f.tracker.UnsettledCompleted(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestTrackerSettle_IgnoresOtherStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := openFor(t, f)
	require.NoError(t, f.tracker.Settle(ctx, pending))

	failed, _, err := f.tracker.Resolve(ctx, pending.ID, Failed(1032, "cancelled", nil), models.ResolvedByWebhook)
	require.NoError(t, err)
	require.NoError(t, f.tracker.Settle(ctx, failed))

	assert.Equal(t, 0, f.ledger.settleCalls())
	assert.Equal(t, models.InvoiceStatusPending, f.currentInvoice(t).Status)
}

func TestTrackerSettle_CancelledInvoiceIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := openFor(t, f)

	_, err := f.ledger.CancelInvoice(ctx, f.billing.ID, f.invoice.ID)
	require.NoError(t, err)

	resolved, _, err := f.tracker.Resolve(ctx, tx.ID, Completed("R1", "ok", nil), models.ResolvedByWebhook)
	require.NoError(t, err)
	assert.NotNil(t, resolved.InvoiceSettledAt)

	unsettled, err := f.tracker.UnsettledCompleted(ctx, -time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestTrackerResolve_RejectsPendingOutcome(t *testing.T) {
	f := newFixture(t)
	tx := openFor(t, f)
	_, _, err := f.tracker.Resolve(context.Background(), tx.ID, Outcome{Status: models.TransactionStatusPending}, models.ResolvedByQuery)
	assert.Error(t, err)
}

func TestTrackerGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	_, _, err = f.tracker.Resolve(context.Background(), "nope", Failed(1, "x", nil), models.ResolvedByQuery)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTrackerStalePending(t *testing.T) {
	f := newFixture(t)
	base := time.Now()
	f.tracker.Clock = func() time.Time { return base }
	tx := openFor(t, f)

	stale, err := f.tracker.StalePending(context.Background(), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	f.tracker.Clock = func() time.Time { return base.Add(2 * time.Minute) }
	stale, err = f.tracker.StalePending(context.Background(), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, tx.ID, stale[0].ID)
}

func TestMemoryThrottle(t *testing.T) {
	th := NewMemoryThrottle()
	now := time.Now()
	th.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := th.Allow(ctx, "k", time.Second)
	assert.True(t, ok)
	ok, _ = th.Allow(ctx, "k", time.Second)
	assert.False(t, ok)
	ok, _ = th.Allow(ctx, "other", time.Second)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = th.Allow(ctx, "k", time.Second)
	assert.True(t, ok)
}
