package notification

import (
	"context"
	"errors"
	"testing"

	"hospital/models"

	"firebase.google.com/go/v4/messaging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []*messaging.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, m)
	return "projects/test/messages/1", nil
}

func TestPaymentResolved_SendsToPatientTopic(t *testing.T) {
	s := &fakeSender{}
	n, err := NewPaymentNotifier(s, nil)
	require.NoError(t, err)

	err = n.PaymentResolved(context.Background(), &models.Transaction{
		ID:            "tx-1",
		InvoiceID:     "inv-1",
		PatientID:     "p-7",
		Amount:        decimal.NewFromInt(1500),
		Status:        models.TransactionStatusCompleted,
		ReceiptNumber: "NLJ7RT61SV",
	})
	require.NoError(t, err)
	require.Len(t, s.sent, 1)

	msg := s.sent[0]
	assert.Equal(t, "patient-p-7", msg.Topic)
	assert.Equal(t, "Payment received", msg.Notification.Title)
	assert.Contains(t, msg.Notification.Body, "KES 1500.00")
	assert.Contains(t, msg.Notification.Body, "NLJ7RT61SV")
	assert.Equal(t, "completed", msg.Data["status"])
}

func TestPaymentResolved_FailedAndErrors(t *testing.T) {
	s := &fakeSender{}
	n, _ := NewPaymentNotifier(s, nil)

	require.NoError(t, n.PaymentResolved(context.Background(), &models.Transaction{
		PatientID: "p-7", Amount: decimal.NewFromInt(200), Status: models.TransactionStatusFailed,
		ResultDesc: "Request cancelled by user.",
	}))
	assert.Equal(t, "Payment not completed", s.sent[0].Notification.Title)

	// No patient, nothing to send.
	require.NoError(t, n.PaymentResolved(context.Background(), &models.Transaction{Status: models.TransactionStatusFailed}))
	assert.Len(t, s.sent, 1)

	s.err = errors.New("unavailable")
	assert.Error(t, n.PaymentResolved(context.Background(), &models.Transaction{PatientID: "p", Status: models.TransactionStatusCompleted}))

	_, err := NewPaymentNotifier(nil, nil)
	assert.Error(t, err)
}
