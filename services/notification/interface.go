package notification

import (
	"context"
	"fmt"

	"hospital/models"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// Sender is the part of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PaymentNotifier pushes payment outcomes to the patient's devices.
type PaymentNotifier struct {
	sender Sender
	logger *zap.Logger
}

func NewPaymentNotifier(sender Sender, logger *zap.Logger) (*PaymentNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("notification service initialization error: sender is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentNotifier{sender: sender, logger: logger}, nil
}

// PatientTopic is the FCM topic every device of a patient subscribes to.
func PatientTopic(patientID string) string {
	return "patient-" + patientID
}

// PaymentResolved sends one push per terminal transaction.
func (n *PaymentNotifier) PaymentResolved(ctx context.Context, tx *models.Transaction) error {
	if tx.PatientID == "" {
		return nil
	}
	title, body := paymentMessage(tx)

	msg := &messaging.Message{
		Topic: PatientTopic(tx.PatientID),
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type":          "payment_update",
			"transactionId": tx.ID,
			"invoiceId":     tx.InvoiceID,
			"billingId":     tx.BillingID,
			"status":        string(tx.Status),
			"receipt":       tx.ReceiptNumber,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "payments",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}

	id, err := n.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("PaymentResolved: failed to send FCM message: %w", err)
	}
	n.logger.Debug("payment notification sent",
		zap.String("message_id", id),
		zap.String("transaction_id", tx.ID))
	return nil
}

func paymentMessage(tx *models.Transaction) (string, string) {
	amount := tx.Amount.StringFixed(2)
	switch tx.Status {
	case models.TransactionStatusCompleted:
		body := fmt.Sprintf("We received KES %s for your invoice.", amount)
		if tx.ReceiptNumber != "" {
			body = fmt.Sprintf("We received KES %s for your invoice. M-Pesa receipt %s.", amount, tx.ReceiptNumber)
		}
		return "Payment received", body
	case models.TransactionStatusCancelled:
		return "Payment cancelled", fmt.Sprintf("Your M-Pesa payment of KES %s was cancelled.", amount)
	default:
		desc := tx.ResultDesc
		if desc == "" {
			desc = "The payment did not go through."
		}
		return "Payment not completed", fmt.Sprintf("Your M-Pesa payment of KES %s failed: %s You can try again.", amount, desc)
	}
}

// Nop drops every notification.
type Nop struct{}

func (Nop) PaymentResolved(context.Context, *models.Transaction) error { return nil }
