package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnmatchedCallback is a gateway result whose checkout id matched no transaction.
// Success results mean money moved, so they are kept for manual reconciliation.
type UnmatchedCallback struct {
	ID                string          `bson:"id" json:"id"`
	MerchantRequestID string          `bson:"merchantRequestId,omitempty" json:"merchantRequestId,omitempty"`
	CheckoutRequestID string          `bson:"checkoutRequestId" json:"checkoutRequestId"`
	ResultCode        int             `bson:"resultCode" json:"resultCode"`
	ResultDesc        string          `bson:"resultDesc,omitempty" json:"resultDesc,omitempty"`
	ReceiptNumber     string          `bson:"receiptNumber,omitempty" json:"receiptNumber,omitempty"`
	Amount            decimal.Decimal `bson:"amount" json:"amount"`
	PhoneNumber       string          `bson:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`
	Payload           STKCallback     `bson:"payload" json:"payload"`
	Deliveries        int             `bson:"deliveries" json:"deliveries"`
	ReceivedAt        time.Time       `bson:"receivedAt" json:"receivedAt"`
	LastReceivedAt    time.Time       `bson:"lastReceivedAt" json:"lastReceivedAt"`
}
