package payment

import (
	"errors"

	"hospital/services/billing"
)

var (
	ErrConcurrentPaymentInProgress = errors.New("payment: a payment is already in progress for this invoice")
	ErrTransactionNotFound         = errors.New("payment: transaction not found")
	ErrNoPayment                   = errors.New("payment: no mobile-money payment has been started for this invoice")
	ErrNotPending                  = errors.New("payment: transaction is no longer pending")
	// ErrForbidden is the billing sentinel so ownership failures map to one error.
	ErrForbidden = billing.ErrForbidden
	// ErrVerificationTimeout means polling and the final verification were both
	// inconclusive. The payment may still complete; it is not a failure.
	ErrVerificationTimeout = errors.New("payment: payment could not be verified yet")
)
