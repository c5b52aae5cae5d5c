package billing

import "errors"

var (
	ErrBillingNotFound      = errors.New("billing: billing record not found")
	ErrInvoiceNotFound      = errors.New("billing: invoice not found")
	ErrAmountMismatch       = errors.New("billing: amount does not match invoice total")
	ErrAlreadySettled       = errors.New("billing: invoice is already settled")
	ErrInvalidItems         = errors.New("billing: invoice must have at least one item with a service name and a non-negative amount")
	ErrInvalidPaymentMethod = errors.New("billing: unsupported payment method")
	ErrInvalidAmount        = errors.New("billing: amount must be greater than zero")
	ErrInvalidTransition    = errors.New("billing: invoice status transition not allowed")
	ErrForbidden            = errors.New("billing: caller may not access this billing record")
)
