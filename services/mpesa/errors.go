package mpesa

import "errors"

var (
	// ErrGatewayAuth is returned when an access token could not be obtained.
	ErrGatewayAuth = errors.New("mpesa: gateway authentication failed")
	// ErrGatewayRejected is an explicit, non-retryable refusal by the gateway
	// (or a request the gateway would refuse: bad phone, amount, shortcode).
	ErrGatewayRejected = errors.New("mpesa: request rejected by gateway")
	// ErrGatewayQueryPending means the gateway has no definitive result yet.
	ErrGatewayQueryPending = errors.New("mpesa: transaction is still being processed")
	// ErrGatewayUnavailable covers network failures and gateway 5xx after retries.
	ErrGatewayUnavailable = errors.New("mpesa: gateway temporarily unavailable")

	ErrInvalidPhone  = errors.New("mpesa: phone number is not a valid Kenyan MSISDN")
	ErrInvalidAmount = errors.New("mpesa: amount must be a positive whole number of shillings")
)

// errTransient marks failures worth another attempt.
type errTransient struct{ err error }

func (e *errTransient) Error() string { return e.err.Error() }
func (e *errTransient) Unwrap() error { return e.err }

func transient(err error) error { return &errTransient{err: err} }

func isTransient(err error) bool {
	var t *errTransient
	return errors.As(err, &t)
}
