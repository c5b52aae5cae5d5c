package mpesa

import (
	"errors"
	"time"
)

// Config contains the Daraja credentials and client tuning.
type Config struct {
	// BaseURL is the Daraja host, e.g. https://sandbox.safaricom.co.ke
	BaseURL string
	// ConsumerKey and ConsumerSecret are the app's OAuth client credentials.
	ConsumerKey    string
	ConsumerSecret string
	// Shortcode is the paybill / till number receiving the payment.
	Shortcode string
	// Passkey is the Lipa Na M-Pesa Online passkey for Shortcode.
	Passkey string
	// CallbackURL receives the asynchronous STK result.
	CallbackURL string
	// HTTPTimeout bounds every single HTTP exchange with the gateway.
	HTTPTimeout time.Duration
	// Retries bounds transient-failure retries for auth and status queries.
	Retries int
	// RetryBackoff is the first backoff step; it doubles per attempt.
	RetryBackoff time.Duration
}

var (
	ErrMissingBaseURL     = errors.New("mpesa: missing base URL")
	ErrMissingCredentials = errors.New("mpesa: missing consumer key or secret")
	ErrMissingShortcode   = errors.New("mpesa: missing shortcode")
	ErrMissingPasskey     = errors.New("mpesa: missing passkey")
	ErrMissingCallbackURL = errors.New("mpesa: missing callback URL")
)

// Validate checks that the configuration can talk to Daraja.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return ErrMissingBaseURL
	case c.ConsumerKey == "" || c.ConsumerSecret == "":
		return ErrMissingCredentials
	case c.Shortcode == "":
		return ErrMissingShortcode
	case c.Passkey == "":
		return ErrMissingPasskey
	case c.CallbackURL == "":
		return ErrMissingCallbackURL
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.Retries <= 0 {
		out.Retries = 3
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 500 * time.Millisecond
	}
	return out
}
