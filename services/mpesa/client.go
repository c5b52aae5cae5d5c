package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Gateway is the outbound surface of the mobile-money gateway.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	InitiatePush(ctx context.Context, phoneNumber string, amount decimal.Decimal, reference string) (*PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error)
}

// tokenSafetyMargin is subtracted from the gateway's expires_in before caching.
const tokenSafetyMargin = 60 * time.Second

// Daraja timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// Client talks to the Safaricom Daraja API. It holds no mutable state besides
// the token cache, so it is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenCache
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient validates cfg and creates a Daraja client.
func NewClient(cfg Config, tokens TokenCache, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if tokens == nil {
		tokens = NewMemoryTokenCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Client) tokenKey() string {
	return "mpesa:token:" + c.cfg.Shortcode
}

// Authenticate returns a cached access token or fetches a new one.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if tok, ok, err := c.tokens.Get(ctx, c.tokenKey()); err != nil {
		c.logger.Warn("mpesa token cache read failed", zap.Error(err))
	} else if ok {
		return tok, nil
	}

	var (
		token string
		ttl   time.Duration
	)
	err := c.retry(ctx, func() error {
		var err error
		token, ttl, err = c.fetchToken(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}

	if ttl > 0 {
		if err := c.tokens.Set(ctx, c.tokenKey(), token, ttl); err != nil {
			c.logger.Warn("mpesa token cache write failed", zap.Error(err))
		}
	}
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", 0, err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, transient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, transient(err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("oauth HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if retryableStatus(resp.StatusCode) {
			return "", 0, transient(err)
		}
		return "", 0, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", 0, fmt.Errorf("oauth: malformed token response")
	}
	ttl := time.Duration(parseExpiresIn(tr.ExpiresIn))*time.Second - tokenSafetyMargin
	return tr.AccessToken, ttl, nil
}

// InitiatePush sends an STK push prompting the payer to authorise amount.
// Pushes are never retried on transport errors: a lost response may still
// have produced a prompt on the payer's handset.
func (c *Client) InitiatePush(ctx context.Context, phoneNumber string, amount decimal.Decimal, reference string) (*PushResult, error) {
	msisdn, err := FormatPhone(phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayRejected, err)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(0)) {
		return nil, fmt.Errorf("%w: %w", ErrGatewayRejected, ErrInvalidAmount)
	}

	ts, password := c.credentials()
	payload := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.IntPart(),
		PartyA:            msisdn,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  accountReference(reference),
		TransactionDesc:   "Hospital invoice payment",
	}

	body, status, err := c.postAuthorized(ctx, "/mpesa/stkpush/v1/processrequest", payload)
	if err != nil {
		return nil, err
	}
	if retryableStatus(status) {
		return nil, fmt.Errorf("%w: push HTTP %d", ErrGatewayUnavailable, status)
	}
	if status != http.StatusOK {
		return nil, rejection(status, body)
	}

	var resp stkPushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed push response", ErrGatewayUnavailable)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, resp.ResponseDescription)
	}

	c.logger.Info("stk push accepted",
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.String("merchant_request_id", resp.MerchantRequestID),
		zap.String("reference", payload.AccountReference))

	return &PushResult{
		MerchantRequestID:   resp.MerchantRequestID,
		CheckoutRequestID:   resp.CheckoutRequestID,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

// QueryStatus asks the gateway directly for the result of an STK push.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	var result *QueryResult
	err := c.retry(ctx, func() error {
		ts, password := c.credentials()
		payload := stkQueryRequest{
			BusinessShortCode: c.cfg.Shortcode,
			Password:          password,
			Timestamp:         ts,
			CheckoutRequestID: checkoutRequestID,
		}

		body, status, err := c.postAuthorized(ctx, "/mpesa/stkpushquery/v1/query", payload)
		if err != nil {
			if isUnavailable(err) {
				return transient(err)
			}
			return err
		}
		if status != http.StatusOK {
			var er errorResponse
			_ = json.Unmarshal(body, &er)
			if er.ErrorCode == errorCodeProcessing {
				return ErrGatewayQueryPending
			}
			if retryableStatus(status) {
				return transient(fmt.Errorf("%w: HTTP %d %s", ErrGatewayUnavailable, status, er.ErrorMessage))
			}
			return rejection(status, body)
		}

		var resp stkQueryResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return transient(fmt.Errorf("%w: malformed query response", ErrGatewayUnavailable))
		}
		code, err := parseResultCode(resp.ResultCode)
		if err != nil {
			return ErrGatewayQueryPending
		}
		if code == ResultStillProcessing {
			return ErrGatewayQueryPending
		}
		result = &QueryResult{ResultCode: code, ResultDesc: resp.ResultDesc, Raw: resp.asMap()}
		return nil
	})
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

// postAuthorized posts payload with a bearer token, refreshing the token once on 401.
func (c *Client) postAuthorized(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.Authenticate(ctx)
		if err != nil {
			return nil, 0, err
		}
		body, status, err := c.do(ctx, http.MethodPost, path, token, raw)
		if err != nil {
			return nil, 0, err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			_ = c.tokens.Delete(ctx, c.tokenKey())
			continue
		}
		return body, status, nil
	}
	return nil, 0, fmt.Errorf("%w: token rejected after refresh", ErrGatewayAuth)
}

func (c *Client) do(ctx context.Context, method, path, token string, payload []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("mpesa: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to read response: %v", ErrGatewayUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

// credentials returns the request timestamp and the password derived from it.
func (c *Client) credentials() (string, string) {
	ts := c.now().In(eat).Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + ts))
	return ts, password
}

// retry runs op up to cfg.Retries times while it fails transiently.
func (c *Client) retry(ctx context.Context, op func() error) error {
	var err error
	backoff := c.cfg.RetryBackoff
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if err = op(); err == nil || !isTransient(err) {
			return err
		}
		if attempt == c.cfg.Retries {
			break
		}
		c.logger.Debug("mpesa call failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return transient(ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func rejection(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.ErrorCode != "" {
		return fmt.Errorf("%w: %s - %s", ErrGatewayRejected, er.ErrorCode, er.ErrorMessage)
	}
	return fmt.Errorf("%w: HTTP %d", ErrGatewayRejected, status)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

func parseResultCode(v string) (int, error) {
	var code int
	if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &code); err != nil {
		return 0, err
	}
	return code, nil
}

// accountReference trims the reference to the 12 characters Daraja accepts.
func accountReference(ref string) string {
	ref = strings.ToUpper(strings.ReplaceAll(ref, "-", ""))
	if len(ref) > 12 {
		ref = ref[:12]
	}
	if ref == "" {
		ref = "INVOICE"
	}
	return ref
}
