package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDaraja struct {
	tokenCalls int32
	pushCalls  int32
	queryCalls int32

	tokenStatus int
	push        func(w http.ResponseWriter, r *http.Request)
	query       func(w http.ResponseWriter, r *http.Request)
	lastPush    stkPushRequest
}

func (f *fakeDaraja) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.pushCalls, 1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastPush))
		if f.push != nil {
			f.push(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID":   "m-1",
			"CheckoutRequestID":   "ws_CO_1",
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage":     "Success. Request accepted for processing",
		})
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.queryCalls, 1)
		if f.query != nil {
			f.query(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode": "0",
			"ResultCode":   "0",
			"ResultDesc":   "The service request is processed successfully.",
		})
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeDaraja) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Shortcode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.test/callback",
		HTTPTimeout:    2 * time.Second,
		Retries:        3,
		RetryBackoff:   time.Millisecond,
	}, NewMemoryTokenCache(), nil)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) }
	return c
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingBaseURL)

	_, err = NewClient(Config{BaseURL: "http://x", ConsumerKey: "k", ConsumerSecret: "s", Shortcode: "1"}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingPasskey)
}

func TestAuthenticateCachesToken(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)

	tok, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	_, err = c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.tokenCalls))
}

func TestAuthenticateBadCredentials(t *testing.T) {
	f := &fakeDaraja{tokenStatus: http.StatusBadRequest}
	c := newTestClient(t, f)

	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrGatewayAuth)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.tokenCalls), "4xx is not retried")
}

func TestAuthenticateRetriesServerErrors(t *testing.T) {
	f := &fakeDaraja{tokenStatus: http.StatusServiceUnavailable}
	c := newTestClient(t, f)

	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrGatewayAuth)
	assert.EqualValues(t, 3, atomic.LoadInt32(&f.tokenCalls))
}

func TestInitiatePushBuildsRequest(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)

	res, err := c.InitiatePush(context.Background(), "0712 345 678", decimal.NewFromInt(1500), "inv-42")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", res.CheckoutRequestID)
	assert.Equal(t, "m-1", res.MerchantRequestID)

	p := f.lastPush
	assert.Equal(t, "254712345678", p.PhoneNumber)
	assert.Equal(t, "254712345678", p.PartyA)
	assert.Equal(t, "174379", p.PartyB)
	assert.EqualValues(t, 1500, p.Amount)
	assert.Equal(t, "CustomerPayBillOnline", p.TransactionType)
	assert.Equal(t, "20250301123000", p.Timestamp, "timestamp is rendered in EAT")
	assert.Equal(t, "INV42", p.AccountReference)

	want := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + "20250301123000"))
	assert.Equal(t, want, p.Password)
}

func TestInitiatePushRejectsBadInput(t *testing.T) {
	f := &fakeDaraja{}
	c := newTestClient(t, f)

	_, err := c.InitiatePush(context.Background(), "12345", decimal.NewFromInt(100), "inv")
	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.ErrorIs(t, err, ErrInvalidPhone)

	_, err = c.InitiatePush(context.Background(), "0712345678", decimal.RequireFromString("10.50"), "inv")
	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = c.InitiatePush(context.Background(), "0712345678", decimal.Zero, "inv")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.EqualValues(t, 0, atomic.LoadInt32(&f.pushCalls))
}

func TestInitiatePushGatewayRefusal(t *testing.T) {
	f := &fakeDaraja{push: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse{ErrorCode: "400.002.02", ErrorMessage: "Bad Request - Invalid BusinessShortCode"})
	}}
	c := newTestClient(t, f)

	_, err := c.InitiatePush(context.Background(), "0712345678", decimal.NewFromInt(100), "inv")
	assert.ErrorIs(t, err, ErrGatewayRejected)
	assert.Contains(t, err.Error(), "Invalid BusinessShortCode")
}

func TestInitiatePushIsNotRetriedOnServerError(t *testing.T) {
	f := &fakeDaraja{push: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}}
	c := newTestClient(t, f)

	_, err := c.InitiatePush(context.Background(), "0712345678", decimal.NewFromInt(100), "inv")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.pushCalls))
}

func TestInitiatePushRefreshesExpiredToken(t *testing.T) {
	f := &fakeDaraja{}
	f.push = func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&f.pushCalls) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "m-2", "CheckoutRequestID": "ws_CO_2", "ResponseCode": "0",
		})
	}
	c := newTestClient(t, f)

	res, err := c.InitiatePush(context.Background(), "0712345678", decimal.NewFromInt(100), "inv")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_2", res.CheckoutRequestID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.tokenCalls))
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.pushCalls))
}

func TestQueryStatusDefinitive(t *testing.T) {
	f := &fakeDaraja{query: func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode": "0", "ResultCode": "1032", "ResultDesc": "Request cancelled by user",
		})
	}}
	c := newTestClient(t, f)

	res, err := c.QueryStatus(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, ResultCancelledByUser, res.ResultCode)
	assert.False(t, res.Success())
	assert.Equal(t, "1032", res.Raw["ResultCode"])
}

func TestQueryStatusStillProcessing(t *testing.T) {
	f := &fakeDaraja{query: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(errorResponse{ErrorCode: errorCodeProcessing, ErrorMessage: "The transaction is being processed"})
	}}
	c := newTestClient(t, f)

	_, err := c.QueryStatus(context.Background(), "ws_CO_1")
	assert.ErrorIs(t, err, ErrGatewayQueryPending)
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.queryCalls))
}

func TestQueryStatusRetriesThenUnavailable(t *testing.T) {
	f := &fakeDaraja{query: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}}
	c := newTestClient(t, f)

	_, err := c.QueryStatus(context.Background(), "ws_CO_1")
	assert.True(t, errors.Is(err, ErrGatewayUnavailable))
	assert.EqualValues(t, 3, atomic.LoadInt32(&f.queryCalls))
}

func TestFormatPhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":     "254712345678",
		"+254712345678":  "254712345678",
		"254712345678":   "254712345678",
		"712345678":      "254712345678",
		"0112 345-678":   "254112345678",
		"(0712) 345 678": "254712345678",
	}
	for in, want := range cases {
		got, err := FormatPhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "0812345678", "07123456", "2547123456789", "phone"} {
		_, err := FormatPhone(bad)
		assert.ErrorIs(t, err, ErrInvalidPhone, bad)
		assert.False(t, ValidPhone(bad), bad)
	}
}

func TestMemoryTokenCacheExpiry(t *testing.T) {
	c := NewMemoryTokenCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Hour))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, c.Set(ctx, "k", "v", -time.Second))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}
