package mpesa

import "strconv"

// Result codes Daraja reports for STK transactions.
const (
	ResultSuccess           = 0
	ResultInsufficientFunds = 1
	ResultCancelledByUser   = 1032
	ResultUserUnreachable   = 1037
	ResultInvalidPIN        = 2001
	ResultStillProcessing   = 4999
)

// errorCodeProcessing is returned by the query API while the payer has not answered.
const errorCodeProcessing = "500.001.1001"

// PushResult is the gateway's synchronous answer to an STK push.
type PushResult struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseDescription string
	CustomerMessage     string
}

// QueryResult is a definitive STK status.
type QueryResult struct {
	ResultCode int
	ResultDesc string
	Raw        map[string]interface{}
}

// Success reports whether the payment went through.
func (r *QueryResult) Success() bool { return r.ResultCode == ResultSuccess }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// errorResponse is the body Daraja returns on 4xx/5xx.
type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (r stkQueryResponse) asMap() map[string]interface{} {
	return map[string]interface{}{
		"ResponseCode":        r.ResponseCode,
		"ResponseDescription": r.ResponseDescription,
		"MerchantRequestID":   r.MerchantRequestID,
		"CheckoutRequestID":   r.CheckoutRequestID,
		"ResultCode":          r.ResultCode,
		"ResultDesc":          r.ResultDesc,
	}
}

func parseExpiresIn(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
