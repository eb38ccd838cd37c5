package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dukapos/dukapos/internal/config"
	"go.uber.org/zap"
)

// stkPendingErrorCode is returned by the query API while the push is still on
// the customer's phone.
const stkPendingErrorCode = "500.001.1001"

// DarajaClient talks to the Safaricom Daraja API.
type DarajaClient struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
	now     func() time.Time
}

func NewDarajaClient(cfg config.MpesaConfig, log *zap.Logger) *DarajaClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DarajaClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("mpesa.daraja"),
		now:     func() time.Time { return time.Now() },
	}
}

var _ Gateway = (*DarajaClient)(nil)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// getToken fetches a fresh OAuth token per call; Daraja tokens are short-lived
// and per-credential, so caching across tenants is not worth the bookkeeping.
func (c *DarajaClient) getToken(ctx context.Context, creds Credentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", wrapTransportErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: auth status %d", ErrGatewayError, resp.StatusCode)
	}
	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", ErrGatewayError, err)
	}
	return out.AccessToken, nil
}

type stkPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (c *DarajaClient) InitiateStkPush(ctx context.Context, creds Credentials, req StkPushRequest) (*StkPushResponse, error) {
	token, err := c.getToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	payload := stkPushPayload{
		BusinessShortCode: creds.ShortCode,
		Password:          darajaPassword(creds.ShortCode, creds.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            wholeAmount(req.AmountMinor),
		PartyA:            req.Phone,
		PartyB:            creds.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       req.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var out stkPushResult
	status, err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || out.ResponseCode != "0" {
		c.log.Warn("stk push rejected",
			zap.Int("http_status", status),
			zap.String("response_code", out.ResponseCode),
			zap.String("error_code", out.ErrorCode),
		)
		return nil, fmt.Errorf("%w: stk push rejected (%s %s)", ErrGatewayError, out.ErrorCode, out.ErrorMessage)
	}

	return &StkPushResponse{
		CheckoutRequestID:   out.CheckoutRequestID,
		MerchantRequestID:   out.MerchantRequestID,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
	}, nil
}

type stkQueryPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResult struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

func (c *DarajaClient) QueryStatus(ctx context.Context, creds Credentials, checkoutRequestID string) (*StatusResult, error) {
	token, err := c.getToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format("20060102150405")
	payload := stkQueryPayload{
		BusinessShortCode: creds.ShortCode,
		Password:          darajaPassword(creds.ShortCode, creds.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var out stkQueryResult
	status, err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out)
	if err != nil {
		return nil, err
	}
	if out.ErrorCode == stkPendingErrorCode {
		return &StatusResult{Pending: true}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: query status %d (%s)", ErrGatewayError, status, out.ErrorCode)
	}

	code, err := strconv.Atoi(out.ResultCode)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable result code %q", ErrGatewayError, out.ResultCode)
	}
	return &StatusResult{
		ResultCode: code,
		ResultDesc: out.ResultDesc,
	}, nil
}

func (c *DarajaClient) postJSON(ctx context.Context, path, token string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, wrapTransportErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, wrapTransportErr(err)
	}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", ErrGatewayError, err)
		}
	}
	return resp.StatusCode, nil
}

func darajaPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// wholeAmount renders minor units as the whole-shilling string Daraja expects.
func wholeAmount(minor int64) string {
	amount := minor / 100
	if amount < 1 {
		amount = 1
	}
	return strconv.FormatInt(amount, 10)
}

func wrapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := contextError(err); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	var timeout interface{ Timeout() bool }
	if ok := asTimeout(err, &timeout); ok && timeout.Timeout() {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayError, err)
}
