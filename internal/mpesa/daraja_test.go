package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testCreds = Credentials{
	ConsumerKey:    "key",
	ConsumerSecret: "secret",
	ShortCode:      "174379",
	Passkey:        "passkey",
}

func testClient(t *testing.T, handler http.Handler) *DarajaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &DarajaClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		log:     zap.NewNop(),
		now:     func() time.Time { return time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC) },
	}
}

func serveToken(t *testing.T, w http.ResponseWriter, r *http.Request) {
	t.Helper()
	user, pass, ok := r.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "key", user)
	assert.Equal(t, "secret", pass)
	json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1", "expires_in": "3599"})
}

func TestInitiateStkPush(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		serveToken(t, w, r)
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var payload stkPushPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		assert.Equal(t, "20240601123045", payload.Timestamp)
		wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + "20240601123045"))
		assert.Equal(t, wantPassword, payload.Password)
		assert.Equal(t, "CustomerPayBillOnline", payload.TransactionType)
		assert.Equal(t, "1500", payload.Amount)
		assert.Equal(t, "254708374149", payload.PhoneNumber)
		assert.Equal(t, "SUB-42", payload.AccountReference)

		json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID":   "29115-1",
			"CheckoutRequestID":   "ws_CO_1",
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage":     "Check your phone",
		})
	})

	c := testClient(t, mux)
	resp, err := c.InitiateStkPush(context.Background(), testCreds, StkPushRequest{
		Phone:            "254708374149",
		AmountMinor:      150000,
		AccountReference: "SUB-42",
		Description:      "Standard Monthly",
		CallbackURL:      "https://pay.example.com/api/v1/webhooks/mpesa",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)
	assert.Equal(t, "Check your phone", resp.CustomerMessage)
}

func TestInitiateStkPushRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		serveToken(t, w, r)
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "400.002.02",
			"errorMessage": "Bad Request - Invalid PhoneNumber",
		})
	})

	c := testClient(t, mux)
	_, err := c.InitiateStkPush(context.Background(), testCreds, StkPushRequest{
		Phone:       "bogus",
		AmountMinor: 150000,
	})
	assert.ErrorIs(t, err, ErrGatewayError)
}

func TestQueryStatusPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		serveToken(t, w, r)
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{
			"errorCode":    "500.001.1001",
			"errorMessage": "The transaction is being processed",
		})
	})

	c := testClient(t, mux)
	status, err := c.QueryStatus(context.Background(), testCreds, "ws_CO_1")
	require.NoError(t, err)
	assert.True(t, status.Pending)
}

func TestQueryStatusTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		serveToken(t, w, r)
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		var payload stkQueryPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ws_CO_1", payload.CheckoutRequestID)

		json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode": "0",
			"ResultCode":   "1032",
			"ResultDesc":   "Request cancelled by user.",
		})
	})

	c := testClient(t, mux)
	status, err := c.QueryStatus(context.Background(), testCreds, "ws_CO_1")
	require.NoError(t, err)
	assert.False(t, status.Pending)
	assert.Equal(t, ResultCodeUserCancelled, status.ResultCode)
}

func TestWholeAmount(t *testing.T) {
	assert.Equal(t, "1500", wholeAmount(150000))
	assert.Equal(t, "1", wholeAmount(150))
	// Daraja rejects zero-shilling charges.
	assert.Equal(t, "1", wholeAmount(50))
}
