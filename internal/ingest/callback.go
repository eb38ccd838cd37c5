// Package ingest accepts gateway callbacks and drives them through the ledger
// and activation pipeline.
package ingest

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var ErrMalformedCallback = errors.New("malformed_callback")

// ParsedCallback is the normalized STK result extracted from the Daraja
// envelope.
type ParsedCallback struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	AmountMinor       int64
	Receipt           *string
	Phone             string
	Raw               []byte
}

type darajaEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// ParseCallback decodes the Daraja Body.stkCallback envelope. Metadata items
// are optional and individually tolerated; the checkout request id and result
// code are not. When the result code is missing but a checkout id parsed, the
// partial result is returned alongside the error so the caller can still pin
// a ledger entry to it.
func ParseCallback(raw []byte) (*ParsedCallback, error) {
	var envelope darajaEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, ErrMalformedCallback
	}

	cb := envelope.Body.StkCallback
	checkoutID := strings.TrimSpace(cb.CheckoutRequestID)
	if checkoutID == "" {
		return nil, ErrMalformedCallback
	}
	if cb.ResultCode == nil {
		return &ParsedCallback{CheckoutRequestID: checkoutID, Raw: raw}, ErrMalformedCallback
	}

	parsed := &ParsedCallback{
		CheckoutRequestID: checkoutID,
		MerchantRequestID: strings.TrimSpace(cb.MerchantRequestID),
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Raw:               raw,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if amount, ok := numericValue(item.Value); ok {
				parsed.AmountMinor = int64(math.Round(amount * 100))
			}
		case "MpesaReceiptNumber":
			if receipt, ok := item.Value.(string); ok && receipt != "" {
				parsed.Receipt = &receipt
			}
		case "PhoneNumber":
			parsed.Phone = stringValue(item.Value)
		}
	}
	return parsed, nil
}

func numericValue(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func stringValue(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatInt(int64(value), 10)
	default:
		return ""
	}
}
