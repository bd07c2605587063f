package mobilemoney

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bodasure/bodasure-backend/internal/money"
)

// Provider result codes. Zero is the only success; the named failures get
// their own terminal statuses, everything else is a generic failure.
const (
	ResultCodeSuccess           = 0
	ResultCodeInsufficientFunds = 1
	ResultCodeUserCancelled     = 1032
	ResultCodeTimeout           = 1037
)

// Outcome classifies a provider result code for the settlement path.
type Outcome string

const (
	OutcomeCompleted Outcome = "COMPLETED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeTimeout   Outcome = "TIMEOUT"
	OutcomeFailed    Outcome = "FAILED"
)

// CallbackResult is the normalized view of one provider callback. Raw keeps
// the payload verbatim for the audit trail on the payment request.
type CallbackResult struct {
	CheckoutID        string
	MerchantRequestID string
	ResultCode        int
	ResultDescription string
	ReceiptNumber     string
	Amount            money.Amount
	Phone             string
	Raw               json.RawMessage
}

// Outcome maps the provider result code to the settlement outcome.
func (r CallbackResult) Outcome() Outcome {
	switch r.ResultCode {
	case ResultCodeSuccess:
		return OutcomeCompleted
	case ResultCodeUserCancelled:
		return OutcomeCancelled
	case ResultCodeTimeout:
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}

// flexibleString tolerates providers that send the same field as a JSON
// string in one payload and a number in the next.
type flexibleString string

func (fs *flexibleString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*fs = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*fs = flexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*fs = flexibleString(n.String())
	return nil
}

type nestedCallback struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string         `json:"Name"`
					Value flexibleString `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type flatCallback struct {
	CheckoutRequestID string         `json:"checkout_request_id"`
	MerchantRequestID string         `json:"merchant_request_id"`
	ResultCode        *int           `json:"result_code"`
	ResultDescription string         `json:"result_description"`
	ReceiptNumber     string         `json:"receipt_number"`
	Amount            flexibleString `json:"amount"`
	PhoneNumber       flexibleString `json:"phone_number"`
}

// ParseCallback normalizes a provider callback payload. It accepts both the
// nested Body.stkCallback shape and the flat shape, and keeps the raw bytes.
func ParseCallback(raw []byte) (*CallbackResult, error) {
	var nested nestedCallback
	if err := json.Unmarshal(raw, &nested); err == nil {
		cb := nested.Body.STKCallback
		if cb.CheckoutRequestID != "" || cb.ResultCode != nil {
			return parseNestedCallback(raw, nested)
		}
	}

	var flat flatCallback
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("unmarshalling callback payload: %w", err)
	}
	if flat.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback payload has no checkout ID")
	}
	if flat.ResultCode == nil {
		return nil, fmt.Errorf("callback payload has no result code")
	}

	result := CallbackResult{
		CheckoutID:        flat.CheckoutRequestID,
		MerchantRequestID: flat.MerchantRequestID,
		ResultCode:        *flat.ResultCode,
		ResultDescription: flat.ResultDescription,
		ReceiptNumber:     flat.ReceiptNumber,
		Phone:             string(flat.PhoneNumber),
		Raw:               raw,
	}

	if flat.Amount != "" {
		amount, err := money.ParseKES(string(flat.Amount))
		if err != nil {
			return nil, fmt.Errorf("parsing callback amount: %w", err)
		}
		result.Amount = amount
	}

	return &result, nil
}

func parseNestedCallback(raw []byte, nested nestedCallback) (*CallbackResult, error) {
	cb := nested.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback payload has no checkout ID")
	}
	if cb.ResultCode == nil {
		return nil, fmt.Errorf("callback payload has no result code")
	}

	result := CallbackResult{
		CheckoutID:        cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDescription: cb.ResultDesc,
		Raw:               raw,
	}

	for _, item := range cb.CallbackMetadata.Item {
		value := string(item.Value)
		if value == "" {
			continue
		}
		switch strings.ToLower(item.Name) {
		case "amount":
			amount, err := money.ParseKES(value)
			if err != nil {
				return nil, fmt.Errorf("parsing callback amount: %w", err)
			}
			result.Amount = amount
		case "mpesareceiptnumber", "receiptnumber":
			result.ReceiptNumber = value
		case "phonenumber":
			result.Phone = value
		}
	}

	return &result, nil
}
