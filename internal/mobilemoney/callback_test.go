package mobilemoney

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodasure/bodasure-backend/internal/money"
)

func Test_ParseCallback_nested(t *testing.T) {
	t.Run("successful payment with metadata", func(t *testing.T) {
		raw := []byte(`{
			"Body": {
				"stkCallback": {
					"MerchantRequestID": "29115-34620561-1",
					"CheckoutRequestID": "ws_CO_191220191020363925",
					"ResultCode": 0,
					"ResultDesc": "The service request is processed successfully.",
					"CallbackMetadata": {
						"Item": [
							{"Name": "Amount", "Value": 1048.00},
							{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
							{"Name": "TransactionDate", "Value": 20191219102115},
							{"Name": "PhoneNumber", "Value": 254712345678}
						]
					}
				}
			}
		}`)

		result, err := ParseCallback(raw)
		require.NoError(t, err)

		assert.Equal(t, "ws_CO_191220191020363925", result.CheckoutID)
		assert.Equal(t, "29115-34620561-1", result.MerchantRequestID)
		assert.Equal(t, ResultCodeSuccess, result.ResultCode)
		assert.Equal(t, "NLJ7RT61SV", result.ReceiptNumber)
		assert.Equal(t, money.FromKES(1048), result.Amount)
		assert.Equal(t, "254712345678", result.Phone)
		assert.Equal(t, OutcomeCompleted, result.Outcome())
		assert.JSONEq(t, string(raw), string(result.Raw))
	})

	t.Run("user cancelled has no metadata", func(t *testing.T) {
		raw := []byte(`{
			"Body": {
				"stkCallback": {
					"MerchantRequestID": "29115-34620561-2",
					"CheckoutRequestID": "ws_CO_191220191020363926",
					"ResultCode": 1032,
					"ResultDesc": "Request cancelled by user"
				}
			}
		}`)

		result, err := ParseCallback(raw)
		require.NoError(t, err)

		assert.Equal(t, ResultCodeUserCancelled, result.ResultCode)
		assert.Equal(t, "Request cancelled by user", result.ResultDescription)
		assert.Empty(t, result.ReceiptNumber)
		assert.True(t, result.Amount.IsZero())
		assert.Equal(t, OutcomeCancelled, result.Outcome())
	})

	t.Run("missing checkout ID", func(t *testing.T) {
		raw := []byte(`{"Body": {"stkCallback": {"ResultCode": 0}}}`)
		_, err := ParseCallback(raw)
		require.EqualError(t, err, "callback payload has no checkout ID")
	})

	t.Run("missing result code", func(t *testing.T) {
		raw := []byte(`{"Body": {"stkCallback": {"CheckoutRequestID": "ws_CO_1", "ResultDesc": "pending"}}}`)
		_, err := ParseCallback(raw)
		require.EqualError(t, err, "callback payload has no result code")
	})
}

func Test_ParseCallback_flat(t *testing.T) {
	t.Run("flat success", func(t *testing.T) {
		raw := []byte(`{
			"checkout_request_id": "ws_CO_7",
			"merchant_request_id": "29115-1",
			"result_code": 0,
			"result_description": "Processed",
			"receipt_number": "QBC12DEF34",
			"amount": "87.00",
			"phone_number": "+254712345678"
		}`)

		result, err := ParseCallback(raw)
		require.NoError(t, err)

		assert.Equal(t, "ws_CO_7", result.CheckoutID)
		assert.Equal(t, money.FromKES(87), result.Amount)
		assert.Equal(t, "QBC12DEF34", result.ReceiptNumber)
		assert.Equal(t, "+254712345678", result.Phone)
	})

	t.Run("flat with numeric amount and phone", func(t *testing.T) {
		raw := []byte(`{"checkout_request_id": "ws_CO_8", "result_code": 1037, "amount": 87, "phone_number": 254712345678}`)

		result, err := ParseCallback(raw)
		require.NoError(t, err)

		assert.Equal(t, money.FromKES(87), result.Amount)
		assert.Equal(t, "254712345678", result.Phone)
		assert.Equal(t, OutcomeTimeout, result.Outcome())
	})

	t.Run("insufficient funds is a plain failure", func(t *testing.T) {
		raw := []byte(`{"checkout_request_id": "ws_CO_9", "result_code": 1, "result_description": "The balance is insufficient for the transaction"}`)

		result, err := ParseCallback(raw)
		require.NoError(t, err)
		assert.Equal(t, ResultCodeInsufficientFunds, result.ResultCode)
		assert.Equal(t, OutcomeFailed, result.Outcome())
	})

	t.Run("missing checkout ID", func(t *testing.T) {
		_, err := ParseCallback([]byte(`{"result_code": 0}`))
		require.EqualError(t, err, "callback payload has no checkout ID")
	})

	t.Run("not JSON at all", func(t *testing.T) {
		_, err := ParseCallback([]byte(`<xml>nope</xml>`))
		require.ErrorContains(t, err, "unmarshalling callback payload")
	})
}
