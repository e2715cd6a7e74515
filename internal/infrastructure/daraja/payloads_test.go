package daraja

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

const sampleSTKCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 50.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

const sampleSTKCancelled = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-2",
      "CheckoutRequestID": "ws_CO_191220191020363926",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestSTKCallbackDecode(t *testing.T) {
	var env STKCallbackEnvelope
	if err := json.Unmarshal([]byte(sampleSTKCallback), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cb := env.Body.StkCallback

	if cb.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Errorf("CheckoutRequestID = %q", cb.CheckoutRequestID)
	}
	if cb.ResultCode != 0 {
		t.Errorf("ResultCode = %d, want 0", cb.ResultCode)
	}
	if got := cb.ReceiptNumber(); got != "NLJ7RT61SV" {
		t.Errorf("ReceiptNumber() = %q", got)
	}
	if got := cb.Amount(); got != 50.00 {
		t.Errorf("Amount() = %v, want 50", got)
	}
	// phone arrives as a JSON number and must come back as digits
	if got := cb.PhoneNumber(); got != "254712345678" {
		t.Errorf("PhoneNumber() = %q", got)
	}
}

func TestSTKCallbackCancelled(t *testing.T) {
	var env STKCallbackEnvelope
	if err := json.Unmarshal([]byte(sampleSTKCancelled), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cb := env.Body.StkCallback

	if cb.ResultCode != ResultCodeCancelledByUser {
		t.Errorf("ResultCode = %d, want %d", cb.ResultCode, ResultCodeCancelledByUser)
	}
	// no metadata on failures
	if got := cb.ReceiptNumber(); got != "" {
		t.Errorf("ReceiptNumber() = %q, want empty", got)
	}
}

func TestC2BConfirmationAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    float64
		wantErr bool
	}{
		{name: "whole shillings", amount: "100.00", want: 100},
		{name: "with cents", amount: "49.99", want: 49.99},
		{name: "no decimals", amount: "20", want: 20},
		{name: "garbage", amount: "ten bob", wantErr: true},
		{name: "empty", amount: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := C2BConfirmation{TransAmount: tt.amount}
			got, err := conf.Amount()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Amount() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Amount() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Amount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestC2BConfirmationTime(t *testing.T) {
	conf := C2BConfirmation{TransTime: "20230815142233"}
	got, err := conf.Time()
	if err != nil {
		t.Fatalf("Time() error: %v", err)
	}
	want := time.Date(2023, 8, 15, 14, 22, 33, 0, eatZone)
	if !got.Equal(want) {
		t.Errorf("Time() = %v, want %v", got, want)
	}
}

func TestSTKPassword(t *testing.T) {
	// worked example from the sandbox docs shape
	shortCode := "174379"
	passkey := "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919"
	timestamp := "20230815142233"

	got := stkPassword(shortCode, passkey, timestamp)
	want := base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
	if got != want {
		t.Errorf("stkPassword() = %q, want %q", got, want)
	}

	decoded, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("password is not valid base64: %v", err)
	}
	if string(decoded) != shortCode+passkey+timestamp {
		t.Error("decoded password does not round-trip shortcode+passkey+timestamp")
	}
}

func TestSTKTimestamp(t *testing.T) {
	// 11:22:33 UTC is 14:22:33 in Nairobi
	utc := time.Date(2023, 8, 15, 11, 22, 33, 0, time.UTC)
	if got := stkTimestamp(utc); got != "20230815142233" {
		t.Errorf("stkTimestamp() = %q, want 20230815142233", got)
	}
}
