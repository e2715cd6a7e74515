package daraja

import (
	"fmt"
	"strconv"
	"time"
)

// ResultCodeCancelledByUser is the STK result code for a payer dismissing
// the PIN prompt.
const ResultCodeCancelledByUser = 1032

// tokenResponse is the OAuth response. expires_in is a string on the wire.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// apiError is Daraja's error envelope on non-200 responses
type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// STKPushRequest is the processrequest body
type STKPushRequest struct {
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

// STKPushResponse is the synchronous processrequest response
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// RegisterURLRequest is the c2b registerurl body
type RegisterURLRequest struct {
	ShortCode       string `json:"ShortCode"`
	ResponseType    string `json:"ResponseType"`
	ConfirmationURL string `json:"ConfirmationURL"`
	ValidationURL   string `json:"ValidationURL"`
}

// RegisterURLResponse is the registerurl response. The conversation id tag
// carries the gateway's own spelling.
type RegisterURLResponse struct {
	OriginatorConversationID string `json:"OriginatorCoversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// Ack is the acknowledgement body both webhook callbacks expect.
// ResultCode 0 accepts the delivery, anything else rejects it.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// STKCallbackEnvelope is the asynchronous STK result delivery
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback carries the outcome of one push. CallbackMetadata is only
// present on success.
type STKCallback struct {
	MerchantRequestID string           `json:"MerchantRequestID"`
	CheckoutRequestID string           `json:"CheckoutRequestID"`
	ResultCode        int              `json:"ResultCode"`
	ResultDesc        string           `json:"ResultDesc"`
	CallbackMetadata  CallbackMetadata `json:"CallbackMetadata"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is a loosely typed name/value pair; Value is a JSON number
// for amounts and dates, a string for receipts and sometimes phones.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

func (cb *STKCallback) itemString(name string) string {
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name != name {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v
		case float64:
			// phone numbers and dates arrive as JSON numbers
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// ReceiptNumber returns the M-Pesa receipt from the success metadata.
func (cb *STKCallback) ReceiptNumber() string {
	return cb.itemString("MpesaReceiptNumber")
}

// Amount returns the paid amount from the success metadata.
func (cb *STKCallback) Amount() float64 {
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name == "Amount" {
			if v, ok := item.Value.(float64); ok {
				return v
			}
		}
	}
	return 0
}

// PhoneNumber returns the payer MSISDN from the success metadata.
func (cb *STKCallback) PhoneNumber() string {
	return cb.itemString("PhoneNumber")
}

// C2BConfirmation is the settlement notification. Daraja sends every field
// as a string, including the amount.
type C2BConfirmation struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	OrgAccountBalance string `json:"OrgAccountBalance"`
	ThirdPartyTransID string `json:"ThirdPartyTransID"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
	MiddleName        string `json:"MiddleName"`
	LastName          string `json:"LastName"`
}

// Amount parses the string-encoded transaction amount.
func (c *C2BConfirmation) Amount() (float64, error) {
	v, err := strconv.ParseFloat(c.TransAmount, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable TransAmount %q: %w", c.TransAmount, err)
	}
	return v, nil
}

// Time parses TransTime (YYYYMMDDHHMMSS, Nairobi time). Falls back to a zero
// time on malformed input; settlement handling uses server time anyway.
func (c *C2BConfirmation) Time() (time.Time, error) {
	return time.ParseInLocation("20060102150405", c.TransTime, eatZone)
}
