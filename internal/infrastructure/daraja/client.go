package daraja

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// eatZone is the zone Daraja timestamps are expressed in. Kenya has no DST,
// so a fixed offset is safe.
var eatZone = time.FixedZone("EAT", 3*60*60)

// Config holds M-Pesa Daraja API configuration
type Config struct {
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string // paybill / till number
	Passkey         string // Lipa Na M-Pesa online passkey
	BaseURL         string // sandbox or production API base
	STKCallbackURL  string // public URL for the STK result callback
	ConfirmationURL string // public URL for C2B confirmation
	ValidationURL   string // public URL for C2B validation
}

// Client is the Daraja API client. It caches the OAuth bearer token and
// deduplicates concurrent refreshes.
type Client struct {
	config     Config
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
	tokenGroup  singleflight.Group
}

// NewClient creates a new Daraja client
func NewClient(cfg Config) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// token returns a valid bearer token, fetching a fresh one when the cached
// token is within 30 seconds of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		token := c.accessToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.tokenGroup.Do("token", func() (interface{}, error) {
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	url := c.config.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.config.ConsumerKey, c.config.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja token error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(respBody, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("daraja token response missing access_token")
	}

	// expires_in arrives as a string, typically "3599"
	ttl, err := strconv.Atoi(tokenResp.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3599
	}

	c.mu.Lock()
	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(ttl) * time.Second)
	c.mu.Unlock()

	return tokenResp.AccessToken, nil
}

// stkTimestamp formats a time the way Daraja expects, in Nairobi time.
func stkTimestamp(t time.Time) string {
	return t.In(eatZone).Format("20060102150405")
}

// stkPassword builds the Lipa Na M-Pesa password:
// base64(shortcode + passkey + timestamp)
func stkPassword(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// STKPush initiates a Lipa Na M-Pesa online payment prompt on the payer's
// phone. The account reference is the public billing reference and must stay
// within the gateway's 12 character limit.
func (c *Client) STKPush(ctx context.Context, phone string, amount float64, accountReference, description string) (*STKPushResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := stkTimestamp(time.Now())
	reqBody := STKPushRequest{
		BusinessShortCode: c.config.ShortCode,
		Password:          stkPassword(c.config.ShortCode, c.config.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		// Daraja takes whole shillings on STK push
		Amount:           int64(amount + 0.5),
		PartyA:           phone,
		PartyB:           c.config.ShortCode,
		PhoneNumber:      phone,
		CallBackURL:      c.config.STKCallbackURL,
		AccountReference: accountReference,
		TransactionDesc:  description,
	}

	var apiResp STKPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, reqBody, &apiResp); err != nil {
		return nil, err
	}

	if apiResp.ResponseCode != "0" {
		return nil, fmt.Errorf("daraja stk push rejected: code %s, %s", apiResp.ResponseCode, apiResp.ResponseDescription)
	}

	log.Printf("[Daraja] STK push accepted: checkout=%s ref=%s amount=%.2f", apiResp.CheckoutRequestID, accountReference, amount)
	return &apiResp, nil
}

// RegisterC2BURLs registers the confirmation and validation callbacks for
// the shortcode. Run once per environment.
func (c *Client) RegisterC2BURLs(ctx context.Context) (*RegisterURLResponse, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	reqBody := RegisterURLRequest{
		ShortCode:       c.config.ShortCode,
		ResponseType:    "Completed",
		ConfirmationURL: c.config.ConfirmationURL,
		ValidationURL:   c.config.ValidationURL,
	}

	var apiResp RegisterURLResponse
	if err := c.post(ctx, "/mpesa/c2b/v1/registerurl", token, reqBody, &apiResp); err != nil {
		return nil, err
	}

	log.Printf("[Daraja] C2B URLs registered: %s", apiResp.ResponseDescription)
	return &apiResp, nil
}

func (c *Client) post(ctx context.Context, endpoint, token string, body, out interface{}) error {
	url := c.config.BaseURL + endpoint

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorMessage != "" {
			return fmt.Errorf("daraja API error: %s (%s)", apiErr.ErrorMessage, apiErr.ErrorCode)
		}
		return fmt.Errorf("daraja API error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
