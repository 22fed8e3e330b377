package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// Client talks to the payment gateway over signed JSON POSTs.
type Client struct {
	baseURL     string
	merchantID  string
	secret      string
	callbackURL string
	httpClient  *http.Client
}

type ClientConfig struct {
	BaseURL     string
	MerchantID  string
	Secret      string
	CallbackURL string
	Timeout     time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		merchantID:  cfg.MerchantID,
		secret:      cfg.Secret,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// sign concatenates the sorted parameter values with the shared secret and
// hashes them, per the gateway's request-signing scheme.
func (c *Client) sign(params map[string]string) string {
	params["MerchantId"] = c.merchantID
	params["Secret"] = c.secret

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload string
	for _, k := range keys {
		payload += params[k]
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

type initRequest struct {
	MerchantID      string `json:"merchantId"`
	Token           string `json:"token"`
	Amount          int64  `json:"amount"`
	OrderID         string `json:"orderId"`
	Currency        string `json:"currency"`
	Description     string `json:"description,omitempty"`
	NotificationURL string `json:"notificationURL,omitempty"`
}

type initResponse struct {
	Success    bool   `json:"success"`
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	PaymentURL string `json:"paymentURL"`
}

func (c *Client) CreateIntent(ctx context.Context, reference string, amountCents int64, currency, description string) (*Intent, error) {
	token := c.sign(map[string]string{
		"Amount":   strconv.FormatInt(amountCents, 10),
		"Currency": currency,
		"OrderId":  reference,
	})

	req := initRequest{
		MerchantID:      c.merchantID,
		Token:           token,
		Amount:          amountCents,
		OrderID:         reference,
		Currency:        currency,
		Description:     description,
		NotificationURL: c.callbackURL,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal intent request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	defer resp.Body.Close()

	var out initResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode intent response")
	}
	if !out.Success {
		return nil, errors.Newf("payment intent rejected for order %s", reference)
	}
	return &Intent{ProviderID: out.PaymentID, RedirectURL: out.PaymentURL}, nil
}

func (c *Client) Cancel(ctx context.Context, providerID, reason string) error {
	token := c.sign(map[string]string{"PaymentId": providerID})

	body, err := json.Marshal(map[string]any{
		"merchantId": c.merchantID,
		"token":      token,
		"paymentId":  providerID,
		"reason":     reason,
	})
	if err != nil {
		return errors.Wrap(err, "marshal cancel request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/intents/cancel", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "cancel payment intent")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("payment cancel returned %d", resp.StatusCode)
	}
	return nil
}
