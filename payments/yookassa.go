package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

// YooKassaClient talks to the payment processor's REST API. Create uses a
// fresh idempotence key; capture derives its key from the payment id so the
// processor collapses duplicate capture attempts.
type YooKassaClient struct {
	shopID    string
	secretKey string
	baseURL   string
	returnURL string
	client    *http.Client
}

// NewYooKassaFromEnv returns a configured client or nil when credentials are
// missing (payments disabled in that deployment).
func NewYooKassaFromEnv() *YooKassaClient {
	shopID := os.Getenv("YOOKASSA_SHOP_ID")
	secret := os.Getenv("YOOKASSA_SECRET_KEY")
	if shopID == "" || secret == "" {
		return nil
	}
	base := os.Getenv("YOOKASSA_BASE_URL")
	if base == "" {
		base = "https://api.yookassa.ru/v3"
	}
	returnURL := os.Getenv("YOOKASSA_RETURN_URL")
	if returnURL == "" {
		returnURL = "https://karto.app/payment/return"
	}
	return &YooKassaClient{
		shopID:    shopID,
		secretKey: secret,
		baseURL:   base,
		returnURL: returnURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreatedPayment is the provider's response to a create call.
type CreatedPayment struct {
	Payment
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// CreatePayment registers a two-stage payment (capture deferred) carrying the
// settlement metadata.
func (y *YooKassaClient) CreatePayment(ctx context.Context, amount Amount, meta Metadata, description string) (*CreatedPayment, error) {
	payload := map[string]any{
		"amount":  amount,
		"capture": false,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": y.returnURL,
		},
		"description": description,
		"metadata":    meta,
	}
	var out CreatedPayment
	if err := y.do(ctx, http.MethodPost, "/payments", uuid.NewString(), payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create payment: provider returned no id")
	}
	if out.Status == "" {
		out.Status = StatusPending
	}
	return &out, nil
}

// GetPayment fetches the current provider state of a payment.
func (y *YooKassaClient) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out Payment
	if err := y.do(ctx, http.MethodGet, "/payments/"+paymentID, "", nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("get payment %s: provider returned no id", paymentID)
	}
	return &out, nil
}

// Capture finalizes an authorized payment for its exact amount.
func (y *YooKassaClient) Capture(ctx context.Context, paymentID string, amount Amount) (*Payment, error) {
	payload := map[string]any{"amount": amount}
	var out Payment
	if err := y.do(ctx, http.MethodPost, "/payments/"+paymentID+"/capture", "capture-"+paymentID, payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("capture payment %s: provider returned no id", paymentID)
	}
	return &out, nil
}

func (y *YooKassaClient) do(ctx context.Context, method, path, idempotenceKey string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}
	req.SetBasicAuth(y.shopID, y.secretKey)

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("yookassa %s %s: status %d code=%s %s", method, path, resp.StatusCode, apiErr.Code, apiErr.Description)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode yookassa response: %w", err)
	}
	return nil
}
