package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// PaymentGateway creates payments with the external provider. Pluggable
// so the admin API works against a fake in tests and stays disabled when
// no provider is configured.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, amountRub int, description, idempotenceKey string) (paymentID, confirmationURL string, err error)
}

// YookassaClient implements PaymentGateway against the YooKassa REST
// API. Payments are created with a redirect confirmation; the settlement
// itself arrives later through the webhook.
type YookassaClient struct {
	shopID     string
	secretKey  string
	returnURL  string
	baseURL    string
	httpClient *http.Client
}

func NewYookassaClient() *YookassaClient {
	baseURL := os.Getenv("YOOKASSA_API_URL")
	if baseURL == "" {
		baseURL = "https://api.yookassa.ru/v3"
	}
	returnURL := os.Getenv("PAYMENT_RETURN_URL")
	if returnURL == "" {
		returnURL = "https://example.com/paid"
	}
	return &YookassaClient{
		shopID:    os.Getenv("YOOKASSA_SHOP_ID"),
		secretKey: os.Getenv("YOOKASSA_SECRET_KEY"),
		returnURL: returnURL,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type yookassaPaymentRequest struct {
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Confirmation struct {
		Type      string `json:"type"`
		ReturnURL string `json:"return_url"`
	} `json:"confirmation"`
	Capture     bool   `json:"capture"`
	Description string `json:"description"`
}

type yookassaPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func (c *YookassaClient) CreatePayment(ctx context.Context, amountRub int, description, idempotenceKey string) (string, string, error) {
	var payload yookassaPaymentRequest
	payload.Amount.Value = fmt.Sprintf("%d.00", amountRub)
	payload.Amount.Currency = "RUB"
	payload.Confirmation.Type = "redirect"
	payload.Confirmation.ReturnURL = c.returnURL
	payload.Capture = true
	payload.Description = description

	body, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to create payment request: %w", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", idempotenceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("payment request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", "", fmt.Errorf("payment provider returned %d: %s", resp.StatusCode, string(errBody))
	}

	var payment yookassaPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return "", "", fmt.Errorf("failed to decode payment response: %w", err)
	}
	if payment.ID == "" || payment.Confirmation.ConfirmationURL == "" {
		return "", "", fmt.Errorf("payment provider response missing id or confirmation_url")
	}
	return payment.ID, payment.Confirmation.ConfirmationURL, nil
}
