// Package gateway is the HTTP adapter for the external payment processor.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

type Client struct {
	baseURL    string
	keySecret  string
	httpClient *http.Client
}

func NewClient(baseURL, keySecret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type intentResponse struct {
	ID string `json:"id"`
}

type refundRequest struct {
	Amount int64 `json:"amount"`
}

type refundResponse struct {
	ID string `json:"id"`
}

// minorUnits converts a two-decimal amount to the integer minor units the
// gateway expects.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, orderID int64) (string, error) {
	var resp intentResponse
	err := c.post(ctx, "/v1/intents", intentRequest{
		Amount:   minorUnits(amount),
		Currency: currency,
		Receipt:  fmt.Sprintf("order_%d", orderID),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("CreateIntent: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("CreateIntent: empty intent id")
	}
	return resp.ID, nil
}

func (c *Client) Refund(ctx context.Context, gatewayPaymentID string, amount decimal.Decimal) (string, error) {
	var resp refundResponse
	err := c.post(ctx, "/v1/payments/"+gatewayPaymentID+"/refunds", refundRequest{Amount: minorUnits(amount)}, &resp)
	if err != nil {
		return "", fmt.Errorf("Refund: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("Refund: empty refund id")
	}
	return resp.ID, nil
}

func (c *Client) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return verifyHMAC(c.keySecret, gatewayOrderID, gatewayPaymentID, signature)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gateway-Signature", signBody(c.keySecret, body))

	start := time.Now()
	log.Info("gateway request sent", "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	log.Info("gateway response received",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
