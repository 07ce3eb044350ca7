/**
 * @description
 * This package provides a client for the payment gateway that disburses
 * approved claim amounts to farmers over UPI or bank transfer. The gateway
 * reports failures as a structured payload rather than an error: a declined
 * payout is a business outcome the dispatcher records, not a transport fault.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 */
package payoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payout gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payout gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PayRequest is the payload for a disbursement.
type PayRequest struct {
	TransactionID string `json:"transaction_id"`
	Channel       string `json:"channel"`
	Destination   string `json:"destination"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

// PayResult is the gateway's verdict on a disbursement attempt.
type PayResult struct {
	Success       bool   `json:"success"`
	Reference     string `json:"reference"`
	FailureReason string `json:"failure_reason"`
}

// Pay asks the gateway to move amount paise to destination over channel.
// The transaction id doubles as the idempotency key so a retried call cannot
// double-disburse.
func (c *Client) Pay(ctx context.Context, transactionID, channel, destination string, amount int64) (*PayResult, error) {
	payload := PayRequest{
		TransactionID: transactionID,
		Channel:       channel,
		Destination:   destination,
		Amount:        amount,
		Currency:      "INR",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", transactionID)
	req.Header.Set("x-payout-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute payout request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payout response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=payout_client op=pay transaction_id=%s status=%d msg=\"non-2xx response\"", transactionID, resp.StatusCode)
		return nil, fmt.Errorf("payout gateway returned status %d", resp.StatusCode)
	}

	var result PayResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode payout response: %w", err)
	}
	return &result, nil
}
