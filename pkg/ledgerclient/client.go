/**
 * @description
 * This package provides a client for the distributed ledger service that
 * anchors claims. It encapsulates the logic for making authenticated HTTP
 * requests to the ledger's endpoints, handling request body construction,
 * and parsing responses.
 *
 * Transient failures (network errors and 5xx responses) are retried a bounded
 * number of times with a short backoff; 4xx responses are returned immediately
 * since retrying them cannot succeed.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package ledgerclient

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

const maxRetries = 2

// Client is a client for the ledger API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new ledger API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitClaimRequest is the payload for anchoring a new claim on the ledger.
type SubmitClaimRequest struct {
	ClaimID          string  `json:"claim_id"`
	FarmerID         string  `json:"farmer_id"`
	CropType         string  `json:"crop_type"`
	DamagePercentage float64 `json:"damage_percentage"`
	ClaimAmount      int64   `json:"claim_amount"`
	EvidenceHash     string  `json:"evidence_hash"`
}

// SubmitClaimResponse is the ledger's response to a claim submission.
type SubmitClaimResponse struct {
	Data struct {
		LedgerClaimID string `json:"ledger_claim_id"`
		TxHash        string `json:"tx_hash"`
	} `json:"data"`
}

// ApproveClaimResponse is the ledger's response to a claim approval.
type ApproveClaimResponse struct {
	Data struct {
		TxHash string `json:"tx_hash"`
	} `json:"data"`
}

// ClaimStatusResponse is the ledger's view of an anchored claim.
type ClaimStatusResponse struct {
	Data struct {
		LedgerClaimID string `json:"ledger_claim_id"`
		Status        string `json:"status"`
		Approved      bool   `json:"approved"`
		PayoutTxHash  string `json:"payout_tx_hash"`
	} `json:"data"`
}

// ErrorResponse represents an error from the ledger API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("ledger api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown ledger api error"
}

// SubmitClaim anchors a claim on the ledger and returns the ledger-side
// claim id plus the transaction hash of the submission.
func (c *Client) SubmitClaim(ctx context.Context, payload SubmitClaimRequest) (*SubmitClaimResponse, error) {
	var out SubmitClaimResponse
	if err := c.do(ctx, "POST", "/api/v1/claims", "submit_claim", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproveClaim records the approval decision on the ledger.
func (c *Client) ApproveClaim(ctx context.Context, ledgerClaimID string) (*ApproveClaimResponse, error) {
	var out ApproveClaimResponse
	path := "/api/v1/claims/" + ledgerClaimID + "/approve"
	if err := c.do(ctx, "POST", path, "approve_claim", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetClaimStatus fetches the ledger's view of an anchored claim.
func (c *Client) GetClaimStatus(ctx context.Context, ledgerClaimID string) (*ClaimStatusResponse, error) {
	var out ClaimStatusResponse
	path := "/api/v1/claims/" + ledgerClaimID
	if err := c.do(ctx, "GET", path, "get_claim_status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do executes one request with bounded retries on transient failures.
func (c *Client) do(ctx context.Context, method, path, op string, payload, out interface{}) error {
	var body []byte
	var err error
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			log.Printf("level=warn component=ledger_client op=%s attempt=%d msg=\"retrying after transient failure\" err=%v", op, attempt, lastErr)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create %s request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-ledger-key", c.APIKey)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to execute %s request: %w", op, err)
			continue
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read %s response: %w", op, err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("ledger %s returned status %d", op, resp.StatusCode)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errResp ErrorResponse
			if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
				log.Printf("level=warn component=ledger_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
				return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
			}
			log.Printf("level=warn component=ledger_client op=%s status=%d title=%q detail=%q", op, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
			return &errResp
		}

		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode success response: %w", err)
		}
		return nil
	}
	return lastErr
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
