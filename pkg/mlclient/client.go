/**
 * @description
 * This package provides the client for the ML verification collaborator. It
 * evaluates a claim through an ordered list of strategies sharing a uniform
 * (Verdict, error) contract:
 *
 *   1. composite  - one POST /verify-claim call returning the full verdict.
 *   2. decomposed - three calls (/verify-images, /detect-fraud,
 *                   /predict-yield); each check that cannot be reached is
 *                   filled with a deterministic synthetic estimate.
 *
 * Every verdict carries a Source field so auditors can distinguish a genuine
 * ML result from a stand-in value. A per-strategy circuit breaker skips a
 * strategy that has failed repeatedly until its cooldown elapses. When every
 * strategy fails, Evaluate returns ErrVerificationUnavailable and the caller
 * must leave the claim unmodified.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - internal/domain: The Verdict model.
 */
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/krishiraksha/claim-service/internal/domain"
)

// ErrVerificationUnavailable is returned when no strategy could produce a
// verdict. The claim must not be scored or transitioned in this case.
var ErrVerificationUnavailable = errors.New("claim verification unavailable")

// Rejection reasons, in check priority order: image, then fraud, then yield.
const (
	reasonImageFailed   = "Image verification failed. Photos may not match claimed crop type or damage."
	reasonFraudRisk     = "High fraud risk detected. Claim patterns appear suspicious."
	reasonYieldMismatch = "Claimed damage does not match ML predictions based on evidence and historical data."
)

// Approval rule thresholds.
const (
	fraudScoreThreshold  = 0.5
	damageDeltaThreshold = 20.0
)

// Synthetic estimates used when a decomposed check endpoint is unreachable.
const (
	syntheticImageConfidence = 0.85
	syntheticFraudScore      = 0.15
	syntheticPredictedYield  = 2500.0
	syntheticDamageOffset    = 5.0
	defaultLandSizeAcres     = 5.0
)

// EvaluationContext carries everything a strategy needs to score a claim.
type EvaluationContext struct {
	ClaimID          string
	FarmerID         string
	CropType         string
	DamagePercentage float64
	ClaimAmount      int64
	EvidenceURLs     []string
	GeoLocation      string
	LandSizeAcres    float64
}

// strategy is one way of producing a verdict for a claim.
type strategy interface {
	Name() string
	Evaluate(ctx context.Context, ec EvaluationContext) (*domain.Verdict, error)
}

// Client evaluates claims against the ML collaborator.
type Client struct {
	strategies []strategy
	breakers   map[string]*circuitBreaker
}

// NewClient creates a verification client with the composite strategy first
// and the decomposed strategy as fallback.
func NewClient(baseURL, apiKey string, timeout time.Duration, breakerThreshold int, breakerCooldown time.Duration) *Client {
	httpClient := &http.Client{Timeout: timeout}
	strategies := []strategy{
		&compositeStrategy{baseURL: baseURL, apiKey: apiKey, httpClient: httpClient},
		&decomposedStrategy{baseURL: baseURL, apiKey: apiKey, httpClient: httpClient},
	}
	breakers := make(map[string]*circuitBreaker, len(strategies))
	for _, s := range strategies {
		breakers[s.Name()] = newCircuitBreaker(breakerThreshold, breakerCooldown)
	}
	return &Client{strategies: strategies, breakers: breakers}
}

// Evaluate tries each strategy in order, skipping those with an open breaker.
func (c *Client) Evaluate(ctx context.Context, ec EvaluationContext) (*domain.Verdict, error) {
	var lastErr error
	for _, s := range c.strategies {
		breaker := c.breakers[s.Name()]
		if !breaker.Allow() {
			log.Printf("level=warn component=ml_client strategy=%s claim_id=%s msg=\"breaker open; skipping strategy\"", s.Name(), ec.ClaimID)
			continue
		}
		verdict, err := s.Evaluate(ctx, ec)
		if err != nil {
			breaker.RecordFailure()
			lastErr = err
			log.Printf("level=warn component=ml_client strategy=%s claim_id=%s msg=\"strategy failed\" err=%v", s.Name(), ec.ClaimID, err)
			continue
		}
		breaker.RecordSuccess()
		return verdict, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, lastErr)
	}
	return nil, ErrVerificationUnavailable
}

// finalizeVerdict applies the approval rule and picks the rejection reason
// from whichever check failed, image first, then fraud, then yield.
func finalizeVerdict(ec EvaluationContext, v *domain.Verdict) *domain.Verdict {
	v.Approved = v.ImageVerified &&
		v.FraudScore < fraudScoreThreshold &&
		math.Abs(v.PredictedDamage-ec.DamagePercentage) < damageDeltaThreshold

	if !v.Approved {
		switch {
		case !v.ImageVerified:
			v.RejectionReason = reasonImageFailed
		case v.FraudScore >= fraudScoreThreshold:
			v.RejectionReason = reasonFraudRisk
		default:
			v.RejectionReason = reasonYieldMismatch
		}
	}
	return v
}

// postJSON issues one POST and decodes a 2xx JSON body into out.
func postJSON(ctx context.Context, httpClient *http.Client, apiKey, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("x-ml-key", apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ml api returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
