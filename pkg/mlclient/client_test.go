package mlclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/krishiraksha/claim-service/internal/domain"
)

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, "test-key", 2*time.Second, 3, time.Minute)
}

func testEvaluationContext() EvaluationContext {
	return EvaluationContext{
		ClaimID:          "claim-1",
		FarmerID:         "farmer-1",
		CropType:         "wheat",
		DamagePercentage: 40,
		ClaimAmount:      500000,
		EvidenceURLs:     []string{"https://cdn.example/1.jpg"},
		GeoLocation:      "18.52,73.85",
		LandSizeAcres:    3,
	}
}

func TestEvaluate_CompositeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify-claim" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(compositeResponse{
			ImageVerified:   true,
			FraudScore:      0.1,
			PredictedDamage: 45,
			PredictedYield:  2100,
		})
	}))
	defer server.Close()

	verdict, err := newTestClient(server.URL).Evaluate(context.Background(), testEvaluationContext())
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !verdict.Approved {
		t.Fatalf("expected approval, got rejection: %s", verdict.RejectionReason)
	}
	if verdict.Source != domain.VerdictSourceLive {
		t.Fatalf("expected live source, got %s", verdict.Source)
	}
}

func TestEvaluate_CompositeFailsDecomposedSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify-claim":
			w.WriteHeader(http.StatusInternalServerError)
		case "/verify-images":
			json.NewEncoder(w).Encode(imageCheckResponse{Verified: true, Confidence: 0.9, CropTypeMatch: true})
		case "/detect-fraud":
			json.NewEncoder(w).Encode(fraudCheckResponse{FraudScore: 0.2, RiskLevel: "low"})
		case "/predict-yield":
			json.NewEncoder(w).Encode(yieldCheckResponse{PredictedYield: 2300, PredictedDamage: 42})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	verdict, err := newTestClient(server.URL).Evaluate(context.Background(), testEvaluationContext())
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !verdict.Approved {
		t.Fatalf("expected approval from decomposed path, got rejection: %s", verdict.RejectionReason)
	}
	if verdict.Source != domain.VerdictSourceDegraded {
		t.Fatalf("expected degraded-fallback source, got %s", verdict.Source)
	}
	if verdict.PredictedDamage != 42 {
		t.Fatalf("expected predicted damage from decomposed path, got %f", verdict.PredictedDamage)
	}
}

func TestEvaluate_PartialSyntheticFillTaintsSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify-claim", "/detect-fraud":
			w.WriteHeader(http.StatusInternalServerError)
		case "/verify-images":
			json.NewEncoder(w).Encode(imageCheckResponse{Verified: true, Confidence: 0.9, CropTypeMatch: true})
		case "/predict-yield":
			json.NewEncoder(w).Encode(yieldCheckResponse{PredictedYield: 2300, PredictedDamage: 42})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	verdict, err := newTestClient(server.URL).Evaluate(context.Background(), testEvaluationContext())
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if verdict.Source != domain.VerdictSourceSynthetic {
		t.Fatalf("a fabricated check must taint the verdict source, got %s", verdict.Source)
	}
	if verdict.FraudScore != syntheticFraudScore {
		t.Fatalf("expected synthetic fraud score, got %f", verdict.FraudScore)
	}
	if verdict.PredictedDamage != 42 {
		t.Fatalf("live checks must keep their real values, got %f", verdict.PredictedDamage)
	}

	var raw struct {
		Sources map[string]domain.VerdictSource `json:"sources"`
	}
	if err := json.Unmarshal(verdict.RawResult, &raw); err != nil {
		t.Fatalf("failed to decode raw result: %v", err)
	}
	if raw.Sources["fraud"] != domain.VerdictSourceSynthetic {
		t.Fatalf("raw payload must mark the fraud check as synthetic, got %s", raw.Sources["fraud"])
	}
	if raw.Sources["image"] != domain.VerdictSourceLive || raw.Sources["yield"] != domain.VerdictSourceLive {
		t.Fatal("raw payload must mark live checks as live")
	}
}

func TestEvaluate_AllEndpointsDownProducesSyntheticVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	verdict, err := newTestClient(server.URL).Evaluate(context.Background(), testEvaluationContext())
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if verdict.Source != domain.VerdictSourceSynthetic {
		t.Fatalf("expected synthetic source, got %s", verdict.Source)
	}
	if !verdict.Approved {
		t.Fatalf("synthetic estimates should pass the approval rule, got rejection: %s", verdict.RejectionReason)
	}
	if verdict.PredictedDamage != 45 {
		t.Fatalf("expected declared damage plus offset, got %f", verdict.PredictedDamage)
	}
	if verdict.PredictedYield != 2500 {
		t.Fatalf("expected synthetic yield, got %f", verdict.PredictedYield)
	}
}

func TestEvaluate_RejectionReasonPriority(t *testing.T) {
	tests := []struct {
		name       string
		resp       compositeResponse
		wantReason string
	}{
		{
			name:       "image failure outranks fraud",
			resp:       compositeResponse{ImageVerified: false, FraudScore: 0.9, PredictedDamage: 40, PredictedYield: 2000},
			wantReason: reasonImageFailed,
		},
		{
			name:       "fraud outranks yield mismatch",
			resp:       compositeResponse{ImageVerified: true, FraudScore: 0.9, PredictedDamage: 90, PredictedYield: 2000},
			wantReason: reasonFraudRisk,
		},
		{
			name:       "yield mismatch alone",
			resp:       compositeResponse{ImageVerified: true, FraudScore: 0.1, PredictedDamage: 90, PredictedYield: 2000},
			wantReason: reasonYieldMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.resp)
			}))
			defer server.Close()

			verdict, err := newTestClient(server.URL).Evaluate(context.Background(), testEvaluationContext())
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if verdict.Approved {
				t.Fatal("expected rejection")
			}
			if verdict.RejectionReason != tt.wantReason {
				t.Fatalf("expected reason %q, got %q", tt.wantReason, verdict.RejectionReason)
			}
		})
	}
}

func TestCircuitBreaker_OpensAfterThresholdAndProbesAfterCooldown(t *testing.T) {
	b := newCircuitBreaker(2, 50*time.Millisecond)

	if !b.Allow() {
		t.Fatal("fresh breaker should allow calls")
	}
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("breaker below threshold should allow calls")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker at threshold should be open")
	}

	time.Sleep(60 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker should admit a probe after cooldown")
	}
	b.RecordSuccess()
	if !b.Allow() {
		t.Fatal("breaker should close after a successful probe")
	}
}

func TestEvaluate_BreakerSkipsCompositeAfterRepeatedFailures(t *testing.T) {
	compositeCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify-claim":
			compositeCalls++
			w.WriteHeader(http.StatusInternalServerError)
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"verified": true, "fraudScore": 0.1, "predictedDamage": 42.0, "predictedYield": 2000.0})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", 2*time.Second, 2, time.Minute)
	for i := 0; i < 4; i++ {
		if _, err := client.Evaluate(context.Background(), testEvaluationContext()); err != nil {
			t.Fatalf("Evaluate %d returned error: %v", i, err)
		}
	}
	if compositeCalls != 2 {
		t.Fatalf("expected composite endpoint to be skipped once breaker opened, got %d calls", compositeCalls)
	}
}
