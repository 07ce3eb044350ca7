/**
 * @description
 * This file defines the core domain models for the claim-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Claim amounts are stored as `int64` in paise (the smallest currency unit)
 *   to avoid floating-point inaccuracies with monetary data.
 * - The claim status lifecycle is modelled explicitly; every status write in
 *   the store layer is conditioned on the expected previous status so illegal
 *   transitions surface as conflicts instead of silent overwrites.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimStatusSubmitted      ClaimStatus = "submitted"
	ClaimStatusMLVerification ClaimStatus = "ml_verification"
	ClaimStatusApproved       ClaimStatus = "approved"
	ClaimStatusRejected       ClaimStatus = "rejected"
	ClaimStatusPaid           ClaimStatus = "paid"
)

// legalTransitions enumerates every edge the lifecycle permits.
// A rejected claim can be reached directly from submitted (verification ran
// and failed the approval rule before any ledger approval was attempted).
var legalTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimStatusSubmitted:      {ClaimStatusMLVerification, ClaimStatusRejected},
	ClaimStatusMLVerification: {ClaimStatusApproved, ClaimStatusRejected},
	ClaimStatusApproved:       {ClaimStatusPaid},
}

// CanTransitionTo reports whether moving from s to next is a legal edge.
func (s ClaimStatus) CanTransitionTo(next ClaimStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further status transitions.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimStatusRejected || s == ClaimStatusPaid
}

// Claim is the system-of-record row for a crop damage claim.
// This struct maps directly to the `claims` table.
type Claim struct {
	ID                  uuid.UUID   `json:"id"`
	FarmerID            uuid.UUID   `json:"farmer_id"`
	FarmerPhone         string      `json:"farmer_phone"`
	CropType            string      `json:"crop_type"`
	DamagePercentage    float64     `json:"damage_percentage"`
	ClaimAmount         int64       `json:"claim_amount"` // in paise
	DamageDescription   string      `json:"damage_description"`
	DamageCause         string      `json:"damage_cause"`
	IPFSHash            string      `json:"ipfs_hash"`
	EvidenceURLs        []string    `json:"evidence_urls"`
	GeoLocation         string      `json:"geo_location"`
	Status              ClaimStatus `json:"status"`
	LedgerClaimID       *string     `json:"ledger_claim_id,omitempty"`
	LedgerTxHash        *string     `json:"ledger_tx_hash,omitempty"`
	MLImageVerified     *bool       `json:"ml_image_verified,omitempty"`
	MLFraudScore        *float64    `json:"ml_fraud_score,omitempty"`
	MLPredictedDamage   *float64    `json:"ml_predicted_damage,omitempty"`
	MLPredictedYield    *float64    `json:"ml_predicted_yield,omitempty"`
	MLResult            []byte      `json:"ml_verification_result,omitempty"` // raw verdict JSON
	RejectionReason     *string     `json:"rejection_reason,omitempty"`
	LedgerApproved      bool        `json:"ledger_approved"`
	LedgerApprovalTx    *string     `json:"ledger_approval_tx_hash,omitempty"`
	PayoutStatus        *string     `json:"payout_status,omitempty"`
	PayoutReference     *string     `json:"payout_reference,omitempty"`
	PayoutTxHash        *string     `json:"payout_tx_hash,omitempty"`
	PayoutCompletedAt   *time.Time  `json:"payout_completed_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// HasLedgerLinkage reports whether the claim was anchored on the ledger.
// Claims where this is false while status is still `submitted` are the
// partial state the reconciliation sweep resolves.
func (c *Claim) HasLedgerLinkage() bool {
	return c.LedgerClaimID != nil && *c.LedgerClaimID != ""
}

// SubmitClaimRequest is the DTO for incoming claim submission API requests.
type SubmitClaimRequest struct {
	CropType          string  `json:"crop_type"`
	DamagePercentage  float64 `json:"damage_percentage"`
	ClaimAmount       int64   `json:"claim_amount"` // in paise
	DamageDescription string  `json:"damage_description"`
	DamageCause       string  `json:"damage_cause"`
	GeoLocation       string  `json:"geo_location"`
}

// VerdictSource records which strategy produced a verdict so auditors can
// distinguish a genuine ML result from a stand-in value.
type VerdictSource string

const (
	VerdictSourceLive      VerdictSource = "live"
	VerdictSourceDegraded  VerdictSource = "degraded-fallback"
	VerdictSourceSynthetic VerdictSource = "synthetic"
)

// Verdict is the normalized output of automated claim verification.
type Verdict struct {
	Approved        bool          `json:"approved"`
	ImageVerified   bool          `json:"image_verified"`
	FraudScore      float64       `json:"fraud_score"`
	PredictedDamage float64       `json:"predicted_damage"`
	PredictedYield  float64       `json:"predicted_yield"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	Source          VerdictSource `json:"source"`
	RawResult       []byte        `json:"raw_result,omitempty"`
}

// Farmer is a simplified view of a farmer, containing only the data
// needed by the claim-service.
type Farmer struct {
	ID                uuid.UUID `json:"id"`
	Phone             string    `json:"phone"`
	Email             *string   `json:"email,omitempty"`
	Name              string    `json:"name"`
	Village           *string   `json:"village,omitempty"`
	District          *string   `json:"district,omitempty"`
	State             *string   `json:"state,omitempty"`
	LandSizeAcres     float64   `json:"land_size_acres"`
	CropType          string    `json:"crop_type"`
	UPIID             *string   `json:"upi_id,omitempty"`
	BankAccountNumber *string   `json:"bank_account_number,omitempty"`
	BankIFSCCode      *string   `json:"bank_ifsc_code,omitempty"`
	BankName          *string   `json:"bank_name,omitempty"`
	IsPhoneVerified   bool      `json:"is_phone_verified"`
	IsEmailVerified   bool      `json:"is_email_verified"`
}

// PayoutChannel identifies how a disbursement reaches the farmer.
type PayoutChannel string

const (
	PayoutChannelUPI          PayoutChannel = "upi"
	PayoutChannelBankTransfer PayoutChannel = "bank_transfer"
)

// Transaction records one payout attempt for a claim.
// This struct maps directly to the `transactions` table.
type Transaction struct {
	ID               uuid.UUID     `json:"id"`
	ClaimID          uuid.UUID     `json:"claim_id"`
	FarmerID         uuid.UUID     `json:"farmer_id"`
	Amount           int64         `json:"amount"` // in paise
	Channel          PayoutChannel `json:"channel"`
	Destination      string        `json:"destination"`
	Status           string        `json:"status"` // 'initiated', 'success', 'failed'
	GatewayReference *string       `json:"gateway_reference,omitempty"`
	FailureReason    *string       `json:"failure_reason,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

const (
	TransactionStatusInitiated = "initiated"
	TransactionStatusSuccess   = "success"
	TransactionStatusFailed    = "failed"
)

// OTPKind identifies the contact channel an OTP verifies.
type OTPKind string

const (
	OTPKindEmail OTPKind = "email"
	OTPKindPhone OTPKind = "phone"
)

// OTPRecord is a one-time passcode row. Exactly one of Email/Phone is set.
type OTPRecord struct {
	ID        uuid.UUID `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Code      string    `json:"-"`
	Kind      OTPKind   `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// ClaimEvent is the message payload published when a claim changes state.
type ClaimEvent struct {
	ClaimID   uuid.UUID `json:"claim_id"`
	FarmerID  uuid.UUID `json:"farmer_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// VerificationRequestedEvent asks the async worker to run ML verification.
type VerificationRequestedEvent struct {
	ClaimID   uuid.UUID `json:"claim_id"`
	Timestamp time.Time `json:"timestamp"`
}

// OTPDeliveryEvent is handed off to the notification collaborator.
type OTPDeliveryEvent struct {
	Identifier string    `json:"identifier"`
	Kind       OTPKind   `json:"kind"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
}
