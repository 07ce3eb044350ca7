/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the claim-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/krishiraksha/claim-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Farmer methods
	FindFarmerByID(ctx context.Context, farmerID uuid.UUID) (*domain.Farmer, error)
	MarkFarmerChannelVerified(ctx context.Context, identifier string, kind domain.OTPKind) error

	// Claim methods
	CreateClaim(ctx context.Context, claim *domain.Claim) error
	FindClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error)
	FindClaimsByFarmerID(ctx context.Context, farmerID uuid.UUID) ([]domain.Claim, error)
	// SetLedgerLinkage persists the ledger claim id and submission tx hash.
	// The update is conditioned on `ledger_claim_id IS NULL AND status =
	// 'submitted'`; ErrLedgerAlreadyLinked is returned when the row was
	// already linked so callers can treat a duplicate submission as a no-op.
	SetLedgerLinkage(ctx context.Context, claimID uuid.UUID, ledgerClaimID, txHash string) error
	// UpdateClaimVerification writes all scoring fields plus the resulting
	// status in a single statement, conditioned on the claim still being in
	// 'submitted' or 'ml_verification'.
	UpdateClaimVerification(ctx context.Context, claimID uuid.UUID, params ClaimVerificationParams) error
	// ApproveClaim records the ledger approval, conditioned on
	// status='ml_verification'.
	ApproveClaim(ctx context.Context, claimID uuid.UUID, approvalTxHash string) error
	// MarkClaimPaid records payout completion, conditioned on
	// status='approved'.
	MarkClaimPaid(ctx context.Context, claimID uuid.UUID, reference, payoutTxHash string) error
	// FindLedgerOrphanClaims returns claims stuck in the partial state where
	// the row exists but ledger submission never completed.
	FindLedgerOrphanClaims(ctx context.Context, olderThan time.Time, limit int) ([]domain.Claim, error)

	// Payout transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	// FinalizeTransaction writes the terminal status exactly once; a second
	// call for the same row returns ErrTransactionFinalized.
	FinalizeTransaction(ctx context.Context, transactionID uuid.UUID, status string, gatewayReference, failureReason *string) error
	FindTransactionsByClaimID(ctx context.Context, claimID uuid.UUID) ([]domain.Transaction, error)

	// OTP methods
	CreateOTPRecord(ctx context.Context, record *domain.OTPRecord) error
	// ConsumeOTP atomically selects the newest matching unverified, unexpired
	// record and flips it to verified. ErrOTPNotMatched is returned when no
	// such record exists (wrong code, expired, already used, or never sent).
	ConsumeOTP(ctx context.Context, identifier, code string, kind domain.OTPKind) (uuid.UUID, error)
	PurgeExpiredOTPs(ctx context.Context, olderThan time.Time) (int64, error)

	// ClaimLocker serializes per-claim read-then-write operations.
	ClaimLocker
}

// ClaimLocker acquires an exclusive per-claim lock so that concurrent
// verification or disbursement attempts for the same claim are serialized.
// Operations on distinct claims proceed in parallel.
type ClaimLocker interface {
	// LockClaim blocks until the lock for claimID is held and returns a
	// release function. The release function must always be called.
	LockClaim(ctx context.Context, claimID uuid.UUID) (release func(), err error)
}

// ClaimVerificationParams carries the scoring fields folded back into the
// claim row after a verification run, along with the resulting status.
type ClaimVerificationParams struct {
	ImageVerified   bool
	FraudScore      float64
	PredictedDamage float64
	PredictedYield  float64
	RawResult       []byte
	Status          domain.ClaimStatus
	RejectionReason *string
}
