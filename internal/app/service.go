/**
 * @description
 * This file contains the core business logic for the claim-service. The `Service`
 * struct orchestrates the claim lifecycle, coordinating between the database
 * repository, the ledger client, the ML verification client, the evidence
 * store, the payout gateway, and the message broker.
 *
 * Key features:
 * - Implements the main use cases: claim submission, verification, disbursement.
 * - Every status write goes through a conditioned repository update, so a
 *   concurrent or repeated call surfaces as a state conflict instead of a
 *   double transition.
 * - Per-claim advisory locks serialize verification and disbursement attempts
 *   for the same claim.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/evidenceclient, pkg/ledgerclient, pkg/mlclient, pkg/payoutclient,
 *   pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/krishiraksha/claim-service/internal/domain"
	"github.com/krishiraksha/claim-service/internal/store"
	"github.com/krishiraksha/claim-service/pkg/evidenceclient"
	"github.com/krishiraksha/claim-service/pkg/ledgerclient"
	"github.com/krishiraksha/claim-service/pkg/mlclient"
	"github.com/krishiraksha/claim-service/pkg/payoutclient"
	"github.com/krishiraksha/claim-service/pkg/rabbitmq"
)

var (
	// ErrInvalidClaimRequest wraps all claim submission validation failures.
	ErrInvalidClaimRequest = errors.New("invalid claim request")
	// ErrNoPayoutDestination is returned when a farmer has neither a UPI id
	// nor a bank account on file.
	ErrNoPayoutDestination = errors.New("farmer has no payout destination configured")
	// ErrMissingLedgerLinkage is returned when verification or approval is
	// attempted for a claim that was never anchored on the ledger. The claim
	// stays in `submitted` and remains retryable.
	ErrMissingLedgerLinkage = errors.New("claim has no ledger linkage yet")
	// ErrUpstreamUnavailable marks a failed call to an external collaborator
	// so the API layer can report a gateway problem instead of an internal
	// fault.
	ErrUpstreamUnavailable = errors.New("upstream dependency unavailable")
)

// LedgerClient is the subset of the ledger API the orchestrator uses.
type LedgerClient interface {
	SubmitClaim(ctx context.Context, payload ledgerclient.SubmitClaimRequest) (*ledgerclient.SubmitClaimResponse, error)
	ApproveClaim(ctx context.Context, ledgerClaimID string) (*ledgerclient.ApproveClaimResponse, error)
}

// VerificationClient produces a verdict for a claim.
type VerificationClient interface {
	Evaluate(ctx context.Context, ec mlclient.EvaluationContext) (*domain.Verdict, error)
}

// EvidenceUploader pins evidence files and returns their locators.
type EvidenceUploader interface {
	UploadFiles(ctx context.Context, files []evidenceclient.File) (*evidenceclient.UploadResult, error)
}

// PayoutGateway disburses an approved claim amount to a farmer.
type PayoutGateway interface {
	Pay(ctx context.Context, transactionID, channel, destination string, amount int64) (*payoutclient.PayResult, error)
}

// Service provides the core business logic for claims.
type Service struct {
	repo          store.Repository
	ledgerClient  LedgerClient
	verifier      VerificationClient
	evidenceStore EvidenceUploader
	payoutGateway PayoutGateway
	eventProducer rabbitmq.Publisher
	eventExchange string
}

// NewService creates a new claim service instance.
func NewService(
	repo store.Repository,
	ledger LedgerClient,
	verifier VerificationClient,
	evidence EvidenceUploader,
	payouts PayoutGateway,
	producer rabbitmq.Publisher,
	eventExchange string,
) *Service {
	return &Service{
		repo:          repo,
		ledgerClient:  ledger,
		verifier:      verifier,
		evidenceStore: evidence,
		payoutGateway: payouts,
		eventProducer: producer,
		eventExchange: eventExchange,
	}
}

func validateSubmitClaimRequest(req domain.SubmitClaimRequest) error {
	if req.CropType == "" {
		return fmt.Errorf("%w: crop_type is required", ErrInvalidClaimRequest)
	}
	if req.DamagePercentage < 0 || req.DamagePercentage > 100 {
		return fmt.Errorf("%w: damage_percentage must be between 0 and 100", ErrInvalidClaimRequest)
	}
	if req.ClaimAmount <= 0 {
		return fmt.Errorf("%w: claim_amount must be positive", ErrInvalidClaimRequest)
	}
	return nil
}

// SubmitClaim creates a new claim, pins its evidence, anchors it on the
// ledger, and requests asynchronous verification.
//
// Ledger failure does not fail the submission: the claim row is the system of
// record and stays in `submitted` without a linkage, where the reconciliation
// sweep will pick it up. Verification is only requested once the linkage
// exists, since approval needs the ledger claim id.
func (s *Service) SubmitClaim(ctx context.Context, farmerID uuid.UUID, req domain.SubmitClaimRequest, files []evidenceclient.File) (*domain.Claim, error) {
	if err := validateSubmitClaimRequest(req); err != nil {
		return nil, err
	}

	farmer, err := s.repo.FindFarmerByID(ctx, farmerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find farmer: %w", err)
	}

	// 1. Pin evidence. A claim without evidence files is legal; its primary
	// hash stays empty.
	uploadResult := &evidenceclient.UploadResult{}
	if len(files) > 0 {
		uploadResult, err = s.evidenceStore.UploadFiles(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to upload claim evidence: %w", ErrUpstreamUnavailable, err)
		}
	}

	// 2. Create the claim row.
	claim := &domain.Claim{
		ID:                uuid.New(),
		FarmerID:          farmer.ID,
		FarmerPhone:       farmer.Phone,
		CropType:          req.CropType,
		DamagePercentage:  req.DamagePercentage,
		ClaimAmount:       req.ClaimAmount,
		DamageDescription: req.DamageDescription,
		DamageCause:       req.DamageCause,
		IPFSHash:          uploadResult.PrimaryHash,
		EvidenceURLs:      uploadResult.URLs,
		GeoLocation:       req.GeoLocation,
		Status:            domain.ClaimStatusSubmitted,
	}
	if err := s.repo.CreateClaim(ctx, claim); err != nil {
		return nil, fmt.Errorf("failed to create claim record: %w", err)
	}

	s.publishClaimEvent(ctx, rabbitmq.RoutingKeyClaimSubmitted, claim)

	// 3. Anchor on the ledger.
	if err := s.anchorClaim(ctx, claim); err != nil {
		log.Printf("level=warn component=claim_service op=submit_claim claim_id=%s msg=\"ledger submission failed; claim left for reconciliation\" err=%v", claim.ID, err)
		return claim, nil
	}

	// 4. Request asynchronous verification.
	s.requestVerification(ctx, claim.ID)

	return claim, nil
}

// anchorClaim submits the claim to the ledger and persists the linkage.
func (s *Service) anchorClaim(ctx context.Context, claim *domain.Claim) error {
	resp, err := s.ledgerClient.SubmitClaim(ctx, ledgerclient.SubmitClaimRequest{
		ClaimID:          claim.ID.String(),
		FarmerID:         claim.FarmerID.String(),
		CropType:         claim.CropType,
		DamagePercentage: claim.DamagePercentage,
		ClaimAmount:      claim.ClaimAmount,
		EvidenceHash:     claim.IPFSHash,
	})
	if err != nil {
		return fmt.Errorf("%w: ledger submission failed: %w", ErrUpstreamUnavailable, err)
	}

	err = s.repo.SetLedgerLinkage(ctx, claim.ID, resp.Data.LedgerClaimID, resp.Data.TxHash)
	if err != nil {
		if errors.Is(err, store.ErrLedgerAlreadyLinked) {
			// A concurrent submission won the race; keep its linkage.
			log.Printf("level=warn component=claim_service op=anchor_claim claim_id=%s msg=\"claim already linked; keeping existing linkage\"", claim.ID)
			return nil
		}
		return err
	}

	claim.LedgerClaimID = &resp.Data.LedgerClaimID
	claim.LedgerTxHash = &resp.Data.TxHash
	return nil
}

// RetryLedgerSubmission re-anchors a claim whose original ledger submission
// never completed. Used by the reconciliation sweep and the manual retry
// endpoint. A claim that is already linked is a no-op.
func (s *Service) RetryLedgerSubmission(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	release, err := s.repo.LockClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock claim: %w", err)
	}
	defer release()

	claim, err := s.repo.FindClaimByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.HasLedgerLinkage() {
		return claim, nil
	}
	if claim.Status != domain.ClaimStatusSubmitted {
		return nil, store.ErrClaimStateConflict
	}

	if err := s.anchorClaim(ctx, claim); err != nil {
		return nil, fmt.Errorf("ledger submission retry failed: %w", err)
	}
	s.requestVerification(ctx, claim.ID)
	return claim, nil
}

// ProcessVerification runs the ML verdict for a claim and folds the outcome
// back into the row.
//
// Re-entry is legal: a claim stuck in `ml_verification` with scoring fields
// already populated (its earlier ledger approval failed) skips re-evaluation
// and goes straight to the ledger approval attempt. Terminal claims are a
// no-op so redelivered broker messages can be acknowledged safely.
func (s *Service) ProcessVerification(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	release, err := s.repo.LockClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock claim: %w", err)
	}
	defer release()

	claim, err := s.repo.FindClaimByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status.IsTerminal() || claim.Status == domain.ClaimStatusApproved {
		log.Printf("level=info component=claim_service op=process_verification claim_id=%s status=%s msg=\"claim already decided; nothing to do\"", claim.ID, claim.Status)
		return claim, nil
	}
	if !claim.HasLedgerLinkage() {
		// The claim is still in its recognized partial state. Refusing here,
		// before any scoring write, keeps it in `submitted` where the
		// reconciliation sweep and the retry endpoint can still re-anchor it.
		return nil, fmt.Errorf("%w: claim %s", ErrMissingLedgerLinkage, claim.ID)
	}

	if claim.Status == domain.ClaimStatusMLVerification && claim.MLImageVerified != nil {
		// Scored but not yet approved on the ledger.
		return s.approveOnLedger(ctx, claim)
	}

	farmer, err := s.repo.FindFarmerByID(ctx, claim.FarmerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find farmer: %w", err)
	}

	verdict, err := s.verifier.Evaluate(ctx, mlclient.EvaluationContext{
		ClaimID:          claim.ID.String(),
		FarmerID:         claim.FarmerID.String(),
		CropType:         claim.CropType,
		DamagePercentage: claim.DamagePercentage,
		ClaimAmount:      claim.ClaimAmount,
		EvidenceURLs:     claim.EvidenceURLs,
		GeoLocation:      claim.GeoLocation,
		LandSizeAcres:    farmer.LandSizeAcres,
	})
	if err != nil {
		// The claim is left unmodified: no partial scoring fields.
		return nil, fmt.Errorf("claim verification failed: %w", err)
	}
	log.Printf("level=info component=claim_service op=process_verification claim_id=%s approved=%v source=%s fraud_score=%.2f", claim.ID, verdict.Approved, verdict.Source, verdict.FraudScore)

	rawResult, err := json.Marshal(verdict)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verdict: %w", err)
	}

	params := store.ClaimVerificationParams{
		ImageVerified:   verdict.ImageVerified,
		FraudScore:      verdict.FraudScore,
		PredictedDamage: verdict.PredictedDamage,
		PredictedYield:  verdict.PredictedYield,
		RawResult:       rawResult,
	}
	if verdict.Approved {
		params.Status = domain.ClaimStatusMLVerification
	} else {
		params.Status = domain.ClaimStatusRejected
		reason := verdict.RejectionReason
		params.RejectionReason = &reason
	}

	if err := s.repo.UpdateClaimVerification(ctx, claim.ID, params); err != nil {
		return nil, fmt.Errorf("failed to record verification outcome: %w", err)
	}
	claim.MLImageVerified = &params.ImageVerified
	claim.MLFraudScore = &params.FraudScore
	claim.MLPredictedDamage = &params.PredictedDamage
	claim.MLPredictedYield = &params.PredictedYield
	claim.MLResult = rawResult
	claim.Status = params.Status
	claim.RejectionReason = params.RejectionReason

	if !verdict.Approved {
		s.publishClaimEvent(ctx, rabbitmq.RoutingKeyClaimStatusChanged, claim)
		return claim, nil
	}

	return s.approveOnLedger(ctx, claim)
}

// approveOnLedger records the approval decision on the ledger and moves the
// claim to `approved`. On ledger failure the claim stays in `ml_verification`
// with its scoring fields intact, ready for a retry.
func (s *Service) approveOnLedger(ctx context.Context, claim *domain.Claim) (*domain.Claim, error) {
	if !claim.HasLedgerLinkage() {
		return nil, fmt.Errorf("%w: claim %s", ErrMissingLedgerLinkage, claim.ID)
	}

	resp, err := s.ledgerClient.ApproveClaim(ctx, *claim.LedgerClaimID)
	if err != nil {
		log.Printf("level=warn component=claim_service op=approve_on_ledger claim_id=%s msg=\"ledger approval failed; claim stays retryable\" err=%v", claim.ID, err)
		return nil, fmt.Errorf("%w: ledger approval failed: %w", ErrUpstreamUnavailable, err)
	}

	if err := s.repo.ApproveClaim(ctx, claim.ID, resp.Data.TxHash); err != nil {
		return nil, fmt.Errorf("failed to record claim approval: %w", err)
	}
	claim.Status = domain.ClaimStatusApproved
	claim.LedgerApproved = true
	claim.LedgerApprovalTx = &resp.Data.TxHash

	s.publishClaimEvent(ctx, rabbitmq.RoutingKeyClaimStatusChanged, claim)
	return claim, nil
}

// Disburse pays out an approved claim. The payout channel prefers UPI over
// bank transfer. A declined payout finalizes the transaction as failed and
// leaves the claim in `approved` so disbursement can be retried; only a
// successful payout moves the claim to `paid`.
func (s *Service) Disburse(ctx context.Context, claimID uuid.UUID) (*domain.Transaction, error) {
	release, err := s.repo.LockClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock claim: %w", err)
	}
	defer release()

	claim, err := s.repo.FindClaimByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != domain.ClaimStatusApproved {
		return nil, store.ErrClaimStateConflict
	}

	farmer, err := s.repo.FindFarmerByID(ctx, claim.FarmerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find farmer: %w", err)
	}

	channel, destination, err := payoutDestination(farmer)
	if err != nil {
		return nil, err
	}

	txRecord := &domain.Transaction{
		ID:          uuid.New(),
		ClaimID:     claim.ID,
		FarmerID:    farmer.ID,
		Amount:      claim.ClaimAmount,
		Channel:     channel,
		Destination: destination,
		Status:      domain.TransactionStatusInitiated,
	}
	if err := s.repo.CreateTransaction(ctx, txRecord); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	result, err := s.payoutGateway.Pay(ctx, txRecord.ID.String(), string(channel), destination, claim.ClaimAmount)
	if err != nil {
		reason := err.Error()
		if finalizeErr := s.repo.FinalizeTransaction(ctx, txRecord.ID, domain.TransactionStatusFailed, nil, &reason); finalizeErr != nil {
			log.Printf("level=error component=claim_service op=disburse transaction_id=%s msg=\"failed to finalize transaction after gateway error\" err=%v", txRecord.ID, finalizeErr)
		}
		return nil, fmt.Errorf("%w: payout gateway call failed: %w", ErrUpstreamUnavailable, err)
	}

	if !result.Success {
		reason := result.FailureReason
		if reason == "" {
			reason = "payout declined by gateway"
		}
		if finalizeErr := s.repo.FinalizeTransaction(ctx, txRecord.ID, domain.TransactionStatusFailed, nil, &reason); finalizeErr != nil {
			log.Printf("level=error component=claim_service op=disburse transaction_id=%s msg=\"failed to finalize declined transaction\" err=%v", txRecord.ID, finalizeErr)
		}
		txRecord.Status = domain.TransactionStatusFailed
		txRecord.FailureReason = &reason
		log.Printf("level=warn component=claim_service op=disburse claim_id=%s transaction_id=%s msg=\"payout declined\" reason=%q", claim.ID, txRecord.ID, reason)
		return txRecord, nil
	}

	if err := s.repo.FinalizeTransaction(ctx, txRecord.ID, domain.TransactionStatusSuccess, &result.Reference, nil); err != nil {
		return nil, fmt.Errorf("failed to finalize transaction: %w", err)
	}
	txRecord.Status = domain.TransactionStatusSuccess
	txRecord.GatewayReference = &result.Reference

	if err := s.repo.MarkClaimPaid(ctx, claim.ID, result.Reference, result.Reference); err != nil {
		// The money moved but the claim row could not be updated. Surface the
		// error; the conditioned update makes the retry safe.
		return txRecord, fmt.Errorf("payout succeeded but failed to mark claim paid: %w", err)
	}
	claim.Status = domain.ClaimStatusPaid

	s.publishClaimEvent(ctx, rabbitmq.RoutingKeyClaimStatusChanged, claim)
	return txRecord, nil
}

// payoutDestination picks the farmer's payout channel, preferring UPI.
func payoutDestination(farmer *domain.Farmer) (domain.PayoutChannel, string, error) {
	if farmer.UPIID != nil && *farmer.UPIID != "" {
		return domain.PayoutChannelUPI, *farmer.UPIID, nil
	}
	if farmer.BankAccountNumber != nil && *farmer.BankAccountNumber != "" {
		return domain.PayoutChannelBankTransfer, *farmer.BankAccountNumber, nil
	}
	return "", "", ErrNoPayoutDestination
}

// GetClaim returns one claim by id.
func (s *Service) GetClaim(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	return s.repo.FindClaimByID(ctx, claimID)
}

// ListClaims returns all claims for a farmer, newest first.
func (s *Service) ListClaims(ctx context.Context, farmerID uuid.UUID) ([]domain.Claim, error) {
	return s.repo.FindClaimsByFarmerID(ctx, farmerID)
}

// ListClaimTransactions returns every payout attempt for a claim.
func (s *Service) ListClaimTransactions(ctx context.Context, claimID uuid.UUID) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByClaimID(ctx, claimID)
}

// requestVerification publishes the message that triggers the async
// verification worker. Publish failures are logged, not returned: the
// reconciliation sweep re-requests verification for stalled claims.
func (s *Service) requestVerification(ctx context.Context, claimID uuid.UUID) {
	event := domain.VerificationRequestedEvent{ClaimID: claimID, Timestamp: time.Now().UTC()}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, rabbitmq.RoutingKeyVerificationRequested, event); err != nil {
		log.Printf("level=warn component=claim_service op=request_verification claim_id=%s msg=\"failed to publish verification request\" err=%v", claimID, err)
	}
}

func (s *Service) publishClaimEvent(ctx context.Context, routingKey string, claim *domain.Claim) {
	event := domain.ClaimEvent{
		ClaimID:   claim.ID,
		FarmerID:  claim.FarmerID,
		Status:    string(claim.Status),
		Timestamp: time.Now().UTC(),
	}
	if err := s.eventProducer.PublishClaimEvent(ctx, s.eventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=claim_service op=publish_claim_event claim_id=%s routing_key=%s msg=\"event publish failed\" err=%v", claim.ID, routingKey, err)
	}
}
