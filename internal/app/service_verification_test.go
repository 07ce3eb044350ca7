package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/krishiraksha/claim-service/internal/domain"
	"github.com/krishiraksha/claim-service/pkg/mlclient"
)

func verifiableClaim(farmerID uuid.UUID) *domain.Claim {
	ledgerID := "ledger-42"
	return &domain.Claim{
		ID:               uuid.New(),
		FarmerID:         farmerID,
		CropType:         "wheat",
		DamagePercentage: 50,
		ClaimAmount:      100000,
		Status:           domain.ClaimStatusSubmitted,
		LedgerClaimID:    &ledgerID,
	}
}

func TestProcessVerification_ApprovedClaimReachesApprovedStatus(t *testing.T) {
	farmer := testFarmer()
	repo := &claimRepoStub{farmer: farmer, claim: verifiableClaim(farmer.ID)}
	ledger := &ledgerClientStub{}
	verifier := &verifierStub{verdict: &domain.Verdict{
		Approved:        true,
		ImageVerified:   true,
		FraudScore:      0.1,
		PredictedDamage: 55,
		PredictedYield:  2100,
		Source:          domain.VerdictSourceLive,
	}}
	service := newTestService(repo, ledger, verifier, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	claim, err := service.ProcessVerification(context.Background(), repo.claim.ID)
	if err != nil {
		t.Fatalf("ProcessVerification returned error: %v", err)
	}
	if claim.Status != domain.ClaimStatusApproved {
		t.Fatalf("expected approved status, got %s", claim.Status)
	}
	if repo.verification == nil {
		t.Fatal("expected scoring fields to be written")
	}
	if repo.verification.Status != domain.ClaimStatusMLVerification {
		t.Fatalf("scoring write must move claim to ml_verification first, got %s", repo.verification.Status)
	}
	if repo.approvedTxHash == nil || *repo.approvedTxHash != "0xapprove" {
		t.Fatal("expected ledger approval tx hash to be recorded")
	}
	if repo.lockCalls != 1 || repo.unlockCalls != 1 {
		t.Fatalf("expected exactly one lock/unlock cycle, got %d/%d", repo.lockCalls, repo.unlockCalls)
	}
}

func TestProcessVerification_RejectionWritesScoringFieldsAndReason(t *testing.T) {
	farmer := testFarmer()
	repo := &claimRepoStub{farmer: farmer, claim: verifiableClaim(farmer.ID)}
	ledger := &ledgerClientStub{}
	verifier := &verifierStub{verdict: &domain.Verdict{
		Approved:        false,
		ImageVerified:   true,
		FraudScore:      0.8,
		PredictedDamage: 55,
		PredictedYield:  2100,
		RejectionReason: "High fraud risk detected. Claim patterns appear suspicious.",
		Source:          domain.VerdictSourceLive,
	}}
	service := newTestService(repo, ledger, verifier, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	claim, err := service.ProcessVerification(context.Background(), repo.claim.ID)
	if err != nil {
		t.Fatalf("ProcessVerification returned error: %v", err)
	}
	if claim.Status != domain.ClaimStatusRejected {
		t.Fatalf("expected rejected status, got %s", claim.Status)
	}
	if repo.verification == nil || repo.verification.RejectionReason == nil {
		t.Fatal("expected rejection reason to be persisted")
	}
	if repo.verification.FraudScore != 0.8 {
		t.Fatal("rejection must still persist scoring fields")
	}
	if ledger.approveCalls != 0 {
		t.Fatal("rejected claim must not be approved on the ledger")
	}
}

func TestProcessVerification_LedgerFailureLeavesClaimRetryable(t *testing.T) {
	farmer := testFarmer()
	repo := &claimRepoStub{farmer: farmer, claim: verifiableClaim(farmer.ID)}
	ledger := &ledgerClientStub{approveErr: errors.New("ledger unreachable")}
	verifier := &verifierStub{verdict: &domain.Verdict{
		Approved:        true,
		ImageVerified:   true,
		FraudScore:      0.1,
		PredictedDamage: 55,
		PredictedYield:  2100,
		Source:          domain.VerdictSourceLive,
	}}
	service := newTestService(repo, ledger, verifier, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	_, err := service.ProcessVerification(context.Background(), repo.claim.ID)
	if err == nil {
		t.Fatal("expected error when ledger approval fails")
	}
	if repo.verification == nil || repo.verification.Status != domain.ClaimStatusMLVerification {
		t.Fatal("scoring fields must be persisted with status ml_verification before the ledger call")
	}
	if repo.approvedTxHash != nil {
		t.Fatal("claim must not be approved when the ledger call failed")
	}
}

func TestProcessVerification_RetrySkipsReEvaluation(t *testing.T) {
	farmer := testFarmer()
	claim := verifiableClaim(farmer.ID)
	claim.Status = domain.ClaimStatusMLVerification
	imageVerified := true
	claim.MLImageVerified = &imageVerified
	repo := &claimRepoStub{farmer: farmer, claim: claim}
	ledger := &ledgerClientStub{}
	verifier := &verifierStub{err: mlclient.ErrVerificationUnavailable}
	service := newTestService(repo, ledger, verifier, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	got, err := service.ProcessVerification(context.Background(), claim.ID)
	if err != nil {
		t.Fatalf("retry must not re-run evaluation, got error: %v", err)
	}
	if got.Status != domain.ClaimStatusApproved {
		t.Fatalf("expected approved status after retry, got %s", got.Status)
	}
	if ledger.approveCalls != 1 {
		t.Fatalf("expected one ledger approval call, got %d", ledger.approveCalls)
	}
}

func TestProcessVerification_VerifierUnavailableLeavesClaimUntouched(t *testing.T) {
	farmer := testFarmer()
	repo := &claimRepoStub{farmer: farmer, claim: verifiableClaim(farmer.ID)}
	verifier := &verifierStub{err: mlclient.ErrVerificationUnavailable}
	service := newTestService(repo, &ledgerClientStub{}, verifier, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	_, err := service.ProcessVerification(context.Background(), repo.claim.ID)
	if !errors.Is(err, mlclient.ErrVerificationUnavailable) {
		t.Fatalf("expected ErrVerificationUnavailable, got %v", err)
	}
	if repo.verification != nil {
		t.Fatal("no scoring fields may be written when verification is unavailable")
	}
}

func TestProcessVerification_TerminalClaimIsNoOp(t *testing.T) {
	farmer := testFarmer()
	claim := verifiableClaim(farmer.ID)
	claim.Status = domain.ClaimStatusRejected
	repo := &claimRepoStub{farmer: farmer, claim: claim}
	ledger := &ledgerClientStub{}
	service := newTestService(repo, ledger, &verifierStub{}, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	got, err := service.ProcessVerification(context.Background(), claim.ID)
	if err != nil {
		t.Fatalf("terminal claim must be a no-op, got error: %v", err)
	}
	if got.Status != domain.ClaimStatusRejected {
		t.Fatalf("status must be unchanged, got %s", got.Status)
	}
	if repo.verification != nil || ledger.approveCalls != 0 {
		t.Fatal("no writes or ledger calls expected for a terminal claim")
	}
}

func TestProcessVerification_UnanchoredClaimFailsBeforeAnyWrite(t *testing.T) {
	farmer := testFarmer()
	claim := verifiableClaim(farmer.ID)
	claim.LedgerClaimID = nil
	repo := &claimRepoStub{farmer: farmer, claim: claim}
	ledger := &ledgerClientStub{}
	verifier := &verifierStub{verdict: &domain.Verdict{
		Approved:        true,
		ImageVerified:   true,
		FraudScore:      0.1,
		PredictedDamage: 55,
		PredictedYield:  2100,
		Source:          domain.VerdictSourceLive,
	}}
	service := newTestService(repo, ledger, verifier, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	_, err := service.ProcessVerification(context.Background(), claim.ID)
	if !errors.Is(err, ErrMissingLedgerLinkage) {
		t.Fatalf("expected ErrMissingLedgerLinkage, got %v", err)
	}
	if verifier.calls != 0 {
		t.Fatal("evaluation must not run for an unanchored claim")
	}
	if repo.verification != nil {
		t.Fatal("no scoring fields may be written for an unanchored claim")
	}
	if ledger.approveCalls != 0 {
		t.Fatal("ledger approval must not be attempted without a linkage")
	}
	if claim.Status != domain.ClaimStatusSubmitted {
		t.Fatalf("claim must stay in submitted, got %s", claim.Status)
	}

	// The claim is still in its recognized partial state, so the retry path
	// can anchor it and verification succeeds on the next attempt.
	if _, err := service.RetryLedgerSubmission(context.Background(), claim.ID); err != nil {
		t.Fatalf("retry must re-anchor the unanchored claim, got: %v", err)
	}
	if _, err := service.ProcessVerification(context.Background(), claim.ID); err != nil {
		t.Fatalf("verification must succeed once the claim is anchored, got: %v", err)
	}
	if repo.verification == nil {
		t.Fatal("expected scoring fields after the claim was anchored")
	}
}
