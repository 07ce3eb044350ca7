package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/krishiraksha/claim-service/internal/domain"
	"github.com/krishiraksha/claim-service/internal/store"
	"github.com/krishiraksha/claim-service/pkg/payoutclient"
)

func approvedClaim(farmerID uuid.UUID) *domain.Claim {
	ledgerID := "ledger-42"
	return &domain.Claim{
		ID:            uuid.New(),
		FarmerID:      farmerID,
		CropType:      "wheat",
		ClaimAmount:   100000,
		Status:        domain.ClaimStatusApproved,
		LedgerClaimID: &ledgerID,
	}
}

func TestDisburse_PrefersUPIAndMarksClaimPaid(t *testing.T) {
	farmer := testFarmer()
	bank := "1234567890"
	farmer.BankAccountNumber = &bank
	repo := &claimRepoStub{farmer: farmer, claim: approvedClaim(farmer.ID)}
	payouts := &payoutStub{result: &payoutclient.PayResult{Success: true, Reference: "PAY_1"}}
	service := newTestService(repo, &ledgerClientStub{}, &verifierStub{}, &evidenceStub{}, payouts, &publisherStub{})

	tx, err := service.Disburse(context.Background(), repo.claim.ID)
	if err != nil {
		t.Fatalf("Disburse returned error: %v", err)
	}
	if tx.Channel != domain.PayoutChannelUPI {
		t.Fatalf("expected UPI channel to be preferred, got %s", tx.Channel)
	}
	if tx.Destination != *farmer.UPIID {
		t.Fatalf("expected UPI destination, got %q", tx.Destination)
	}
	if tx.Status != domain.TransactionStatusSuccess {
		t.Fatalf("expected success status, got %s", tx.Status)
	}
	if !repo.markedPaid {
		t.Fatal("expected claim to be marked paid")
	}
	if repo.finalizedStatus != domain.TransactionStatusSuccess || repo.finalizedRef == nil {
		t.Fatal("expected transaction to be finalized with gateway reference")
	}
}

func TestDisburse_FallsBackToBankTransfer(t *testing.T) {
	farmer := testFarmer()
	farmer.UPIID = nil
	bank := "1234567890"
	farmer.BankAccountNumber = &bank
	repo := &claimRepoStub{farmer: farmer, claim: approvedClaim(farmer.ID)}
	payouts := &payoutStub{result: &payoutclient.PayResult{Success: true, Reference: "PAY_2"}}
	service := newTestService(repo, &ledgerClientStub{}, &verifierStub{}, &evidenceStub{}, payouts, &publisherStub{})

	tx, err := service.Disburse(context.Background(), repo.claim.ID)
	if err != nil {
		t.Fatalf("Disburse returned error: %v", err)
	}
	if tx.Channel != domain.PayoutChannelBankTransfer {
		t.Fatalf("expected bank transfer channel, got %s", tx.Channel)
	}
	if tx.Destination != bank {
		t.Fatalf("expected bank account destination, got %q", tx.Destination)
	}
}

func TestDisburse_NoDestinationFailsBeforeGateway(t *testing.T) {
	farmer := testFarmer()
	farmer.UPIID = nil
	repo := &claimRepoStub{farmer: farmer, claim: approvedClaim(farmer.ID)}
	service := newTestService(repo, &ledgerClientStub{}, &verifierStub{}, &evidenceStub{}, &payoutStub{}, &publisherStub{})

	_, err := service.Disburse(context.Background(), repo.claim.ID)
	if !errors.Is(err, ErrNoPayoutDestination) {
		t.Fatalf("expected ErrNoPayoutDestination, got %v", err)
	}
	if repo.createdTx != nil {
		t.Fatal("no transaction row should exist without a destination")
	}
}

func TestDisburse_DeclinedPayoutLeavesClaimApproved(t *testing.T) {
	farmer := testFarmer()
	repo := &claimRepoStub{farmer: farmer, claim: approvedClaim(farmer.ID)}
	payouts := &payoutStub{result: &payoutclient.PayResult{Success: false, FailureReason: "insufficient gateway balance"}}
	service := newTestService(repo, &ledgerClientStub{}, &verifierStub{}, &evidenceStub{}, payouts, &publisherStub{})

	tx, err := service.Disburse(context.Background(), repo.claim.ID)
	if err != nil {
		t.Fatalf("a declined payout is an outcome, not an error, got: %v", err)
	}
	if tx.Status != domain.TransactionStatusFailed {
		t.Fatalf("expected failed transaction, got %s", tx.Status)
	}
	if tx.FailureReason == nil || *tx.FailureReason != "insufficient gateway balance" {
		t.Fatal("expected gateway failure reason to be recorded")
	}
	if repo.markedPaid {
		t.Fatal("claim must stay approved after a declined payout")
	}
}

func TestDisburse_GatewayErrorFinalizesTransactionFailed(t *testing.T) {
	farmer := testFarmer()
	repo := &claimRepoStub{farmer: farmer, claim: approvedClaim(farmer.ID)}
	payouts := &payoutStub{err: errors.New("gateway timeout")}
	service := newTestService(repo, &ledgerClientStub{}, &verifierStub{}, &evidenceStub{}, payouts, &publisherStub{})

	_, err := service.Disburse(context.Background(), repo.claim.ID)
	if err == nil {
		t.Fatal("expected transport error to be returned")
	}
	if repo.finalizedStatus != domain.TransactionStatusFailed {
		t.Fatalf("expected transaction finalized as failed, got %q", repo.finalizedStatus)
	}
	if repo.markedPaid {
		t.Fatal("claim must not be marked paid after a gateway error")
	}
}

func TestDisburse_RejectsNonApprovedClaims(t *testing.T) {
	farmer := testFarmer()
	for _, status := range []domain.ClaimStatus{
		domain.ClaimStatusSubmitted,
		domain.ClaimStatusMLVerification,
		domain.ClaimStatusRejected,
		domain.ClaimStatusPaid,
	} {
		claim := approvedClaim(farmer.ID)
		claim.Status = status
		repo := &claimRepoStub{farmer: farmer, claim: claim}
		service := newTestService(repo, &ledgerClientStub{}, &verifierStub{}, &evidenceStub{}, &payoutStub{}, &publisherStub{})

		_, err := service.Disburse(context.Background(), claim.ID)
		if !errors.Is(err, store.ErrClaimStateConflict) {
			t.Fatalf("status %s: expected ErrClaimStateConflict, got %v", status, err)
		}
	}
}
