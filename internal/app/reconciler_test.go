package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/krishiraksha/claim-service/internal/domain"
	"github.com/krishiraksha/claim-service/internal/store"
)

type reconcilerRepoStub struct {
	claimRepoStub

	orphans    []domain.Claim
	orphansErr error
	claims     map[uuid.UUID]*domain.Claim
	purged     int64
	purgeTime  time.Time
}

func (s *reconcilerRepoStub) FindLedgerOrphanClaims(ctx context.Context, olderThan time.Time, limit int) ([]domain.Claim, error) {
	if s.orphansErr != nil {
		return nil, s.orphansErr
	}
	return s.orphans, nil
}

func (s *reconcilerRepoStub) FindClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	claim, ok := s.claims[claimID]
	if !ok {
		return nil, store.ErrClaimNotFound
	}
	return claim, nil
}

func (s *reconcilerRepoStub) PurgeExpiredOTPs(ctx context.Context, olderThan time.Time) (int64, error) {
	s.purgeTime = olderThan
	return s.purged, nil
}

func orphanClaim(farmerID uuid.UUID) *domain.Claim {
	return &domain.Claim{
		ID:               uuid.New(),
		FarmerID:         farmerID,
		CropType:         "wheat",
		DamagePercentage: 50,
		ClaimAmount:      100000,
		Status:           domain.ClaimStatusSubmitted,
	}
}

func newTestReconciler(repo *reconcilerRepoStub, ledger *ledgerClientStub, publisher *publisherStub) *Reconciler {
	service := newTestService(repo, ledger, &verifierStub{}, &evidenceStub{}, &payoutStub{}, publisher)
	return NewReconciler(repo, service, ReconcilerConfig{
		LedgerSweepSpec:   "*/10 * * * *",
		LedgerGracePeriod: 15 * time.Minute,
		LedgerBatchSize:   50,
		OTPPurgeSpec:      "0 * * * *",
		OTPRetention:      time.Hour,
	})
}

func TestReconcileLedgerOrphans_ReAnchorsAndRequestsVerification(t *testing.T) {
	farmer := testFarmer()
	orphan := orphanClaim(farmer.ID)
	repo := &reconcilerRepoStub{
		claimRepoStub: claimRepoStub{farmer: farmer},
		orphans:       []domain.Claim{*orphan},
		claims:        map[uuid.UUID]*domain.Claim{orphan.ID: orphan},
	}
	ledger := &ledgerClientStub{}
	publisher := &publisherStub{}
	reconciler := newTestReconciler(repo, ledger, publisher)

	retried, failed := reconciler.ReconcileLedgerOrphans(context.Background())
	if retried != 1 || failed != 0 {
		t.Fatalf("expected 1 retried / 0 failed, got %d/%d", retried, failed)
	}
	if !repo.linkageSet {
		t.Fatal("expected orphan claim to be re-anchored")
	}
	var sawVerificationRequest bool
	for _, key := range publisher.published {
		if key == "claim.verification.requested" {
			sawVerificationRequest = true
		}
	}
	if !sawVerificationRequest {
		t.Fatal("expected verification request after re-anchoring")
	}
}

func TestReconcileLedgerOrphans_SkipsAlreadyLinkedClaims(t *testing.T) {
	farmer := testFarmer()
	orphan := orphanClaim(farmer.ID)
	ledgerID := "ledger-99"
	orphan.LedgerClaimID = &ledgerID
	repo := &reconcilerRepoStub{
		claimRepoStub: claimRepoStub{farmer: farmer},
		orphans:       []domain.Claim{*orphan},
		claims:        map[uuid.UUID]*domain.Claim{orphan.ID: orphan},
	}
	ledger := &ledgerClientStub{}
	reconciler := newTestReconciler(repo, ledger, &publisherStub{})

	retried, failed := reconciler.ReconcileLedgerOrphans(context.Background())
	if retried != 1 || failed != 0 {
		t.Fatalf("expected linked claim to count as retried no-op, got %d/%d", retried, failed)
	}
	if ledger.submitCalls != 0 {
		t.Fatal("already linked claim must not be re-submitted to the ledger")
	}
}

func TestReconcileLedgerOrphans_CountsLedgerFailures(t *testing.T) {
	farmer := testFarmer()
	orphan := orphanClaim(farmer.ID)
	repo := &reconcilerRepoStub{
		claimRepoStub: claimRepoStub{farmer: farmer},
		orphans:       []domain.Claim{*orphan},
		claims:        map[uuid.UUID]*domain.Claim{orphan.ID: orphan},
	}
	ledger := &ledgerClientStub{submitErr: errors.New("still down")}
	reconciler := newTestReconciler(repo, ledger, &publisherStub{})

	retried, failed := reconciler.ReconcileLedgerOrphans(context.Background())
	if retried != 0 || failed != 1 {
		t.Fatalf("expected 0 retried / 1 failed, got %d/%d", retried, failed)
	}
}

func TestPurgeExpiredOTPs_UsesRetentionCutoff(t *testing.T) {
	repo := &reconcilerRepoStub{purged: 7}
	reconciler := newTestReconciler(repo, &ledgerClientStub{}, &publisherStub{})

	purged, err := reconciler.PurgeExpiredOTPs(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpiredOTPs returned error: %v", err)
	}
	if purged != 7 {
		t.Fatalf("expected purge count 7, got %d", purged)
	}
	cutoff := time.Now().UTC().Add(-time.Hour)
	if diff := repo.purgeTime.Sub(cutoff); diff > time.Minute || diff < -time.Minute {
		t.Fatalf("expected cutoff roughly one hour ago, got %v", repo.purgeTime)
	}
}
