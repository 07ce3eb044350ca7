package domain

import "testing"

func TestClaimStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from ClaimStatus
		to   ClaimStatus
		want bool
	}{
		{"submitted to ml_verification", ClaimStatusSubmitted, ClaimStatusMLVerification, true},
		{"submitted to rejected", ClaimStatusSubmitted, ClaimStatusRejected, true},
		{"submitted to approved skips verification", ClaimStatusSubmitted, ClaimStatusApproved, false},
		{"submitted to paid skips everything", ClaimStatusSubmitted, ClaimStatusPaid, false},
		{"ml_verification to approved", ClaimStatusMLVerification, ClaimStatusApproved, true},
		{"ml_verification to rejected", ClaimStatusMLVerification, ClaimStatusRejected, true},
		{"ml_verification to paid skips approval", ClaimStatusMLVerification, ClaimStatusPaid, false},
		{"approved to paid", ClaimStatusApproved, ClaimStatusPaid, true},
		{"approved to rejected", ClaimStatusApproved, ClaimStatusRejected, false},
		{"rejected is terminal", ClaimStatusRejected, ClaimStatusSubmitted, false},
		{"paid is terminal", ClaimStatusPaid, ClaimStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Fatalf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestClaimStatusIsTerminal(t *testing.T) {
	terminal := map[ClaimStatus]bool{
		ClaimStatusSubmitted:      false,
		ClaimStatusMLVerification: false,
		ClaimStatusApproved:       false,
		ClaimStatusRejected:       true,
		ClaimStatusPaid:           true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("IsTerminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestHasLedgerLinkage(t *testing.T) {
	var c Claim
	if c.HasLedgerLinkage() {
		t.Fatal("claim without ledger_claim_id should not report linkage")
	}
	empty := ""
	c.LedgerClaimID = &empty
	if c.HasLedgerLinkage() {
		t.Fatal("claim with empty ledger_claim_id should not report linkage")
	}
	id := "42"
	c.LedgerClaimID = &id
	if !c.HasLedgerLinkage() {
		t.Fatal("claim with ledger_claim_id should report linkage")
	}
}
