/**
 * @description
 * Background reconciliation for the claim-service. Two cron jobs run inside
 * the service process:
 *
 *   - The ledger orphan sweep finds claims that were created but never
 *     anchored on the ledger (crash or outage between the row insert and the
 *     ledger call) and retries their submission.
 *   - The OTP purge deletes expired passcode rows past their retention.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Job scheduling.
 * - internal/store: Orphan and OTP queries.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/krishiraksha/claim-service/internal/store"
	"github.com/robfig/cron/v3"
)

const reconcileRunTimeout = 5 * time.Minute

// ReconcilerConfig carries the schedules and windows for the sweeps.
type ReconcilerConfig struct {
	LedgerSweepSpec   string
	LedgerGracePeriod time.Duration
	LedgerBatchSize   int
	OTPPurgeSpec      string
	OTPRetention      time.Duration
}

// Reconciler owns the cron scheduler and the sweep implementations.
type Reconciler struct {
	cron    *cron.Cron
	repo    store.Repository
	service *Service
	config  ReconcilerConfig
}

// NewReconciler creates a reconciler; Start must be called to schedule jobs.
func NewReconciler(repo store.Repository, service *Service, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		repo:    repo,
		service: service,
		config:  cfg,
	}
}

// Start registers the sweeps and starts the cron scheduler.
func (r *Reconciler) Start() {
	if _, err := r.cron.AddFunc(r.config.LedgerSweepSpec, r.runLedgerSweep); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to schedule ledger sweep\" spec=%q err=%v", r.config.LedgerSweepSpec, err)
	} else {
		log.Printf("level=info component=reconciler msg=\"scheduled ledger sweep\" spec=%q", r.config.LedgerSweepSpec)
	}

	if _, err := r.cron.AddFunc(r.config.OTPPurgeSpec, r.runOTPPurge); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to schedule otp purge\" spec=%q err=%v", r.config.OTPPurgeSpec, err)
	} else {
		log.Printf("level=info component=reconciler msg=\"scheduled otp purge\" spec=%q", r.config.OTPPurgeSpec)
	}

	r.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Reconciler) runLedgerSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileRunTimeout)
	defer cancel()
	retried, failed := r.ReconcileLedgerOrphans(ctx)
	if retried > 0 || failed > 0 {
		log.Printf("level=info component=reconciler job=ledger_sweep retried=%d failed=%d", retried, failed)
	}
}

// ReconcileLedgerOrphans retries the ledger submission for claims that are
// older than the grace period and still unlinked. Returns how many claims
// were successfully re-anchored and how many attempts failed.
func (r *Reconciler) ReconcileLedgerOrphans(ctx context.Context) (retried, failed int) {
	cutoff := time.Now().UTC().Add(-r.config.LedgerGracePeriod)
	orphans, err := r.repo.FindLedgerOrphanClaims(ctx, cutoff, r.config.LedgerBatchSize)
	if err != nil {
		log.Printf("level=error component=reconciler job=ledger_sweep msg=\"failed to list orphan claims\" err=%v", err)
		return 0, 0
	}

	for _, claim := range orphans {
		if _, err := r.service.RetryLedgerSubmission(ctx, claim.ID); err != nil {
			failed++
			log.Printf("level=warn component=reconciler job=ledger_sweep claim_id=%s msg=\"retry failed\" err=%v", claim.ID, err)
			continue
		}
		retried++
	}
	return retried, failed
}

func (r *Reconciler) runOTPPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileRunTimeout)
	defer cancel()
	purged, err := r.PurgeExpiredOTPs(ctx)
	if err != nil {
		log.Printf("level=error component=reconciler job=otp_purge msg=\"purge failed\" err=%v", err)
		return
	}
	if purged > 0 {
		log.Printf("level=info component=reconciler job=otp_purge purged=%d", purged)
	}
}

// PurgeExpiredOTPs removes passcode rows whose expiry is past the retention
// window.
func (r *Reconciler) PurgeExpiredOTPs(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-r.config.OTPRetention)
	return r.repo.PurgeExpiredOTPs(ctx, cutoff)
}
