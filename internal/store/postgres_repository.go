/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to claims, farmers, payout transactions, and OTP records.
 *
 * Every state-changing claim update is a single-row, single-statement UPDATE
 * conditioned on the previous known state; a stale read surfaces as a
 * conflict sentinel instead of silently overwriting newer data.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krishiraksha/claim-service/internal/domain"
)

var (
	ErrFarmerNotFound       = errors.New("farmer not found")
	ErrClaimNotFound        = errors.New("claim not found")
	ErrClaimStateConflict   = errors.New("claim is not in the expected state")
	ErrLedgerAlreadyLinked  = errors.New("claim already has a ledger linkage")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrTransactionFinalized = errors.New("transaction already has a terminal status")
	ErrOTPNotMatched        = errors.New("no matching otp record")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const claimColumns = `
	id, farmer_id, farmer_phone, crop_type, damage_percentage, claim_amount,
	COALESCE(damage_description, '') AS damage_description,
	COALESCE(damage_cause, '') AS damage_cause,
	COALESCE(ipfs_hash, '') AS ipfs_hash,
	evidence_urls,
	COALESCE(geo_location, '') AS geo_location,
	status, ledger_claim_id, ledger_tx_hash,
	ml_image_verified, ml_fraud_score, ml_predicted_damage, ml_predicted_yield,
	ml_verification_result, rejection_reason,
	ledger_approved, ledger_approval_tx_hash,
	payout_status, payout_reference, payout_tx_hash, payout_completed_at,
	created_at, updated_at
`

func scanClaim(row pgx.Row) (*domain.Claim, error) {
	var c domain.Claim
	err := row.Scan(
		&c.ID, &c.FarmerID, &c.FarmerPhone, &c.CropType, &c.DamagePercentage, &c.ClaimAmount,
		&c.DamageDescription, &c.DamageCause, &c.IPFSHash, &c.EvidenceURLs, &c.GeoLocation,
		&c.Status, &c.LedgerClaimID, &c.LedgerTxHash,
		&c.MLImageVerified, &c.MLFraudScore, &c.MLPredictedDamage, &c.MLPredictedYield,
		&c.MLResult, &c.RejectionReason,
		&c.LedgerApproved, &c.LedgerApprovalTx,
		&c.PayoutStatus, &c.PayoutReference, &c.PayoutTxHash, &c.PayoutCompletedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindFarmerByID retrieves a farmer from the database by their ID.
func (r *PostgresRepository) FindFarmerByID(ctx context.Context, farmerID uuid.UUID) (*domain.Farmer, error) {
	var f domain.Farmer
	query := `
		SELECT id, phone, email, name, village, district, state,
		       COALESCE(land_size_acres, 0), COALESCE(crop_type, ''),
		       upi_id, bank_account_number, bank_ifsc_code, bank_name,
		       is_phone_verified, is_email_verified
		FROM farmers
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, farmerID).Scan(
		&f.ID, &f.Phone, &f.Email, &f.Name, &f.Village, &f.District, &f.State,
		&f.LandSizeAcres, &f.CropType,
		&f.UPIID, &f.BankAccountNumber, &f.BankIFSCCode, &f.BankName,
		&f.IsPhoneVerified, &f.IsEmailVerified,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrFarmerNotFound
		}
		return nil, err
	}
	return &f, nil
}

// MarkFarmerChannelVerified flips the matching verification flag after a
// successful OTP verification. Missing farmers are not an error: an OTP can
// be verified during signup before the farmer row exists.
func (r *PostgresRepository) MarkFarmerChannelVerified(ctx context.Context, identifier string, kind domain.OTPKind) error {
	var query string
	switch kind {
	case domain.OTPKindPhone:
		query = `UPDATE farmers SET is_phone_verified = true, updated_at = NOW() WHERE phone = $1`
	case domain.OTPKindEmail:
		query = `UPDATE farmers SET is_email_verified = true, updated_at = NOW() WHERE lower(email) = lower($1)`
	default:
		return fmt.Errorf("unknown otp kind %q", kind)
	}
	_, err := r.db.Exec(ctx, query, identifier)
	return err
}

// CreateClaim inserts a new claim record with status 'submitted'.
func (r *PostgresRepository) CreateClaim(ctx context.Context, claim *domain.Claim) error {
	query := `
		INSERT INTO claims (
			id, farmer_id, farmer_phone, crop_type, damage_percentage, claim_amount,
			damage_description, damage_cause, ipfs_hash, evidence_urls, geo_location, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		claim.ID,
		claim.FarmerID,
		claim.FarmerPhone,
		claim.CropType,
		claim.DamagePercentage,
		claim.ClaimAmount,
		claim.DamageDescription,
		claim.DamageCause,
		claim.IPFSHash,
		claim.EvidenceURLs,
		claim.GeoLocation,
		claim.Status,
	).Scan(&claim.CreatedAt, &claim.UpdatedAt)
}

// FindClaimByID retrieves a claim by its ID.
func (r *PostgresRepository) FindClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.Claim, error) {
	claim, err := scanClaim(r.db.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, claimID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return claim, nil
}

// FindClaimsByFarmerID retrieves all claims for a farmer, newest first.
func (r *PostgresRepository) FindClaimsByFarmerID(ctx context.Context, farmerID uuid.UUID) ([]domain.Claim, error) {
	rows, err := r.db.Query(ctx, `SELECT `+claimColumns+` FROM claims WHERE farmer_id = $1 ORDER BY created_at DESC`, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}
	return claims, rows.Err()
}

// SetLedgerLinkage persists the ledger claim id and submission tx hash.
// The ledger_claim_id column is written at most once: the WHERE clause only
// matches rows that are still unlinked and still in 'submitted'.
func (r *PostgresRepository) SetLedgerLinkage(ctx context.Context, claimID uuid.UUID, ledgerClaimID, txHash string) error {
	query := `
		UPDATE claims
		SET ledger_claim_id = $2, ledger_tx_hash = $3, updated_at = NOW()
		WHERE id = $1 AND ledger_claim_id IS NULL AND status = 'submitted'
	`
	result, err := r.db.Exec(ctx, query, claimID, ledgerClaimID, txHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		// Distinguish a missing claim from one that is already linked.
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM claims WHERE id = $1)`, claimID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrClaimNotFound
		}
		return ErrLedgerAlreadyLinked
	}
	return nil
}

// UpdateClaimVerification writes all scoring fields and the resulting status
// in one statement. The auditability requirement means scoring fields are
// persisted on both the approval and rejection branches.
func (r *PostgresRepository) UpdateClaimVerification(ctx context.Context, claimID uuid.UUID, params ClaimVerificationParams) error {
	query := `
		UPDATE claims
		SET
			ml_image_verified = $2,
			ml_fraud_score = $3,
			ml_predicted_damage = $4,
			ml_predicted_yield = $5,
			ml_verification_result = $6,
			status = $7,
			rejection_reason = $8,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('submitted', 'ml_verification')
	`
	result, err := r.db.Exec(ctx, query,
		claimID,
		params.ImageVerified,
		params.FraudScore,
		params.PredictedDamage,
		params.PredictedYield,
		params.RawResult,
		params.Status,
		params.RejectionReason,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClaimStateConflict
	}
	return nil
}

// ApproveClaim records the ledger approval and moves the claim to 'approved'.
func (r *PostgresRepository) ApproveClaim(ctx context.Context, claimID uuid.UUID, approvalTxHash string) error {
	query := `
		UPDATE claims
		SET ledger_approved = true, ledger_approval_tx_hash = $2, status = 'approved', updated_at = NOW()
		WHERE id = $1 AND status = 'ml_verification'
	`
	result, err := r.db.Exec(ctx, query, claimID, approvalTxHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClaimStateConflict
	}
	return nil
}

// MarkClaimPaid records payout completion and moves the claim to 'paid'.
func (r *PostgresRepository) MarkClaimPaid(ctx context.Context, claimID uuid.UUID, reference, payoutTxHash string) error {
	query := `
		UPDATE claims
		SET
			payout_status = 'completed',
			payout_reference = $2,
			payout_tx_hash = $3,
			payout_completed_at = NOW(),
			status = 'paid',
			updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
	`
	result, err := r.db.Exec(ctx, query, claimID, reference, payoutTxHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClaimStateConflict
	}
	return nil
}

// FindLedgerOrphanClaims returns claims whose ledger submission never
// completed: the row exists with status 'submitted' but no linkage, and is
// older than the reconciliation grace period.
func (r *PostgresRepository) FindLedgerOrphanClaims(ctx context.Context, olderThan time.Time, limit int) ([]domain.Claim, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + claimColumns + `
		FROM claims
		WHERE status = 'submitted' AND ledger_claim_id IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}
	return claims, rows.Err()
}

// CreateTransaction inserts a new payout transaction record.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, claim_id, farmer_id, amount, channel, destination, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		tx.ID, tx.ClaimID, tx.FarmerID, tx.Amount, tx.Channel, tx.Destination, tx.Status,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
}

// FinalizeTransaction writes the terminal status exactly once.
func (r *PostgresRepository) FinalizeTransaction(ctx context.Context, transactionID uuid.UUID, status string, gatewayReference, failureReason *string) error {
	query := `
		UPDATE transactions
		SET status = $2, gateway_reference = $3, failure_reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'initiated'
	`
	result, err := r.db.Exec(ctx, query, transactionID, status, gatewayReference, failureReason)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, transactionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrTransactionFinalized
	}
	return nil
}

// FindTransactionsByClaimID retrieves all payout attempts for a claim, newest first.
func (r *PostgresRepository) FindTransactionsByClaimID(ctx context.Context, claimID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT id, claim_id, farmer_id, amount, channel, destination, status,
		       gateway_reference, failure_reason, created_at, updated_at
		FROM transactions
		WHERE claim_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		err := rows.Scan(
			&tx.ID, &tx.ClaimID, &tx.FarmerID, &tx.Amount, &tx.Channel, &tx.Destination,
			&tx.Status, &tx.GatewayReference, &tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}
