/**
 * @description
 * OTP persistence for the PostgreSQL repository. The verification path is a
 * single atomic statement so two concurrent verify calls for the same code
 * cannot both succeed.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: OTP domain models.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/krishiraksha/claim-service/internal/domain"
)

// CreateOTPRecord inserts a new one-time passcode row. Previous unverified
// codes for the same identifier are left in place; ConsumeOTP always picks
// the newest matching record, so re-sending simply supersedes older codes.
func (r *PostgresRepository) CreateOTPRecord(ctx context.Context, record *domain.OTPRecord) error {
	query := `
		INSERT INTO otp_records (id, email, phone, code, kind, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		record.ID, record.Email, record.Phone, record.Code, record.Kind, record.ExpiresAt,
	).Scan(&record.CreatedAt)
}

// ConsumeOTP flips the newest matching unverified, unexpired record to
// verified and returns its id. The inner SELECT uses FOR UPDATE SKIP LOCKED
// so a concurrent verify for the same code observes no candidate row and
// fails cleanly instead of blocking.
func (r *PostgresRepository) ConsumeOTP(ctx context.Context, identifier, code string, kind domain.OTPKind) (uuid.UUID, error) {
	var identifierColumn string
	switch kind {
	case domain.OTPKindEmail:
		identifierColumn = "email"
	case domain.OTPKindPhone:
		identifierColumn = "phone"
	default:
		return uuid.Nil, fmt.Errorf("unknown otp kind %q", kind)
	}

	query := fmt.Sprintf(`
		UPDATE otp_records
		SET verified = true
		WHERE id = (
			SELECT id FROM otp_records
			WHERE %s = $1 AND code = $2 AND verified = false AND expires_at > NOW()
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, identifierColumn)

	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, identifier, code).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrOTPNotMatched
		}
		return uuid.Nil, err
	}
	return id, nil
}

// PurgeExpiredOTPs deletes expired passcode rows and returns the count removed.
func (r *PostgresRepository) PurgeExpiredOTPs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM otp_records WHERE expires_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
