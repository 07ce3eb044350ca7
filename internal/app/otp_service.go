/**
 * @description
 * One-time passcode issuance and verification. Codes are six digits, expire
 * after a configurable window, and are handed off to the notification
 * collaborator over RabbitMQ rather than delivered in-process. Sends are
 * throttled per identifier through the Redis rate limiter.
 *
 * Verification is uniform on failure: wrong code, expired code, already used
 * code, and never-sent code all surface as ErrInvalidOrExpiredOTP so the
 * response does not leak which case occurred.
 *
 * @dependencies
 * - crypto/rand: Unbiased code generation.
 * - internal/domain, internal/store: Domain models and persistence.
 * - pkg/rabbitmq: Delivery event handoff.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/krishiraksha/claim-service/internal/domain"
	"github.com/krishiraksha/claim-service/internal/store"
	"github.com/krishiraksha/claim-service/pkg/rabbitmq"
)

var (
	// ErrInvalidOrExpiredOTP covers every verification failure uniformly.
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired OTP")
	// ErrOTPRateLimited is returned when an identifier exceeds its send quota.
	ErrOTPRateLimited = errors.New("too many OTP requests")
	// ErrInvalidOTPIdentifier is returned for a blank or malformed identifier.
	ErrInvalidOTPIdentifier = errors.New("invalid OTP identifier")
)

const otpRateLimitScope = "otp_send"

// OTPRateLimiter throttles sends per identifier.
type OTPRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// OTPService issues and verifies one-time passcodes.
type OTPService struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	rateLimiter   OTPRateLimiter
	eventExchange string
	expiry        time.Duration
	sendLimit     int
}

// NewOTPService creates a new OTP service instance.
func NewOTPService(
	repo store.Repository,
	producer rabbitmq.Publisher,
	limiter OTPRateLimiter,
	eventExchange string,
	expiry time.Duration,
	sendLimitPerHour int,
) *OTPService {
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &OTPService{
		repo:          repo,
		eventProducer: producer,
		rateLimiter:   limiter,
		eventExchange: eventExchange,
		expiry:        expiry,
		sendLimit:     sendLimitPerHour,
	}
}

// generateOTP returns a six digit numeric code using crypto/rand.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// Send issues a fresh code for identifier and publishes a delivery event.
// The returned retryAfterSeconds is only meaningful when the error is
// ErrOTPRateLimited.
func (s *OTPService) Send(ctx context.Context, identifier string, kind domain.OTPKind) (retryAfterSeconds int, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return 0, ErrInvalidOTPIdentifier
	}
	if kind != domain.OTPKindEmail && kind != domain.OTPKindPhone {
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidOTPIdentifier, kind)
	}

	if s.rateLimiter != nil {
		count, retryAfter, limitErr := s.rateLimiter.ConsumeRateLimit(ctx, otpRateLimitScope, identifier, s.sendLimit, time.Hour)
		if limitErr != nil {
			// Throttle failures must not block OTP delivery.
			log.Printf("level=warn component=otp_service op=send msg=\"rate limiter unavailable; allowing send\" err=%v", limitErr)
		} else if s.sendLimit > 0 && count > s.sendLimit {
			return retryAfter, ErrOTPRateLimited
		}
	}

	code, err := generateOTP()
	if err != nil {
		return 0, err
	}

	record := &domain.OTPRecord{
		ID:        uuid.New(),
		Code:      code,
		Kind:      kind,
		ExpiresAt: time.Now().UTC().Add(s.expiry),
	}
	switch kind {
	case domain.OTPKindEmail:
		record.Email = &identifier
	case domain.OTPKindPhone:
		record.Phone = &identifier
	}

	if err := s.repo.CreateOTPRecord(ctx, record); err != nil {
		return 0, fmt.Errorf("failed to persist OTP record: %w", err)
	}

	event := domain.OTPDeliveryEvent{
		Identifier: identifier,
		Kind:       kind,
		Code:       code,
		ExpiresAt:  record.ExpiresAt,
	}
	if err := s.eventProducer.PublishOTPDeliveryEvent(ctx, s.eventExchange, event); err != nil {
		// The code is persisted and verifiable; delivery is best-effort and
		// the caller can re-request.
		log.Printf("level=warn component=otp_service op=send kind=%s msg=\"delivery event publish failed\" err=%v", kind, err)
	}
	return 0, nil
}

// Verify consumes the newest matching code and flips the farmer's channel
// verification flag on success.
func (s *OTPService) Verify(ctx context.Context, identifier, code string, kind domain.OTPKind) error {
	identifier = strings.TrimSpace(identifier)
	code = strings.TrimSpace(code)
	if identifier == "" || code == "" {
		return ErrInvalidOrExpiredOTP
	}

	_, err := s.repo.ConsumeOTP(ctx, identifier, code, kind)
	if err != nil {
		if errors.Is(err, store.ErrOTPNotMatched) {
			return ErrInvalidOrExpiredOTP
		}
		return fmt.Errorf("failed to verify OTP: %w", err)
	}

	if err := s.repo.MarkFarmerChannelVerified(ctx, identifier, kind); err != nil {
		// The OTP is consumed either way; the flag is advisory.
		log.Printf("level=warn component=otp_service op=verify kind=%s msg=\"failed to mark channel verified\" err=%v", kind, err)
	}
	return nil
}
