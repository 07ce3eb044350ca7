/**
 * @description
 * Broker-facing message handlers. The verification worker consumes
 * `claim.verification.requested` messages and runs ProcessVerification for
 * the named claim. Handlers return whether the delivery should be
 * acknowledged; transient failures re-queue, permanent ones drop.
 *
 * @dependencies
 * - encoding/json: Message decoding.
 * - internal/domain, internal/store: Domain models and error sentinels.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/krishiraksha/claim-service/internal/domain"
	"github.com/krishiraksha/claim-service/internal/store"
)

const verificationHandlerTimeout = 2 * time.Minute

// Consumer dispatches broker messages into the claim service.
type Consumer struct {
	service *Service
}

// NewConsumer creates a new message consumer for the claim service.
func NewConsumer(service *Service) *Consumer {
	return &Consumer{service: service}
}

// HandleVerificationRequested processes one verification request message.
// Returns true to acknowledge the delivery.
//
// Malformed payloads and missing claims are acknowledged and dropped: they
// can never succeed on redelivery. Upstream unavailability re-queues, since
// the collaborator may recover.
func (c *Consumer) HandleVerificationRequested(body []byte) bool {
	var event domain.VerificationRequestedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=claim_consumer msg=\"malformed verification request; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), verificationHandlerTimeout)
	defer cancel()

	_, err := c.service.ProcessVerification(ctx, event.ClaimID)
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, store.ErrClaimNotFound):
		log.Printf("level=warn component=claim_consumer claim_id=%s msg=\"claim not found; dropping verification request\"", event.ClaimID)
		return true
	case errors.Is(err, store.ErrClaimStateConflict):
		// Another worker already decided this claim.
		log.Printf("level=info component=claim_consumer claim_id=%s msg=\"claim state moved concurrently; dropping\"", event.ClaimID)
		return true
	case errors.Is(err, ErrMissingLedgerLinkage):
		// Premature request for an unanchored claim. Re-anchoring publishes a
		// fresh verification request, so redelivering this one would only
		// spin.
		log.Printf("level=warn component=claim_consumer claim_id=%s msg=\"claim not anchored yet; dropping verification request\"", event.ClaimID)
		return true
	default:
		log.Printf("level=warn component=claim_consumer claim_id=%s msg=\"verification failed; re-queuing\" err=%v", event.ClaimID, err)
		return false
	}
}
