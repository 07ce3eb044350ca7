/**
 * @description
 * This file contains the HTTP handlers for the claim-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/evidenceclient, pkg/mlclient: Evidence file DTOs and error sentinels.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/krishiraksha/claim-service/internal/app"
	"github.com/krishiraksha/claim-service/internal/domain"
	"github.com/krishiraksha/claim-service/internal/store"
	"github.com/krishiraksha/claim-service/pkg/evidenceclient"
	"github.com/krishiraksha/claim-service/pkg/mlclient"
)

const maxEvidenceUploadBytes = 32 << 20

// ClaimHandlers holds the application services that handlers will use.
type ClaimHandlers struct {
	service    *app.Service
	otpService *app.OTPService
}

// NewClaimHandlers creates a new instance of ClaimHandlers.
func NewClaimHandlers(service *app.Service, otpService *app.OTPService) *ClaimHandlers {
	return &ClaimHandlers{service: service, otpService: otpService}
}

// authenticatedFarmerID extracts and parses the farmer UUID from the request
// context. Writes the error response itself on failure.
func (h *ClaimHandlers) authenticatedFarmerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	farmerIDStr, ok := GetFarmerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get farmer ID from context")
		return uuid.Nil, false
	}
	farmerID, err := uuid.Parse(farmerIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_farmer_id farmer_id=%s", farmerIDStr)
		h.writeError(w, http.StatusBadRequest, "Invalid farmer ID format")
		return uuid.Nil, false
	}
	return farmerID, true
}

func claimIDFromURL(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "claimID"))
}

// SubmitClaimHandler handles claim submissions. Accepts either a JSON body or
// a multipart form carrying evidence files under the "evidence" field.
func (h *ClaimHandlers) SubmitClaimHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.authenticatedFarmerID(w, r)
	if !ok {
		return
	}

	var req domain.SubmitClaimRequest
	var files []evidenceclient.File

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxEvidenceUploadBytes); err != nil {
			log.Printf("level=warn component=api endpoint=submit_claim outcome=reject reason=invalid_multipart err=%v", err)
			h.writeError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}
		req.CropType = r.FormValue("crop_type")
		req.DamageDescription = r.FormValue("damage_description")
		req.DamageCause = r.FormValue("damage_cause")
		req.GeoLocation = r.FormValue("geo_location")
		if v := r.FormValue("damage_percentage"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, "Invalid damage_percentage")
				return
			}
			req.DamagePercentage = parsed
		}
		if v := r.FormValue("claim_amount"); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, "Invalid claim_amount")
				return
			}
			req.ClaimAmount = parsed
		}

		if r.MultipartForm != nil {
			for _, header := range r.MultipartForm.File["evidence"] {
				file, err := header.Open()
				if err != nil {
					h.writeError(w, http.StatusBadRequest, "Could not read evidence file")
					return
				}
				data, err := io.ReadAll(file)
				file.Close()
				if err != nil {
					h.writeError(w, http.StatusBadRequest, "Could not read evidence file")
					return
				}
				files = append(files, evidenceclient.File{
					Name:        header.Filename,
					ContentType: header.Header.Get("Content-Type"),
					Data:        data,
				})
			}
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("level=warn component=api endpoint=submit_claim outcome=reject reason=invalid_json err=%v", err)
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}

	claim, err := h.service.SubmitClaim(r.Context(), farmerID, req, files)
	if err != nil {
		h.writeClaimError(w, "submit_claim", err)
		return
	}

	log.Printf("level=info component=api endpoint=submit_claim outcome=accepted claim_id=%s farmer_id=%s amount=%d", claim.ID, farmerID, claim.ClaimAmount)
	h.writeJSON(w, http.StatusCreated, claim)
}

// ListClaimsHandler returns the authenticated farmer's claims.
func (h *ClaimHandlers) ListClaimsHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.authenticatedFarmerID(w, r)
	if !ok {
		return
	}

	claims, err := h.service.ListClaims(r.Context(), farmerID)
	if err != nil {
		h.writeClaimError(w, "list_claims", err)
		return
	}
	if claims == nil {
		claims = []domain.Claim{}
	}
	h.writeJSON(w, http.StatusOK, claims)
}

// GetClaimHandler returns one claim. Farmers can only read their own claims.
func (h *ClaimHandlers) GetClaimHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.authenticatedFarmerID(w, r)
	if !ok {
		return
	}
	claimID, err := claimIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID")
		return
	}

	claim, err := h.service.GetClaim(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, "get_claim", err)
		return
	}
	if claim.FarmerID != farmerID {
		// Do not reveal whether the claim exists.
		h.writeError(w, http.StatusNotFound, "Claim not found")
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// ListClaimTransactionsHandler returns all payout attempts for a claim.
func (h *ClaimHandlers) ListClaimTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	farmerID, ok := h.authenticatedFarmerID(w, r)
	if !ok {
		return
	}
	claimID, err := claimIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID")
		return
	}

	claim, err := h.service.GetClaim(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, "list_claim_transactions", err)
		return
	}
	if claim.FarmerID != farmerID {
		h.writeError(w, http.StatusNotFound, "Claim not found")
		return
	}

	transactions, err := h.service.ListClaimTransactions(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, "list_claim_transactions", err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// ProcessVerificationHandler triggers verification for a claim synchronously.
// Operator endpoint; the broker consumer is the usual trigger.
func (h *ClaimHandlers) ProcessVerificationHandler(w http.ResponseWriter, r *http.Request) {
	claimID, err := claimIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID")
		return
	}

	claim, err := h.service.ProcessVerification(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, "process_verification", err)
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// DisburseHandler pays out an approved claim. Operator endpoint.
func (h *ClaimHandlers) DisburseHandler(w http.ResponseWriter, r *http.Request) {
	claimID, err := claimIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID")
		return
	}

	tx, err := h.service.Disburse(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, "disburse", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// RetryLedgerHandler re-anchors a claim whose ledger submission failed.
// Operator endpoint.
func (h *ClaimHandlers) RetryLedgerHandler(w http.ResponseWriter, r *http.Request) {
	claimID, err := claimIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID")
		return
	}

	claim, err := h.service.RetryLedgerSubmission(r.Context(), claimID)
	if err != nil {
		h.writeClaimError(w, "retry_ledger", err)
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

type otpSendRequest struct {
	Identifier string `json:"identifier"`
	Kind       string `json:"kind"`
}

type otpVerifyRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	Kind       string `json:"kind"`
}

func parseOTPKind(raw string) (domain.OTPKind, error) {
	switch domain.OTPKind(raw) {
	case domain.OTPKindEmail:
		return domain.OTPKindEmail, nil
	case domain.OTPKindPhone:
		return domain.OTPKindPhone, nil
	default:
		return "", fmt.Errorf("kind must be %q or %q", domain.OTPKindEmail, domain.OTPKindPhone)
	}
}

// SendOTPHandler issues a one-time passcode for a phone number or email.
func (h *ClaimHandlers) SendOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	kind, err := parseOTPKind(req.Kind)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	retryAfter, err := h.otpService.Send(r.Context(), req.Identifier, kind)
	if err != nil {
		if errors.Is(err, app.ErrOTPRateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many OTP requests. Please wait before retrying.")
			return
		}
		if errors.Is(err, app.ErrInvalidOTPIdentifier) {
			h.writeError(w, http.StatusBadRequest, "Invalid identifier")
			return
		}
		log.Printf("level=error component=api endpoint=send_otp msg=\"otp send failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not send OTP")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "OTP sent"})
}

// VerifyOTPHandler verifies a one-time passcode.
func (h *ClaimHandlers) VerifyOTPHandler(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	kind, err := parseOTPKind(req.Kind)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.otpService.Verify(r.Context(), req.Identifier, req.Code, kind); err != nil {
		if errors.Is(err, app.ErrInvalidOrExpiredOTP) {
			h.writeError(w, http.StatusBadRequest, "Invalid or expired OTP")
			return
		}
		log.Printf("level=error component=api endpoint=verify_otp msg=\"otp verify failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Could not verify OTP")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "OTP verified"})
}

// writeClaimError maps service and store errors onto HTTP status codes.
func (h *ClaimHandlers) writeClaimError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidClaimRequest):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrNoPayoutDestination):
		h.writeError(w, http.StatusUnprocessableEntity, "Farmer has no UPI id or bank account on file")
	case errors.Is(err, store.ErrFarmerNotFound):
		h.writeError(w, http.StatusNotFound, "Farmer not found")
	case errors.Is(err, store.ErrClaimNotFound):
		h.writeError(w, http.StatusNotFound, "Claim not found")
	case errors.Is(err, store.ErrClaimStateConflict),
		errors.Is(err, store.ErrLedgerAlreadyLinked),
		errors.Is(err, app.ErrMissingLedgerLinkage):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, mlclient.ErrVerificationUnavailable):
		h.writeError(w, http.StatusBadGateway, "Claim verification is temporarily unavailable")
	case errors.Is(err, app.ErrUpstreamUnavailable):
		log.Printf("level=warn component=api endpoint=%s msg=\"upstream dependency failed\" err=%v", endpoint, err)
		h.writeError(w, http.StatusBadGateway, "Upstream dependency failed")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *ClaimHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ClaimHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
