/**
 * @description
 * This file sets up the HTTP router for the claim-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * Routes fall into three groups: public OTP endpoints, farmer-facing claim
 * endpoints guarded by JWT auth, and operator endpoints guarded by the shared
 * internal API key.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for chi.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ClaimRoutes creates and returns a new router for the claim service.
func ClaimRoutes(h *ClaimHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public OTP endpoints; delivery happens out of band so no auth is
	// required to request a code.
	r.Post("/otp/send", h.SendOTPHandler)
	r.Post("/otp/verify", h.VerifyOTPHandler)

	// Farmer-facing endpoints require a valid JWT.
	r.Group(func(r chi.Router) {
		r.Use(FarmerAuthMiddleware(jwksURL))

		r.Post("/claims", h.SubmitClaimHandler)
		r.Get("/claims", h.ListClaimsHandler)
		r.Get("/claims/{claimID}", h.GetClaimHandler)
		r.Get("/claims/{claimID}/transactions", h.ListClaimTransactionsHandler)
	})

	// Operator endpoints require the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/claims/{claimID}/process", h.ProcessVerificationHandler)
		r.Post("/internal/claims/{claimID}/disburse", h.DisburseHandler)
		r.Post("/internal/claims/{claimID}/retry-ledger", h.RetryLedgerHandler)
	})

	return r
}
