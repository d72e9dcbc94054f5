/**
 * @description
 * This file sets up the HTTP router for the bond transaction service. It
 * defines the API endpoints, associates them with their corresponding
 * handlers, and applies any necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TransactionRoutes creates and returns a new router for the service.
func TransactionRoutes(h *TransactionHandlers, serviceTokenSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require a service token.
	r.Group(func(r chi.Router) {
		r.Use(ServiceAuthMiddleware(serviceTokenSecret))

		r.Post("/transactions", h.SubmitTransactionHandler)
		r.Post("/transactions/{id}/verify", h.VerifyTransactionHandler)
		r.Get("/transactions/{id}", h.GetTransactionHandler)
		r.Get("/transactions/{id}/events", h.ListEventsHandler)
	})

	return r
}
