/**
 * @description
 * This file contains the HTTP handlers for the bond transaction service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the command processor, and writing the HTTP response. They act as the bridge
 * between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For processor logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/app"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
)

// TransactionHandlers holds the collaborators that handlers use.
type TransactionHandlers struct {
	processor        *app.Processor
	events           store.EventStore
	projections      store.ProjectionStore
	signer           *app.Signer
	limiter          *app.RedisSubmissionRateLimiter
	submitRatePerMin int
}

// NewTransactionHandlers creates a new instance of TransactionHandlers. The
// limiter may be nil, which disables submission rate limiting.
func NewTransactionHandlers(processor *app.Processor, events store.EventStore, projections store.ProjectionStore, signer *app.Signer, limiter *app.RedisSubmissionRateLimiter, submitRatePerMin int) *TransactionHandlers {
	return &TransactionHandlers{
		processor:        processor,
		events:           events,
		projections:      projections,
		signer:           signer,
		limiter:          limiter,
		submitRatePerMin: submitRatePerMin,
	}
}

// enforceSubmitRateLimit returns false after writing a 429 when the actor has
// exceeded the per-minute submission budget. Limiter errors fail open.
func (h *TransactionHandlers) enforceSubmitRateLimit(w http.ResponseWriter, r *http.Request, actor string) bool {
	if h.limiter == nil || h.submitRatePerMin <= 0 {
		return true
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), "submit", actor, h.submitRatePerMin, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" actor=%s err=%v", actor, err)
		return true
	}
	if count > h.submitRatePerMin {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Submission rate limit exceeded")
		return false
	}
	return true
}

// submitTransactionRequest is the payload for creating a transaction. The
// caller-supplied timestamp is part of the signed canonical, so signed
// submissions must send the same timestamp they signed over; omitting it
// defaults to the server clock and only works unsigned.
type submitTransactionRequest struct {
	BondID           uuid.UUID         `json:"bond_id"`
	PaymentReference *uuid.UUID        `json:"payment_reference,omitempty"`
	TransactionType  string            `json:"transaction_type"`
	Amount           int64             `json:"amount"`
	Priority         string            `json:"priority,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Timestamp        time.Time         `json:"timestamp,omitempty"`
	RequestID        uuid.UUID         `json:"request_id"`
	CorrelationID    uuid.UUID         `json:"correlation_id"`
	CausationID      uuid.UUID         `json:"causation_id,omitempty"`
	Signature        string            `json:"signature,omitempty"`
}

// verifyTransactionRequest is the payload for submitting a verification. The
// timestamp carries the same signed-canonical contract as submission.
type verifyTransactionRequest struct {
	VerificationType string            `json:"verification_type"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Timestamp        time.Time         `json:"timestamp,omitempty"`
	RequestID        uuid.UUID         `json:"request_id"`
	CorrelationID    uuid.UUID         `json:"correlation_id"`
	Signature        string            `json:"signature,omitempty"`
}

type checkFailureResponse struct {
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

// eventResponse is one event envelope on the event-stream endpoint. The
// stored signature is re-verified at read time.
type eventResponse struct {
	EventID        uuid.UUID       `json:"event_id"`
	EventType      string          `json:"event_type"`
	Version        int64           `json:"version"`
	CorrelationID  uuid.UUID       `json:"correlation_id"`
	CausationID    uuid.UUID       `json:"causation_id"`
	Timestamp      string          `json:"timestamp"`
	Data           json.RawMessage `json:"data"`
	SignatureValid bool            `json:"signature_valid"`
}

// SubmitTransactionHandler handles requests to create a new transaction.
func (h *TransactionHandlers) SubmitTransactionHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActorID(r.Context())
	if !ok {
		http.Error(w, "Could not get actor from context", http.StatusInternalServerError)
		return
	}
	if !h.enforceSubmitRateLimit(w, r, actor) {
		return
	}

	var req submitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_transaction outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	cmd, err := domain.NewCommand(domain.CommandParams{
		BondID:           req.BondID,
		PaymentReference: req.PaymentReference,
		TransactionType:  domain.TransactionType(req.TransactionType),
		Amount:           req.Amount,
		Metadata:         req.Metadata,
		Priority:         domain.CommandPriority(req.Priority),
		Timestamp:        req.Timestamp,
		RequestID:        req.RequestID,
		CorrelationID:    req.CorrelationID,
		CausationID:      req.CausationID,
		Signature:        req.Signature,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}

	pctx := app.ProcessorContext{ActorID: actor, RequestID: cmd.RequestID, Clearance: GetClearance(r.Context())}
	row, err := h.processor.SubmitTransaction(r.Context(), pctx, cmd)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=submit_transaction outcome=accepted transaction_id=%s bond_id=%s amount=%d actor=%s",
		row.TransactionID, cmd.BondID, cmd.Amount, actor)
	h.writeJSON(w, http.StatusCreated, row)
}

// VerifyTransactionHandler handles verification submissions for an existing
// transaction.
func (h *TransactionHandlers) VerifyTransactionHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActorID(r.Context())
	if !ok {
		http.Error(w, "Could not get actor from context", http.StatusInternalServerError)
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	var req verifyTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=verify_transaction outcome=reject reason=invalid_json err=%v", err)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	// The command carries the transaction's own bond and amount; they come
	// from the projection rather than the caller.
	current, err := h.projections.GetProjection(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, store.ErrProjectionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=verify_transaction msg=\"projection lookup failed\" transaction_id=%s err=%v", transactionID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load transaction")
		return
	}

	cmd, err := domain.NewCommand(domain.CommandParams{
		BondID:           current.BondID,
		TransactionType:  current.TransactionType,
		VerificationType: domain.VerificationType(req.VerificationType),
		Amount:           current.Amount,
		Metadata:         req.Metadata,
		Timestamp:        req.Timestamp,
		RequestID:        req.RequestID,
		CorrelationID:    req.CorrelationID,
		Signature:        req.Signature,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}

	pctx := app.ProcessorContext{ActorID: actor, RequestID: cmd.RequestID, Clearance: GetClearance(r.Context())}
	row, err := h.processor.SubmitVerification(r.Context(), pctx, transactionID, cmd)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=verify_transaction outcome=accepted transaction_id=%s type=%s actor=%s",
		transactionID, req.VerificationType, actor)
	h.writeJSON(w, http.StatusOK, row)
}

// GetTransactionHandler returns the projection row for a transaction.
func (h *TransactionHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	row, err := h.projections.GetProjection(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, store.ErrProjectionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_transaction msg=\"projection lookup failed\" transaction_id=%s err=%v", transactionID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load transaction")
		return
	}

	h.writeJSON(w, http.StatusOK, row)
}

// ListEventsHandler returns the transaction's full event stream in version
// order, re-verifying each stored signature at read time.
func (h *TransactionHandlers) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	events, err := h.events.Load(r.Context(), transactionID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_events msg=\"event load failed\" transaction_id=%s err=%v", transactionID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load events")
		return
	}
	if len(events) == 0 {
		h.writeError(w, http.StatusNotFound, "Transaction not found")
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		payload, err := domain.EncodeEventData(event.Data)
		if err != nil {
			log.Printf("level=error component=api endpoint=list_events msg=\"event encode failed\" event_id=%s err=%v", event.EventID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to encode events")
			return
		}
		valid := h.signer.VerifyEvent(event)
		if !valid {
			log.Printf("level=warn component=api endpoint=list_events msg=\"stored event failed signature verification\" event_id=%s version=%d", event.EventID, event.Metadata.Version)
		}
		out = append(out, eventResponse{
			EventID:        event.EventID,
			EventType:      string(event.EventType),
			Version:        event.Metadata.Version,
			CorrelationID:  event.Metadata.CorrelationID,
			CausationID:    event.Metadata.CausationID,
			Timestamp:      event.Metadata.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
			Data:           payload,
			SignatureValid: valid,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": transactionID,
		"events":         out,
	})
}

// writeCommandError maps processor and domain errors to HTTP responses.
func (h *TransactionHandlers) writeCommandError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
		return
	}

	var pipelineErr *app.PipelineError
	if errors.As(err, &pipelineErr) {
		failures := make([]checkFailureResponse, len(pipelineErr.Failures))
		for i, f := range pipelineErr.Failures {
			failures[i] = checkFailureResponse{Check: f.Check, Reason: f.Reason}
		}
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    "validation failed",
			"failures": failures,
		})
		return
	}

	var verificationErr *app.VerificationFailure
	if errors.As(err, &verificationErr) {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":             verificationErr.Error(),
			"verification_type": string(verificationErr.VerificationType),
			"reason":            verificationErr.Reason,
			"retry_count":       verificationErr.RetryCount,
		})
		return
	}

	switch {
	case errors.Is(err, app.ErrCircuitOpen):
		h.writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable; please retry shortly")
	case errors.Is(err, store.ErrConcurrencyConflict):
		h.writeError(w, http.StatusConflict, "Transaction was modified concurrently; reload and retry")
	case errors.Is(err, store.ErrAggregateNotFound), errors.Is(err, store.ErrProjectionNotFound):
		h.writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, app.ErrTerminalState):
		h.writeError(w, http.StatusConflict, "Transaction is in a terminal state")
	case errors.Is(err, app.ErrRetriesExhausted):
		h.writeError(w, http.StatusConflict, "Verification retries exhausted")
	case errors.Is(err, app.ErrVerificationTypeNeeded):
		h.writeError(w, http.StatusBadRequest, "verification_type is required")
	default:
		log.Printf("level=error component=api msg=\"command processing failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to process command")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *TransactionHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *TransactionHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
