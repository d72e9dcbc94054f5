/**
 * @description
 * This file contains the command processor: the orchestrator that takes a
 * validated command through the validator pipeline, appends events to the
 * event store and updates the projection inside one atomic boundary, and
 * publishes the resulting domain events.
 *
 * Key behavior:
 * - No side effect before validation: a structural or pipeline failure
 *   returns a typed error with zero events appended.
 * - Optimistic concurrency: appends carry the version the processor last
 *   observed; a conflicting writer forces the caller to reload and retry.
 * - Circuit breaker: infrastructure failures trip the breaker, which then
 *   rejects requests immediately without touching the store.
 * - Verification: strategy dispatch by verification type; a failed strategy
 *   appends a Failed event (bounded by the retry maximum), a successful one
 *   appends a Verified event.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: Aggregate id generation.
 * - internal/domain, internal/store, pkg/rabbitmq: Models, persistence, publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
	"github.com/CrysisFangz/TheFinalMarket-sub019/pkg/rabbitmq"
)

// MaxVerificationRetries bounds how many failed verifications a transaction
// may accumulate before it is terminally failed.
const MaxVerificationRetries = 3

var (
	ErrRetriesExhausted       = errors.New("verification retries exhausted; transaction is terminally failed")
	ErrTerminalState          = errors.New("transaction is in a terminal state")
	ErrVerificationTypeNeeded = errors.New("verification command requires a verification type")
)

// VerificationFailure is the typed result of an unsuccessful verification
// strategy. The Failed event has already been appended when it is returned.
type VerificationFailure struct {
	VerificationType domain.VerificationType
	Reason           string
	RetryCount       int
	MaxRetries       int
}

func (e *VerificationFailure) Error() string {
	max := e.MaxRetries
	if max <= 0 {
		max = MaxVerificationRetries
	}
	return fmt.Sprintf("%s verification failed: %s (attempt %d of %d)", e.VerificationType, e.Reason, e.RetryCount, max)
}

// FraudAnalysis is the outcome reported by the fraud-analysis collaborator.
type FraudAnalysis struct {
	Success    bool
	Confidence float64
	Reason     string
}

// FraudAnalyzer is the injected fraud-analysis engine.
type FraudAnalyzer interface {
	Analyze(ctx context.Context, state domain.TransactionState, verificationData map[string]string) (FraudAnalysis, error)
}

// ProcessorContext carries the caller's identity explicitly through every
// operation; there is no ambient request state.
type ProcessorContext struct {
	ActorID   string
	RequestID uuid.UUID
	Clearance string
}

// Processor orchestrates command handling over the event store.
type Processor struct {
	events      store.EventStore
	projections store.ProjectionStore
	pipeline    *ValidatorPipeline
	projector   *Projector
	risk        *RiskCalculator
	signer      *Signer
	breaker     *CircuitBreaker
	publisher   rabbitmq.Publisher
	fraud       FraudAnalyzer
	compliance  ComplianceEngine
	exchange    string
	maxRetries  int
}

// NewProcessor creates a Processor. publisher and fraud may be nil; publishing
// degrades to a warn log and fraud verification to a failure. A non-positive
// maxRetries falls back to MaxVerificationRetries.
func NewProcessor(
	events store.EventStore,
	projections store.ProjectionStore,
	pipeline *ValidatorPipeline,
	projector *Projector,
	risk *RiskCalculator,
	signer *Signer,
	breaker *CircuitBreaker,
	publisher rabbitmq.Publisher,
	fraud FraudAnalyzer,
	compliance ComplianceEngine,
	exchange string,
	maxRetries int,
) *Processor {
	if exchange == "" {
		exchange = "bondtx.events"
	}
	if maxRetries <= 0 {
		maxRetries = MaxVerificationRetries
	}
	return &Processor{
		events:      events,
		projections: projections,
		pipeline:    pipeline,
		projector:   projector,
		risk:        risk,
		signer:      signer,
		breaker:     breaker,
		publisher:   publisher,
		fraud:       fraud,
		compliance:  compliance,
		exchange:    exchange,
		maxRetries:  maxRetries,
	}
}

func validateStructure(cmd domain.Command) error {
	if cmd.BondID == uuid.Nil {
		return &domain.ValidationError{Field: "bond_id", Reason: "is required"}
	}
	if cmd.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if cmd.CorrelationID == uuid.Nil {
		return &domain.ValidationError{Field: "correlation_id", Reason: "is required"}
	}
	return nil
}

// SubmitTransaction admits a transaction command: structural check, the
// concurrent validator pipeline, then — inside one atomic transaction — the
// Created event append and projection update, followed by a publish.
func (p *Processor) SubmitTransaction(ctx context.Context, pctx ProcessorContext, cmd domain.Command) (*domain.TransactionProjection, error) {
	if !p.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	if err := validateStructure(cmd); err != nil {
		return nil, err
	}

	transactionID := uuid.New()
	provisional := provisionalState(transactionID, cmd)

	if err := p.pipeline.Validate(ctx, cmd, provisional); err != nil {
		var pipelineErr *PipelineError
		if errors.As(err, &pipelineErr) {
			// Business rejection: nothing persisted, breaker untouched.
			return nil, err
		}
		p.breaker.RecordFailure()
		return nil, err
	}

	score := 0.0
	if p.risk != nil {
		// Cached from the pipeline's risk check moments earlier.
		s, _, err := p.risk.Score(ctx, provisional)
		if err == nil {
			score = s
		}
	}

	metadata := cmd.Metadata()
	if pctx.ActorID != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["actor_id"] = pctx.ActorID
	}
	event := domain.NewEvent(transactionID, domain.TransactionCreated{
		BondID:           cmd.BondID,
		PaymentReference: cmd.PaymentReference,
		TransactionType:  cmd.TransactionType,
		Amount:           cmd.Amount,
		Priority:         cmd.Priority,
		RiskScore:        score,
		Metadata:         metadata,
	}, cmd.CorrelationID, cmd.RequestID)

	row, err := p.appendAndProject(ctx, transactionID, 0, nil, event)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=processor msg=\"transaction created\" transaction_id=%s bond_id=%s amount=%d actor=%s risk_score=%.2f",
		transactionID, cmd.BondID, cmd.Amount, pctx.ActorID, score)
	return row, nil
}

// SubmitVerification loads the aggregate's folded state and projection,
// dispatches the verification strategy selected by the command, and appends
// a Verified or Failed event accordingly.
func (p *Processor) SubmitVerification(ctx context.Context, pctx ProcessorContext, transactionID uuid.UUID, cmd domain.Command) (*domain.TransactionProjection, error) {
	if !p.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	if cmd.VerificationType == "" {
		return nil, ErrVerificationTypeNeeded
	}

	state, current, err := p.loadForTransition(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		p.breaker.RecordSuccess()
		return nil, ErrTerminalState
	}
	if state.RetryCount >= p.maxRetries {
		p.breaker.RecordSuccess()
		return nil, ErrRetriesExhausted
	}

	outcome, err := p.runVerification(ctx, state, cmd)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, fmt.Errorf("verification engine unavailable: %w", err)
	}

	if !outcome.Success {
		event := domain.NewEvent(transactionID, domain.TransactionFailed{
			Reason: outcome.Reason,
			Stage:  string(state.ProcessingStage),
		}, cmd.CorrelationID, cmd.RequestID)
		if _, appendErr := p.appendAndProject(ctx, transactionID, state.Version, current, event); appendErr != nil {
			return nil, appendErr
		}
		log.Printf("level=warn component=processor msg=\"verification failed\" transaction_id=%s type=%s reason=%q retry_count=%d actor=%s",
			transactionID, cmd.VerificationType, outcome.Reason, state.RetryCount+1, pctx.ActorID)
		return nil, &VerificationFailure{
			VerificationType: cmd.VerificationType,
			Reason:           outcome.Reason,
			RetryCount:       state.RetryCount + 1,
			MaxRetries:       p.maxRetries,
		}
	}

	event := domain.NewEvent(transactionID, domain.TransactionVerified{
		VerificationType: cmd.VerificationType,
		Confidence:       outcome.Confidence,
	}, cmd.CorrelationID, cmd.RequestID)
	row, err := p.appendAndProject(ctx, transactionID, state.Version, current, event)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=processor msg=\"transaction verified\" transaction_id=%s type=%s confidence=%.2f actor=%s",
		transactionID, cmd.VerificationType, outcome.Confidence, pctx.ActorID)
	return row, nil
}

// CompleteTransaction records terminal successful settlement. Only a verified
// transaction may complete.
func (p *Processor) CompleteTransaction(ctx context.Context, pctx ProcessorContext, transactionID uuid.UUID, settledAmount int64, correlationID, causationID uuid.UUID) (*domain.TransactionProjection, error) {
	if !p.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	state, current, err := p.loadForTransition(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		p.breaker.RecordSuccess()
		return nil, ErrTerminalState
	}
	if state.Status != domain.StatusVerified {
		p.breaker.RecordSuccess()
		return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot complete a %s transaction", state.Status)}
	}

	event := domain.NewEvent(transactionID, domain.TransactionCompleted{
		SettledAmount: settledAmount,
	}, correlationID, causationID)
	row, err := p.appendAndProject(ctx, transactionID, state.Version, current, event)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=processor msg=\"transaction completed\" transaction_id=%s settled_amount=%d actor=%s", transactionID, settledAmount, pctx.ActorID)
	return row, nil
}

// CancelTransaction records terminal cancellation of a non-terminal
// transaction.
func (p *Processor) CancelTransaction(ctx context.Context, pctx ProcessorContext, transactionID uuid.UUID, reason string, correlationID, causationID uuid.UUID) (*domain.TransactionProjection, error) {
	if !p.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	state, current, err := p.loadForTransition(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		p.breaker.RecordSuccess()
		return nil, ErrTerminalState
	}

	event := domain.NewEvent(transactionID, domain.TransactionCancelled{
		Reason: reason,
	}, correlationID, causationID)
	row, err := p.appendAndProject(ctx, transactionID, state.Version, current, event)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=processor msg=\"transaction cancelled\" transaction_id=%s reason=%q actor=%s", transactionID, reason, pctx.ActorID)
	return row, nil
}

// loadForTransition folds the aggregate and fetches the projection row for a
// state transition, recording breaker outcomes for store failures.
func (p *Processor) loadForTransition(ctx context.Context, transactionID uuid.UUID) (domain.TransactionState, *domain.TransactionProjection, error) {
	events, err := p.events.Load(ctx, transactionID)
	if err != nil {
		p.breaker.RecordFailure()
		return domain.TransactionState{}, nil, fmt.Errorf("failed to load aggregate: %w", err)
	}
	if len(events) == 0 {
		p.breaker.RecordSuccess()
		return domain.TransactionState{}, nil, store.ErrAggregateNotFound
	}

	state := domain.StateFromEvents(transactionID, events)
	current, err := p.projections.GetProjection(ctx, transactionID)
	if err != nil && !errors.Is(err, store.ErrProjectionNotFound) {
		p.breaker.RecordFailure()
		return domain.TransactionState{}, nil, fmt.Errorf("failed to load projection: %w", err)
	}
	return state, current, nil
}

func (p *Processor) runVerification(ctx context.Context, state domain.TransactionState, cmd domain.Command) (FraudAnalysis, error) {
	switch cmd.VerificationType {
	case domain.VerificationFraudDetection:
		if p.fraud == nil {
			return FraudAnalysis{}, errors.New("fraud analyzer not configured")
		}
		return p.fraud.Analyze(ctx, state, cmd.Metadata())
	case domain.VerificationComplianceCheck:
		if p.compliance == nil {
			return FraudAnalysis{}, errors.New("compliance engine not configured")
		}
		verdict, err := p.compliance.Validate(ctx, state.Amount, state.TransactionType, state.Metadata)
		if err != nil {
			return FraudAnalysis{}, err
		}
		if !verdict.Compliant {
			reason := "compliance violation"
			if len(verdict.Errors) > 0 {
				reason = verdict.Errors[0]
			}
			return FraudAnalysis{Success: false, Reason: reason}, nil
		}
		return FraudAnalysis{Success: true, Confidence: 1.0}, nil
	default:
		return FraudAnalysis{}, &domain.ValidationError{Field: "verification_type", Reason: fmt.Sprintf("%q is not a known verification type", cmd.VerificationType)}
	}
}

// appendAndProject signs the event, appends it together with the projection
// update in one atomic transaction, records the breaker outcome, and
// publishes the event.
func (p *Processor) appendAndProject(ctx context.Context, transactionID uuid.UUID, expectedVersion int64, current *domain.TransactionProjection, event domain.Event) (*domain.TransactionProjection, error) {
	// The store assigns this same version inside the transaction; it is set
	// here first so the signature covers it.
	event.Metadata.Version = expectedVersion + 1
	if p.signer != nil {
		event.Metadata.Signature = p.signer.SignEvent(event)
	}

	row, applied := p.projector.Apply(current, event)
	if !applied {
		return nil, store.ErrConcurrencyConflict
	}

	appended, err := p.events.AppendWithProjection(ctx, transactionID, expectedVersion, []domain.Event{event}, &row)
	if err != nil {
		if errors.Is(err, store.ErrConcurrencyConflict) {
			// Contention, not a dependency failure: the breaker stays closed
			// and the caller reloads and retries.
			return nil, err
		}
		p.breaker.RecordFailure()
		return nil, err
	}
	p.breaker.RecordSuccess()

	p.publish(ctx, appended)
	return &row, nil
}

// publish sends appended events to the domain exchange. Publishing is
// best-effort: the events are durable in the store and downstream consumers
// can replay, so a broker outage only warns.
func (p *Processor) publish(ctx context.Context, events []domain.Event) {
	if p.publisher == nil {
		return
	}
	for _, event := range events {
		record, err := event.Record()
		if err != nil {
			log.Printf("level=error component=processor msg=\"event encode failed; publish skipped\" event_id=%s err=%v", event.EventID, err)
			continue
		}
		if err := p.publisher.Publish(ctx, p.exchange, string(event.EventType), record); err != nil {
			log.Printf("level=warn component=processor msg=\"event publish failed\" event_id=%s routing_key=%s err=%v", event.EventID, event.EventType, err)
		}
	}
}

// provisionalState builds the pre-persistence state the risk calculator and
// pipeline score before any event exists. It shares the real transaction id
// so the admission score and later scores hit the same cache entry.
func provisionalState(transactionID uuid.UUID, cmd domain.Command) domain.TransactionState {
	return domain.TransactionState{
		TransactionID:   transactionID,
		BondID:          cmd.BondID,
		TransactionType: cmd.TransactionType,
		Amount:          cmd.Amount,
		Status:          domain.StatusPending,
		ProcessingStage: domain.StageInitialized,
		FinancialImpact: domain.DeriveFinancialImpact(cmd.Amount, cmd.TransactionType),
		Metadata:        cmd.Metadata(),
		CreatedAt:       cmd.Timestamp,
	}
}
