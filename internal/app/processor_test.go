package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
)

type stubPublisher struct {
	routingKeys []string
	err         error
}

func (s *stubPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	s.routingKeys = append(s.routingKeys, routingKey)
	return s.err
}

func (s *stubPublisher) Close() {}

type stubFraud struct {
	result FraudAnalysis
	err    error
}

func (s *stubFraud) Analyze(ctx context.Context, state domain.TransactionState, verificationData map[string]string) (FraudAnalysis, error) {
	return s.result, s.err
}

type processorFixture struct {
	processor *Processor
	repo      *store.MemoryStore
	publisher *stubPublisher
	fraud     *stubFraud
	breaker   *CircuitBreaker
	pipeline  *ValidatorPipeline
	bondID    uuid.UUID
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	repo := store.NewMemoryStore()
	bondID := uuid.New()
	repo.SeedBond(store.Bond{ID: bondID, Status: "active"})

	publisher := &stubPublisher{}
	fraud := &stubFraud{result: FraudAnalysis{Success: true, Confidence: 0.97}}
	breaker := NewCircuitBreaker(5, time.Minute, 30*time.Second)
	pipeline := NewValidatorPipeline(repo, repo, nil, nil, nil, 0)

	processor := NewProcessor(
		repo, repo, pipeline, NewProjector(), nil,
		NewSigner("processor-test-secret"), breaker,
		publisher, fraud, NewRuleBasedComplianceEngine(), "bondtx.events", 0,
	)
	return &processorFixture{
		processor: processor,
		repo:      repo,
		publisher: publisher,
		fraud:     fraud,
		breaker:   breaker,
		pipeline:  pipeline,
		bondID:    bondID,
	}
}

func (f *processorFixture) submitCommand(t *testing.T) domain.Command {
	t.Helper()
	cmd, err := domain.NewCommand(domain.CommandParams{
		BondID:          f.bondID,
		TransactionType: domain.TransactionPayment,
		Amount:          5_000,
		Timestamp:       time.Now().UTC(),
		RequestID:       uuid.New(),
		CorrelationID:   uuid.New(),
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	return cmd
}

func (f *processorFixture) verifyCommand(t *testing.T, verificationType domain.VerificationType) domain.Command {
	t.Helper()
	cmd, err := domain.NewCommand(domain.CommandParams{
		BondID:           f.bondID,
		TransactionType:  domain.TransactionPayment,
		VerificationType: verificationType,
		Amount:           5_000,
		Timestamp:        time.Now().UTC(),
		RequestID:        uuid.New(),
		CorrelationID:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	return cmd
}

var testActor = ProcessorContext{ActorID: "bond-service", RequestID: uuid.New()}

func TestProcessor_SubmitTransaction(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	row, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if row.Status != domain.StatusPending || row.LastEventVersion != 1 {
		t.Fatalf("unexpected projection: %+v", row)
	}

	events, err := f.repo.Load(ctx, row.TransactionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventTransactionCreated {
		t.Fatalf("unexpected event stream: %+v", events)
	}
	if events[0].Metadata.Version != 1 {
		t.Fatalf("event version = %d, want 1", events[0].Metadata.Version)
	}
	if events[0].Metadata.Signature == "" {
		t.Fatal("appended event was not signed")
	}
	created, ok := events[0].Data.(domain.TransactionCreated)
	if !ok {
		t.Fatalf("unexpected event payload %T", events[0].Data)
	}
	if created.Metadata["actor_id"] != "bond-service" {
		t.Fatalf("actor id not recorded: %v", created.Metadata)
	}

	if len(f.publisher.routingKeys) != 1 || f.publisher.routingKeys[0] != "transaction.created" {
		t.Fatalf("unexpected published routing keys: %v", f.publisher.routingKeys)
	}
}

func TestProcessor_SubmitTransaction_PipelineRejectionPersistsNothing(t *testing.T) {
	f := newProcessorFixture(t)
	cmd, err := domain.NewCommand(domain.CommandParams{
		BondID:          uuid.New(), // unknown bond
		TransactionType: domain.TransactionPayment,
		Amount:          5_000,
		Timestamp:       time.Now().UTC(),
		RequestID:       uuid.New(),
		CorrelationID:   uuid.New(),
	})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}

	_, err = f.processor.SubmitTransaction(context.Background(), testActor, cmd)
	var pErr *PipelineError
	if !errors.As(err, &pErr) {
		t.Fatalf("expected *PipelineError, got %v", err)
	}
	if len(f.publisher.routingKeys) != 0 {
		t.Fatalf("rejected command must publish nothing, got %v", f.publisher.routingKeys)
	}
	if !f.breaker.Allow() {
		t.Fatal("business rejections must not trip the breaker")
	}
}

func TestProcessor_SubmitVerification_Success(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	row, err := f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection))
	if err != nil {
		t.Fatalf("SubmitVerification: %v", err)
	}
	if row.Status != domain.StatusVerified || row.LastEventVersion != 2 {
		t.Fatalf("unexpected projection: %+v", row)
	}
	if row.VerificationConfidence != 0.97 {
		t.Fatalf("confidence = %f, want 0.97", row.VerificationConfidence)
	}
	if last := f.publisher.routingKeys[len(f.publisher.routingKeys)-1]; last != "transaction.verified" {
		t.Fatalf("unexpected routing key %s", last)
	}
}

func TestProcessor_SubmitVerification_FailureAppendsFailedEvent(t *testing.T) {
	f := newProcessorFixture(t)
	f.fraud.result = FraudAnalysis{Success: false, Reason: "velocity anomaly"}
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	_, err = f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection))
	var vErr *VerificationFailure
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *VerificationFailure, got %v", err)
	}
	if vErr.Reason != "velocity anomaly" || vErr.RetryCount != 1 {
		t.Fatalf("unexpected failure: %+v", vErr)
	}

	row, err := f.repo.GetProjection(ctx, created.TransactionID)
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if row.Status != domain.StatusFailed || row.RetryCount != 1 || row.LastEventVersion != 2 {
		t.Fatalf("unexpected projection: %+v", row)
	}

	events, _ := f.repo.Load(ctx, created.TransactionID)
	if len(events) != 2 || events[1].EventType != domain.EventTransactionFailed {
		t.Fatalf("unexpected event stream: %+v", events)
	}
}

func TestProcessor_SubmitVerification_RetriesExhausted(t *testing.T) {
	f := newProcessorFixture(t)
	f.fraud.result = FraudAnalysis{Success: false, Reason: "velocity anomaly"}
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	for i := 0; i < MaxVerificationRetries; i++ {
		_, err = f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection))
		var vErr *VerificationFailure
		if !errors.As(err, &vErr) {
			t.Fatalf("attempt %d: expected *VerificationFailure, got %v", i+1, err)
		}
	}

	_, err = f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
}

func TestProcessor_SubmitVerification_ConfiguredRetryMaximum(t *testing.T) {
	f := newProcessorFixture(t)
	f.fraud.result = FraudAnalysis{Success: false, Reason: "velocity anomaly"}
	ctx := context.Background()

	limited := NewProcessor(
		f.repo, f.repo, f.pipeline, NewProjector(), nil,
		NewSigner("processor-test-secret"), f.breaker,
		f.publisher, f.fraud, NewRuleBasedComplianceEngine(), "bondtx.events", 1,
	)

	created, err := limited.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	_, err = limited.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection))
	var vErr *VerificationFailure
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *VerificationFailure, got %v", err)
	}
	if vErr.MaxRetries != 1 {
		t.Fatalf("MaxRetries = %d, want 1", vErr.MaxRetries)
	}

	_, err = limited.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted after the configured maximum, got %v", err)
	}
}

func TestProcessor_SubmitVerification_RequiresVerificationType(t *testing.T) {
	f := newProcessorFixture(t)
	_, err := f.processor.SubmitVerification(context.Background(), testActor, uuid.New(), f.submitCommand(t))
	if !errors.Is(err, ErrVerificationTypeNeeded) {
		t.Fatalf("expected ErrVerificationTypeNeeded, got %v", err)
	}
}

func TestProcessor_SubmitVerification_UnknownAggregate(t *testing.T) {
	f := newProcessorFixture(t)
	_, err := f.processor.SubmitVerification(context.Background(), testActor, uuid.New(), f.verifyCommand(t, domain.VerificationFraudDetection))
	if !errors.Is(err, store.ErrAggregateNotFound) {
		t.Fatalf("expected ErrAggregateNotFound, got %v", err)
	}
}

func TestProcessor_ComplianceCheckVerification(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	// A minor-impact payment has no compliance requirements, so the rule-based
	// engine passes it.
	row, err := f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationComplianceCheck))
	if err != nil {
		t.Fatalf("SubmitVerification: %v", err)
	}
	if row.Status != domain.StatusVerified {
		t.Fatalf("unexpected projection: %+v", row)
	}
}

func TestProcessor_CompleteAndTerminality(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	// Pending transactions cannot complete.
	_, err = f.processor.CompleteTransaction(ctx, testActor, created.TransactionID, 5_000, uuid.New(), uuid.New())
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}

	if _, err = f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection)); err != nil {
		t.Fatalf("SubmitVerification: %v", err)
	}

	row, err := f.processor.CompleteTransaction(ctx, testActor, created.TransactionID, 5_000, uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("CompleteTransaction: %v", err)
	}
	if row.Status != domain.StatusCompleted || row.LastEventVersion != 3 {
		t.Fatalf("unexpected projection: %+v", row)
	}

	// The aggregate is now terminal for every transition.
	if _, err = f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection)); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
	if _, err = f.processor.CancelTransaction(ctx, testActor, created.TransactionID, "late cancel", uuid.New(), uuid.New()); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("expected ErrTerminalState, got %v", err)
	}
}

func TestProcessor_CancelTransaction(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	row, err := f.processor.CancelTransaction(ctx, testActor, created.TransactionID, "settlement cancelled", uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("CancelTransaction: %v", err)
	}
	if row.Status != domain.StatusCancelled || row.FailureReason == nil || *row.FailureReason != "settlement cancelled" {
		t.Fatalf("unexpected projection: %+v", row)
	}
}

func TestProcessor_OpenBreakerRejectsImmediately(t *testing.T) {
	f := newProcessorFixture(t)
	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure()
	}

	_, err := f.processor.SubmitTransaction(context.Background(), testActor, f.submitCommand(t))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestProcessor_StaleProjectionSurfacesConflict(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()

	created, err := f.processor.SubmitTransaction(ctx, testActor, f.submitCommand(t))
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	// Another writer extended the stream without the projection catching up.
	stale := domain.NewEvent(created.TransactionID, domain.TransactionVerified{
		VerificationType: domain.VerificationFraudDetection,
		Confidence:       0.9,
	}, uuid.New(), uuid.New())
	if _, err := f.repo.Append(ctx, created.TransactionID, 1, []domain.Event{stale}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	_, err = f.processor.SubmitVerification(ctx, testActor, created.TransactionID, f.verifyCommand(t, domain.VerificationFraudDetection))
	if !errors.Is(err, store.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if !f.breaker.Allow() {
		t.Fatal("contention must not trip the breaker")
	}
}
