package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
)

type failingProjectionStore struct {
	getErr    error
	upsertErr error
}

func (f *failingProjectionStore) GetProjection(ctx context.Context, transactionID uuid.UUID) (*domain.TransactionProjection, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return nil, store.ErrProjectionNotFound
}

func (f *failingProjectionStore) UpsertProjection(ctx context.Context, projection *domain.TransactionProjection) error {
	return f.upsertErr
}

func versionedEvent(aggregateID uuid.UUID, data domain.EventData, version int64) domain.Event {
	event := domain.NewEvent(aggregateID, data, uuid.New(), uuid.New())
	event.Metadata.Version = version
	event.Metadata.Timestamp = quietTuesday.Add(time.Duration(version) * time.Minute)
	return event
}

func createdEvent(aggregateID uuid.UUID, version int64) domain.Event {
	return versionedEvent(aggregateID, domain.TransactionCreated{
		BondID:          uuid.New(),
		TransactionType: domain.TransactionPayment,
		Amount:          5_000,
		Priority:        domain.PriorityNormal,
		RiskScore:       0.2,
	}, version)
}

func TestProjector_AppliesLifecycle(t *testing.T) {
	projector := NewProjector()
	aggregateID := uuid.New()

	row, applied := projector.Apply(nil, createdEvent(aggregateID, 1))
	if !applied {
		t.Fatal("version-1 event must apply to a missing projection")
	}
	if row.TransactionID != aggregateID || row.Status != domain.StatusPending || row.ProcessingStage != domain.StageInitialized {
		t.Fatalf("unexpected created row: %+v", row)
	}
	if row.LastEventVersion != 1 || row.RiskScore != 0.2 {
		t.Fatalf("unexpected created row: %+v", row)
	}

	row, applied = projector.Apply(&row, versionedEvent(aggregateID, domain.TransactionFailed{Reason: "fraud suspected", Stage: "initialized"}, 2))
	if !applied {
		t.Fatal("contiguous event must apply")
	}
	if row.Status != domain.StatusFailed || row.RetryCount != 1 || row.FailureReason == nil || *row.FailureReason != "fraud suspected" {
		t.Fatalf("unexpected failed row: %+v", row)
	}

	row, applied = projector.Apply(&row, versionedEvent(aggregateID, domain.TransactionVerified{VerificationType: domain.VerificationFraudDetection, Confidence: 0.93}, 3))
	if !applied {
		t.Fatal("contiguous event must apply")
	}
	if row.Status != domain.StatusVerified || row.VerificationConfidence != 0.93 {
		t.Fatalf("unexpected verified row: %+v", row)
	}
	if row.FailureReason != nil {
		t.Fatal("verification must clear the failure reason")
	}

	row, applied = projector.Apply(&row, versionedEvent(aggregateID, domain.TransactionCompleted{SettledAmount: 5_000}, 4))
	if !applied {
		t.Fatal("contiguous event must apply")
	}
	if row.Status != domain.StatusCompleted || row.LastEventVersion != 4 {
		t.Fatalf("unexpected completed row: %+v", row)
	}
}

func TestProjector_VersionGateDropsDuplicatesAndGaps(t *testing.T) {
	projector := NewProjector()
	aggregateID := uuid.New()

	row, _ := projector.Apply(nil, createdEvent(aggregateID, 1))

	// Redelivery of the same version.
	next, applied := projector.Apply(&row, createdEvent(aggregateID, 1))
	if applied {
		t.Fatal("duplicate version must not apply")
	}
	if next.LastEventVersion != 1 {
		t.Fatalf("dropped event must leave the row unchanged, got version %d", next.LastEventVersion)
	}

	// A future version arriving before its predecessor.
	_, applied = projector.Apply(&row, versionedEvent(aggregateID, domain.TransactionCompleted{}, 3))
	if applied {
		t.Fatal("gapped version must not apply")
	}

	// Only a version-1 event may create a missing row.
	_, applied = projector.Apply(nil, versionedEvent(aggregateID, domain.TransactionVerified{}, 2))
	if applied {
		t.Fatal("version-2 event must not create a projection")
	}
}

func TestProjectionRelay_HandleMessage(t *testing.T) {
	repo := store.NewMemoryStore()
	relay := NewProjectionRelay(NewProjector(), repo)
	aggregateID := uuid.New()

	if !relay.HandleMessage([]byte("{not json")) {
		t.Fatal("malformed payloads must ack, not requeue")
	}

	record, err := createdEvent(aggregateID, 1).Record()
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	body, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !relay.HandleMessage(body) {
		t.Fatal("valid event must ack")
	}
	row, err := repo.GetProjection(context.Background(), aggregateID)
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if row.LastEventVersion != 1 || row.Status != domain.StatusPending {
		t.Fatalf("unexpected projection: %+v", row)
	}

	// Redelivery acks without reapplying.
	if !relay.HandleMessage(body) {
		t.Fatal("duplicate delivery must ack")
	}
	row, _ = repo.GetProjection(context.Background(), aggregateID)
	if row.LastEventVersion != 1 {
		t.Fatalf("duplicate delivery mutated the projection: %+v", row)
	}
}

func TestProjectionRelay_StoreFailureRequeues(t *testing.T) {
	relay := NewProjectionRelay(NewProjector(), &failingProjectionStore{getErr: errors.New("connection refused")})

	record, _ := createdEvent(uuid.New(), 1).Record()
	body, _ := json.Marshal(record)
	if relay.HandleMessage(body) {
		t.Fatal("store read failures must requeue")
	}

	relay = NewProjectionRelay(NewProjector(), &failingProjectionStore{upsertErr: errors.New("connection refused")})
	if relay.HandleMessage(body) {
		t.Fatal("store write failures must requeue")
	}
}

func TestProjectionRelay_BindingsCoverAllEventTypes(t *testing.T) {
	relay := NewProjectionRelay(NewProjector(), store.NewMemoryStore())
	bindings := relay.Bindings()

	for _, key := range []string{
		"transaction.created", "transaction.verified", "transaction.failed",
		"transaction.completed", "transaction.cancelled",
	} {
		if bindings[key] == nil {
			t.Errorf("missing binding for %s", key)
		}
	}
	if len(bindings) != 5 {
		t.Fatalf("expected 5 bindings, got %d", len(bindings))
	}
}

func TestRebuildProjection(t *testing.T) {
	repo := store.NewMemoryStore()
	aggregateID := uuid.New()
	ctx := context.Background()

	if _, err := repo.Append(ctx, aggregateID, 0, []domain.Event{createdEvent(aggregateID, 1)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := repo.Append(ctx, aggregateID, 1, []domain.Event{
		versionedEvent(aggregateID, domain.TransactionVerified{VerificationType: domain.VerificationFraudDetection, Confidence: 0.9}, 2),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	row, err := RebuildProjection(ctx, repo, repo, NewProjector(), aggregateID)
	if err != nil {
		t.Fatalf("RebuildProjection: %v", err)
	}
	if row.Status != domain.StatusVerified || row.LastEventVersion != 2 {
		t.Fatalf("unexpected rebuilt row: %+v", row)
	}

	stored, err := repo.GetProjection(ctx, aggregateID)
	if err != nil {
		t.Fatalf("GetProjection: %v", err)
	}
	if stored.LastEventVersion != 2 {
		t.Fatalf("rebuilt row was not persisted: %+v", stored)
	}

	if _, err := RebuildProjection(ctx, repo, repo, NewProjector(), uuid.New()); !errors.Is(err, store.ErrAggregateNotFound) {
		t.Fatalf("expected ErrAggregateNotFound, got %v", err)
	}
}
