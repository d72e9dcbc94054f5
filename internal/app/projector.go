/**
 * @description
 * This file implements the read-model projector: a pure, per-event-type
 * mutation of the denormalized projection row, and the RabbitMQ relay that
 * feeds the same mutation under at-least-once delivery.
 *
 * Idempotency is version-gated: an event applies only when its version is
 * exactly last_event_version + 1. Duplicates and out-of-order deliveries are
 * dropped with a logged warning rather than applied twice.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
)

// Projector applies events to projection rows.
type Projector struct{}

// NewProjector creates a Projector.
func NewProjector() *Projector {
	return &Projector{}
}

// Apply returns the projection after the event, and whether the event was
// applied. A nil current row means the projection does not exist yet, which
// only a version-1 event may create.
func (p *Projector) Apply(current *domain.TransactionProjection, event domain.Event) (domain.TransactionProjection, bool) {
	var row domain.TransactionProjection
	var lastVersion int64
	if current != nil {
		row = *current
		lastVersion = current.LastEventVersion
	}

	if event.Metadata.Version != lastVersion+1 {
		log.Printf("level=warn component=projector msg=\"dropping out-of-order or duplicate event\" aggregate_id=%s event_version=%d last_version=%d",
			event.AggregateID, event.Metadata.Version, lastVersion)
		return row, false
	}

	switch data := event.Data.(type) {
	case domain.TransactionCreated:
		row.TransactionID = event.AggregateID
		row.BondID = data.BondID
		row.TransactionType = data.TransactionType
		row.Amount = data.Amount
		row.Status = domain.StatusPending
		row.ProcessingStage = domain.StageInitialized
		row.RiskScore = data.RiskScore
		row.FailureReason = nil
		row.CreatedAt = event.Metadata.Timestamp
	case domain.TransactionVerified:
		row.Status = domain.StatusVerified
		row.ProcessingStage = domain.StageVerified
		row.VerificationConfidence = data.Confidence
		row.FailureReason = nil
	case domain.TransactionFailed:
		row.Status = domain.StatusFailed
		row.ProcessingStage = domain.StageFailed
		reason := data.Reason
		row.FailureReason = &reason
		row.RetryCount++
	case domain.TransactionCompleted:
		row.Status = domain.StatusCompleted
		row.ProcessingStage = domain.StageCompleted
	case domain.TransactionCancelled:
		row.Status = domain.StatusCancelled
		reason := data.Reason
		row.FailureReason = &reason
	default:
		// Unknown event type: bump the version gate, change nothing else.
	}

	row.LastEventVersion = event.Metadata.Version
	row.LastUpdatedAt = event.Metadata.Timestamp
	return row, true
}

// ProjectionRelay consumes published domain events and maintains a projection
// store, for read replicas fed over the message queue rather than the append
// transaction.
type ProjectionRelay struct {
	projector   *Projector
	projections store.ProjectionStore
}

// NewProjectionRelay creates a relay writing through the given store.
func NewProjectionRelay(projector *Projector, projections store.ProjectionStore) *ProjectionRelay {
	return &ProjectionRelay{projector: projector, projections: projections}
}

// HandleMessage processes one published event under at-least-once delivery.
// It returns true when the message should be acknowledged: both successful
// application and a version-gate drop ack; only store failures requeue.
func (r *ProjectionRelay) HandleMessage(body []byte) bool {
	var record domain.EventRecord
	if err := json.Unmarshal(body, &record); err != nil {
		log.Printf("level=error component=projection_relay msg=\"malformed event payload; dropping\" err=%v", err)
		return true
	}
	event, err := record.Event()
	if err != nil {
		log.Printf("level=error component=projection_relay msg=\"undecodable event payload; dropping\" event_id=%s err=%v", record.EventID, err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	current, err := r.projections.GetProjection(ctx, event.AggregateID)
	if err != nil && !errors.Is(err, store.ErrProjectionNotFound) {
		log.Printf("level=warn component=projection_relay msg=\"projection read failed; requeueing\" aggregate_id=%s err=%v", event.AggregateID, err)
		return false
	}

	row, applied := r.projector.Apply(current, event)
	if !applied {
		return true
	}
	if err := r.projections.UpsertProjection(ctx, &row); err != nil {
		log.Printf("level=warn component=projection_relay msg=\"projection write failed; requeueing\" aggregate_id=%s err=%v", event.AggregateID, err)
		return false
	}
	return true
}

// Bindings maps each published routing key to the relay handler, for
// consumption with ConsumeWithBindings.
func (r *ProjectionRelay) Bindings() map[string]func([]byte) bool {
	types := []domain.EventType{
		domain.EventTransactionCreated,
		domain.EventTransactionVerified,
		domain.EventTransactionFailed,
		domain.EventTransactionCompleted,
		domain.EventTransactionCancelled,
	}
	bindings := make(map[string]func([]byte) bool, len(types))
	for _, t := range types {
		bindings[string(t)] = r.HandleMessage
	}
	return bindings
}

// RebuildProjection replays the aggregate's full event stream through the
// projector and writes the resulting row, replacing whatever was there.
func RebuildProjection(ctx context.Context, events store.EventStore, projections store.ProjectionStore, projector *Projector, transactionID uuid.UUID) (*domain.TransactionProjection, error) {
	stream, err := events.Load(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for rebuild: %w", err)
	}
	if len(stream) == 0 {
		return nil, store.ErrAggregateNotFound
	}

	var row *domain.TransactionProjection
	for _, event := range stream {
		next, applied := projector.Apply(row, event)
		if !applied {
			return nil, fmt.Errorf("event stream for %s is not contiguous at version %d", transactionID, event.Metadata.Version)
		}
		row = &next
	}
	if err := projections.UpsertProjection(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to write rebuilt projection: %w", err)
	}
	return row, nil
}
