/**
 * @description
 * This file defines the storage contracts for the transaction core. Interfaces
 * decouple the processor and projector from the PostgreSQL implementation and
 * make them straightforward to test with stubs.
 *
 * The event store is append-only with optimistic concurrency: callers pass the
 * version they last observed, versions are assigned sequentially per aggregate
 * inside one atomic transaction, and a concurrent writer racing on the same
 * versions gets ErrConcurrencyConflict and must reload before retrying.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Aggregate and reference identifiers.
 * - internal/domain: Event, projection, and lookup record types.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
)

var (
	ErrConcurrencyConflict      = errors.New("concurrent write conflict; reload aggregate and retry")
	ErrAggregateNotFound        = errors.New("aggregate not found")
	ErrProjectionNotFound       = errors.New("projection not found")
	ErrBondNotFound             = errors.New("bond not found")
	ErrPaymentReferenceNotFound = errors.New("payment reference not found")
)

// Bond is the slice of bond data the transaction core needs for eligibility.
type Bond struct {
	ID     uuid.UUID
	Status string // e.g. 'active', 'pending', 'closed'
}

// PaymentReferenceRecord is the slice of a prior payment used for
// payment-method consistency checks.
type PaymentReferenceRecord struct {
	ID     uuid.UUID
	Amount int64
	Status string
}

// FailureStats summarizes historical outcomes for risk scoring.
type FailureStats struct {
	Total  int
	Failed int
}

// EventStore is the append-only, versioned event log.
type EventStore interface {
	// Append persists events for one aggregate, assigning versions
	// expectedVersion+1 .. expectedVersion+len(events) atomically. The
	// returned slice carries the assigned versions. A version collision with
	// a concurrent writer rejects the whole batch with ErrConcurrencyConflict.
	Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []domain.Event) ([]domain.Event, error)

	// AppendWithProjection appends events and upserts the projection row in
	// the same atomic transaction, so no partial application of a command's
	// events is ever observable.
	AppendWithProjection(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []domain.Event, projection *domain.TransactionProjection) ([]domain.Event, error)

	// Load returns all events for the aggregate in ascending version order.
	Load(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error)

	// LoadSince returns events recorded at or after since, optionally
	// filtered by event type, ordered by recording time.
	LoadSince(ctx context.Context, since time.Time, types ...domain.EventType) ([]domain.Event, error)

	// CurrentVersion returns the highest version for the aggregate, zero if
	// no events exist.
	CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error)
}

// ProjectionStore holds the denormalized read-model rows.
type ProjectionStore interface {
	GetProjection(ctx context.Context, transactionID uuid.UUID) (*domain.TransactionProjection, error)
	UpsertProjection(ctx context.Context, projection *domain.TransactionProjection) error
}

// BondLookup is the bond collaborator consumed by the eligibility validator.
type BondLookup interface {
	FindActiveOrPendingBond(ctx context.Context, bondID uuid.UUID) (*Bond, error)
}

// PaymentReferenceLookup resolves prior payments for consistency checks.
type PaymentReferenceLookup interface {
	FindCompletedPaymentReference(ctx context.Context, referenceID uuid.UUID) (*PaymentReferenceRecord, error)
}

// HistoryProvider supplies historical outcomes for the risk calculator.
type HistoryProvider interface {
	// TransactionFailureStats counts transactions and failures for the bond
	// and type within the window starting at since.
	TransactionFailureStats(ctx context.Context, bondID uuid.UUID, transactionType domain.TransactionType, since time.Time) (FailureStats, error)
}
