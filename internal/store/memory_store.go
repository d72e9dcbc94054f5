/**
 * @description
 * In-memory implementation of the event store and projection store with the
 * same optimistic-concurrency semantics as the PostgreSQL implementation.
 * Used by tests and by local runs without a database.
 */

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
)

// MemoryStore keeps events and projections in process memory. All operations
// are safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	streams     map[uuid.UUID][]domain.Event
	projections map[uuid.UUID]domain.TransactionProjection
	bonds       map[uuid.UUID]Bond
	references  map[uuid.UUID]PaymentReferenceRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams:     make(map[uuid.UUID][]domain.Event),
		projections: make(map[uuid.UUID]domain.TransactionProjection),
		bonds:       make(map[uuid.UUID]Bond),
		references:  make(map[uuid.UUID]PaymentReferenceRecord),
	}
}

// SeedBond registers a bond for eligibility lookups.
func (m *MemoryStore) SeedBond(bond Bond) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bonds[bond.ID] = bond
}

// SeedPaymentReference registers a prior payment for consistency lookups.
func (m *MemoryStore) SeedPaymentReference(record PaymentReferenceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.references[record.ID] = record
}

// Append implements EventStore.
func (m *MemoryStore) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []domain.Event) ([]domain.Event, error) {
	return m.AppendWithProjection(ctx, aggregateID, expectedVersion, events, nil)
}

// AppendWithProjection implements EventStore. The expected-version check and
// the stream extension happen under one lock, so a concurrent writer racing
// on the same next version is rejected with ErrConcurrencyConflict exactly as
// the unique index rejects it in PostgreSQL.
func (m *MemoryStore) AppendWithProjection(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []domain.Event, projection *domain.TransactionProjection) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, errors.New("no events to append")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[aggregateID]
	if int64(len(stream)) != expectedVersion {
		return nil, ErrConcurrencyConflict
	}

	appended := make([]domain.Event, len(events))
	for i, event := range events {
		event.Metadata.Version = expectedVersion + int64(i) + 1
		appended[i] = event
	}
	m.streams[aggregateID] = append(stream, appended...)

	if projection != nil {
		current, ok := m.projections[projection.TransactionID]
		if !ok || current.LastEventVersion < projection.LastEventVersion {
			m.projections[projection.TransactionID] = *projection
		}
	}
	out := make([]domain.Event, len(appended))
	copy(out, appended)
	return out, nil
}

// Load implements EventStore.
func (m *MemoryStore) Load(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[aggregateID]
	out := make([]domain.Event, len(stream))
	copy(out, stream)
	return out, nil
}

// LoadSince implements EventStore.
func (m *MemoryStore) LoadSince(ctx context.Context, since time.Time, types ...domain.EventType) ([]domain.Event, error) {
	wanted := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Event
	for _, stream := range m.streams {
		for _, event := range stream {
			if event.Metadata.Timestamp.Before(since) {
				continue
			}
			if len(wanted) > 0 && !wanted[event.EventType] {
				continue
			}
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Metadata.Timestamp.Equal(out[j].Metadata.Timestamp) {
			return out[i].Metadata.Timestamp.Before(out[j].Metadata.Timestamp)
		}
		return out[i].Metadata.Version < out[j].Metadata.Version
	})
	return out, nil
}

// CurrentVersion implements EventStore.
func (m *MemoryStore) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[aggregateID])), nil
}

// GetProjection implements ProjectionStore.
func (m *MemoryStore) GetProjection(ctx context.Context, transactionID uuid.UUID) (*domain.TransactionProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projections[transactionID]
	if !ok {
		return nil, ErrProjectionNotFound
	}
	cp := p
	return &cp, nil
}

// UpsertProjection implements ProjectionStore with the same version guard as
// the SQL upsert: stale rows never overwrite newer ones.
func (m *MemoryStore) UpsertProjection(ctx context.Context, projection *domain.TransactionProjection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.projections[projection.TransactionID]
	if ok && current.LastEventVersion >= projection.LastEventVersion {
		return nil
	}
	m.projections[projection.TransactionID] = *projection
	return nil
}

// FindActiveOrPendingBond implements BondLookup.
func (m *MemoryStore) FindActiveOrPendingBond(ctx context.Context, bondID uuid.UUID) (*Bond, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bond, ok := m.bonds[bondID]
	if !ok || (bond.Status != "active" && bond.Status != "pending") {
		return nil, ErrBondNotFound
	}
	cp := bond
	return &cp, nil
}

// FindCompletedPaymentReference implements PaymentReferenceLookup.
func (m *MemoryStore) FindCompletedPaymentReference(ctx context.Context, referenceID uuid.UUID) (*PaymentReferenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.references[referenceID]
	if !ok {
		return nil, ErrPaymentReferenceNotFound
	}
	cp := record
	return &cp, nil
}

// TransactionFailureStats implements HistoryProvider from the projection rows.
func (m *MemoryStore) TransactionFailureStats(ctx context.Context, bondID uuid.UUID, transactionType domain.TransactionType, since time.Time) (FailureStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats FailureStats
	for _, p := range m.projections {
		if p.BondID != bondID || p.TransactionType != transactionType || p.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		if p.Status == domain.StatusFailed {
			stats.Failed++
		}
	}
	return stats, nil
}
