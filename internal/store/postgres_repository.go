/**
 * @description
 * This file provides the PostgreSQL implementation of the event store and the
 * projection store. It contains all the SQL needed for the append-only event
 * log (`transaction_events`), the denormalized read model
 * (`transaction_projections`), and the lookup queries the validator pipeline
 * and risk calculator depend on.
 *
 * Optimistic concurrency relies on the unique index over
 * (aggregate_id, version): two writers racing on the same next version commit
 * at most once; the loser sees SQLSTATE 23505 (or a 40001 serialization
 * failure) and receives ErrConcurrencyConflict.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Event envelope and projection models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
)

// PostgresRepository implements EventStore, ProjectionStore, BondLookup,
// PaymentReferenceLookup, and HistoryProvider on top of pgx.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isVersionConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505: unique violation on (aggregate_id, version).
		// 40001: serialization failure under serializable isolation.
		return pgErr.Code == "23505" || pgErr.Code == "40001"
	}
	return false
}

// Append persists a batch of events for one aggregate inside a single
// serializable transaction. Versions are assigned expectedVersion+1+i.
func (r *PostgresRepository) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []domain.Event) ([]domain.Event, error) {
	return r.AppendWithProjection(ctx, aggregateID, expectedVersion, events, nil)
}

// AppendWithProjection appends events and, when projection is non-nil, upserts
// the read-model row in the same transaction so no partial application of a
// command is observable.
func (r *PostgresRepository) AppendWithProjection(ctx context.Context, aggregateID uuid.UUID, expectedVersion int64, events []domain.Event, projection *domain.TransactionProjection) ([]domain.Event, error) {
	if len(events) == 0 {
		return nil, errors.New("no events to append")
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	appended := make([]domain.Event, len(events))
	insertQuery := `
		INSERT INTO transaction_events (
			event_id, aggregate_id, aggregate_type, event_type, version,
			event_data, correlation_id, causation_id, signature, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i, event := range events {
		event.Metadata.Version = expectedVersion + int64(i) + 1
		payload, encErr := domain.EncodeEventData(event.Data)
		if encErr != nil {
			return nil, fmt.Errorf("failed to encode event payload: %w", encErr)
		}
		_, err = tx.Exec(ctx, insertQuery,
			event.EventID, event.AggregateID, event.AggregateType, string(event.EventType),
			event.Metadata.Version, payload, event.Metadata.CorrelationID,
			event.Metadata.CausationID, event.Metadata.Signature, event.Metadata.Timestamp,
		)
		if err != nil {
			if isVersionConflict(err) {
				return nil, ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}
		appended[i] = event
	}

	if projection != nil {
		if err := upsertProjectionTx(ctx, tx, projection); err != nil {
			if isVersionConflict(err) {
				return nil, ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("failed to upsert projection: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isVersionConflict(err) {
			return nil, ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("failed to commit append transaction: %w", err)
	}
	return appended, nil
}

func scanEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			event     domain.Event
			eventType string
			payload   []byte
		)
		if err := rows.Scan(
			&event.EventID, &event.AggregateID, &event.AggregateType, &eventType,
			&event.Metadata.Version, &payload, &event.Metadata.CorrelationID,
			&event.Metadata.CausationID, &event.Metadata.Signature, &event.Metadata.Timestamp,
		); err != nil {
			return nil, err
		}
		event.EventType = domain.EventType(eventType)
		data, err := domain.DecodeEventData(event.EventType, payload)
		if err != nil {
			return nil, err
		}
		event.Data = data
		events = append(events, event)
	}
	return events, rows.Err()
}

const eventColumns = `
	event_id, aggregate_id, aggregate_type, event_type, version,
	event_data, correlation_id, causation_id, signature, recorded_at
`

// Load returns every event for the aggregate in ascending version order.
func (r *PostgresRepository) Load(ctx context.Context, aggregateID uuid.UUID) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM transaction_events WHERE aggregate_id = $1 ORDER BY version ASC`
	rows, err := r.db.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	return scanEvents(rows)
}

// LoadSince returns events recorded at or after since, optionally filtered by
// event type, ordered by recording time then version.
func (r *PostgresRepository) LoadSince(ctx context.Context, since time.Time, types ...domain.EventType) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM transaction_events WHERE recorded_at >= $1`
	args := []interface{}{since}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND event_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY recorded_at ASC, version ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load events since %s: %w", since, err)
	}
	return scanEvents(rows)
}

// CurrentVersion returns the highest stored version for the aggregate, or
// zero when no events exist.
func (r *PostgresRepository) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	var version int64
	query := `SELECT COALESCE(MAX(version), 0) FROM transaction_events WHERE aggregate_id = $1`
	if err := r.db.QueryRow(ctx, query, aggregateID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}
	return version, nil
}

func upsertProjectionTx(ctx context.Context, tx pgx.Tx, p *domain.TransactionProjection) error {
	query := `
		INSERT INTO transaction_projections (
			transaction_id, bond_id, transaction_type, amount, status,
			processing_stage, risk_score, verification_confidence,
			failure_reason, retry_count, last_event_version, created_at, last_updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (transaction_id) DO UPDATE SET
			status = EXCLUDED.status,
			processing_stage = EXCLUDED.processing_stage,
			risk_score = EXCLUDED.risk_score,
			verification_confidence = EXCLUDED.verification_confidence,
			failure_reason = EXCLUDED.failure_reason,
			retry_count = EXCLUDED.retry_count,
			last_event_version = EXCLUDED.last_event_version,
			last_updated_at = EXCLUDED.last_updated_at
		WHERE transaction_projections.last_event_version < EXCLUDED.last_event_version
	`
	_, err := tx.Exec(ctx, query,
		p.TransactionID, p.BondID, string(p.TransactionType), p.Amount, string(p.Status),
		string(p.ProcessingStage), p.RiskScore, p.VerificationConfidence,
		p.FailureReason, p.RetryCount, p.LastEventVersion, p.CreatedAt, p.LastUpdatedAt,
	)
	return err
}

// UpsertProjection writes a read-model row outside an append transaction.
// The version guard in the upsert keeps replays idempotent at the SQL level.
func (r *PostgresRepository) UpsertProjection(ctx context.Context, projection *domain.TransactionProjection) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin projection transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertProjectionTx(ctx, tx, projection); err != nil {
		return fmt.Errorf("failed to upsert projection: %w", err)
	}
	return tx.Commit(ctx)
}

// GetProjection retrieves the read-model row for a transaction.
func (r *PostgresRepository) GetProjection(ctx context.Context, transactionID uuid.UUID) (*domain.TransactionProjection, error) {
	var (
		p               domain.TransactionProjection
		transactionType string
		status          string
		stage           string
	)
	query := `
		SELECT transaction_id, bond_id, transaction_type, amount, status,
		       processing_stage, risk_score, verification_confidence,
		       failure_reason, retry_count, last_event_version, created_at, last_updated_at
		FROM transaction_projections
		WHERE transaction_id = $1
	`
	err := r.db.QueryRow(ctx, query, transactionID).Scan(
		&p.TransactionID, &p.BondID, &transactionType, &p.Amount, &status,
		&stage, &p.RiskScore, &p.VerificationConfidence,
		&p.FailureReason, &p.RetryCount, &p.LastEventVersion, &p.CreatedAt, &p.LastUpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrProjectionNotFound
		}
		return nil, err
	}
	p.TransactionType = domain.TransactionType(transactionType)
	p.Status = domain.TransactionStatus(status)
	p.ProcessingStage = domain.ProcessingStage(stage)
	return &p, nil
}

// FindActiveOrPendingBond retrieves a bond eligible to transact against.
func (r *PostgresRepository) FindActiveOrPendingBond(ctx context.Context, bondID uuid.UUID) (*Bond, error) {
	var bond Bond
	query := `SELECT id, status FROM bonds WHERE id = $1 AND status IN ('active', 'pending')`
	err := r.db.QueryRow(ctx, query, bondID).Scan(&bond.ID, &bond.Status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBondNotFound
		}
		return nil, err
	}
	return &bond, nil
}

// FindCompletedPaymentReference resolves a prior payment transaction by id for
// payment-method consistency checks. Only completed payments are returned.
func (r *PostgresRepository) FindCompletedPaymentReference(ctx context.Context, referenceID uuid.UUID) (*PaymentReferenceRecord, error) {
	var record PaymentReferenceRecord
	query := `
		SELECT transaction_id, amount, status
		FROM transaction_projections
		WHERE transaction_id = $1 AND transaction_type = 'payment'
	`
	err := r.db.QueryRow(ctx, query, referenceID).Scan(&record.ID, &record.Amount, &record.Status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentReferenceNotFound
		}
		return nil, err
	}
	return &record, nil
}

// TransactionFailureStats counts same-bond, same-type transactions and their
// failures within the window starting at since.
func (r *PostgresRepository) TransactionFailureStats(ctx context.Context, bondID uuid.UUID, transactionType domain.TransactionType, since time.Time) (FailureStats, error) {
	var stats FailureStats
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM transaction_projections
		WHERE bond_id = $1 AND transaction_type = $2 AND created_at >= $3
	`
	err := r.db.QueryRow(ctx, query, bondID, string(transactionType), since).Scan(&stats.Total, &stats.Failed)
	if err != nil {
		return FailureStats{}, fmt.Errorf("failed to read failure stats: %w", err)
	}
	return stats, nil
}
