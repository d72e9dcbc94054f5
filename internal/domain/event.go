/**
 * @description
 * This file defines the domain event envelope and the typed event payloads.
 * Events are immutable facts: once appended to the event store they are never
 * updated or deleted, and the tuple (aggregate_id, version) is unique.
 *
 * Payloads form a tagged union: every event type maps to exactly one concrete
 * payload struct, and DecodeEventData is the single decode switch. Unknown
 * event types decode to UnknownEventData so that readers written against an
 * older schema keep working (forward-compatible evolution).
 *
 * @dependencies
 * - encoding/json, time: Standard Go libraries.
 * - github.com/google/uuid: For event and aggregate identifiers.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateTypeTransaction is the only aggregate type this core manages.
const AggregateTypeTransaction = "bond_transaction"

// EventType identifies the kind of state change an event records.
type EventType string

const (
	EventTransactionCreated   EventType = "transaction.created"
	EventTransactionVerified  EventType = "transaction.verified"
	EventTransactionFailed    EventType = "transaction.failed"
	EventTransactionCompleted EventType = "transaction.completed"
	EventTransactionCancelled EventType = "transaction.cancelled"
)

// EventMetadata carries correlation metadata and the per-aggregate version
// assigned by the event store at append time. Signature is an integrity MAC
// over the event's essential fields; it is verified at read time.
type EventMetadata struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	CausationID   uuid.UUID `json:"causation_id"`
	Timestamp     time.Time `json:"timestamp"`
	Version       int64     `json:"version"`
	Signature     string    `json:"signature,omitempty"`
}

// Event is the immutable record persisted in the event store.
type Event struct {
	EventID       uuid.UUID     `json:"event_id"`
	EventType     EventType     `json:"event_type"`
	AggregateID   uuid.UUID     `json:"aggregate_id"`
	AggregateType string        `json:"aggregate_type"`
	Data          EventData     `json:"event_data"`
	Metadata      EventMetadata `json:"metadata"`
}

// EventData is the tagged union of event payloads.
type EventData interface {
	Kind() EventType
}

// TransactionCreated records the initial admission of a transaction command.
type TransactionCreated struct {
	BondID           uuid.UUID        `json:"bond_id"`
	PaymentReference *uuid.UUID       `json:"payment_reference,omitempty"`
	TransactionType  TransactionType  `json:"transaction_type"`
	Amount           int64            `json:"amount"`
	Priority         CommandPriority  `json:"priority"`
	RiskScore        float64          `json:"risk_score"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

func (TransactionCreated) Kind() EventType { return EventTransactionCreated }

// TransactionVerified records a successful verification strategy outcome.
type TransactionVerified struct {
	VerificationType VerificationType `json:"verification_type"`
	Confidence       float64          `json:"confidence"`
}

func (TransactionVerified) Kind() EventType { return EventTransactionVerified }

// TransactionFailed records a failed verification or processing step.
type TransactionFailed struct {
	Reason string `json:"reason"`
	Stage  string `json:"stage"`
}

func (TransactionFailed) Kind() EventType { return EventTransactionFailed }

// TransactionCompleted records terminal successful settlement.
type TransactionCompleted struct {
	SettledAmount int64 `json:"settled_amount"`
}

func (TransactionCompleted) Kind() EventType { return EventTransactionCompleted }

// TransactionCancelled records terminal cancellation.
type TransactionCancelled struct {
	Reason string `json:"reason"`
}

func (TransactionCancelled) Kind() EventType { return EventTransactionCancelled }

// UnknownEventData preserves the raw payload of an event type this build does
// not recognize. Folding treats it as a no-op.
type UnknownEventData struct {
	Type EventType       `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (u UnknownEventData) Kind() EventType { return u.Type }

// NewEvent builds a fresh event for aggregateID. The store assigns the version
// at append time; the signer fills the signature.
func NewEvent(aggregateID uuid.UUID, data EventData, correlationID, causationID uuid.UUID) Event {
	return Event{
		EventID:       uuid.New(),
		EventType:     data.Kind(),
		AggregateID:   aggregateID,
		AggregateType: AggregateTypeTransaction,
		Data:          data,
		Metadata: EventMetadata{
			CorrelationID: correlationID,
			CausationID:   causationID,
			Timestamp:     time.Now().UTC(),
		},
	}
}

// EncodeEventData serializes a payload for storage or transport.
func EncodeEventData(data EventData) ([]byte, error) {
	if u, ok := data.(UnknownEventData); ok {
		return u.Raw, nil
	}
	return json.Marshal(data)
}

// DecodeEventData is the single decode switch for event payloads. Unknown
// event types are passed through as UnknownEventData rather than rejected.
func DecodeEventData(eventType EventType, raw []byte) (EventData, error) {
	switch eventType {
	case EventTransactionCreated:
		var d TransactionCreated
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return d, nil
	case EventTransactionVerified:
		var d TransactionVerified
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return d, nil
	case EventTransactionFailed:
		var d TransactionFailed
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return d, nil
	case EventTransactionCompleted:
		var d TransactionCompleted
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return d, nil
	case EventTransactionCancelled:
		var d TransactionCancelled
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return d, nil
	default:
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		return UnknownEventData{Type: eventType, Raw: cp}, nil
	}
}
