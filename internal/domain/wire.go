/**
 * @description
 * Wire/storage representation of an event. The envelope mirrors the persisted
 * shape exactly: typed payloads are carried as raw JSON tagged by event_type,
 * so consumers decode through the same DecodeEventData switch the store uses.
 */

package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// EventRecord is the transport form of an Event.
type EventRecord struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventData     json.RawMessage `json:"event_data"`
	Metadata      EventMetadata   `json:"metadata"`
}

// Record converts an Event into its wire form.
func (e Event) Record() (EventRecord, error) {
	payload, err := EncodeEventData(e.Data)
	if err != nil {
		return EventRecord{}, err
	}
	return EventRecord{
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventData:     payload,
		Metadata:      e.Metadata,
	}, nil
}

// Event converts a wire record back into a typed Event.
func (r EventRecord) Event() (Event, error) {
	data, err := DecodeEventData(r.EventType, r.EventData)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       r.EventID,
		EventType:     r.EventType,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		Data:          data,
		Metadata:      r.Metadata,
	}, nil
}
