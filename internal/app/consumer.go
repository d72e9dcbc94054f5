package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
)

// SettlementStatusEvent is the message the settlement service publishes when
// it finishes processing a transaction.
type SettlementStatusEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        string    `json:"status"`
	SettledAmount int64     `json:"settled_amount"`
	Reason        string    `json:"reason"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	CausationID   uuid.UUID `json:"causation_id"`
}

// SettlementConsumer consumes settlement outcomes and drives the transaction
// to its terminal state through the processor.
type SettlementConsumer struct {
	processor *Processor
}

func NewSettlementConsumer(processor *Processor) *SettlementConsumer {
	return &SettlementConsumer{processor: processor}
}

// HandleMessage processes one settlement outcome under at-least-once
// delivery. Malformed payloads and already-terminal transactions ack;
// store failures and version conflicts requeue for retry.
func (c *SettlementConsumer) HandleMessage(body []byte) bool {
	var event SettlementStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=settlement_consumer msg=\"failed to unmarshal payload; dropping\" err=%v", err)
		return true
	}
	if event.TransactionID == uuid.Nil {
		log.Printf("level=error component=settlement_consumer msg=\"missing transaction id; dropping\" status=%s", event.Status)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=warn component=settlement_consumer msg=\"processing failed; re-queuing\" transaction_id=%s err=%v", event.TransactionID, err)
		return false
	}
	return true
}

func (c *SettlementConsumer) processEvent(ctx context.Context, event SettlementStatusEvent) error {
	correlationID := event.CorrelationID
	if correlationID == uuid.Nil {
		correlationID = uuid.New()
	}
	pctx := ProcessorContext{ActorID: "settlement-service", RequestID: uuid.New()}

	var err error
	switch normalizeSettlementStatus(event.Status) {
	case "completed":
		_, err = c.processor.CompleteTransaction(ctx, pctx, event.TransactionID, event.SettledAmount, correlationID, event.CausationID)
	case "cancelled":
		reason := event.Reason
		if reason == "" {
			reason = "settlement cancelled"
		}
		_, err = c.processor.CancelTransaction(ctx, pctx, event.TransactionID, reason, correlationID, event.CausationID)
	default:
		log.Printf("level=info component=settlement_consumer msg=\"ignoring non-terminal settlement status\" transaction_id=%s status=%s", event.TransactionID, event.Status)
		return nil
	}

	if err != nil {
		// A terminal or unknown transaction means this outcome was already
		// applied or never ours; acknowledging avoids a redelivery loop.
		if errors.Is(err, ErrTerminalState) || errors.Is(err, store.ErrAggregateNotFound) {
			log.Printf("level=info component=settlement_consumer msg=\"settlement outcome already applied or unknown; acknowledging\" transaction_id=%s err=%v", event.TransactionID, err)
			return nil
		}
		return err
	}
	return nil
}

func normalizeSettlementStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case "successful", "success", "settled", "completed":
		return "completed"
	case "cancelled", "canceled", "rejected", "expired":
		return "cancelled"
	default:
		return status
	}
}
