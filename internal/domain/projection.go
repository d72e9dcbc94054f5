/**
 * @description
 * This file defines the denormalized read-model row maintained per aggregate
 * for low-latency queries. The projection is eventually consistent with the
 * event log, never the system of record, and can be rebuilt at any time by
 * replaying events.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionProjection is the query-optimized row for one transaction
// aggregate. LastEventVersion gates idempotent application under
// at-least-once delivery.
type TransactionProjection struct {
	TransactionID          uuid.UUID         `json:"transaction_id"`
	BondID                 uuid.UUID         `json:"bond_id"`
	TransactionType        TransactionType   `json:"transaction_type"`
	Amount                 int64             `json:"amount"`
	Status                 TransactionStatus `json:"status"`
	ProcessingStage        ProcessingStage   `json:"processing_stage"`
	RiskScore              float64           `json:"risk_score"`
	VerificationConfidence float64           `json:"verification_confidence"`
	FailureReason          *string           `json:"failure_reason,omitempty"`
	RetryCount             int               `json:"retry_count"`
	LastEventVersion       int64             `json:"last_event_version"`
	CreatedAt              time.Time         `json:"created_at"`
	LastUpdatedAt          time.Time         `json:"last_updated_at"`
}
