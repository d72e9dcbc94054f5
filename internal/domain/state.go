/**
 * @description
 * This file defines the transaction aggregate: a derived, in-memory value
 * reconstructed purely by folding the aggregate's ordered event stream.
 * Reconstruction is the only way to obtain authoritative state; no other code
 * path mutates status or amount fields directly.
 *
 * Each apply step returns a new copy of the state, so a published state value
 * can never be mutated in place by a later fold.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus is the coarse lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusProcessing TransactionStatus = "processing"
	StatusVerified   TransactionStatus = "verified"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ProcessingStage is the finer-grained progress indicator used for risk
// weighting, tracked in parallel with the status field.
type ProcessingStage string

const (
	StageInitialized ProcessingStage = "initialized"
	StageProcessing  ProcessingStage = "processing"
	StageVerified    ProcessingStage = "verified"
	StageCompleted   ProcessingStage = "completed"
	StageFailed      ProcessingStage = "failed"
)

// ImpactCategory buckets a transaction's financial materiality by amount.
type ImpactCategory string

const (
	ImpactMinor    ImpactCategory = "minor"
	ImpactModerate ImpactCategory = "moderate"
	ImpactMajor    ImpactCategory = "major"
	ImpactCritical ImpactCategory = "critical"
)

// FinancialImpact is derived from amount and transaction type. It is part of
// the folded state, never persisted independently.
type FinancialImpact struct {
	Category               ImpactCategory
	RiskLevel              string
	LiquidityImpact        int64
	ComplianceRequirements []string
}

// DeriveFinancialImpact computes the impact classification for an amount and
// transaction type. Bands are in cents.
func DeriveFinancialImpact(amount int64, transactionType TransactionType) FinancialImpact {
	impact := FinancialImpact{LiquidityImpact: amount}

	switch {
	case amount < 10_000:
		impact.Category = ImpactMinor
		impact.RiskLevel = "low"
	case amount < 100_000:
		impact.Category = ImpactModerate
		impact.RiskLevel = "medium"
	case amount < 1_000_000:
		impact.Category = ImpactMajor
		impact.RiskLevel = "high"
	default:
		impact.Category = ImpactCritical
		impact.RiskLevel = "critical"
	}

	// Refunds and reversals release liquidity rather than consume it.
	if transactionType == TransactionRefund || transactionType == TransactionReversal {
		impact.LiquidityImpact = -amount
	}

	if amount >= 100_000 {
		impact.ComplianceRequirements = append(impact.ComplianceRequirements, "kyc")
	}
	if amount >= 1_000_000 {
		impact.ComplianceRequirements = append(impact.ComplianceRequirements, "aml")
	}
	if transactionType == TransactionRefund || transactionType == TransactionReversal {
		impact.ComplianceRequirements = append(impact.ComplianceRequirements, "sanctions_screening")
	}
	return impact
}

// TransactionState is the aggregate, valid only as the result of a fold.
type TransactionState struct {
	TransactionID          uuid.UUID
	BondID                 uuid.UUID
	PaymentReference       *uuid.UUID
	TransactionType        TransactionType
	Amount                 int64
	Status                 TransactionStatus
	ProcessingStage        ProcessingStage
	FinancialImpact        FinancialImpact
	VerificationConfidence float64
	FailureReason          string
	RetryCount             int
	Version                int64
	Metadata               map[string]string

	CreatedAt   time.Time
	VerifiedAt  *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	CancelledAt *time.Time
}

// StateFromEvents folds events strictly in the given (ascending version) order
// starting from the implicit empty state. Folding is total: unrecognized event
// payloads are no-ops so that old readers tolerate new event types. Version
// after folding equals the number of events folded.
func StateFromEvents(aggregateID uuid.UUID, events []Event) TransactionState {
	state := TransactionState{TransactionID: aggregateID}
	for _, event := range events {
		state = state.apply(event)
	}
	return state
}

func (s TransactionState) apply(event Event) TransactionState {
	next := s
	next.Version = s.Version + 1

	switch data := event.Data.(type) {
	case TransactionCreated:
		next.BondID = data.BondID
		next.PaymentReference = data.PaymentReference
		next.TransactionType = data.TransactionType
		next.Amount = data.Amount
		next.Status = StatusPending
		next.ProcessingStage = StageInitialized
		next.FinancialImpact = DeriveFinancialImpact(data.Amount, data.TransactionType)
		next.CreatedAt = event.Metadata.Timestamp
		if len(data.Metadata) > 0 {
			next.Metadata = make(map[string]string, len(data.Metadata))
			for k, v := range data.Metadata {
				next.Metadata[k] = v
			}
		}
	case TransactionVerified:
		next.Status = StatusVerified
		next.ProcessingStage = StageVerified
		next.VerificationConfidence = data.Confidence
		ts := event.Metadata.Timestamp
		next.VerifiedAt = &ts
	case TransactionFailed:
		next.Status = StatusFailed
		next.ProcessingStage = StageFailed
		next.FailureReason = data.Reason
		next.RetryCount = s.RetryCount + 1
		ts := event.Metadata.Timestamp
		next.FailedAt = &ts
	case TransactionCompleted:
		next.Status = StatusCompleted
		next.ProcessingStage = StageCompleted
		ts := event.Metadata.Timestamp
		next.CompletedAt = &ts
	case TransactionCancelled:
		next.Status = StatusCancelled
		next.FailureReason = data.Reason
		ts := event.Metadata.Timestamp
		next.CancelledAt = &ts
	default:
		// Unknown event type: count it toward the version but change nothing.
	}
	return next
}
