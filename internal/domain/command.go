/**
 * @description
 * This file defines the Command value: an immutable description of a requested
 * transaction intent (payment, refund, forfeiture, etc.) against a bond,
 * together with the correlation metadata that links causal chains of commands
 * and events. Commands are only ever created through checked constructors so
 * that a partially-valid command can never reach the processor.
 *
 * @notes
 * - Amounts are `int64` in the smallest currency unit (cents) to avoid
 *   floating-point inaccuracies with financial data.
 * - The metadata map is copied on construction and on access, preserving the
 *   "never mutated after creation" invariant for callers that hold references.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the supported transaction intents.
type TransactionType string

const (
	TransactionPayment    TransactionType = "payment"
	TransactionRefund     TransactionType = "refund"
	TransactionForfeiture TransactionType = "forfeiture"
	TransactionAdjustment TransactionType = "adjustment"
	TransactionReversal   TransactionType = "reversal"
	TransactionCorrection TransactionType = "correction"
)

// ValidTransactionType reports whether t is one of the known transaction types.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TransactionPayment, TransactionRefund, TransactionForfeiture,
		TransactionAdjustment, TransactionReversal, TransactionCorrection:
		return true
	}
	return false
}

// CommandPriority enumerates processing priorities.
type CommandPriority string

const (
	PriorityLow      CommandPriority = "low"
	PriorityNormal   CommandPriority = "normal"
	PriorityHigh     CommandPriority = "high"
	PriorityCritical CommandPriority = "critical"
)

// VerificationType selects the verification strategy for a verification command.
type VerificationType string

const (
	VerificationFraudDetection  VerificationType = "fraud_detection"
	VerificationComplianceCheck VerificationType = "compliance_check"
)

// ValidationError is returned when a command cannot be constructed. It carries
// the offending field and a human-readable reason so callers can report
// structural failures synchronously, before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid command: %s %s", e.Field, e.Reason)
}

// Command is an immutable description of a requested transaction intent.
// A command is never mutated after creation; derived commands carry the
// correlation id forward to link the causal chain.
type Command struct {
	BondID           uuid.UUID
	PaymentReference *uuid.UUID
	TransactionType  TransactionType
	VerificationType VerificationType
	Amount           int64 // in cents
	Priority         CommandPriority
	Timestamp        time.Time
	RequestID        uuid.UUID
	CorrelationID    uuid.UUID
	CausationID      uuid.UUID
	Signature        string

	metadata map[string]string
}

// CommandParams carries the caller-supplied inputs for NewCommand.
type CommandParams struct {
	BondID           uuid.UUID
	PaymentReference *uuid.UUID
	TransactionType  TransactionType
	VerificationType VerificationType
	Amount           int64
	Metadata         map[string]string
	Priority         CommandPriority
	Timestamp        time.Time
	RequestID        uuid.UUID
	CorrelationID    uuid.UUID
	CausationID      uuid.UUID
	Signature        string
}

// NewCommand validates params and returns an immutable Command. Construction
// either yields a valid command or a typed *ValidationError, never a
// partially-constructed value.
func NewCommand(params CommandParams) (Command, error) {
	if params.BondID == uuid.Nil {
		return Command{}, &ValidationError{Field: "bond_id", Reason: "is required"}
	}
	if params.Amount <= 0 {
		return Command{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !ValidTransactionType(params.TransactionType) {
		return Command{}, &ValidationError{Field: "transaction_type", Reason: fmt.Sprintf("%q is not a known transaction type", params.TransactionType)}
	}
	if params.CorrelationID == uuid.Nil {
		return Command{}, &ValidationError{Field: "correlation_id", Reason: "is required"}
	}
	if params.RequestID == uuid.Nil {
		return Command{}, &ValidationError{Field: "request_id", Reason: "is required"}
	}

	priority := params.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return Command{}, &ValidationError{Field: "priority", Reason: fmt.Sprintf("%q is not a known priority", priority)}
	}

	timestamp := params.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	var metadata map[string]string
	if len(params.Metadata) > 0 {
		metadata = make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			metadata[k] = v
		}
	}

	return Command{
		BondID:           params.BondID,
		PaymentReference: params.PaymentReference,
		TransactionType:  params.TransactionType,
		VerificationType: params.VerificationType,
		Amount:           params.Amount,
		Priority:         priority,
		Timestamp:        timestamp.UTC(),
		RequestID:        params.RequestID,
		CorrelationID:    params.CorrelationID,
		CausationID:      params.CausationID,
		Signature:        params.Signature,
		metadata:         metadata,
	}, nil
}

// Metadata returns a copy of the command's metadata map.
func (c Command) Metadata() map[string]string {
	if len(c.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// MetadataValue returns the value for key and whether it was present.
func (c Command) MetadataValue(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// Derive returns a follow-up command for the same bond that carries the
// correlation id forward and records this command's request id as causation.
func (c Command) Derive(transactionType TransactionType, amount int64) (Command, error) {
	return NewCommand(CommandParams{
		BondID:          c.BondID,
		TransactionType: transactionType,
		Amount:          amount,
		Metadata:        c.Metadata(),
		Priority:        c.Priority,
		RequestID:       uuid.New(),
		CorrelationID:   c.CorrelationID,
		CausationID:     c.RequestID,
	})
}
