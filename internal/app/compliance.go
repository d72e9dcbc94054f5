/**
 * @description
 * This file defines the compliance-rules collaborator interface and the
 * built-in rule-based implementation covering amount- and type-driven
 * KYC/AML/sanctions requirements. Deployments with an external rules engine
 * substitute their own ComplianceEngine.
 */

package app

import (
	"context"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
)

// ComplianceResult reports whether a command satisfies compliance rules and,
// when it does not, which rules it violated.
type ComplianceResult struct {
	Compliant bool
	Errors    []string
}

// ComplianceEngine is the injected compliance-rules collaborator.
type ComplianceEngine interface {
	Validate(ctx context.Context, amount int64, transactionType domain.TransactionType, metadata map[string]string) (ComplianceResult, error)
}

// RuleBasedComplianceEngine enforces the amount- and type-driven requirements
// derived by domain.DeriveFinancialImpact against the evidence carried in
// command metadata.
type RuleBasedComplianceEngine struct{}

// NewRuleBasedComplianceEngine creates the default engine.
func NewRuleBasedComplianceEngine() *RuleBasedComplianceEngine {
	return &RuleBasedComplianceEngine{}
}

// Validate checks each derived requirement against its metadata evidence key.
// A requirement is satisfied when the matching *_verified key is "true".
func (e *RuleBasedComplianceEngine) Validate(ctx context.Context, amount int64, transactionType domain.TransactionType, metadata map[string]string) (ComplianceResult, error) {
	impact := domain.DeriveFinancialImpact(amount, transactionType)

	result := ComplianceResult{Compliant: true}
	for _, requirement := range impact.ComplianceRequirements {
		key := requirement + "_verified"
		if metadata[key] != "true" {
			result.Compliant = false
			result.Errors = append(result.Errors, requirement+" verification required")
		}
	}
	if metadata["sanctions_hit"] == "true" {
		result.Compliant = false
		result.Errors = append(result.Errors, "counterparty matched a sanctions list")
	}
	return result, nil
}
