/**
 * @description
 * This file implements the validator pipeline: six independent checks that
 * run concurrently against a single command and are joined before the
 * processor proceeds. Any single failure aborts the whole command with a
 * composite error listing every failed check's reason; nothing is persisted.
 *
 * Business failures (an ineligible bond, an amount over the ceiling) are
 * aggregated into a *PipelineError. Infrastructure errors (a lookup that
 * cannot be answered) abort validation outright and count against the
 * circuit breaker instead.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
)

// Check names in reporting order.
const (
	CheckBondEligibility = "bond_eligibility"
	CheckAmountLimit     = "amount_limit"
	CheckFinancialRisk   = "financial_risk"
	CheckCompliance      = "compliance"
	CheckPaymentMethod   = "payment_method"
	CheckPerimeter       = "perimeter"
)

var checkOrder = map[string]int{
	CheckBondEligibility: 0,
	CheckAmountLimit:     1,
	CheckFinancialRisk:   2,
	CheckCompliance:      3,
	CheckPaymentMethod:   4,
	CheckPerimeter:       5,
}

// DefaultRiskCeiling is the hard admission ceiling on the blended risk score.
const DefaultRiskCeiling = 0.8

// CheckFailure is one violated rule within a pipeline rejection.
type CheckFailure struct {
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

// PipelineError aggregates every failed check for a rejected command.
type PipelineError struct {
	Failures []CheckFailure
}

func (e *PipelineError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Check, f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AmountCeiling returns the per-transaction-type amount ceiling in cents.
func AmountCeiling(t domain.TransactionType) int64 {
	switch t {
	case domain.TransactionPayment, domain.TransactionRefund, domain.TransactionForfeiture:
		return 1_000_000 // $10,000
	case domain.TransactionReversal:
		return 500_000
	default: // adjustment, correction
		return 100_000
	}
}

// ValidatorPipeline runs the six admission checks for a command.
type ValidatorPipeline struct {
	bonds       store.BondLookup
	payments    store.PaymentReferenceLookup
	risk        *RiskCalculator
	compliance  ComplianceEngine
	perimeter   *Perimeter
	riskCeiling float64
}

// NewValidatorPipeline creates a pipeline. A non-positive riskCeiling falls
// back to DefaultRiskCeiling.
func NewValidatorPipeline(
	bonds store.BondLookup,
	payments store.PaymentReferenceLookup,
	risk *RiskCalculator,
	compliance ComplianceEngine,
	perimeter *Perimeter,
	riskCeiling float64,
) *ValidatorPipeline {
	if riskCeiling <= 0 || riskCeiling > 1 {
		riskCeiling = DefaultRiskCeiling
	}
	return &ValidatorPipeline{
		bonds:       bonds,
		payments:    payments,
		risk:        risk,
		compliance:  compliance,
		perimeter:   perimeter,
		riskCeiling: riskCeiling,
	}
}

type checkResult struct {
	check   string
	failure string
	err     error
}

// Validate fans the six checks out concurrently and joins them. It returns a
// *PipelineError when any rule is violated, or a plain error when a check
// could not be answered. provisional is the pre-persistence state built from
// the command, used for risk scoring.
func (p *ValidatorPipeline) Validate(ctx context.Context, cmd domain.Command, provisional domain.TransactionState) error {
	checks := []func(context.Context, domain.Command, domain.TransactionState) checkResult{
		p.checkBondEligibility,
		p.checkAmountLimit,
		p.checkFinancialRisk,
		p.checkCompliance,
		p.checkPaymentMethod,
		p.checkPerimeter,
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []checkResult
	)
	for _, check := range checks {
		wg.Add(1)
		go func(run func(context.Context, domain.Command, domain.TransactionState) checkResult) {
			defer wg.Done()
			result := run(ctx, cmd, provisional)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	var (
		failures []CheckFailure
		infraErr error
	)
	for _, result := range results {
		if result.err != nil && infraErr == nil {
			infraErr = fmt.Errorf("%s check unavailable: %w", result.check, result.err)
		}
		if result.failure != "" {
			failures = append(failures, CheckFailure{Check: result.check, Reason: result.failure})
		}
	}
	if infraErr != nil {
		return infraErr
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool {
			return checkOrder[failures[i].Check] < checkOrder[failures[j].Check]
		})
		return &PipelineError{Failures: failures}
	}
	return nil
}

func (p *ValidatorPipeline) checkBondEligibility(ctx context.Context, cmd domain.Command, _ domain.TransactionState) checkResult {
	result := checkResult{check: CheckBondEligibility}
	if p.bonds == nil {
		result.err = errors.New("bond lookup not configured")
		return result
	}
	_, err := p.bonds.FindActiveOrPendingBond(ctx, cmd.BondID)
	if err != nil {
		if errors.Is(err, store.ErrBondNotFound) {
			result.failure = "bond is not active or pending"
		} else {
			result.err = err
		}
	}
	return result
}

func (p *ValidatorPipeline) checkAmountLimit(_ context.Context, cmd domain.Command, _ domain.TransactionState) checkResult {
	result := checkResult{check: CheckAmountLimit}
	if ceiling := AmountCeiling(cmd.TransactionType); cmd.Amount > ceiling {
		result.failure = fmt.Sprintf("amount exceeds maximum allowed (%d > %d)", cmd.Amount, ceiling)
	}
	return result
}

func (p *ValidatorPipeline) checkFinancialRisk(ctx context.Context, _ domain.Command, provisional domain.TransactionState) checkResult {
	result := checkResult{check: CheckFinancialRisk}
	if p.risk == nil {
		return result
	}
	score, _, err := p.risk.Score(ctx, provisional)
	if err != nil {
		result.err = err
		return result
	}
	if score > p.riskCeiling {
		result.failure = fmt.Sprintf("risk score %.2f exceeds ceiling %.2f", score, p.riskCeiling)
	}
	return result
}

func (p *ValidatorPipeline) checkCompliance(ctx context.Context, cmd domain.Command, _ domain.TransactionState) checkResult {
	result := checkResult{check: CheckCompliance}
	if p.compliance == nil {
		return result
	}
	verdict, err := p.compliance.Validate(ctx, cmd.Amount, cmd.TransactionType, cmd.Metadata())
	if err != nil {
		result.err = err
		return result
	}
	if !verdict.Compliant {
		result.failure = strings.Join(verdict.Errors, ", ")
	}
	return result
}

func (p *ValidatorPipeline) checkPaymentMethod(ctx context.Context, cmd domain.Command, _ domain.TransactionState) checkResult {
	result := checkResult{check: CheckPaymentMethod}
	if cmd.PaymentReference == nil {
		return result
	}
	if p.payments == nil {
		result.err = errors.New("payment reference lookup not configured")
		return result
	}
	record, err := p.payments.FindCompletedPaymentReference(ctx, *cmd.PaymentReference)
	if err != nil {
		if errors.Is(err, store.ErrPaymentReferenceNotFound) {
			result.failure = "payment reference not found"
		} else {
			result.err = err
		}
		return result
	}
	if record.Status != string(domain.StatusCompleted) {
		result.failure = "payment reference is not completed"
		return result
	}
	if record.Amount != cmd.Amount {
		result.failure = fmt.Sprintf("payment reference amount %d does not match command amount %d", record.Amount, cmd.Amount)
	}
	return result
}

func (p *ValidatorPipeline) checkPerimeter(_ context.Context, cmd domain.Command, _ domain.TransactionState) checkResult {
	result := checkResult{check: CheckPerimeter}
	if p.perimeter == nil {
		return result
	}
	if err := p.perimeter.Check(cmd); err != nil {
		result.failure = err.Error()
	}
	return result
}
