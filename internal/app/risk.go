/**
 * @description
 * This file implements the financial risk calculator: a pure function that
 * blends seven weighted rule-based factor scores with an externally supplied
 * predictive-model score into a final value in [0, 1]. The predictive model
 * is an injected collaborator; only the blending contract lives here.
 *
 * Scores are cached with a short TTL keyed by transaction id. Caching is an
 * optimization only, never part of the correctness contract: every cache
 * failure degrades to recomputation with a warn log.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
)

// Factor weights for the traditional (rule-based) score.
const (
	weightAmount     = 0.20
	weightType       = 0.15
	weightStage      = 0.10
	weightHistory    = 0.20
	weightTemporal   = 0.10
	weightMetadata   = 0.10
	weightBehavioral = 0.15
)

// Blend between the traditional score and the predictive model score.
const (
	blendTraditional = 0.70
	blendPredictive  = 0.30
)

// historyWindow is how far back the failure-rate factor looks.
const historyWindow = 30 * 24 * time.Hour

// PredictiveModel is the injected external scoring collaborator.
type PredictiveModel interface {
	Predict(ctx context.Context, features RiskFeatures) (float64, error)
}

// RiskCache stores computed scores for a short TTL. Implementations must be
// nil-safe no-ops when unavailable.
type RiskCache interface {
	Get(ctx context.Context, transactionID uuid.UUID) (float64, bool, error)
	Set(ctx context.Context, transactionID uuid.UUID, score float64, ttl time.Duration) error
}

// RiskFeatures is the feature vector handed to the predictive model.
type RiskFeatures struct {
	Amount          int64                  `json:"amount"`
	TransactionType domain.TransactionType `json:"transaction_type"`
	ProcessingStage domain.ProcessingStage `json:"processing_stage"`
	RetryCount      int                    `json:"retry_count"`
	FailureRate     float64                `json:"failure_rate"`
	HourOfDay       int                    `json:"hour_of_day"`
	Weekend         bool                   `json:"weekend"`
}

// RiskBreakdown reports each contributing factor of a computed score.
type RiskBreakdown struct {
	Amount      float64 `json:"amount"`
	Type        float64 `json:"type"`
	Stage       float64 `json:"stage"`
	History     float64 `json:"history"`
	Temporal    float64 `json:"temporal"`
	Metadata    float64 `json:"metadata"`
	Behavioral  float64 `json:"behavioral"`
	Traditional float64 `json:"traditional"`
	Predictive  float64 `json:"predictive"`
	Final       float64 `json:"final"`
}

// RiskCalculator computes blended risk scores for transaction states.
type RiskCalculator struct {
	model    PredictiveModel
	history  store.HistoryProvider
	cache    RiskCache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewRiskCalculator creates a calculator. model, history, and cache may each
// be nil; missing collaborators degrade to neutral contributions.
func NewRiskCalculator(model PredictiveModel, history store.HistoryProvider, cache RiskCache, cacheTTL time.Duration) *RiskCalculator {
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}
	return &RiskCalculator{model: model, history: history, cache: cache, cacheTTL: cacheTTL, now: time.Now}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func amountRisk(amount int64) float64 {
	switch {
	case amount < 10_000:
		return 0.1
	case amount < 100_000:
		return 0.3
	case amount < 500_000:
		return 0.6
	default:
		return 0.9
	}
}

func typeRisk(t domain.TransactionType) float64 {
	switch t {
	case domain.TransactionPayment:
		return 0.2
	case domain.TransactionCorrection:
		return 0.3
	case domain.TransactionRefund:
		return 0.4
	case domain.TransactionAdjustment:
		return 0.5
	case domain.TransactionReversal:
		return 0.6
	case domain.TransactionForfeiture:
		return 0.7
	default:
		return 0.5
	}
}

func stageRisk(stage domain.ProcessingStage) float64 {
	switch stage {
	case domain.StageCompleted:
		return 0.1
	case domain.StageVerified:
		return 0.2
	case domain.StageInitialized:
		return 0.3
	case domain.StageProcessing:
		return 0.5
	case domain.StageFailed:
		return 0.9
	default:
		return 0.3
	}
}

func temporalRisk(at time.Time) float64 {
	at = at.UTC()
	offHours := at.Hour() < 6 || at.Hour() >= 22
	weekend := at.Weekday() == time.Saturday || at.Weekday() == time.Sunday

	switch {
	case offHours && weekend:
		return 0.8
	case offHours:
		return 0.6
	case weekend:
		return 0.4
	default:
		return 0.1
	}
}

func metadataRisk(metadata map[string]string, retryCount int) float64 {
	score := 0.0
	if metadata["automated"] == "true" {
		score += 0.3
	}
	if retryCount > 2 {
		score += 0.4
	}
	if _, ok := metadata["ip_address"]; ok {
		score += 0.1
	}
	return clamp01(score)
}

// behavioralRisk sums a fixed increment for each flagged unusual pattern,
// capped at 1.0.
func behavioralRisk(metadata map[string]string) float64 {
	score := 0.0
	for _, flag := range []string{"unusual_timing", "unusual_amount", "unusual_frequency", "unusual_context"} {
		if metadata[flag] == "true" {
			score += 0.25
		}
	}
	return clamp01(score)
}

// Score computes the blended risk score for a state, consulting the cache
// first. The returned breakdown reports every contributing factor.
func (c *RiskCalculator) Score(ctx context.Context, state domain.TransactionState) (float64, RiskBreakdown, error) {
	if c.cache != nil && state.TransactionID != uuid.Nil {
		if score, ok, err := c.cache.Get(ctx, state.TransactionID); err != nil {
			log.Printf("level=warn component=risk msg=\"cache read failed; recomputing\" transaction_id=%s err=%v", state.TransactionID, err)
		} else if ok {
			return score, RiskBreakdown{Final: score}, nil
		}
	}

	breakdown := c.computeTraditional(ctx, state)

	predictive := breakdown.Traditional
	if c.model != nil {
		at := state.CreatedAt
		if at.IsZero() {
			at = c.now().UTC()
		}
		score, err := c.model.Predict(ctx, RiskFeatures{
			Amount:          state.Amount,
			TransactionType: state.TransactionType,
			ProcessingStage: state.ProcessingStage,
			RetryCount:      state.RetryCount,
			FailureRate:     breakdown.History,
			HourOfDay:       at.UTC().Hour(),
			Weekend:         at.UTC().Weekday() == time.Saturday || at.UTC().Weekday() == time.Sunday,
		})
		if err != nil {
			log.Printf("level=warn component=risk msg=\"predictive model unavailable; using traditional score\" transaction_id=%s err=%v", state.TransactionID, err)
		} else {
			predictive = clamp01(score)
		}
	}
	breakdown.Predictive = predictive

	final := clamp01(blendTraditional*breakdown.Traditional + blendPredictive*predictive)
	breakdown.Final = final

	if c.cache != nil && state.TransactionID != uuid.Nil {
		if err := c.cache.Set(ctx, state.TransactionID, final, c.cacheTTL); err != nil {
			log.Printf("level=warn component=risk msg=\"cache write failed\" transaction_id=%s err=%v", state.TransactionID, err)
		}
	}
	return final, breakdown, nil
}

func (c *RiskCalculator) computeTraditional(ctx context.Context, state domain.TransactionState) RiskBreakdown {
	breakdown := RiskBreakdown{
		Amount: amountRisk(state.Amount),
		Type:   typeRisk(state.TransactionType),
		Stage:  stageRisk(state.ProcessingStage),
	}

	if c.history != nil && state.BondID != uuid.Nil {
		since := c.now().UTC().Add(-historyWindow)
		stats, err := c.history.TransactionFailureStats(ctx, state.BondID, state.TransactionType, since)
		if err != nil {
			log.Printf("level=warn component=risk msg=\"history lookup failed; treating as no history\" bond_id=%s err=%v", state.BondID, err)
		} else if stats.Total > 0 {
			breakdown.History = clamp01(float64(stats.Failed) / float64(stats.Total))
		}
	}

	at := state.CreatedAt
	if at.IsZero() {
		at = c.now().UTC()
	}
	breakdown.Temporal = temporalRisk(at)
	breakdown.Metadata = metadataRisk(state.Metadata, state.RetryCount)
	breakdown.Behavioral = behavioralRisk(state.Metadata)

	breakdown.Traditional = clamp01(
		weightAmount*breakdown.Amount +
			weightType*breakdown.Type +
			weightStage*breakdown.Stage +
			weightHistory*breakdown.History +
			weightTemporal*breakdown.Temporal +
			weightMetadata*breakdown.Metadata +
			weightBehavioral*breakdown.Behavioral,
	)
	return breakdown
}
