// Package risk scores pending transfers. Scores are advisory; callers decide
// whether to gate on the recommendation.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"settlement-engine/internal/common/config"
	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/common/metrics"
	"settlement-engine/internal/models"
)

// Policy holds the tunable thresholds.
type Policy struct {
	HighAmount      decimal.Decimal
	MediumAmount    decimal.Decimal
	LowAmount       decimal.Decimal
	HighFrequency   int
	MediumFrequency int
	Window          time.Duration
	PatternDefault  float64
}

func DefaultPolicy() Policy {
	return Policy{
		HighAmount:      decimal.NewFromInt(1000),
		MediumAmount:    decimal.NewFromInt(500),
		LowAmount:       decimal.NewFromInt(100),
		HighFrequency:   10,
		MediumFrequency: 5,
		Window:          24 * time.Hour,
		PatternDefault:  0.3,
	}
}

// PolicyFrom overrides the defaults with every non-zero config value.
func PolicyFrom(c config.RiskConfig) Policy {
	p := DefaultPolicy()
	if c.HighAmount > 0 {
		p.HighAmount = decimal.NewFromFloat(c.HighAmount)
	}
	if c.MediumAmount > 0 {
		p.MediumAmount = decimal.NewFromFloat(c.MediumAmount)
	}
	if c.LowAmount > 0 {
		p.LowAmount = decimal.NewFromFloat(c.LowAmount)
	}
	if c.HighFrequency > 0 {
		p.HighFrequency = c.HighFrequency
	}
	if c.MediumFrequency > 0 {
		p.MediumFrequency = c.MediumFrequency
	}
	if c.FrequencyWindow > 0 {
		p.Window = config.GetDuration(c.FrequencyWindow)
	}
	if c.PatternDefault > 0 {
		p.PatternDefault = c.PatternDefault
	}
	return p
}

// History is what the engine needs from persistence.
type History interface {
	LoadAccount(ctx context.Context, id string) (*models.Account, error)
	CountCompletedSince(ctx context.Context, accountID string, since time.Time) (int, error)
}

// PatternDetector scores behavioural patterns in [0,1].
type PatternDetector interface {
	Score(ctx context.Context, accountID string, amount decimal.Decimal) (float64, error)
}

// ConstantPattern reports the same pattern risk for every transfer.
type ConstantPattern float64

func (c ConstantPattern) Score(context.Context, string, decimal.Decimal) (float64, error) {
	return float64(c), nil
}

type Engine struct {
	history History
	policy  Policy
	pattern PatternDetector
	clock   func() time.Time
	logger  logger.Logger
}

type Option func(*Engine)

func WithPatternDetector(p PatternDetector) Option {
	return func(e *Engine) { e.pattern = p }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func NewEngine(history History, policy Policy, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		history: history,
		policy:  policy,
		pattern: ConstantPattern(policy.PatternDefault),
		clock:   func() time.Time { return time.Now().UTC() },
		logger:  logger.ForComponent(log, "risk-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assess scores a transfer of amount out of fromAccountID.
func (e *Engine) Assess(ctx context.Context, fromAccountID string, amount decimal.Decimal) (models.RiskAssessment, error) {
	now := e.clock()

	frequency, err := e.frequencyRisk(ctx, fromAccountID, now)
	if err != nil {
		return models.RiskAssessment{}, err
	}
	pattern, err := e.pattern.Score(ctx, fromAccountID, amount)
	if err != nil {
		return models.RiskAssessment{}, apperrors.NewExternalServiceError("pattern-detector", err)
	}

	factors := models.RiskFactors{
		Amount:    e.amountRisk(amount),
		Frequency: frequency,
		Pattern:   clamp(pattern),
	}
	score := (factors.Amount + factors.Frequency + factors.Pattern) / 3
	assessment := models.RiskAssessment{
		Score:          score,
		Factors:        factors,
		Recommendation: Recommend(score),
		AssessedAt:     now,
	}

	metrics.RiskScore.WithLabelValues(string(assessment.Recommendation)).Observe(score)
	e.logger.Debug("Transfer assessed", map[string]interface{}{
		"accountId":      fromAccountID,
		"amount":         amount.String(),
		"score":          score,
		"recommendation": string(assessment.Recommendation),
	})
	return assessment, nil
}

func (e *Engine) amountRisk(amount decimal.Decimal) float64 {
	switch {
	case amount.GreaterThan(e.policy.HighAmount):
		return 0.8
	case amount.GreaterThan(e.policy.MediumAmount):
		return 0.5
	case amount.GreaterThan(e.policy.LowAmount):
		return 0.3
	default:
		return 0.1
	}
}

// frequencyRisk counts completed transfers touching the account within the
// window. An unknown account scores the maximum.
func (e *Engine) frequencyRisk(ctx context.Context, accountID string, now time.Time) (float64, error) {
	if _, err := e.history.LoadAccount(ctx, accountID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 1.0, nil
		}
		return 0, err
	}
	n, err := e.history.CountCompletedSince(ctx, accountID, now.Add(-e.policy.Window))
	if err != nil {
		return 0, err
	}
	switch {
	case n > e.policy.HighFrequency:
		return 0.8, nil
	case n > e.policy.MediumFrequency:
		return 0.5, nil
	default:
		return 0.2, nil
	}
}

// Recommend maps a score to its recommendation.
func Recommend(score float64) models.Recommendation {
	switch {
	case score > 0.7:
		return models.RecommendAdditionalVerification
	case score > 0.4:
		return models.RecommendStandardVerification
	default:
		return models.RecommendProceed
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
