// Package telemetry prices model interactions against the policy pricing
// table. All money math runs on decimals and rounds to 6 decimal places so
// financial comparisons are reproducible across runs.
package telemetry

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bankops/governance-gateway/internal/policy"
)

const costScale = 6

var oneThousand = decimal.NewFromInt(1000)

// CostRecord is the priced outcome of one request.
type CostRecord struct {
	Model           string          `json:"model"`
	InputTokens     int             `json:"input_tokens"`
	OutputTokens    int             `json:"output_tokens"`
	TokensEstimated bool            `json:"tokens_are_estimated"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

// SpendingLimitExceededError is a terminal, non-retryable business decision:
// the projected cost of a request exceeds the configured per-request ceiling.
type SpendingLimitExceededError struct {
	Model     string
	Projected decimal.Decimal
	Limit     decimal.Decimal
}

func (e *SpendingLimitExceededError) Error() string {
	return fmt.Sprintf("projected cost $%s for model %q exceeds spending limit $%s",
		e.Projected.StringFixed(costScale), e.Model, e.Limit.StringFixed(costScale))
}

// Ledger converts token counts plus a model identifier into monetary cost.
// Pure function of the policy pricing table; safe for concurrent use.
type Ledger struct {
	policy *policy.Model
	logger *zap.Logger
}

// NewLedger builds a cost ledger over a validated policy model.
func NewLedger(p *policy.Model, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{policy: p, logger: logger}
}

// Price computes the cost of a call:
//
//	round(input/1000*input_price + output/1000*output_price, 6)
//
// Returns a ModelNotFoundError when the model has no pricing entry.
func (l *Ledger) Price(model string, inputTokens, outputTokens int) (decimal.Decimal, error) {
	pricing, err := l.policy.Pricing(model)
	if err != nil {
		return decimal.Zero, err
	}

	inputCost := decimal.NewFromInt(int64(inputTokens)).Div(oneThousand).Mul(pricing.InputPer1K)
	outputCost := decimal.NewFromInt(int64(outputTokens)).Div(oneThousand).Mul(pricing.OutputPer1K)
	total := inputCost.Add(outputCost).Round(costScale)

	l.logger.Debug("priced model call",
		zap.String("model", model),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens),
		zap.String("total_cost_usd", total.String()))

	return total, nil
}

// Record prices a call and returns the full cost record.
func (l *Ledger) Record(model string, inputTokens, outputTokens int, estimated bool) (*CostRecord, error) {
	total, err := l.Price(model, inputTokens, outputTokens)
	if err != nil {
		return nil, err
	}
	return &CostRecord{
		Model:           model,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		TokensEstimated: estimated,
		TotalCost:       total,
	}, nil
}

// AvoidedCost reports the cost a blocked request would have incurred had it
// reached the paid backend, at the given reference token counts. Same
// formula and rounding as Price.
func (l *Ledger) AvoidedCost(model string, referenceInputTokens, referenceOutputTokens int) (decimal.Decimal, error) {
	return l.Price(model, referenceInputTokens, referenceOutputTokens)
}

// CheckSpendingLimit projects the cost of invoking the model at conservative
// fixed token counts and rejects the request when a configured limit would
// be exceeded. A nil return means the request may proceed.
func (l *Ledger) CheckSpendingLimit(model string, projectedInputTokens, projectedOutputTokens int) error {
	limit, ok := l.policy.SpendingLimit()
	if !ok {
		return nil
	}

	projected, err := l.Price(model, projectedInputTokens, projectedOutputTokens)
	if err != nil {
		return err
	}
	if projected.GreaterThan(limit.MaxCostPerRequest) {
		return &SpendingLimitExceededError{
			Model:     model,
			Projected: projected,
			Limit:     limit.MaxCostPerRequest,
		}
	}
	return nil
}
