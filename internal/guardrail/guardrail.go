// Package guardrail implements the two-layer intent classifier that judges
// every inbound request before it can reach a paid backend. Layer 1 is
// compiled pattern matching against the threat pattern set; layer 2 is a
// cheap model classification. Layer 2 fails open: blocking a legitimate
// request is treated as worse than letting a rare false negative through,
// because the gateway's safety policy provides a second line of defense.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bankops/governance-gateway/internal/policy"
	"github.com/bankops/governance-gateway/internal/storage"
	"github.com/bankops/governance-gateway/internal/telemetry"
)

// CostReference configures the fixed token estimate used to report the cost
// a blocked request would have incurred downstream.
type CostReference struct {
	Model        string
	InputTokens  int
	OutputTokens int
}

// Config wires a Guardrail's collaborators.
type Config struct {
	Patterns      *policy.PatternSet
	Classifier    Classifier
	Prompts       PromptBuilder
	Ledger        *telemetry.Ledger
	Sink          Sink
	Redactor      *Redactor
	CostReference CostReference
	Logger        *zap.Logger
}

// Guardrail validates request intent in two short-circuiting layers.
// Stateless between requests; safe for concurrent use.
type Guardrail struct {
	patterns   *policy.PatternSet
	classifier Classifier
	prompts    PromptBuilder
	ledger     *telemetry.Ledger
	sink       Sink
	redactor   *Redactor
	costRef    CostReference
	logger     *zap.Logger
}

// New builds a guardrail. Patterns are compiled once at construction of the
// pattern set, not per call.
func New(config Config) *Guardrail {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Redactor == nil {
		config.Redactor = NewRedactor(0)
	}
	return &Guardrail{
		patterns:   config.Patterns,
		classifier: config.Classifier,
		prompts:    config.Prompts,
		ledger:     config.Ledger,
		sink:       config.Sink,
		redactor:   config.Redactor,
		costRef:    config.CostReference,
		logger:     config.Logger,
	}
}

// ValidateIntent judges one request. It never returns an error: any internal
// failure degrades to an ALLOWED verdict with confidence 0.0.
func (g *Guardrail) ValidateIntent(ctx context.Context, requestID uuid.UUID, userText string) *Result {
	start := time.Now()

	// Layer 1: compiled pattern matching, zero token cost.
	if risks := g.patterns.Match(userText); len(risks) > 0 {
		result := &Result{
			Layer: LayerPatternMatching,
			Classification: IntentClassification{
				Category:   CategoryBlocked,
				Confidence: 1.0,
				Reasoning: fmt.Sprintf(
					"threat patterns matched: %s; request blocked before classification",
					risks[0]),
				DetectedRisks: risks,
			},
			TokensUsed:  0,
			CostAvoided: g.avoidedCost(),
		}
		g.logger.Warn("layer 1 blocked request",
			zap.String("request_id", requestID.String()),
			zap.Strings("detected_risks", risks))
		g.record(requestID, userText, result, start)
		return result
	}

	// Layer 2: model-assisted semantic classification.
	result := g.classify(ctx, userText)

	switch result.Classification.Category {
	case CategoryBlocked:
		result.CostAvoided = g.avoidedCost()
		g.logger.Warn("layer 2 blocked request",
			zap.String("request_id", requestID.String()),
			zap.Strings("detected_risks", result.Classification.DetectedRisks))
	case CategoryRequiresReview:
		g.logger.Info("layer 2 escalated request for review",
			zap.String("request_id", requestID.String()),
			zap.Strings("detected_risks", result.Classification.DetectedRisks))
	default:
		g.logger.Info("request allowed",
			zap.String("request_id", requestID.String()),
			zap.Float64("confidence", result.Classification.Confidence))
	}

	g.record(requestID, userText, result, start)
	return result
}

// classify runs layer 2 and absorbs every failure into the fail-open
// verdict.
func (g *Guardrail) classify(ctx context.Context, userText string) *Result {
	prompt, err := g.prompts.ClassificationPrompt(userText)
	if err != nil {
		return g.failOpen(0, fmt.Sprintf("classification prompt unavailable (%v); request allowed by fallback", err))
	}

	text, tokensUsed, err := g.classifier.Classify(ctx, prompt)
	if err != nil {
		return g.failOpen(tokensUsed, fmt.Sprintf("intent classifier failed (%v); request allowed by fallback", err))
	}

	var classification IntentClassification
	if err := json.Unmarshal([]byte(text), &classification); err != nil {
		return g.failOpen(tokensUsed, fmt.Sprintf("classifier returned unparseable output (%v); request allowed by fallback", err))
	}
	if err := classification.Validate(true); err != nil {
		return g.failOpen(tokensUsed, fmt.Sprintf("classifier output failed validation (%v); request allowed by fallback", err))
	}

	return &Result{
		Layer:          LayerLLMClassification,
		Classification: classification,
		TokensUsed:     tokensUsed,
		CostAvoided:    decimal.Zero,
	}
}

func (g *Guardrail) failOpen(tokensUsed int, reasoning string) *Result {
	g.logger.Warn("intent classification failed open", zap.String("reason", reasoning))
	return &Result{
		Layer: LayerLLMClassification,
		Classification: IntentClassification{
			Category:      CategoryAllowed,
			Confidence:    0.0,
			Reasoning:     reasoning,
			DetectedRisks: nil,
		},
		TokensUsed:  tokensUsed,
		CostAvoided: decimal.Zero,
	}
}

// avoidedCost prices the downstream call that a block prevented, at the
// configured fixed reference token counts.
func (g *Guardrail) avoidedCost() decimal.Decimal {
	if g.ledger == nil || g.costRef.Model == "" {
		return decimal.Zero
	}
	avoided, err := g.ledger.AvoidedCost(g.costRef.Model, g.costRef.InputTokens, g.costRef.OutputTokens)
	if err != nil {
		g.logger.Warn("could not price avoided cost",
			zap.String("reference_model", g.costRef.Model),
			zap.Error(err))
		return decimal.Zero
	}
	return avoided
}

// record hands the terminal decision to the audit sink with the redacted
// copy of the user text. Required side effect: every terminal decision is
// compliance-relevant.
func (g *Guardrail) record(requestID uuid.UUID, userText string, result *Result, start time.Time) {
	if g.sink == nil {
		return
	}

	outcome := storage.OutcomeAllowed
	switch result.Classification.Category {
	case CategoryBlocked:
		outcome = storage.OutcomeBlocked
	case CategoryRequiresReview:
		outcome = storage.OutcomeRequiresReview
	}

	event := storage.NewDecisionEvent(requestID, storage.StageGuardrail, outcome)
	event.Layer = storage.StrPtr(string(result.Layer))
	event.Confidence = storage.Float64Ptr(result.Classification.Confidence)
	event.DetectedRisks = result.Classification.DetectedRisks
	event.Reason = storage.StrPtr(result.Classification.Reasoning)
	event.RequestText = storage.StrPtr(g.redactor.Redact(userText))
	event.InputTokens = storage.IntPtr(result.TokensUsed)
	event.LatencyMs = storage.Int64Ptr(time.Since(start).Milliseconds())
	if result.CostAvoided.IsPositive() {
		event.CostAvoidedUSD = storage.StrPtr(result.CostAvoided.String())
	}

	g.sink.Record(event)
}
