// Package pipeline orchestrates the full governance flow for one request:
// intent guardrail, tier routing, spending limit check, gateway invocation,
// and cost recording. Every terminal outcome is written to the decision
// event sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bankops/governance-gateway/internal/gateway"
	"github.com/bankops/governance-gateway/internal/guardrail"
	"github.com/bankops/governance-gateway/internal/router"
	"github.com/bankops/governance-gateway/internal/storage"
	"github.com/bankops/governance-gateway/internal/telemetry"
)

// Request is one governance request entering the pipeline.
type Request struct {
	RequestID  uuid.UUID
	Department string
	Complexity float64
	Text       string
}

// Decision is the terminal result of a pipeline run. Outcome is one of the
// storage outcome constants; the remaining fields are populated according
// to how far the request got.
type Decision struct {
	RequestID   uuid.UUID
	Outcome     string
	Guardrail   *guardrail.Result
	Model       string
	Audit       *gateway.AuditResponse
	Cost        *telemetry.CostRecord
	CostAvoided decimal.Decimal
	Reason      string
	LatencyMs   int64
}

// PromptBuilder renders the audit prompt for a routed request.
type PromptBuilder interface {
	AuditPrompt(department, userText string) (string, error)
}

// Config wires a Pipeline's collaborators.
type Config struct {
	Guardrail *guardrail.Guardrail
	Router    *router.Router
	Ledger    *telemetry.Ledger
	Gateway   *gateway.Gateway
	Prompts   PromptBuilder
	Sink      guardrail.Sink
	Redactor  *guardrail.Redactor

	// Projected token counts used for the pre-invocation spending limit
	// check.
	ProjectedInputTokens  int
	ProjectedOutputTokens int

	Logger *zap.Logger
}

// Pipeline runs governance requests end to end. Stateless between requests;
// safe for concurrent use.
type Pipeline struct {
	guardrail *guardrail.Guardrail
	router    *router.Router
	ledger    *telemetry.Ledger
	gateway   *gateway.Gateway
	prompts   PromptBuilder
	sink      guardrail.Sink
	redactor  *guardrail.Redactor
	projIn    int
	projOut   int
	logger    *zap.Logger
}

// New builds a pipeline.
func New(config Config) *Pipeline {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Redactor == nil {
		config.Redactor = guardrail.NewRedactor(0)
	}
	return &Pipeline{
		guardrail: config.Guardrail,
		router:    config.Router,
		ledger:    config.Ledger,
		gateway:   config.Gateway,
		prompts:   config.Prompts,
		sink:      config.Sink,
		redactor:  config.Redactor,
		projIn:    config.ProjectedInputTokens,
		projOut:   config.ProjectedOutputTokens,
		logger:    config.Logger,
	}
}

// Process runs one request through the full governance flow.
//
// Business outcomes (guardrail block, review escalation, safety block,
// schema violation, spending limit breach) come back as a Decision with a
// nil error. Operational failures (unknown department, out-of-range
// complexity, backend unavailable) come back as errors.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Decision, error) {
	start := time.Now()
	if req.RequestID == uuid.Nil {
		req.RequestID = uuid.New()
	}

	log := p.logger.With(
		zap.String("request_id", req.RequestID.String()),
		zap.String("department", req.Department))

	// Stage 1: intent guardrail. A non-allowed verdict is terminal; the
	// guardrail has already recorded its own decision event.
	verdict := p.guardrail.ValidateIntent(ctx, req.RequestID, req.Text)
	if !verdict.Allowed() {
		outcome := storage.OutcomeBlocked
		if verdict.Classification.Category == guardrail.CategoryRequiresReview {
			outcome = storage.OutcomeRequiresReview
		}
		return &Decision{
			RequestID:   req.RequestID,
			Outcome:     outcome,
			Guardrail:   verdict,
			CostAvoided: verdict.CostAvoided,
			Reason:      verdict.Classification.Reasoning,
			LatencyMs:   time.Since(start).Milliseconds(),
		}, nil
	}

	// Stage 2: tier routing.
	modelID, err := p.router.Route(req.Department, req.Complexity)
	if err != nil {
		p.recordFailure(req, "", start, err)
		return nil, fmt.Errorf("routing failed: %w", err)
	}
	log = log.With(zap.String("model", modelID))

	// Stage 3: spending limit check before any paid call.
	if err := p.ledger.CheckSpendingLimit(modelID, p.projIn, p.projOut); err != nil {
		var limitErr *telemetry.SpendingLimitExceededError
		if errors.As(err, &limitErr) {
			log.Warn("projected cost exceeds spending limit",
				zap.String("projected", limitErr.Projected.String()),
				zap.String("limit", limitErr.Limit.String()))
			decision := &Decision{
				RequestID: req.RequestID,
				Outcome:   storage.OutcomeSpendingLimitExceeded,
				Guardrail: verdict,
				Model:     modelID,
				Reason:    limitErr.Error(),
				LatencyMs: time.Since(start).Milliseconds(),
			}
			p.record(req, decision, start)
			return decision, nil
		}
		p.recordFailure(req, modelID, start, err)
		return nil, fmt.Errorf("spending limit check failed: %w", err)
	}

	// Stage 4: gateway invocation with structured output enforcement.
	auditPrompt, err := p.prompts.AuditPrompt(req.Department, req.Text)
	if err != nil {
		p.recordFailure(req, modelID, start, err)
		return nil, fmt.Errorf("audit prompt unavailable: %w", err)
	}

	invocation, err := p.gateway.Invoke(ctx, modelID, auditPrompt)
	if err != nil {
		var safetyErr *gateway.SafetyBlockedError
		var schemaErr *gateway.SchemaViolationError
		switch {
		case errors.As(err, &safetyErr):
			log.Warn("request terminated by backend safety policy")
			decision := &Decision{
				RequestID: req.RequestID,
				Outcome:   storage.OutcomeSafetyBlocked,
				Guardrail: verdict,
				Model:     modelID,
				Reason:    safetyErr.Error(),
				LatencyMs: time.Since(start).Milliseconds(),
			}
			p.record(req, decision, start)
			return decision, nil
		case errors.As(err, &schemaErr):
			log.Error("backend could not produce a schema-conformant response",
				zap.Int("attempts", schemaErr.Attempts))
			decision := &Decision{
				RequestID: req.RequestID,
				Outcome:   storage.OutcomeSchemaViolation,
				Guardrail: verdict,
				Model:     modelID,
				Reason:    schemaErr.Error(),
				LatencyMs: time.Since(start).Milliseconds(),
			}
			p.record(req, decision, start)
			return decision, nil
		default:
			p.recordFailure(req, modelID, start, err)
			return nil, fmt.Errorf("gateway invocation failed: %w", err)
		}
	}

	// Stage 5: cost recording.
	cost, err := p.ledger.Record(modelID, invocation.InputTokens, invocation.OutputTokens, invocation.TokensEstimated)
	if err != nil {
		p.recordFailure(req, modelID, start, err)
		return nil, fmt.Errorf("cost recording failed: %w", err)
	}

	log.Info("request completed",
		zap.String("compliance_status", string(invocation.Response.ComplianceStatus)),
		zap.String("risk_level", string(invocation.Response.RiskLevel)),
		zap.String("cost_usd", cost.TotalCost.String()),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()))

	decision := &Decision{
		RequestID: req.RequestID,
		Outcome:   storage.OutcomeCompleted,
		Guardrail: verdict,
		Model:     modelID,
		Audit:     invocation.Response,
		Cost:      cost,
		Reason:    invocation.Response.Reasoning,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	p.record(req, decision, start)
	return decision, nil
}

// record writes the pipeline-stage decision event.
func (p *Pipeline) record(req Request, decision *Decision, start time.Time) {
	if p.sink == nil {
		return
	}

	event := storage.NewDecisionEvent(req.RequestID, storage.StagePipeline, decision.Outcome)
	event.Department = storage.StrPtr(req.Department)
	event.RequestText = storage.StrPtr(p.redactor.Redact(req.Text))
	event.LatencyMs = storage.Int64Ptr(time.Since(start).Milliseconds())
	if decision.Model != "" {
		event.Model = storage.StrPtr(decision.Model)
	}
	if decision.Reason != "" {
		event.Reason = storage.StrPtr(decision.Reason)
	}
	if decision.Cost != nil {
		event.InputTokens = storage.IntPtr(decision.Cost.InputTokens)
		event.OutputTokens = storage.IntPtr(decision.Cost.OutputTokens)
		event.TokensEstimated = decision.Cost.TokensEstimated
		event.CostUSD = storage.StrPtr(decision.Cost.TotalCost.String())
	}

	p.sink.Record(event)
}

// recordFailure writes a failed pipeline event before the error surfaces.
func (p *Pipeline) recordFailure(req Request, modelID string, start time.Time, cause error) {
	if p.sink == nil {
		return
	}

	event := storage.NewDecisionEvent(req.RequestID, storage.StagePipeline, storage.OutcomeFailed)
	event.Department = storage.StrPtr(req.Department)
	event.RequestText = storage.StrPtr(p.redactor.Redact(req.Text))
	event.Error = storage.StrPtr(cause.Error())
	event.LatencyMs = storage.Int64Ptr(time.Since(start).Milliseconds())
	if modelID != "" {
		event.Model = storage.StrPtr(modelID)
	}

	p.sink.Record(event)
}
