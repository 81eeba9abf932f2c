// Package gateway invokes the external reasoning backend and forces its
// free-form answer into a verified structured shape. It owns the retry
// contract (exactly one reinforced retry on schema violation), the safety
// rejection mapping, and the per-model handle cache.
package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"context"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComplianceStatus is the audit verdict for the reviewed operation.
type ComplianceStatus string

const (
	StatusApproved       ComplianceStatus = "APPROVED"
	StatusRejected       ComplianceStatus = "REJECTED"
	StatusRequiresReview ComplianceStatus = "REQUIRES_REVIEW"
)

// RiskLevel grades the operation's risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// AuditResponse is the validated backend answer. The shape is closed:
// anything that does not deserialize and validate triggers the retry path.
type AuditResponse struct {
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	Reasoning        string           `json:"reasoning"`
}

// Validate checks the response against its closed value sets.
func (r *AuditResponse) Validate() error {
	switch r.ComplianceStatus {
	case StatusApproved, StatusRejected, StatusRequiresReview:
	default:
		return fmt.Errorf("unknown compliance_status %q", r.ComplianceStatus)
	}
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		return fmt.Errorf("unknown risk_level %q", r.RiskLevel)
	}
	if r.Reasoning == "" {
		return fmt.Errorf("reasoning must not be empty")
	}
	return nil
}

// auditSchemaHint is sent to the backend to constrain generation, and
// appended to the prompt on the reinforced retry.
const auditSchemaHint = `{"compliance_status": "APPROVED|REJECTED|REQUIRES_REVIEW", "risk_level": "LOW|MEDIUM|HIGH|CRITICAL", "reasoning": "string"}`

const retryReminder = "\n\nIMPORTANT: Respond with ONLY a valid JSON object in exactly this shape: " + auditSchemaHint

// Invocation is the successful outcome of one gateway call.
type Invocation struct {
	Response        *AuditResponse
	InputTokens     int
	OutputTokens    int
	TokensEstimated bool
}

// Config wires a Gateway.
type Config struct {
	Backend         Backend
	Safety          SafetyPolicy
	Temperature     float64
	MaxOutputTokens int
	Logger          *zap.Logger
}

// Gateway enforces structured output over a backend. Safe for concurrent
// use; the handle cache serializes first-time initialization per model.
type Gateway struct {
	backend         Backend
	safety          SafetyPolicy
	temperature     float64
	maxOutputTokens int
	logger          *zap.Logger

	mu      sync.RWMutex
	handles map[string]ModelHandle
	group   singleflight.Group
}

// New builds a gateway. Temperature defaults to 0.1 for deterministic
// structured output.
func New(config Config) *Gateway {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.1
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = 1024
	}
	return &Gateway{
		backend:         config.Backend,
		safety:          config.Safety,
		temperature:     config.Temperature,
		maxOutputTokens: config.MaxOutputTokens,
		logger:          config.Logger,
		handles:         make(map[string]ModelHandle),
	}
}

// Invoke calls the model with the finished prompt and returns the validated
// structured response. On a schema violation it retries exactly once with a
// reinforced prompt; a safety rejection is surfaced immediately and never
// retried; transport failures surface as BackendUnavailableError without
// internal retry.
func (g *Gateway) Invoke(ctx context.Context, modelID, prompt string) (*Invocation, error) {
	handle, err := g.handle(ctx, modelID)
	if err != nil {
		return nil, &BackendUnavailableError{Model: modelID, Cause: err}
	}

	currentPrompt := prompt
	var lastParseErr error

	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := handle.Generate(ctx, GenerateRequest{
			Prompt:          currentPrompt,
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxOutputTokens,
			SchemaHint:      auditSchemaHint,
			Safety:          g.safety,
		})
		if err != nil {
			return nil, &BackendUnavailableError{Model: modelID, Cause: err}
		}

		// Safety rejection takes precedence over everything else, even a
		// response body that would otherwise parse.
		if resp.SafetyBlocked {
			g.logger.Warn("backend response withheld by safety policy",
				zap.String("model", modelID),
				zap.String("detail", resp.SafetyDetail))
			return nil, &SafetyBlockedError{Model: modelID, Detail: resp.SafetyDetail}
		}

		audit, parseErr := parseAuditResponse(resp.Text)
		if parseErr == nil {
			g.logger.Debug("structured response validated",
				zap.String("model", modelID),
				zap.Int("attempt", attempt),
				zap.Int("input_tokens", resp.InputTokens),
				zap.Int("output_tokens", resp.OutputTokens),
				zap.Bool("tokens_estimated", resp.TokensEstimated))
			return &Invocation{
				Response:        audit,
				InputTokens:     resp.InputTokens,
				OutputTokens:    resp.OutputTokens,
				TokensEstimated: resp.TokensEstimated,
			}, nil
		}

		lastParseErr = parseErr
		g.logger.Warn("schema validation failed",
			zap.String("model", modelID),
			zap.Int("attempt", attempt),
			zap.Error(parseErr))
		currentPrompt = prompt + retryReminder
	}

	return nil, &SchemaViolationError{Model: modelID, Attempts: 2, Cause: lastParseErr}
}

// parseAuditResponse deserializes the backend text into the closed response
// shape. A strict parse is attempted first; near-JSON output (markdown
// fences, trailing commas) gets one repair pass before the attempt is
// declared failed.
func parseAuditResponse(text string) (*AuditResponse, error) {
	var audit AuditResponse
	if err := json.Unmarshal([]byte(text), &audit); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil {
			return nil, fmt.Errorf("response is not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &audit); err != nil {
			return nil, fmt.Errorf("repaired response is not valid JSON: %w", err)
		}
	}
	if err := audit.Validate(); err != nil {
		return nil, err
	}
	return &audit, nil
}

// handle returns the cached handle for a model, initializing it at most
// once across concurrent callers.
func (g *Gateway) handle(ctx context.Context, modelID string) (ModelHandle, error) {
	g.mu.RLock()
	h, ok := g.handles[modelID]
	g.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := g.group.Do(modelID, func() (interface{}, error) {
		g.mu.RLock()
		h, ok := g.handles[modelID]
		g.mu.RUnlock()
		if ok {
			return h, nil
		}

		created, err := g.backend.NewModel(ctx, modelID)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.handles[modelID] = created
		g.mu.Unlock()

		g.logger.Info("initialized backend model handle", zap.String("model", modelID))
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ModelHandle), nil
}
