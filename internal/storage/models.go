package storage

import (
	"time"

	"github.com/google/uuid"
)

// Decision stages. A request produces one event per terminal decision: the
// guardrail records its verdict, the pipeline records the final outcome.
const (
	StageGuardrail = "guardrail"
	StagePipeline  = "pipeline"
)

// Decision outcomes.
const (
	OutcomeAllowed               = "allowed"
	OutcomeBlocked               = "blocked"
	OutcomeRequiresReview        = "requires_review"
	OutcomeCompleted             = "completed"
	OutcomeSafetyBlocked         = "safety_blocked"
	OutcomeSchemaViolation       = "schema_violation"
	OutcomeSpendingLimitExceeded = "spending_limit_exceeded"
	OutcomeFailed                = "failed"
)

// DecisionEvent is one compliance-relevant decision made for a request.
// RequestText must already be redacted and truncated by the producer; raw
// user text never reaches the sink.
type DecisionEvent struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	RequestID       uuid.UUID  `json:"request_id" db:"request_id"`
	Timestamp       time.Time  `json:"timestamp" db:"timestamp"`
	Department      *string    `json:"department,omitempty" db:"department"`
	Stage           string     `json:"stage" db:"stage"`
	Outcome         string     `json:"outcome" db:"outcome"`
	Layer           *string    `json:"layer,omitempty" db:"layer"`
	Model           *string    `json:"model,omitempty" db:"model"`
	Confidence      *float64   `json:"confidence,omitempty" db:"confidence"`
	DetectedRisks   []string   `json:"detected_risks,omitempty" db:"detected_risks"`
	Reason          *string    `json:"reason,omitempty" db:"reason"`
	RequestText     *string    `json:"request_text,omitempty" db:"request_text"`
	InputTokens     *int       `json:"input_tokens,omitempty" db:"input_tokens"`
	OutputTokens    *int       `json:"output_tokens,omitempty" db:"output_tokens"`
	TokensEstimated bool       `json:"tokens_are_estimated" db:"tokens_are_estimated"`
	CostUSD         *string    `json:"cost_usd,omitempty" db:"cost_usd"`
	CostAvoidedUSD  *string    `json:"cost_avoided_usd,omitempty" db:"cost_avoided_usd"`
	Error           *string    `json:"error,omitempty" db:"error"`
	LatencyMs       *int64     `json:"latency_ms,omitempty" db:"latency_ms"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// NewDecisionEvent creates an event with fresh identifiers and timestamps.
func NewDecisionEvent(requestID uuid.UUID, stage, outcome string) *DecisionEvent {
	now := time.Now().UTC()
	return &DecisionEvent{
		ID:        uuid.New(),
		RequestID: requestID,
		Timestamp: now,
		Stage:     stage,
		Outcome:   outcome,
		CreatedAt: now,
	}
}

// EventFilter represents filtering options for querying decision events.
type EventFilter struct {
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Department *string    `json:"department,omitempty"`
	Stage      *string    `json:"stage,omitempty"`
	Outcome    *string    `json:"outcome,omitempty"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// DecisionStats represents aggregated statistics about decision events.
type DecisionStats struct {
	TotalEvents     int64            `json:"total_events"`
	OutcomeCounts   map[string]int64 `json:"outcome_counts"`
	TotalCostUSD    string           `json:"total_cost_usd"`
	TotalAvoidedUSD string           `json:"total_cost_avoided_usd"`
}

// StrPtr, IntPtr, and Int64Ptr are small helpers for the optional columns.
func StrPtr(s string) *string       { return &s }
func IntPtr(i int) *int             { return &i }
func Int64Ptr(i int64) *int64       { return &i }
func Float64Ptr(f float64) *float64 { return &f }
