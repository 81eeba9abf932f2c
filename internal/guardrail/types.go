package guardrail

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bankops/governance-gateway/internal/storage"
)

// Category is the verdict for one request.
type Category string

const (
	CategoryAllowed        Category = "ALLOWED"
	CategoryBlocked        Category = "BLOCKED"
	CategoryRequiresReview Category = "REQUIRES_REVIEW"
)

// Layer identifies which guardrail layer produced a decision.
type Layer string

const (
	LayerPatternMatching   Layer = "pattern_matching"
	LayerLLMClassification Layer = "llm_classification"
)

// minReasoningLength matches the classifier's output contract: a verdict
// without a usable explanation is treated as malformed.
const minReasoningLength = 10

// IntentClassification is the outcome of judging one request.
type IntentClassification struct {
	Category      Category `json:"intent_category"`
	Confidence    float64  `json:"confidence"`
	Reasoning     string   `json:"reasoning"`
	DetectedRisks []string `json:"detected_risks"`
}

// Validate checks the classification against its invariants. fromModel
// additionally requires non-ALLOWED verdicts to carry at least one detected
// risk, which only the model layer is held to.
func (c *IntentClassification) Validate(fromModel bool) error {
	switch c.Category {
	case CategoryAllowed, CategoryBlocked, CategoryRequiresReview:
	default:
		return fmt.Errorf("unknown intent category %q", c.Category)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0.0, 1.0]", c.Confidence)
	}
	if len(c.Reasoning) < minReasoningLength {
		return fmt.Errorf("reasoning shorter than %d characters", minReasoningLength)
	}
	if fromModel && c.Category != CategoryAllowed && len(c.DetectedRisks) == 0 {
		return fmt.Errorf("%s verdict without detected risks", c.Category)
	}
	return nil
}

// Result is the full decision plus accounting for one request.
type Result struct {
	Layer          Layer                `json:"layer"`
	Classification IntentClassification `json:"classification"`
	TokensUsed     int                  `json:"tokens_used"`
	CostAvoided    decimal.Decimal      `json:"cost_avoided"`
}

// Allowed reports whether the request may proceed to routing.
func (r *Result) Allowed() bool {
	return r.Classification.Category == CategoryAllowed
}

// Classifier is the external model-classification capability used by
// layer 2. It returns the raw response text and the tokens consumed.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (text string, tokensUsed int, err error)
}

// PromptBuilder assembles the layer-2 classification prompt from user text.
type PromptBuilder interface {
	ClassificationPrompt(userText string) (string, error)
}

// Sink receives terminal decisions for audit persistence. Fire-and-forget:
// implementations must never block or fail the request.
type Sink interface {
	Record(event *storage.DecisionEvent)
}
