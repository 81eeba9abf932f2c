package gateway

import "context"

// SafetySetting maps one harm category to its block threshold, applied by
// the backend before a response is returned.
type SafetySetting struct {
	Category  string `json:"category" yaml:"category"`
	Threshold string `json:"threshold" yaml:"threshold"`
}

// SafetyPolicy is the per-call set of content thresholds.
type SafetyPolicy []SafetySetting

// GenerateRequest is one generation call against an initialized model
// handle. SchemaHint tells the backend which JSON shape to constrain
// generation to.
type GenerateRequest struct {
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
	SchemaHint      string
	Safety          SafetyPolicy
}

// GenerateResponse carries the backend's raw text plus token accounting.
// TokensEstimated is true when the counts were derived from text length
// rather than reported by the backend.
type GenerateResponse struct {
	Text            string
	InputTokens     int
	OutputTokens    int
	TokensEstimated bool
	SafetyBlocked   bool
	SafetyDetail    string
}

// ModelHandle is an initialized, reusable session with one backend model.
// Handles must be safe for concurrent use; the gateway caches them per
// model id.
type ModelHandle interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Backend constructs model handles. NewModel may be expensive; the gateway
// guarantees it runs at most once per model id at a time.
type Backend interface {
	NewModel(ctx context.Context, modelID string) (ModelHandle, error)
}
