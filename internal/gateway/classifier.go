package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// classificationSchemaHint constrains the classifier call to the intent
// verdict shape.
const classificationSchemaHint = `{"intent_category": "ALLOWED|BLOCKED|REQUIRES_REVIEW", "confidence": 0.0, "reasoning": "string", "detected_risks": ["string"]}`

// BackendClassifier runs intent classification calls against a cheap model
// on the same backend the gateway uses. It satisfies the guardrail's
// Classifier contract: raw text out, combined token count, explicit error.
type BackendClassifier struct {
	backend     Backend
	modelID     string
	temperature float64
	safety      SafetyPolicy
	logger      *zap.Logger

	mu     sync.RWMutex
	handle ModelHandle
	group  singleflight.Group
}

// ClassifierConfig wires a BackendClassifier.
type ClassifierConfig struct {
	Backend     Backend
	ModelID     string
	Temperature float64
	Safety      SafetyPolicy
	Logger      *zap.Logger
}

// NewBackendClassifier creates a classifier bound to one cheap model.
func NewBackendClassifier(config ClassifierConfig) *BackendClassifier {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.1
	}
	return &BackendClassifier{
		backend:     config.Backend,
		modelID:     config.ModelID,
		temperature: config.Temperature,
		safety:      config.Safety,
		logger:      config.Logger,
	}
}

// Classify sends one classification prompt and returns the raw model text.
// TokensUsed covers both directions of the call. A safety block on the
// classifier itself is reported as an error; the caller's fail-open policy
// decides what that means.
func (c *BackendClassifier) Classify(ctx context.Context, prompt string) (string, int, error) {
	handle, err := c.modelHandle(ctx)
	if err != nil {
		return "", 0, err
	}

	resp, err := handle.Generate(ctx, GenerateRequest{
		Prompt:      prompt,
		Temperature: c.temperature,
		SchemaHint:  classificationSchemaHint,
		Safety:      c.safety,
	})
	if err != nil {
		return "", 0, err
	}

	tokensUsed := resp.InputTokens + resp.OutputTokens
	if resp.SafetyBlocked {
		return "", tokensUsed, &SafetyBlockedError{Model: c.modelID, Detail: resp.SafetyDetail}
	}

	c.logger.Debug("classifier call completed",
		zap.String("model", c.modelID),
		zap.Int("tokens_used", tokensUsed))
	return resp.Text, tokensUsed, nil
}

// modelHandle returns the cached handle, initializing it at most once
// across concurrent callers. The lock is never held across the NewModel
// round trip.
func (c *BackendClassifier) modelHandle(ctx context.Context) (ModelHandle, error) {
	c.mu.RLock()
	h := c.handle
	c.mu.RUnlock()
	if h != nil {
		return h, nil
	}

	v, err, _ := c.group.Do(c.modelID, func() (interface{}, error) {
		c.mu.RLock()
		h := c.handle
		c.mu.RUnlock()
		if h != nil {
			return h, nil
		}

		created, err := c.backend.NewModel(ctx, c.modelID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.handle = created
		c.mu.Unlock()

		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ModelHandle), nil
}
