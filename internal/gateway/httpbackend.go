package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPBackendConfig configures the HTTP generation backend.
type HTTPBackendConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// HTTPBackend talks to a hosted generation service over its JSON API.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPBackend creates an HTTP backend.
func NewHTTPBackend(config HTTPBackendConfig) *HTTPBackend {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &HTTPBackend{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}
}

// httpModelHandle is an initialized session with one hosted model.
type httpModelHandle struct {
	backend *HTTPBackend
	modelID string
}

// NewModel verifies the model exists and returns a reusable handle for it.
func (b *HTTPBackend) NewModel(ctx context.Context, modelID string) (ModelHandle, error) {
	url := fmt.Sprintf("%s/v1/models/%s", b.baseURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create model lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model %q lookup returned status %d", modelID, resp.StatusCode)
	}

	b.logger.Debug("model handle ready", zap.String("model", modelID))
	return &httpModelHandle{backend: b, modelID: modelID}, nil
}

type generateWireRequest struct {
	Prompt           string       `json:"prompt"`
	Temperature      float64      `json:"temperature"`
	MaxOutputTokens  int          `json:"max_output_tokens,omitempty"`
	ResponseMimeType string       `json:"response_mime_type"`
	ResponseSchema   string       `json:"response_schema,omitempty"`
	SafetySettings   SafetyPolicy `json:"safety_settings,omitempty"`
}

type generateWireResponse struct {
	Text  string `json:"text"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	SafetyBlocked bool   `json:"safety_blocked"`
	FinishReason  string `json:"finish_reason,omitempty"`
}

// Generate performs one generation round trip. Token counts come from the
// service's usage block; when the block is absent they are estimated from
// text length and flagged as such.
func (h *httpModelHandle) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(generateWireRequest{
		Prompt:           req.Prompt,
		Temperature:      req.Temperature,
		MaxOutputTokens:  req.MaxOutputTokens,
		ResponseMimeType: "application/json",
		ResponseSchema:   req.SchemaHint,
		SafetySettings:   req.Safety,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s:generate", h.backend.baseURL, h.modelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.backend.apiKey)

	resp, err := h.backend.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generate returned status %d", resp.StatusCode)
	}

	var wire generateWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}

	out := &GenerateResponse{
		Text:          wire.Text,
		InputTokens:   wire.Usage.InputTokens,
		OutputTokens:  wire.Usage.OutputTokens,
		SafetyBlocked: wire.SafetyBlocked,
		SafetyDetail:  wire.FinishReason,
	}

	if out.InputTokens == 0 && out.OutputTokens == 0 && !wire.SafetyBlocked {
		out.InputTokens = EstimateTokens(req.Prompt)
		out.OutputTokens = EstimateTokens(wire.Text)
		out.TokensEstimated = true
	}

	return out, nil
}
