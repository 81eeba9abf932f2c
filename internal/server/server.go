// Package server exposes the governance pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bankops/governance-gateway/internal/gateway"
	"github.com/bankops/governance-gateway/internal/pipeline"
	"github.com/bankops/governance-gateway/internal/policy"
	"github.com/bankops/governance-gateway/internal/router"
	"github.com/bankops/governance-gateway/internal/storage"
)

// MetricsSource reports decision event writer counters.
type MetricsSource interface {
	Metrics() map[string]interface{}
}

// Config wires a Server. Stats is the event store used for cumulative cost
// and outcome aggregates; nil disables that part of /metrics.
type Config struct {
	Pipeline *pipeline.Pipeline
	Policies *policy.Model
	Writer   MetricsSource
	Stats    storage.Backend
	Logger   *zap.Logger
}

// Server routes HTTP requests into the pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	policies *policy.Model
	writer   MetricsSource
	stats    storage.Backend
	logger   *zap.Logger
	started  time.Time
}

// New builds a server.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Server{
		pipeline: config.Pipeline,
		policies: config.Policies,
		writer:   config.Writer,
		stats:    config.Stats,
		logger:   config.Logger,
		started:  time.Now(),
	}
}

// Handler returns the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit", s.handleAudit)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)

	return ApplyChain(mux,
		Recovery(s.logger),
		Logger(s.logger),
		ContentType,
	)
}

type auditRequest struct {
	RequestID  string  `json:"request_id,omitempty"`
	Department string  `json:"department"`
	Complexity float64 `json:"complexity"`
	Text       string  `json:"text"`
}

type auditGuardrail struct {
	Layer          string   `json:"layer"`
	IntentCategory string   `json:"intent_category"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	DetectedRisks  []string `json:"detected_risks,omitempty"`
}

type auditCost struct {
	InputTokens     int    `json:"input_tokens"`
	OutputTokens    int    `json:"output_tokens"`
	TokensEstimated bool   `json:"tokens_estimated"`
	CostUSD         string `json:"cost_usd"`
}

type auditResponse struct {
	RequestID      string                 `json:"request_id"`
	Outcome        string                 `json:"outcome"`
	Model          string                 `json:"model,omitempty"`
	Audit          *gateway.AuditResponse `json:"audit,omitempty"`
	Guardrail      *auditGuardrail        `json:"guardrail,omitempty"`
	Cost           *auditCost             `json:"cost,omitempty"`
	CostAvoidedUSD string                 `json:"cost_avoided_usd,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	LatencyMs      int64                  `json:"latency_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleAudit runs one request through the governance pipeline.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Department == "" || req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "department and text are required")
		return
	}

	requestID := uuid.Nil
	if req.RequestID != "" {
		parsed, err := uuid.Parse(req.RequestID)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "request_id must be a UUID")
			return
		}
		requestID = parsed
	}

	decision, err := s.pipeline.Process(r.Context(), pipeline.Request{
		RequestID:  requestID,
		Department: req.Department,
		Complexity: req.Complexity,
		Text:       req.Text,
	})
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	resp := auditResponse{
		RequestID: decision.RequestID.String(),
		Outcome:   decision.Outcome,
		Model:     decision.Model,
		Audit:     decision.Audit,
		Reason:    decision.Reason,
		LatencyMs: decision.LatencyMs,
	}
	if decision.Guardrail != nil {
		resp.Guardrail = &auditGuardrail{
			Layer:          string(decision.Guardrail.Layer),
			IntentCategory: string(decision.Guardrail.Classification.Category),
			Confidence:     decision.Guardrail.Classification.Confidence,
			Reasoning:      decision.Guardrail.Classification.Reasoning,
			DetectedRisks:  decision.Guardrail.Classification.DetectedRisks,
		}
	}
	if decision.Cost != nil {
		resp.Cost = &auditCost{
			InputTokens:     decision.Cost.InputTokens,
			OutputTokens:    decision.Cost.OutputTokens,
			TokensEstimated: decision.Cost.TokensEstimated,
			CostUSD:         decision.Cost.TotalCost.String(),
		}
	}
	if decision.CostAvoided.IsPositive() {
		resp.CostAvoidedUSD = decision.CostAvoided.String()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// writePipelineError maps pipeline errors onto HTTP status codes.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var deptErr *policy.DepartmentNotFoundError
	var complexityErr *router.InvalidComplexityError
	var backendErr *gateway.BackendUnavailableError
	switch {
	case errors.As(err, &deptErr):
		s.writeError(w, http.StatusNotFound, deptErr.Error())
	case errors.As(err, &complexityErr):
		s.writeError(w, http.StatusBadRequest, complexityErr.Error())
	case errors.As(err, &backendErr):
		s.writeError(w, http.StatusBadGateway, "reasoning backend unavailable")
	default:
		s.logger.Error("pipeline failure", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"departments":    s.policies.Departments(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{})
	if s.writer != nil {
		out["writer"] = s.writer.Metrics()
	}
	if s.stats != nil {
		stats, err := s.stats.GetDecisionStats(r.Context())
		if err != nil {
			s.logger.Error("failed to load decision stats", zap.Error(err))
		} else {
			out["decisions"] = stats
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
