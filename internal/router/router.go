// Package router selects a backend model for a request from the department
// routing policy and the caller-supplied complexity score.
package router

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/bankops/governance-gateway/internal/policy"
)

// InvalidComplexityError indicates a complexity score outside [0,1].
type InvalidComplexityError struct {
	Score float64
}

func (e *InvalidComplexityError) Error() string {
	return fmt.Sprintf("complexity score %v outside [0.0, 1.0]", e.Score)
}

// Router maps (department, complexity) to a model identifier. Stateless:
// purely a function of the policy model and the inputs.
type Router struct {
	policy *policy.Model
	logger *zap.Logger
}

// New builds a router over a validated policy model.
func New(p *policy.Model, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{policy: p, logger: logger}
}

// Route returns the model to use for the department at the given complexity.
//
// Platinum and budget tiers always return the department's fixed model.
// Standard tier returns the cheap model when complexity is strictly below
// the threshold; the boundary value routes to the capable model.
func (r *Router) Route(department string, complexity float64) (string, error) {
	if complexity < 0 || complexity > 1 {
		return "", &InvalidComplexityError{Score: complexity}
	}

	dept, err := r.policy.Department(department)
	if err != nil {
		return "", err
	}

	switch dept.Tier {
	case policy.TierPlatinum, policy.TierBudget:
		r.logger.Debug("routed by fixed tier",
			zap.String("department", department),
			zap.String("tier", string(dept.Tier)),
			zap.String("model", dept.FixedModel))
		return dept.FixedModel, nil

	case policy.TierStandard:
		// Validated at load; guard against a policy constructed by hand.
		if dept.ComplexityThreshold == nil {
			return "", fmt.Errorf("%w: department %q (tier standard) missing complexity_threshold",
				policy.ErrPolicyInvalid, department)
		}

		model := dept.CapableModel
		if complexity < *dept.ComplexityThreshold {
			model = dept.CheapModel
		}
		r.logger.Debug("routed by complexity",
			zap.String("department", department),
			zap.Float64("complexity", complexity),
			zap.Float64("threshold", *dept.ComplexityThreshold),
			zap.String("model", model))
		return model, nil
	}

	return "", fmt.Errorf("%w: department %q has unsupported tier %q",
		policy.ErrPolicyInvalid, department, dept.Tier)
}
