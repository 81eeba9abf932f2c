// Package policy holds the validated, immutable configuration tables the
// governance pipeline is built on: the department routing policy, the model
// pricing table, the optional spending limit, and the threat pattern set.
// Both tables are loaded once at startup and shared read-only by all request
// handlers.
package policy

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Tier is the coarse cost/quality class assigned to a department.
type Tier string

const (
	TierPlatinum Tier = "platinum"
	TierStandard Tier = "standard"
	TierBudget   Tier = "budget"
)

// DepartmentPolicy is the routing rule for one organizational unit.
//
// Platinum and budget tiers pin a fixed model and ignore complexity.
// Standard tier routes between CheapModel and CapableModel on the
// complexity threshold.
type DepartmentPolicy struct {
	Tier                Tier     `yaml:"tier"`
	FixedModel          string   `yaml:"fixed_model,omitempty"`
	ComplexityThreshold *float64 `yaml:"complexity_threshold,omitempty"`
	CheapModel          string   `yaml:"cheap_model,omitempty"`
	CapableModel        string   `yaml:"capable_model,omitempty"`
}

// ModelPricing is the per-model unit cost, in USD per 1k tokens.
type ModelPricing struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

// SpendingLimit is a hard ceiling on a single request's projected cost.
type SpendingLimit struct {
	MaxCostPerRequest decimal.Decimal
}

// Document is the on-disk shape of the policy file. Prices are yaml floats
// and converted to decimals during validation.
type Document struct {
	Departments map[string]DepartmentPolicy `yaml:"departments"`
	Pricing     map[string]PricingDoc       `yaml:"pricing"`
	Limits      *LimitsDoc                  `yaml:"spending_limits,omitempty"`
}

type PricingDoc struct {
	InputPricePer1K  float64 `yaml:"input_price_per_1k"`
	OutputPricePer1K float64 `yaml:"output_price_per_1k"`
}

type LimitsDoc struct {
	MaxCostPerRequest float64 `yaml:"max_cost_per_request"`
}

// Model is the validated in-memory policy. Immutable after construction;
// safe for concurrent readers.
type Model struct {
	departments map[string]DepartmentPolicy
	pricing     map[string]ModelPricing
	limit       *SpendingLimit
}

// Load reads and validates a policy document from a yaml file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, path)
		}
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyInvalid, err)
	}

	return New(doc)
}

// New validates a policy document and builds the immutable model.
func New(doc Document) (*Model, error) {
	if len(doc.Departments) == 0 {
		return nil, fmt.Errorf("%w: no departments configured", ErrPolicyInvalid)
	}
	if len(doc.Pricing) == 0 {
		return nil, fmt.Errorf("%w: no pricing configured", ErrPolicyInvalid)
	}

	for name, dept := range doc.Departments {
		if err := validateDepartment(name, dept); err != nil {
			return nil, err
		}
	}

	pricing := make(map[string]ModelPricing, len(doc.Pricing))
	for model, p := range doc.Pricing {
		if p.InputPricePer1K <= 0 || p.OutputPricePer1K <= 0 {
			return nil, fmt.Errorf("%w: model %q requires positive input and output prices", ErrPolicyInvalid, model)
		}
		pricing[model] = ModelPricing{
			InputPer1K:  decimal.NewFromFloat(p.InputPricePer1K),
			OutputPer1K: decimal.NewFromFloat(p.OutputPricePer1K),
		}
	}

	var limit *SpendingLimit
	if doc.Limits != nil {
		if doc.Limits.MaxCostPerRequest <= 0 {
			return nil, fmt.Errorf("%w: spending_limits.max_cost_per_request must be positive", ErrPolicyInvalid)
		}
		limit = &SpendingLimit{MaxCostPerRequest: decimal.NewFromFloat(doc.Limits.MaxCostPerRequest)}
	}

	departments := make(map[string]DepartmentPolicy, len(doc.Departments))
	for name, dept := range doc.Departments {
		departments[name] = dept
	}

	return &Model{
		departments: departments,
		pricing:     pricing,
		limit:       limit,
	}, nil
}

func validateDepartment(name string, dept DepartmentPolicy) error {
	switch dept.Tier {
	case TierPlatinum, TierBudget:
		if dept.FixedModel == "" {
			return fmt.Errorf("%w: department %q (tier %s) requires fixed_model", ErrPolicyInvalid, name, dept.Tier)
		}
	case TierStandard:
		if dept.ComplexityThreshold == nil {
			return fmt.Errorf("%w: department %q (tier standard) requires complexity_threshold", ErrPolicyInvalid, name)
		}
		if t := *dept.ComplexityThreshold; t < 0 || t > 1 {
			return fmt.Errorf("%w: department %q complexity_threshold %v outside [0,1]", ErrPolicyInvalid, name, t)
		}
		if dept.CheapModel == "" || dept.CapableModel == "" {
			return fmt.Errorf("%w: department %q (tier standard) requires cheap_model and capable_model", ErrPolicyInvalid, name)
		}
	default:
		return fmt.Errorf("%w: department %q has unsupported tier %q", ErrPolicyInvalid, name, dept.Tier)
	}
	return nil
}

// Department returns the routing policy for a department.
func (m *Model) Department(name string) (DepartmentPolicy, error) {
	dept, ok := m.departments[name]
	if !ok {
		return DepartmentPolicy{}, &DepartmentNotFoundError{Department: name}
	}
	return dept, nil
}

// Pricing returns the pricing entry for a model.
func (m *Model) Pricing(model string) (ModelPricing, error) {
	p, ok := m.pricing[model]
	if !ok {
		return ModelPricing{}, &ModelNotFoundError{Model: model}
	}
	return p, nil
}

// SpendingLimit returns the configured per-request ceiling, or false when
// spending is unconstrained.
func (m *Model) SpendingLimit() (SpendingLimit, bool) {
	if m.limit == nil {
		return SpendingLimit{}, false
	}
	return *m.limit, true
}

// Departments returns the configured department names.
func (m *Model) Departments() []string {
	names := make([]string, 0, len(m.departments))
	for name := range m.departments {
		names = append(names, name)
	}
	return names
}
