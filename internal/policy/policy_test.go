package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func validDocument() Document {
	return Document{
		Departments: map[string]DepartmentPolicy{
			"wealth_management": {Tier: TierPlatinum, FixedModel: "model-pro"},
			"retail_banking": {
				Tier:                TierStandard,
				ComplexityThreshold: floatPtr(0.7),
				CheapModel:          "model-flash",
				CapableModel:        "model-pro",
			},
			"internal_operations": {Tier: TierBudget, FixedModel: "model-flash-lite"},
		},
		Pricing: map[string]PricingDoc{
			"model-pro":        {InputPricePer1K: 0.00125, OutputPricePer1K: 0.005},
			"model-flash":      {InputPricePer1K: 0.000075, OutputPricePer1K: 0.0003},
			"model-flash-lite": {InputPricePer1K: 0.00005, OutputPricePer1K: 0.0002},
		},
		Limits: &LimitsDoc{MaxCostPerRequest: 0.05},
	}
}

func TestNewValidatesDocument(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr string
	}{
		{
			name:   "valid document",
			mutate: func(d *Document) {},
		},
		{
			name:    "no departments",
			mutate:  func(d *Document) { d.Departments = nil },
			wantErr: "no departments",
		},
		{
			name:    "no pricing",
			mutate:  func(d *Document) { d.Pricing = nil },
			wantErr: "no pricing",
		},
		{
			name: "platinum without fixed model",
			mutate: func(d *Document) {
				d.Departments["wealth_management"] = DepartmentPolicy{Tier: TierPlatinum}
			},
			wantErr: "requires fixed_model",
		},
		{
			name: "budget without fixed model",
			mutate: func(d *Document) {
				d.Departments["internal_operations"] = DepartmentPolicy{Tier: TierBudget}
			},
			wantErr: "requires fixed_model",
		},
		{
			name: "standard without threshold",
			mutate: func(d *Document) {
				d.Departments["retail_banking"] = DepartmentPolicy{
					Tier: TierStandard, CheapModel: "a", CapableModel: "b",
				}
			},
			wantErr: "requires complexity_threshold",
		},
		{
			name: "standard threshold above one",
			mutate: func(d *Document) {
				d.Departments["retail_banking"] = DepartmentPolicy{
					Tier: TierStandard, ComplexityThreshold: floatPtr(1.5),
					CheapModel: "a", CapableModel: "b",
				}
			},
			wantErr: "outside [0,1]",
		},
		{
			name: "standard without model pair",
			mutate: func(d *Document) {
				d.Departments["retail_banking"] = DepartmentPolicy{
					Tier: TierStandard, ComplexityThreshold: floatPtr(0.5),
				}
			},
			wantErr: "requires cheap_model and capable_model",
		},
		{
			name: "unknown tier",
			mutate: func(d *Document) {
				d.Departments["retail_banking"] = DepartmentPolicy{Tier: "gold", FixedModel: "x"}
			},
			wantErr: "unsupported tier",
		},
		{
			name: "non-positive price",
			mutate: func(d *Document) {
				d.Pricing["model-pro"] = PricingDoc{InputPricePer1K: 0, OutputPricePer1K: 0.005}
			},
			wantErr: "positive input and output prices",
		},
		{
			name: "non-positive spending limit",
			mutate: func(d *Document) {
				d.Limits = &LimitsDoc{MaxCostPerRequest: -1}
			},
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument()
			tt.mutate(&doc)

			model, err := New(doc)
			if tt.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, model)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPolicyInvalid)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestModelLookups(t *testing.T) {
	model, err := New(validDocument())
	require.NoError(t, err)

	t.Run("known department", func(t *testing.T) {
		dept, err := model.Department("retail_banking")
		require.NoError(t, err)
		assert.Equal(t, TierStandard, dept.Tier)
		assert.Equal(t, "model-flash", dept.CheapModel)
	})

	t.Run("unknown department", func(t *testing.T) {
		_, err := model.Department("treasury")
		var notFound *DepartmentNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "treasury", notFound.Department)
	})

	t.Run("known model pricing", func(t *testing.T) {
		pricing, err := model.Pricing("model-flash")
		require.NoError(t, err)
		assert.Equal(t, "0.000075", pricing.InputPer1K.String())
		assert.Equal(t, "0.0003", pricing.OutputPer1K.String())
	})

	t.Run("unknown model pricing", func(t *testing.T) {
		_, err := model.Pricing("model-ultra")
		var notFound *ModelNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "model-ultra", notFound.Model)
	})

	t.Run("spending limit present", func(t *testing.T) {
		limit, ok := model.SpendingLimit()
		require.True(t, ok)
		assert.Equal(t, "0.05", limit.MaxCostPerRequest.String())
	})

	t.Run("departments listed", func(t *testing.T) {
		assert.ElementsMatch(t,
			[]string{"wealth_management", "retail_banking", "internal_operations"},
			model.Departments())
	})
}

func TestModelWithoutLimits(t *testing.T) {
	doc := validDocument()
	doc.Limits = nil

	model, err := New(doc)
	require.NoError(t, err)

	_, ok := model.SpendingLimit()
	assert.False(t, ok)
}

func TestLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, ErrPolicyNotFound)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("departments: [not a map"), 0o644))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrPolicyInvalid)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.yaml")
		content := `
departments:
  retail_banking:
    tier: standard
    complexity_threshold: 0.7
    cheap_model: model-flash
    capable_model: model-pro
pricing:
  model-flash:
    input_price_per_1k: 0.000075
    output_price_per_1k: 0.0003
  model-pro:
    input_price_per_1k: 0.00125
    output_price_per_1k: 0.005
spending_limits:
  max_cost_per_request: 0.05
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		model, err := Load(path)
		require.NoError(t, err)

		dept, err := model.Department("retail_banking")
		require.NoError(t, err)
		require.NotNil(t, dept.ComplexityThreshold)
		assert.Equal(t, 0.7, *dept.ComplexityThreshold)
	})
}
