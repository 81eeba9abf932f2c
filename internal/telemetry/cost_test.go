package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankops/governance-gateway/internal/policy"
)

func floatPtr(f float64) *float64 { return &f }

func testPolicy(t *testing.T, limits *policy.LimitsDoc) *policy.Model {
	t.Helper()
	model, err := policy.New(policy.Document{
		Departments: map[string]policy.DepartmentPolicy{
			"retail_banking": {
				Tier:                policy.TierStandard,
				ComplexityThreshold: floatPtr(0.7),
				CheapModel:          "model-flash",
				CapableModel:        "model-pro",
			},
		},
		Pricing: map[string]policy.PricingDoc{
			"model-flash": {InputPricePer1K: 0.000075, OutputPricePer1K: 0.0003},
			"model-pro":   {InputPricePer1K: 0.00125, OutputPricePer1K: 0.005},
		},
		Limits: limits,
	})
	require.NoError(t, err)
	return model
}

func TestPrice(t *testing.T) {
	ledger := NewLedger(testPolicy(t, nil), nil)

	tests := []struct {
		name         string
		model        string
		inputTokens  int
		outputTokens int
		want         string
	}{
		{
			name:         "flash at round counts",
			model:        "model-flash",
			inputTokens:  1000,
			outputTokens: 500,
			want:         "0.000225",
		},
		{
			name:         "zero tokens cost nothing",
			model:        "model-flash",
			inputTokens:  0,
			outputTokens: 0,
			want:         "0",
		},
		{
			name:         "input only",
			model:        "model-pro",
			inputTokens:  2000,
			outputTokens: 0,
			want:         "0.0025",
		},
		{
			name:         "sub-cent amounts keep six decimals",
			model:        "model-flash",
			inputTokens:  13,
			outputTokens: 7,
			want:         "0.000003",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.Price(tt.model, tt.inputTokens, tt.outputTokens)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestPriceUnknownModel(t *testing.T) {
	ledger := NewLedger(testPolicy(t, nil), nil)

	_, err := ledger.Price("model-ultra", 100, 100)
	var notFound *policy.ModelNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "model-ultra", notFound.Model)
}

func TestRecord(t *testing.T) {
	ledger := NewLedger(testPolicy(t, nil), nil)

	record, err := ledger.Record("model-flash", 1000, 500, true)
	require.NoError(t, err)

	assert.Equal(t, "model-flash", record.Model)
	assert.Equal(t, 1000, record.InputTokens)
	assert.Equal(t, 500, record.OutputTokens)
	assert.True(t, record.TokensEstimated)
	assert.Equal(t, "0.000225", record.TotalCost.String())
}

func TestAvoidedCostMatchesPrice(t *testing.T) {
	ledger := NewLedger(testPolicy(t, nil), nil)

	avoided, err := ledger.AvoidedCost("model-flash", 600, 150)
	require.NoError(t, err)
	priced, err := ledger.Price("model-flash", 600, 150)
	require.NoError(t, err)

	assert.True(t, avoided.Equal(priced))
	assert.Equal(t, "0.00009", avoided.String())
}

func TestCheckSpendingLimit(t *testing.T) {
	t.Run("no limit configured", func(t *testing.T) {
		ledger := NewLedger(testPolicy(t, nil), nil)
		assert.NoError(t, ledger.CheckSpendingLimit("model-pro", 600, 150))
	})

	t.Run("under the limit", func(t *testing.T) {
		ledger := NewLedger(testPolicy(t, &policy.LimitsDoc{MaxCostPerRequest: 0.05}), nil)
		assert.NoError(t, ledger.CheckSpendingLimit("model-pro", 600, 150))
	})

	t.Run("over the limit", func(t *testing.T) {
		ledger := NewLedger(testPolicy(t, &policy.LimitsDoc{MaxCostPerRequest: 0.0005}), nil)

		err := ledger.CheckSpendingLimit("model-pro", 600, 150)
		var exceeded *SpendingLimitExceededError
		require.ErrorAs(t, err, &exceeded)
		assert.Equal(t, "model-pro", exceeded.Model)
		assert.Equal(t, "0.0015", exceeded.Projected.String())
		assert.Equal(t, "0.0005", exceeded.Limit.String())
	})

	t.Run("exactly at the limit passes", func(t *testing.T) {
		ledger := NewLedger(testPolicy(t, &policy.LimitsDoc{MaxCostPerRequest: 0.0015}), nil)
		assert.NoError(t, ledger.CheckSpendingLimit("model-pro", 600, 150))
	})
}
