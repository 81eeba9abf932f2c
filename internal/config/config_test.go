package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "simulated", cfg.Gateway.Mode)
	assert.Equal(t, "model-flash-lite", cfg.Guardrail.ClassifierModel)
	assert.Equal(t, 600, cfg.Guardrail.CostReferenceInputTokens)
	assert.Equal(t, 150, cfg.Guardrail.CostReferenceOutputTokens)
	assert.Equal(t, "configs/model_policy.yaml", cfg.Policy.ModelPolicyPath)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
server:
  port: ":9090"
storage:
  type: "postgres"
gateway:
  mode: "http"
  base_url: "https://models.internal"
guardrail:
  classifier_model: "model-tiny"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "http", cfg.Gateway.Mode)
	assert.Equal(t, "model-tiny", cfg.Guardrail.ClassifierModel)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Logging.BufferSize)
}

func TestLoadConfigValidation(t *testing.T) {
	write := func(content string) string {
		path := filepath.Join(t.TempDir(), "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("unknown storage type", func(t *testing.T) {
		_, err := LoadConfig(write("storage:\n  type: \"redis\"\n"))
		assert.ErrorContains(t, err, "unknown storage type")
	})

	t.Run("unknown gateway mode", func(t *testing.T) {
		_, err := LoadConfig(write("gateway:\n  mode: \"grpc\"\n"))
		assert.ErrorContains(t, err, "unknown gateway mode")
	})

	t.Run("http mode requires base url", func(t *testing.T) {
		_, err := LoadConfig(write("gateway:\n  mode: \"http\"\n"))
		assert.ErrorContains(t, err, "requires base_url")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestGatewayAPIKey(t *testing.T) {
	t.Setenv("TEST_GATEWAY_KEY", "secret")

	cfg := GatewayConfig{APIKeyEnv: "TEST_GATEWAY_KEY"}
	assert.Equal(t, "secret", cfg.APIKey())

	empty := GatewayConfig{}
	assert.Equal(t, "", empty.APIKey())
}
