// Package config loads the application configuration from YAML with
// in-code defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the entire application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	IdleTimeout  int    `yaml:"idle_timeout"`  // seconds
}

// StorageConfig holds decision event store configuration
type StorageConfig struct {
	Type     string         `yaml:"type"` // "postgres", "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	URL             string `yaml:"url"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // minutes
}

// LoggingConfig holds decision event writer configuration
type LoggingConfig struct {
	Level         string `yaml:"level"`       // zap level: "debug", "info", ...
	Development   bool   `yaml:"development"` // console encoder, debug default
	BufferSize    int    `yaml:"buffer_size"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval string `yaml:"flush_interval"` // duration string like "1s"
	Workers       int    `yaml:"workers"`
}

// GuardrailConfig holds intent guardrail configuration
type GuardrailConfig struct {
	ClassifierModel       string  `yaml:"classifier_model"`
	ClassifierTemperature float64 `yaml:"classifier_temperature"`
	Timeout               string  `yaml:"timeout"` // duration string like "10s"
	MaxLogLength          int     `yaml:"max_log_length"`

	// Reference token counts used to price the downstream call a block
	// prevented.
	CostReferenceModel        string `yaml:"cost_reference_model"`
	CostReferenceInputTokens  int    `yaml:"cost_reference_input_tokens"`
	CostReferenceOutputTokens int    `yaml:"cost_reference_output_tokens"`
}

// GatewayConfig holds backend invocation configuration
type GatewayConfig struct {
	Mode            string  `yaml:"mode"` // "simulated", "http"
	BaseURL         string  `yaml:"base_url"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Timeout         string  `yaml:"timeout"` // duration string like "60s"
	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`

	// Token counts used for the pre-invocation spending limit projection.
	ProjectedInputTokens  int `yaml:"projected_input_tokens"`
	ProjectedOutputTokens int `yaml:"projected_output_tokens"`

	SafetySettingsPath string `yaml:"safety_settings_path"`
}

// PolicyConfig points at the governance policy documents
type PolicyConfig struct {
	ModelPolicyPath    string `yaml:"model_policy_path"`
	ThreatPatternsPath string `yaml:"threat_patterns_path"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(configPath string) (*Config, error) {
	// Set defaults
	config := &Config{
		Server: ServerConfig{
			Port:         ":8080",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				URL:             os.Getenv("DATABASE_URL"),
				Host:            "localhost",
				Port:            5432,
				Database:        "governance",
				Username:        "governance",
				Password:        "governance_pass",
				SSLMode:         "disable",
				MaxConnections:  25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 60, // minutes
			},
		},
		Logging: LoggingConfig{
			Level:         "info",
			Development:   false,
			BufferSize:    1000,
			BatchSize:     10,
			FlushInterval: "1s",
			Workers:       3,
		},
		Guardrail: GuardrailConfig{
			ClassifierModel:           "model-flash-lite",
			ClassifierTemperature:     0.1,
			Timeout:                   "10s",
			MaxLogLength:              200,
			CostReferenceModel:        "model-flash",
			CostReferenceInputTokens:  600,
			CostReferenceOutputTokens: 150,
		},
		Gateway: GatewayConfig{
			Mode:                  "simulated",
			APIKeyEnv:             "GATEWAY_API_KEY",
			Timeout:               "60s",
			Temperature:           0.1,
			MaxOutputTokens:       1024,
			ProjectedInputTokens:  600,
			ProjectedOutputTokens: 150,
		},
		Policy: PolicyConfig{
			ModelPolicyPath:    "configs/model_policy.yaml",
			ThreatPatternsPath: "configs/intent_guardrail.yaml",
		},
	}

	// Read config file if it exists
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	switch c.Gateway.Mode {
	case "simulated", "http":
	default:
		return fmt.Errorf("unknown gateway mode %q", c.Gateway.Mode)
	}
	if c.Gateway.Mode == "http" && c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway mode %q requires base_url", c.Gateway.Mode)
	}
	return nil
}

// APIKey resolves the backend API key from the configured environment
// variable.
func (c *GatewayConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}
