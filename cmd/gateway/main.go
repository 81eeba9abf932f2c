package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bankops/governance-gateway/internal/config"
	"github.com/bankops/governance-gateway/internal/gateway"
	"github.com/bankops/governance-gateway/internal/guardrail"
	"github.com/bankops/governance-gateway/internal/pipeline"
	"github.com/bankops/governance-gateway/internal/policy"
	"github.com/bankops/governance-gateway/internal/prompt"
	"github.com/bankops/governance-gateway/internal/router"
	"github.com/bankops/governance-gateway/internal/server"
	"github.com/bankops/governance-gateway/internal/storage"
	"github.com/bankops/governance-gateway/internal/telemetry"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/gateway.yaml", "Path to configuration file")
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config file (%v)", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger (%v)", err)
	}
	defer logger.Sync()

	// Governance policy documents.
	policies, err := policy.Load(cfg.Policy.ModelPolicyPath)
	if err != nil {
		logger.Fatal("failed to load model policy", zap.Error(err))
	}
	patterns, err := policy.LoadPatterns(cfg.Policy.ThreatPatternsPath, logger)
	if err != nil {
		logger.Fatal("failed to load threat patterns", zap.Error(err))
	}
	logger.Info("governance policy loaded",
		zap.Strings("departments", policies.Departments()),
		zap.Int("threat_categories", len(patterns.Categories())))

	safety := gateway.DefaultSafetyPolicy()
	if cfg.Gateway.SafetySettingsPath != "" {
		safety, err = gateway.LoadSafetyPolicy(cfg.Gateway.SafetySettingsPath)
		if err != nil {
			logger.Fatal("failed to load safety settings", zap.Error(err))
		}
	}

	// Decision event persistence.
	backend, err := setupStorage(cfg, logger)
	if err != nil {
		logger.Fatal("failed to setup storage", zap.Error(err))
	}

	flushInterval, err := time.ParseDuration(cfg.Logging.FlushInterval)
	if err != nil {
		logger.Warn("invalid flush interval, using default 1s", zap.Error(err))
		flushInterval = time.Second
	}
	writer := storage.NewAsyncEventWriter(storage.AsyncEventWriterConfig{
		Backend:       backend,
		BufferSize:    cfg.Logging.BufferSize,
		BatchSize:     cfg.Logging.BatchSize,
		FlushInterval: flushInterval,
		Workers:       cfg.Logging.Workers,
		Enabled:       true,
		Logger:        logger,
	})
	logger.Info("decision event writer started", zap.Int("workers", cfg.Logging.Workers))

	// Backend, gateway, and classifier.
	modelBackend, err := setupBackend(cfg, logger)
	if err != nil {
		logger.Fatal("failed to setup model backend", zap.Error(err))
	}

	gw := gateway.New(gateway.Config{
		Backend:         modelBackend,
		Safety:          safety,
		Temperature:     cfg.Gateway.Temperature,
		MaxOutputTokens: cfg.Gateway.MaxOutputTokens,
		Logger:          logger,
	})

	classifierTimeout, err := time.ParseDuration(cfg.Guardrail.Timeout)
	if err != nil {
		logger.Warn("invalid guardrail timeout, using default 10s", zap.Error(err))
		classifierTimeout = 10 * time.Second
	}
	classifier := guardrail.WithTimeout(gateway.NewBackendClassifier(gateway.ClassifierConfig{
		Backend:     modelBackend,
		ModelID:     cfg.Guardrail.ClassifierModel,
		Temperature: cfg.Guardrail.ClassifierTemperature,
		Safety:      safety,
		Logger:      logger,
	}), classifierTimeout)

	prompts, err := prompt.NewAssembler()
	if err != nil {
		logger.Fatal("failed to load prompt templates", zap.Error(err))
	}

	ledger := telemetry.NewLedger(policies, logger)
	redactor := guardrail.NewRedactor(cfg.Guardrail.MaxLogLength)

	guard := guardrail.New(guardrail.Config{
		Patterns:   patterns,
		Classifier: classifier,
		Prompts:    prompts,
		Ledger:     ledger,
		Sink:       writer,
		Redactor:   redactor,
		CostReference: guardrail.CostReference{
			Model:        cfg.Guardrail.CostReferenceModel,
			InputTokens:  cfg.Guardrail.CostReferenceInputTokens,
			OutputTokens: cfg.Guardrail.CostReferenceOutputTokens,
		},
		Logger: logger,
	})

	pipe := pipeline.New(pipeline.Config{
		Guardrail:             guard,
		Router:                router.New(policies, logger),
		Ledger:                ledger,
		Gateway:               gw,
		Prompts:               prompts,
		Sink:                  writer,
		Redactor:              redactor,
		ProjectedInputTokens:  cfg.Gateway.ProjectedInputTokens,
		ProjectedOutputTokens: cfg.Gateway.ProjectedOutputTokens,
		Logger:                logger,
	})

	srv := server.New(server.Config{
		Pipeline: pipe,
		Policies: policies,
		Writer:   writer,
		Stats:    backend,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("governance gateway starting",
			zap.String("port", cfg.Server.Port),
			zap.String("gateway_mode", cfg.Gateway.Mode),
			zap.String("storage", cfg.Storage.Type))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}
	// Close drains pending events and closes the storage backend.
	if err := writer.Close(); err != nil {
		logger.Error("error closing event writer", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// buildLogger constructs the application logger from config.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

// setupStorage initializes the decision event store based on configuration.
func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Backend, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return setupPostgres(cfg, logger)
	case "memory":
		logger.Info("using in-memory decision event store")
		return storage.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// setupPostgres builds the PostgreSQL connection URL and opens the backend.
func setupPostgres(cfg *config.Config, logger *zap.Logger) (storage.Backend, error) {
	pgCfg := cfg.Storage.Postgres

	var connectionURL string
	if pgCfg.URL != "" && !strings.Contains(pgCfg.URL, "${") {
		connectionURL = pgCfg.URL
	} else if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		connectionURL = dbURL
	} else {
		sslMode := pgCfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		connectionURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			pgCfg.Username,
			pgCfg.Password,
			pgCfg.Host,
			pgCfg.Port,
			pgCfg.Database,
			sslMode,
		)
	}

	logger.Info("connecting to PostgreSQL")
	return storage.NewPostgresBackend(storage.PostgresConfig{
		ConnectionURL:   connectionURL,
		MaxConnections:  pgCfg.MaxConnections,
		MaxIdleConns:    pgCfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pgCfg.ConnMaxLifetime) * time.Minute,
	}, logger)
}

// setupBackend selects the model backend implementation.
func setupBackend(cfg *config.Config, logger *zap.Logger) (gateway.Backend, error) {
	switch cfg.Gateway.Mode {
	case "simulated":
		logger.Info("using simulated model backend")
		return gateway.NewSimulatedBackend(logger), nil
	case "http":
		timeout, err := time.ParseDuration(cfg.Gateway.Timeout)
		if err != nil {
			logger.Warn("invalid gateway timeout, using default 60s", zap.Error(err))
			timeout = 60 * time.Second
		}
		apiKey := cfg.Gateway.APIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("gateway mode %q requires %s to be set", cfg.Gateway.Mode, cfg.Gateway.APIKeyEnv)
		}
		return gateway.NewHTTPBackend(gateway.HTTPBackendConfig{
			BaseURL: cfg.Gateway.BaseURL,
			APIKey:  apiKey,
			Timeout: timeout,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported gateway mode: %s", cfg.Gateway.Mode)
	}
}
