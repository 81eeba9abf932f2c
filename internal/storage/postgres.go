package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Backend defines the interface for decision-event storage implementations.
type Backend interface {
	SaveDecisionEvent(ctx context.Context, event *DecisionEvent) error
	SaveDecisionEventsBatch(ctx context.Context, events []*DecisionEvent) error
	GetDecisionEvents(ctx context.Context, filter EventFilter) ([]*DecisionEvent, error)
	GetDecisionStats(ctx context.Context) (*DecisionStats, error)
	Close() error
}

// PostgresBackend implements Backend for PostgreSQL.
type PostgresBackend struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds configuration for the PostgreSQL connection.
type PostgresConfig struct {
	ConnectionURL   string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresBackend opens and verifies a PostgreSQL connection.
func NewPostgresBackend(config PostgresConfig, logger *zap.Logger) (*PostgresBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", config.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxConnections > 0 {
		db.SetMaxOpenConns(config.MaxConnections)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL")
	return &PostgresBackend{db: db, logger: logger}, nil
}

const eventColumns = `id, request_id, timestamp, department, stage, outcome, layer, model,
	confidence, detected_risks, reason, request_text, input_tokens, output_tokens,
	tokens_are_estimated, cost_usd, cost_avoided_usd, error, latency_ms, created_at`

const eventColumnCount = 20

// SaveDecisionEvent saves a single decision event.
func (p *PostgresBackend) SaveDecisionEvent(ctx context.Context, event *DecisionEvent) error {
	return p.SaveDecisionEventsBatch(ctx, []*DecisionEvent{event})
}

// SaveDecisionEventsBatch saves multiple decision events in one transaction.
func (p *PostgresBackend) SaveDecisionEventsBatch(ctx context.Context, events []*DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	query := `INSERT INTO decision_events (` + eventColumns + `) VALUES `

	values := make([]interface{}, 0, len(events)*eventColumnCount)
	placeholders := make([]string, 0, len(events))

	for i, event := range events {
		start := i*eventColumnCount + 1
		group := make([]string, eventColumnCount)
		for j := range group {
			group[j] = fmt.Sprintf("$%d", start+j)
		}
		placeholders = append(placeholders, "("+strings.Join(group, ", ")+")")

		risksJSON, _ := json.Marshal(event.DetectedRisks)

		values = append(values,
			event.ID,
			event.RequestID,
			event.Timestamp,
			event.Department,
			event.Stage,
			event.Outcome,
			event.Layer,
			event.Model,
			event.Confidence,
			risksJSON,
			event.Reason,
			event.RequestText,
			event.InputTokens,
			event.OutputTokens,
			event.TokensEstimated,
			event.CostUSD,
			event.CostAvoidedUSD,
			event.Error,
			event.LatencyMs,
			event.CreatedAt,
		)
	}

	query += strings.Join(placeholders, ", ")

	_, err = tx.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("failed to insert decision events: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetDecisionEvents retrieves decision events matching the filter.
func (p *PostgresBackend) GetDecisionEvents(ctx context.Context, filter EventFilter) ([]*DecisionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM decision_events WHERE 1=1`

	args := make([]interface{}, 0)
	argCount := 0

	if filter.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
	}
	if filter.Department != nil {
		argCount++
		query += fmt.Sprintf(" AND department = $%d", argCount)
		args = append(args, *filter.Department)
	}
	if filter.Stage != nil {
		argCount++
		query += fmt.Sprintf(" AND stage = $%d", argCount)
		args = append(args, *filter.Stage)
	}
	if filter.Outcome != nil {
		argCount++
		query += fmt.Sprintf(" AND outcome = $%d", argCount)
		args = append(args, *filter.Outcome)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		argCount++
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			argCount++
			query += fmt.Sprintf(" OFFSET $%d", argCount)
			args = append(args, filter.Offset)
		}
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision events: %w", err)
	}
	defer rows.Close()

	var events []*DecisionEvent
	for rows.Next() {
		event := &DecisionEvent{}
		var risksJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.RequestID,
			&event.Timestamp,
			&event.Department,
			&event.Stage,
			&event.Outcome,
			&event.Layer,
			&event.Model,
			&event.Confidence,
			&risksJSON,
			&event.Reason,
			&event.RequestText,
			&event.InputTokens,
			&event.OutputTokens,
			&event.TokensEstimated,
			&event.CostUSD,
			&event.CostAvoidedUSD,
			&event.Error,
			&event.LatencyMs,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision event: %w", err)
		}

		if risksJSON != nil {
			json.Unmarshal(risksJSON, &event.DetectedRisks)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// GetDecisionStats retrieves aggregated statistics about decision events.
func (p *PostgresBackend) GetDecisionStats(ctx context.Context) (*DecisionStats, error) {
	stats := &DecisionStats{
		OutcomeCounts: make(map[string]int64),
	}

	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decision_events").Scan(&stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to count decision events: %w", err)
	}

	rows, err := p.db.QueryContext(ctx,
		"SELECT outcome, COUNT(*) FROM decision_events GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		stats.OutcomeCounts[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd::numeric), 0)::text,
		       COALESCE(SUM(cost_avoided_usd::numeric), 0)::text
		FROM decision_events`).Scan(&stats.TotalCostUSD, &stats.TotalAvoidedUSD)
	if err != nil {
		return nil, fmt.Errorf("failed to sum costs: %w", err)
	}

	return stats, nil
}

// Close closes the database connection.
func (p *PostgresBackend) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
