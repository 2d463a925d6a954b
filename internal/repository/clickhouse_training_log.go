package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SignalServe/internal/domain/models"
	"SignalServe/internal/domain/repository"
	applogger "SignalServe/pkg/logger"
)

// TrainingRunsSchema returns the DDL for the training-run table.
func TrainingRunsSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
            ts DateTime64(3),
            session_id String,
            csv_path String,
            timesteps UInt32,
            features UInt32,
            samples UInt32,
            total_epochs UInt32,
            epochs UInt32,
            batch_size UInt32,
            loss Float64,
            accuracy Float64,
            seconds Float64
        ) ENGINE = MergeTree ORDER BY (session_id, ts)`, database, table),
	}
}

// ClickHouseTrainingLog persists every train_fit result.
type ClickHouseTrainingLog struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

// NewClickHouseTrainingLog creates a training log writing to table
// (database-qualified).
func NewClickHouseTrainingLog(db *sql.DB, table string, l *applogger.Logger) repository.TrainingLog {
	return &ClickHouseTrainingLog{db: db, table: table, l: l}
}

func (s *ClickHouseTrainingLog) Record(ctx context.Context, run models.TrainingRun) error {
	q := fmt.Sprintf(`INSERT INTO %s
        (ts, session_id, csv_path, timesteps, features, samples, total_epochs, epochs, batch_size, loss, accuracy, seconds)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err := s.db.ExecContext(ctx, q,
		run.Timestamp,
		run.SessionID,
		run.CSVPath,
		uint32(run.Timesteps),
		uint32(run.Features),
		uint32(run.Samples),
		uint32(run.TotalEpochs),
		uint32(run.Fit.Epochs),
		uint32(run.Fit.BatchSize),
		run.Fit.Loss,
		run.Fit.Accuracy,
		run.Fit.Seconds,
	)
	if err != nil {
		s.l.Error("clickhouse training_run insert error",
			applogger.String("table", s.table),
			applogger.String("session_id", run.SessionID),
			applogger.Error(err),
		)
		return fmt.Errorf("insert training run: %w", err)
	}
	return nil
}

func (s *ClickHouseTrainingLog) Recent(ctx context.Context, limit int) ([]models.TrainingRun, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT ts, session_id, csv_path, timesteps, features, samples, total_epochs,
               epochs, batch_size, loss, accuracy, seconds
        FROM %s
        ORDER BY ts DESC
        LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query training runs: %w", err)
	}
	defer rows.Close()

	out := make([]models.TrainingRun, 0, limit)
	for rows.Next() {
		var (
			r                                   models.TrainingRun
			timesteps, features, samples, total uint32
			epochs, batch                       uint32
		)
		if err := rows.Scan(&r.Timestamp, &r.SessionID, &r.CSVPath, &timesteps, &features, &samples, &total,
			&epochs, &batch, &r.Fit.Loss, &r.Fit.Accuracy, &r.Fit.Seconds); err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		r.Timesteps, r.Features, r.Samples, r.TotalEpochs = int(timesteps), int(features), int(samples), int(total)
		r.Fit.Epochs, r.Fit.BatchSize = int(epochs), int(batch)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse training_runs ok",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *ClickHouseTrainingLog) Close() error {
	return nil // pool owned by pkg/clickhouse.Client
}
