// Package postgres provides a Postgres-backed ExecutionStore for
// deployments that need execution records shared across engine instances.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/deepnoodle-ai/process"
	"github.com/deepnoodle-ai/process/retry"
)

const schema = `
CREATE TABLE IF NOT EXISTS process_executions (
	id           TEXT PRIMARY KEY,
	process_id   TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	record       JSONB NOT NULL
)`

// StoreOptions configures the Postgres execution store.
type StoreOptions struct {
	// DSN is a lib/pq connection string.
	DSN string

	// RetryPolicy wraps every database operation. Zero value uses defaults.
	RetryPolicy retry.Policy
}

// Store is an ExecutionStore backed by a Postgres table. Records are kept as
// JSONB alongside the columns needed for listing and cancellation.
type Store struct {
	db     *sql.DB
	policy retry.Policy
}

// NewStore opens a connection pool and ensures the executions table exists.
func NewStore(ctx context.Context, opts StoreOptions) (*Store, error) {
	db, err := sql.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store := &Store{db: db, policy: opts.RetryPolicy.Normalize()}
	if err := store.withRetry(ctx, func() error {
		_, err := db.ExecContext(ctx, schema)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create executions table: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry wraps a database operation in the store's retry policy.
// Connection-level failures are retryable; everything else surfaces as is.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return retry.DoWithPolicy(ctx, s.policy, func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) || process.IsValidationError(err) {
			return retry.NonRecoverable(err)
		}
		return err
	})
}

func (s *Store) Save(ctx context.Context, execution *process.Execution) error {
	if execution == nil || execution.ID == "" {
		return process.NewValidationError("execution with id required")
	}
	record, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	var completedAt sql.NullTime
	if !execution.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: execution.CompletedAt, Valid: true}
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO process_executions (id, process_id, status, started_at, completed_at, record)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				completed_at = EXCLUDED.completed_at,
				record = EXCLUDED.record`,
			execution.ID, execution.ProcessID, string(execution.Status),
			execution.StartedAt, completedAt, record)
		return err
	})
}

func (s *Store) Get(ctx context.Context, executionID string) (*process.Execution, error) {
	var record []byte
	err := s.withRetry(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT record FROM process_executions WHERE id = $1`,
			executionID).Scan(&record)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, process.NewNotFoundError("execution %q not found", executionID)
	}
	if err != nil {
		return nil, err
	}
	var execution process.Execution
	if err := json.Unmarshal(record, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return &execution, nil
}

func (s *Store) Update(ctx context.Context, executionID string, fn func(*process.Execution) error) error {
	_, err := s.updateTx(ctx, executionID, fn)
	return err
}

func (s *Store) Cancel(ctx context.Context, executionID string) (*process.Execution, error) {
	return s.updateTx(ctx, executionID, func(execution *process.Execution) error {
		if execution.Status.IsTerminal() {
			return process.NewProcessError(process.ErrorTypeCancellation,
				"execution "+executionID+" already completed")
		}
		execution.Status = process.ExecutionStatusCancelled
		execution.CompletedAt = time.Now()
		return nil
	})
}

// updateTx loads the record under a row lock, applies fn, and writes it back.
func (s *Store) updateTx(ctx context.Context, executionID string, fn func(*process.Execution) error) (*process.Execution, error) {
	var updated *process.Execution
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var record []byte
		err = tx.QueryRowContext(ctx,
			`SELECT record FROM process_executions WHERE id = $1 FOR UPDATE`,
			executionID).Scan(&record)
		if err != nil {
			return err
		}
		var execution process.Execution
		if err := json.Unmarshal(record, &execution); err != nil {
			return retry.NonRecoverable(fmt.Errorf("failed to unmarshal execution: %w", err))
		}
		if err := fn(&execution); err != nil {
			return retry.NonRecoverable(err)
		}
		newRecord, err := json.Marshal(&execution)
		if err != nil {
			return retry.NonRecoverable(fmt.Errorf("failed to marshal execution: %w", err))
		}
		var completedAt sql.NullTime
		if !execution.CompletedAt.IsZero() {
			completedAt = sql.NullTime{Time: execution.CompletedAt, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE process_executions
			SET status = $2, completed_at = $3, record = $4
			WHERE id = $1`,
			executionID, string(execution.Status), completedAt, newRecord)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		updated = &execution
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, process.NewNotFoundError("execution %q not found", executionID)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) List(ctx context.Context) ([]process.ExecutionSummary, error) {
	var summaries []process.ExecutionSummary
	err := s.withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT record FROM process_executions
			ORDER BY started_at DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		summaries = summaries[:0]
		for rows.Next() {
			var record []byte
			if err := rows.Scan(&record); err != nil {
				return err
			}
			var execution process.Execution
			if err := json.Unmarshal(record, &execution); err != nil {
				return retry.NonRecoverable(fmt.Errorf("failed to unmarshal execution: %w", err))
			}
			summaries = append(summaries, execution.Summary())
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
