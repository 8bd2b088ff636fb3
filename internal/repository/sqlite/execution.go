package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/repository"
)

var (
	_ repository.ExecutionRepository = (*DB)(nil)
	_ repository.ExecutionLister     = (*DB)(nil)
	_ repository.ExecutionPruner     = (*DB)(nil)
)

const selectExecution = `
	SELECT id, language, code, input, config, test_cases, status,
	       result, validation, created_at, updated_at
	FROM executions`

// Save inserts the execution or replaces the stored version. created_at is
// fixed by the first insert.
func (db *DB) Save(ctx context.Context, e *model.Execution) error {
	if e == nil || e.ID == "" {
		return apperror.ValidationFailed("id", "execution id is required")
	}

	config, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("sqlite: encoding config: %w", err)
	}
	testCases := e.TestCases
	if testCases == nil {
		testCases = []model.TestCase{}
	}
	tests, err := json.Marshal(testCases)
	if err != nil {
		return fmt.Errorf("sqlite: encoding test cases: %w", err)
	}
	result, err := nullableJSON(e.Result)
	if err != nil {
		return fmt.Errorf("sqlite: encoding result: %w", err)
	}
	validation, err := nullableJSON(e.Validation)
	if err != nil {
		return fmt.Errorf("sqlite: encoding validation: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO executions
			(id, language, code, input, config, test_cases, status, result, validation, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			language   = excluded.language,
			code       = excluded.code,
			input      = excluded.input,
			config     = excluded.config,
			test_cases = excluded.test_cases,
			status     = excluded.status,
			result     = excluded.result,
			validation = excluded.validation,
			updated_at = excluded.updated_at`,
		e.ID,
		string(e.Language),
		e.Code,
		e.Input,
		string(config),
		string(tests),
		string(e.Status),
		result,
		validation,
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving execution %s: %w", e.ID, err)
	}
	return nil
}

// Get retrieves a single execution by its ID.
func (db *DB) Get(ctx context.Context, id string) (*model.Execution, error) {
	row := db.conn.QueryRowContext(ctx, selectExecution+` WHERE id = ?`, id)

	e, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", id, err)
	}
	return e, nil
}

// List returns executions newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Execution, error) {
	opts = opts.Normalize()

	query := selectExecution
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	executions := make([]model.Execution, 0, opts.Limit)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}
	return executions, nil
}

// DeleteFinishedBefore removes completed and errored executions whose last
// update is older than cutoff.
func (db *DB) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM executions WHERE status IN (?, ?) AND updated_at < ?`,
		string(model.StatusCompleted),
		string(model.StatusError),
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: pruning executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting pruned executions: %w", err)
	}
	return int(n), nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.Execution, error) {
	var (
		e                  model.Execution
		language, status   string
		config, tests      string
		result, validation sql.NullString
	)
	if err := s.Scan(
		&e.ID, &language, &e.Code, &e.Input, &config, &tests, &status,
		&result, &validation, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.Language = model.Language(language)
	e.Status = model.Status(status)

	if err := json.Unmarshal([]byte(config), &e.Config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := json.Unmarshal([]byte(tests), &e.TestCases); err != nil {
		return nil, fmt.Errorf("decoding test cases: %w", err)
	}
	if result.Valid {
		e.Result = &model.Result{}
		if err := json.Unmarshal([]byte(result.String), e.Result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
	}
	if validation.Valid {
		e.Validation = &model.Validation{}
		if err := json.Unmarshal([]byte(validation.String), e.Validation); err != nil {
			return nil, fmt.Errorf("decoding validation: %w", err)
		}
	}
	return &e, nil
}

// nullableJSON encodes v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
