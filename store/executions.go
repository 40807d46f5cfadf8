package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"testtheweb/errs"
	"testtheweb/models"

	"github.com/google/uuid"
)

const executionColumns = `id, test_case_id, status, results, error, created_at, started_at, completed_at`

// Finish describes a terminal transition. Results replaces the stored list
// when non-nil and is left untouched otherwise.
type Finish struct {
	Status  models.ExecutionStatus
	Results []models.StepResult
	Error   string
	At      time.Time
}

// CreateExecution inserts a pending execution for an existing test case.
func (s *Store) CreateExecution(ctx context.Context, testCaseID string) (*models.Execution, error) {
	if testCaseID == "" {
		return nil, errs.New(errs.InvalidArgument, "testCaseId is required")
	}
	exec := &models.Execution{
		ID:         uuid.NewString(),
		TestCaseID: testCaseID,
		Status:     models.StatusPending,
		Results:    []models.StepResult{},
		CreatedAt:  s.now(),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var found string
		err := tx.QueryRowContext(ctx, `SELECT id FROM test_cases WHERE id = ?`, testCaseID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.New(errs.NotFound, "Test case not found")
		}
		if err != nil {
			return fmt.Errorf("lookup test case: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO executions (id, test_case_id, status, results, error, created_at) VALUES (?, ?, ?, '[]', '', ?)`,
			exec.ID, exec.TestCaseID, exec.Status, exec.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "Execution not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions returns executions newest first, optionally for one test case.
func (s *Store) ListExecutions(ctx context.Context, testCaseID string) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var args []interface{}
	if testCaseID != "" {
		query += ` WHERE test_case_id = ?`
		args = append(args, testCaseID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	execs := make([]*models.Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

// MarkRunning moves a pending execution to running. It reports false when
// the execution already left pending (for example a stop request won).
func (s *Store) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		models.StatusRunning, at, id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	return s.transitioned(ctx, res, id)
}

// AppendResult adds one step result while the execution is running.
func (s *Store) AppendResult(ctx context.Context, id string, result models.StepResult) (bool, error) {
	applied := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status  models.ExecutionStatus
			encoded string
		)
		err := tx.QueryRowContext(ctx, `SELECT status, results FROM executions WHERE id = ?`, id).Scan(&status, &encoded)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.New(errs.NotFound, "Execution not found")
		}
		if err != nil {
			return fmt.Errorf("load results: %w", err)
		}
		if status != models.StatusRunning {
			return nil
		}

		var results []models.StepResult
		if err := json.Unmarshal([]byte(encoded), &results); err != nil {
			return fmt.Errorf("decode results: %w", err)
		}
		results = append(results, result)
		updated, err := encodeJSON(results)
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE executions SET results = ? WHERE id = ? AND status = ?`,
			updated, id, models.StatusRunning); err != nil {
			return fmt.Errorf("append result: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// FinishExecution performs the single terminal write. Only the first
// terminal write for an execution takes effect; later calls report false.
func (s *Store) FinishExecution(ctx context.Context, id string, fin Finish) (bool, error) {
	if !fin.Status.Terminal() {
		return false, fmt.Errorf("finish: %q is not a terminal status", fin.Status)
	}

	var results sql.NullString
	if fin.Results != nil {
		encoded, err := encodeJSON(fin.Results)
		if err != nil {
			return false, fmt.Errorf("encode results: %w", err)
		}
		results = sql.NullString{String: encoded, Valid: true}
	}

	// completedAt marks natural completion only; a stopped run has none.
	var completedAt sql.NullTime
	if fin.Status != models.StatusStopped {
		completedAt = sql.NullTime{Time: fin.At, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, results = COALESCE(?, results), error = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		fin.Status, results, fin.Error, completedAt, id, models.StatusPending, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("finish execution: %w", err)
	}
	return s.transitioned(ctx, res, id)
}

func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.NotFound, "Execution not found")
	}
	return nil
}

// transitioned turns a conditional UPDATE into (applied, error), telling an
// unknown id apart from a guard that did not match.
func (s *Store) transitioned(ctx context.Context, res sql.Result, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var found string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM executions WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errs.New(errs.NotFound, "Execution not found")
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		exec        models.Execution
		results     string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&exec.ID, &exec.TestCaseID, &exec.Status, &results, &exec.Error,
		&exec.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(results), &exec.Results); err != nil {
		return nil, fmt.Errorf("decode results of %s: %w", exec.ID, err)
	}
	if exec.Results == nil {
		exec.Results = []models.StepResult{}
	}
	if startedAt.Valid {
		t := startedAt.Time
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	return &exec, nil
}
