package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"testtheweb/errs"
	"testtheweb/models"

	"github.com/google/uuid"
)

const testCaseColumns = `id, name, description, target_url, steps, created_at`

// CreateTestCase validates and inserts a test case, linking it into
// req.TestSuiteID when set.
func (s *Store) CreateTestCase(ctx context.Context, req models.TestCaseRequest) (*models.TestCase, error) {
	if err := req.Validate(); err != nil {
		return nil, errs.New(errs.InvalidArgument, err.Error())
	}

	steps := req.Steps
	if steps == nil {
		steps = []models.Step{}
	}
	tc := &models.TestCase{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		TargetURL:   req.TargetURL,
		Steps:       steps,
		CreatedAt:   s.now(),
	}
	for i := range tc.Steps {
		if tc.Steps[i].Timestamp.IsZero() {
			tc.Steps[i].Timestamp = tc.CreatedAt
		}
	}

	encoded, err := encodeJSON(tc.Steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if req.TestSuiteID != "" {
			if err := suiteExists(ctx, tx, req.TestSuiteID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO test_cases (`+testCaseColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			tc.ID, tc.Name, tc.Description, tc.TargetURL, encoded, tc.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert test case: %w", err)
		}
		if req.TestSuiteID != "" {
			return linkTestCase(ctx, tx, req.TestSuiteID, tc.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tc, nil
}

func (s *Store) GetTestCase(ctx context.Context, id string) (*models.TestCase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testCaseColumns+` FROM test_cases WHERE id = ?`, id)
	tc, err := scanTestCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "Test case not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get test case %s: %w", id, err)
	}
	return tc, nil
}

// ListTestCases returns every test case, or only the members of suiteID in
// suite order when suiteID is set.
func (s *Store) ListTestCases(ctx context.Context, suiteID string) ([]*models.TestCase, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if suiteID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+testCaseColumns+` FROM test_cases ORDER BY created_at, id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT tc.id, tc.name, tc.description, tc.target_url, tc.steps, tc.created_at
			FROM test_cases tc
			JOIN suite_test_cases stc ON stc.test_case_id = tc.id
			WHERE stc.suite_id = ?
			ORDER BY stc.position`, suiteID)
	}
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	cases := make([]*models.TestCase, 0)
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

// DeleteTestCase removes the test case and pulls its id out of every suite.
// Executions that reference it are kept.
func (s *Store) DeleteTestCase(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM test_cases WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete test case: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.New(errs.NotFound, "Test case not found")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM suite_test_cases WHERE test_case_id = ?`, id); err != nil {
			return fmt.Errorf("unlink test case: %w", err)
		}
		return nil
	})
}

func scanTestCase(row scanner) (*models.TestCase, error) {
	var (
		tc    models.TestCase
		steps string
	)
	if err := row.Scan(&tc.ID, &tc.Name, &tc.Description, &tc.TargetURL, &steps, &tc.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &tc.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of %s: %w", tc.ID, err)
	}
	if tc.Steps == nil {
		tc.Steps = []models.Step{}
	}
	return &tc, nil
}
