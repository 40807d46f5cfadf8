package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"testtheweb/errs"
	"testtheweb/models"

	"github.com/google/uuid"
)

func (s *Store) CreateTestSuite(ctx context.Context, req models.TestSuiteRequest) (*models.TestSuite, error) {
	if err := req.Validate(); err != nil {
		return nil, errs.New(errs.InvalidArgument, err.Error())
	}
	suite := &models.TestSuite{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		TestCaseIDs: []string{},
		CreatedAt:   s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO test_suites (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		suite.ID, suite.Name, suite.Description, suite.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert test suite: %w", err)
	}
	return suite, nil
}

func (s *Store) GetTestSuite(ctx context.Context, id string) (*models.TestSuite, error) {
	var suite models.TestSuite
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM test_suites WHERE id = ?`, id).
		Scan(&suite.ID, &suite.Name, &suite.Description, &suite.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "Test suite not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get test suite %s: %w", id, err)
	}

	ids, err := s.suiteMembers(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	suite.TestCaseIDs = ids
	return &suite, nil
}

func (s *Store) ListTestSuites(ctx context.Context) ([]*models.TestSuite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM test_suites ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list test suites: %w", err)
	}

	suites := make([]*models.TestSuite, 0)
	for rows.Next() {
		var suite models.TestSuite
		if err := rows.Scan(&suite.ID, &suite.Name, &suite.Description, &suite.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan test suite: %w", err)
		}
		suites = append(suites, &suite)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Members are loaded after the cursor is closed: the pool has one connection.
	for _, suite := range suites {
		ids, err := s.suiteMembers(ctx, s.db, suite.ID)
		if err != nil {
			return nil, err
		}
		suite.TestCaseIDs = ids
	}
	return suites, nil
}

// DeleteTestSuite deletes the suite and every test case it lists. Deleted
// cases are also unlinked from any other suite that referenced them.
func (s *Store) DeleteTestSuite(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := suiteExists(ctx, tx, id); err != nil {
			return err
		}
		ids, err := s.suiteMembers(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, caseID := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM test_cases WHERE id = ?`, caseID); err != nil {
				return fmt.Errorf("delete test case %s: %w", caseID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM suite_test_cases WHERE test_case_id = ?`, caseID); err != nil {
				return fmt.Errorf("unlink test case %s: %w", caseID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM suite_test_cases WHERE suite_id = ?`, id); err != nil {
			return fmt.Errorf("unlink suite: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_suites WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete test suite: %w", err)
		}
		return nil
	})
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) suiteMembers(ctx context.Context, q querier, suiteID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT test_case_id FROM suite_test_cases WHERE suite_id = ? ORDER BY position`, suiteID)
	if err != nil {
		return nil, fmt.Errorf("list suite members: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func suiteExists(ctx context.Context, q querier, id string) error {
	var found string
	err := q.QueryRowContext(ctx, `SELECT id FROM test_suites WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.New(errs.NotFound, "Test suite not found")
	}
	if err != nil {
		return fmt.Errorf("lookup test suite %s: %w", id, err)
	}
	return nil
}

func linkTestCase(ctx context.Context, tx *sql.Tx, suiteID, caseID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO suite_test_cases (suite_id, test_case_id, position)
		SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM suite_test_cases WHERE suite_id = ?`,
		suiteID, caseID, suiteID)
	if err != nil {
		return fmt.Errorf("link test case: %w", err)
	}
	return nil
}
