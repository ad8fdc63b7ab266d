package operations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"posextract/pkg/contracts/domain"
)

// The partial unique index on active is what enforces single-flight
// admission: active is 1 for pending/running jobs and NULL otherwise.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	active     INTEGER,
	created_at INTEGER NOT NULL,
	body       TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS jobs_single_active ON jobs(active) WHERE active IS NOT NULL;
CREATE INDEX IF NOT EXISTS jobs_created_at ON jobs(created_at);
`

// SQLiteJobStore persists jobs in a local SQLite database.
type SQLiteJobStore struct {
	db *sql.DB
}

// OpenSQLiteJobStore opens (or creates) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLiteJobStore(ctx context.Context, path string) (*SQLiteJobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteJobStore{db: db}, nil
}

func activeFlag(status domain.JobStatus) any {
	if status.IsActive() {
		return 1
	}
	return nil
}

// TryAdmit inserts the job; the unique index rejects a second active job.
func (s *SQLiteJobStore) TryAdmit(ctx context.Context, job *domain.Job) error {
	if err := checkAdmittable(job); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, active, created_at, body) VALUES (?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), activeFlag(job.Status), job.CreatedAt.UnixNano(), string(body))
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed: jobs.active") {
		var holder string
		_ = s.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE active IS NOT NULL`).Scan(&holder)
		return &ConflictError{ActiveJobID: holder}
	}
	return fmt.Errorf("insert job %s: %w", job.ID, err)
}

// Update applies fn inside a transaction.
func (s *SQLiteJobStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := s.scanOne(tx.QueryRowContext(ctx, `SELECT body FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
		}
		return nil, err
	}

	next, err := applyUpdate(current, fn)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, active = ?, body = ? WHERE id = ?`,
		string(next.Status), activeFlag(next.Status), string(body), id); err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// Get retrieves a job by ID
func (s *SQLiteJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.scanOne(s.db.QueryRowContext(ctx, `SELECT body FROM jobs WHERE id = ?`, id))
	if errors.Is(err, ErrJobNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, err
}

func (s *SQLiteJobStore) scanOne(row *sql.Row) (*domain.Job, error) {
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// List returns jobs matching the filter, newest first
func (s *SQLiteJobStore) List(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT body FROM jobs WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ActiveOnly {
		query += ` AND active IS NOT NULL`
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UnixNano())
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.Job
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		result = append(result, &job)
	}
	return result, rows.Err()
}

// Delete removes a job
func (s *SQLiteJobStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}
