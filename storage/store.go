// Package storage persists analysis runs and issues in SQLite. Issues are
// deduplicated on (file_id, rule_code, line_start, title): a finding seen
// again on a later run refreshes the existing row instead of creating a new
// one, so an issue's history survives across runs.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/c360studio/docsqa/analyze"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID            string
	Status        string
	StartedAt     time.Time
	CompletedAt   *time.Time
	FilesAnalyzed int
	IssuesFound   int
	Error         string
}

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (and if needed creates) the database at path and applies the
// schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	last_analyzed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	files_analyzed INTEGER NOT NULL DEFAULT 0,
	issues_found INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id),
	rule_code TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	line_start INTEGER NOT NULL,
	line_end INTEGER NOT NULL,
	snippet TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	evidence TEXT NOT NULL DEFAULT '{}',
	citations TEXT NOT NULL DEFAULT '[]',
	suggested_patch TEXT NOT NULL DEFAULT '',
	can_auto_apply INTEGER NOT NULL DEFAULT 0,
	first_seen_run_id TEXT NOT NULL,
	last_seen_run_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_issues_identity
	ON issues(file_id, rule_code, line_start, title);

CREATE INDEX IF NOT EXISTS idx_issues_last_seen ON issues(last_seen_run_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// EnsureFile returns the stable file ID for a repository path, creating the
// row on first sight.
func (s *Store) EnsureFile(ctx context.Context, path string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, path).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("look up file %s: %w", path, err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id, path) VALUES (?, ?)`, id, path); err != nil {
		return "", fmt.Errorf("insert file %s: %w", path, err)
	}
	return id, nil
}

// FilePathsByID returns every known file keyed by its stable ID.
func (s *Store) FilePathsByID(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, path FROM files`)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]string)
	for rows.Next() {
		var id, path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		paths[id] = path
	}
	return paths, rows.Err()
}

// TouchFile records that a file was analyzed now.
func (s *Store) TouchFile(ctx context.Context, fileID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET last_analyzed_at = ? WHERE id = ?`, time.Now().UTC(), fileID)
	if err != nil {
		return fmt.Errorf("touch file %s: %w", fileID, err)
	}
	return nil
}

// CreateRun records the start of a run.
func (s *Store) CreateRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		runID, RunStatusRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create run %s: %w", runID, err)
	}
	return nil
}

// CompleteRun marks a run finished with its final counters.
func (s *Store) CompleteRun(ctx context.Context, runID string, filesAnalyzed, issuesFound int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, files_analyzed = ?, issues_found = ? WHERE id = ?`,
		RunStatusCompleted, time.Now().UTC(), filesAnalyzed, issuesFound, runID)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return nil
}

// FailRun marks a run failed with its error.
func (s *Store) FailRun(ctx context.Context, runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		RunStatusFailed, time.Now().UTC(), msg, runID)
	if err != nil {
		return fmt.Errorf("fail run %s: %w", runID, err)
	}
	return nil
}

// GetRun fetches one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, started_at, completed_at, files_analyzed, issues_found, error
		 FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.Status, &r.StartedAt, &completedAt, &r.FilesAnalyzed, &r.IssuesFound, &r.Error)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

// UpsertIssue inserts the issue or, when its identity already exists,
// refreshes the existing row's run marker, severity, description, and
// evidence. It reports whether a new row was created.
func (s *Store) UpsertIssue(ctx context.Context, issue analyze.Issue) (bool, error) {
	evidence, err := json.Marshal(issue.Evidence)
	if err != nil {
		return false, fmt.Errorf("marshal evidence: %w", err)
	}
	citations, err := json.Marshal(issue.Citations)
	if err != nil {
		return false, fmt.Errorf("marshal citations: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO issues (
	id, file_id, rule_code, severity, title, description,
	line_start, line_end, snippet, confidence, evidence, citations,
	suggested_patch, can_auto_apply,
	first_seen_run_id, last_seen_run_id, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(file_id, rule_code, line_start, title) DO UPDATE SET
	last_seen_run_id = excluded.last_seen_run_id,
	description = excluded.description,
	severity = excluded.severity,
	snippet = excluded.snippet,
	confidence = excluded.confidence,
	evidence = excluded.evidence,
	citations = excluded.citations,
	suggested_patch = excluded.suggested_patch,
	can_auto_apply = excluded.can_auto_apply,
	line_end = excluded.line_end,
	updated_at = excluded.updated_at`,
		issue.ID, issue.FileID, issue.RuleCode, string(issue.Severity), issue.Title, issue.Description,
		issue.LineStart, issue.LineEnd, issue.Snippet, issue.Confidence, string(evidence), string(citations),
		issue.SuggestedPatch, issue.CanAutoApply,
		issue.RunID, issue.RunID, now, now)
	if err != nil {
		return false, fmt.Errorf("upsert issue: %w", err)
	}

	// On conflict the original row id survives, so reading the row back and
	// comparing ids tells insert and update apart.
	var created bool
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		var id string
		qerr := s.db.QueryRowContext(ctx,
			`SELECT id FROM issues WHERE file_id = ? AND rule_code = ? AND line_start = ? AND title = ?`,
			issue.FileID, issue.RuleCode, issue.LineStart, issue.Title).Scan(&id)
		if qerr == nil {
			created = id == issue.ID
		}
	}
	return created, nil
}

// IssuesForFile returns the issues recorded for one file, ordered by
// position.
func (s *Store) IssuesForFile(ctx context.Context, fileID string) ([]analyze.Issue, error) {
	return s.queryIssues(ctx,
		`SELECT id, file_id, rule_code, severity, title, description,
			line_start, line_end, snippet, confidence, evidence, citations,
			suggested_patch, can_auto_apply, last_seen_run_id, created_at
		 FROM issues WHERE file_id = ? ORDER BY line_start, rule_code`, fileID)
}

// IssuesSeenInRun returns every issue whose last sighting was the given run.
func (s *Store) IssuesSeenInRun(ctx context.Context, runID string) ([]analyze.Issue, error) {
	return s.queryIssues(ctx,
		`SELECT id, file_id, rule_code, severity, title, description,
			line_start, line_end, snippet, confidence, evidence, citations,
			suggested_patch, can_auto_apply, last_seen_run_id, created_at
		 FROM issues WHERE last_seen_run_id = ? ORDER BY file_id, line_start`, runID)
}

func (s *Store) queryIssues(ctx context.Context, query string, args ...any) ([]analyze.Issue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	var issues []analyze.Issue
	for rows.Next() {
		var issue analyze.Issue
		var severity, evidence, citations string
		if err := rows.Scan(&issue.ID, &issue.FileID, &issue.RuleCode, &severity,
			&issue.Title, &issue.Description, &issue.LineStart, &issue.LineEnd,
			&issue.Snippet, &issue.Confidence, &evidence, &citations,
			&issue.SuggestedPatch, &issue.CanAutoApply,
			&issue.RunID, &issue.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issue.Severity = analyze.Severity(severity)
		if err := json.Unmarshal([]byte(evidence), &issue.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
		if err := json.Unmarshal([]byte(citations), &issue.Citations); err != nil {
			return nil, fmt.Errorf("unmarshal citations: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}
