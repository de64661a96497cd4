// ABOUTME: SQLite transcript store using modernc.org/sqlite with automatic schema creation.
// ABOUTME: Records terminal commands and serves the history endpoint, newest first.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/switchboard/internal/command"
)

// SQLiteStore persists transcripts of terminal commands using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a transcript store at the given path.
// The schema is created if it doesn't exist, and parent directories
// are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps history reads from blocking the recorder goroutines.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("transcript store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transcripts (
			command_id     TEXT PRIMARY KEY,
			session_id     TEXT NOT NULL,
			workspace_id   TEXT NOT NULL,
			seq            INTEGER NOT NULL,
			message        TEXT NOT NULL,
			attachment_ref TEXT,
			status         TEXT NOT NULL,
			result         TEXT,
			failure_reason TEXT,
			steps          INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			started_at     TEXT,
			finished_at    TEXT,

			CHECK (status IN ('completed', 'failed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_transcripts_session
			ON transcripts(session_id, seq DESC);

		CREATE INDEX IF NOT EXISTS idx_transcripts_workspace
			ON transcripts(workspace_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordCommand persists a terminal command. Re-recording the same command
// replaces the prior row, so a retried write stays idempotent.
// Implements queue.TranscriptRecorder.
func (s *SQLiteStore) RecordCommand(ctx context.Context, workspaceID string, v command.View) error {
	if !v.Status.Terminal() {
		return fmt.Errorf("command %s is %s, not terminal", v.ID, v.Status)
	}

	query := `
		INSERT OR REPLACE INTO transcripts
			(command_id, session_id, workspace_id, seq, message, attachment_ref,
			 status, result, failure_reason, steps, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		v.ID,
		v.SessionID,
		workspaceID,
		v.Seq,
		v.Message,
		nullString(v.AttachmentRef),
		v.Status.String(),
		nullString(v.Result),
		nullString(v.FailureReason),
		v.Steps,
		v.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(v.StartedAt),
		nullTime(v.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting transcript: %w", err)
	}

	s.logger.Debug("recorded command",
		"command_id", v.ID,
		"session_id", v.SessionID,
		"status", v.Status.String(),
	)
	return nil
}

// ListBySession retrieves the most recent transcripts for a session, newest
// first. If limit is 0 or negative, all transcripts are returned.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	query := `
		SELECT command_id, session_id, workspace_id, seq, message, attachment_ref,
		       status, result, failure_reason, steps, created_at, started_at, finished_at
		FROM transcripts
		WHERE session_id = ?
		ORDER BY seq DESC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transcripts: %w", err)
	}
	defer rows.Close()

	var transcripts []Transcript
	for rows.Next() {
		var tr Transcript
		var attachmentRef, result, failureReason *string
		var createdAtStr string
		var startedAtStr, finishedAtStr *string

		if err := rows.Scan(&tr.CommandID, &tr.SessionID, &tr.WorkspaceID, &tr.Seq,
			&tr.Message, &attachmentRef, &tr.Status, &result, &failureReason,
			&tr.Steps, &createdAtStr, &startedAtStr, &finishedAtStr); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}

		tr.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing transcript created_at: %w", err)
		}
		if tr.StartedAt, err = parseNullTime(startedAtStr); err != nil {
			return nil, fmt.Errorf("parsing transcript started_at: %w", err)
		}
		if tr.FinishedAt, err = parseNullTime(finishedAtStr); err != nil {
			return nil, fmt.Errorf("parsing transcript finished_at: %w", err)
		}
		if attachmentRef != nil {
			tr.AttachmentRef = *attachmentRef
		}
		if result != nil {
			tr.Result = *result
		}
		if failureReason != nil {
			tr.FailureReason = *failureReason
		}

		transcripts = append(transcripts, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript rows: %w", err)
	}

	return transcripts, nil
}

// CountBySession reports how many transcripts a session has accumulated.
func (s *SQLiteStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transcripts WHERE session_id = ?", sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting transcripts: %w", err)
	}
	return n, nil
}

// nullString returns nil for empty strings, otherwise the string itself.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime returns nil for nil times, otherwise the RFC3339 rendering.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseNullTime inverts nullTime.
func parseNullTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
