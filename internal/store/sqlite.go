package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/eduflowhq/eduflow/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversation_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_sessions_updated ON conversation_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session record. A corrupt or version-skewed
// record is logged and dropped so the caller starts a fresh session.
func (s *SQLiteStore) GetSession(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	query := `
		SELECT schema_version, state_json, created_at, updated_at
		FROM conversation_sessions WHERE user_id = ? AND session_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, sessionID)

	var (
		version              int
		stateJSON            string
		createdAt, updatedAt int64
	)
	err := row.Scan(&version, &stateJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if version != SchemaVersion {
		slog.Warn("session record has unknown schema version, starting fresh",
			"user_id", userID, "session_id", sessionID, "version", version)
		return nil, s.DeleteSession(ctx, userID, sessionID)
	}

	var state domain.ConversationState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		slog.Warn("session record is corrupt, starting fresh",
			"user_id", userID, "session_id", sessionID, "error", err)
		return nil, s.DeleteSession(ctx, userID, sessionID)
	}

	return &SessionRecord{
		UserID:        userID,
		SessionID:     sessionID,
		SchemaVersion: version,
		State:         &state,
		CreatedAt:     time.Unix(createdAt, 0),
		UpdatedAt:     time.Unix(updatedAt, 0),
	}, nil
}

// PutSession atomically creates or replaces a session record.
func (s *SQLiteStore) PutSession(ctx context.Context, rec *SessionRecord) error {
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO conversation_sessions (user_id, session_id, schema_version, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`

	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx, query,
			rec.UserID, rec.SessionID, SchemaVersion, string(stateJSON),
			createdAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes a session record.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return s.withRetry(func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM conversation_sessions WHERE user_id = ? AND session_id = ?`,
			userID, sessionID,
		)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// CleanupExpiredSessions removes records idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry retries SQLite concurrency errors with exponential backoff.
func (s *SQLiteStore) withRetry(fn func() error) error {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !isSQLiteConflictError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return err
}
