// Package store provides persistence for conversation session records.
package store

import (
	"context"
	"time"

	"github.com/eduflowhq/eduflow/internal/domain"
)

// SchemaVersion is stamped into every stored record. Bump it when the
// serialized state shape changes; records with an unknown version are
// treated as corrupt and replaced with a fresh session.
const SchemaVersion = 1

// SessionRecord is the single durable document for one conversation.
// State and history are written together in one statement so a crash
// mid-write can never resurrect partial state.
type SessionRecord struct {
	UserID        string
	SessionID     string
	SchemaVersion int
	State         *domain.ConversationState
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository defines persistence for session records.
type Repository interface {
	// GetSession retrieves the record for a (user, session) pair.
	// Returns nil with no error when the record is absent — or when
	// the stored state is corrupt, in which case the caller gets a
	// fresh session rather than a crash.
	GetSession(ctx context.Context, userID, sessionID string) (*SessionRecord, error)

	// PutSession atomically creates or replaces a session record.
	PutSession(ctx context.Context, rec *SessionRecord) error

	// DeleteSession removes a session record. Deleting an absent
	// record is not an error.
	DeleteSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredSessions removes records idle longer than ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying database.
	Close() error
}
