// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/security"
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// DatabaseFile is the default database file name under the data directory.
const DatabaseFile = "streamchat.db"

// SQLiteStore persists the security event log and the chat transcript.
// It implements security.EventSink and session.Transcript.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLiteStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DefaultPath returns ~/.streamchat/streamchat.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DatabaseFile
	}
	return filepath.Join(home, ".streamchat", DatabaseFile)
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode so the UI and the CLI can read while a session writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	s.logger.Debug("database opened", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS security_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_security_events_at ON security_events(at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		feedback_given INTEGER NOT NULL DEFAULT 0,
		feedback_positive INTEGER NOT NULL DEFAULT 0,
		feedback_sync_failed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// SECURITY EVENTS
// =============================================================================

// RecordEvent appends an activity event to the security log.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev security.ActivityEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_events (at, kind, reason, detail) VALUES (?, ?, ?, ?)`,
		at.UnixNano(), string(ev.Kind), ev.Reason, ev.Detail)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit of the newest events, oldest first.
// A limit of zero or less returns every event.
func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]security.ActivityEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, kind, reason, detail FROM (
			SELECT id, at, kind, reason, detail FROM security_events
			ORDER BY at DESC, id DESC LIMIT ?
		) ORDER BY at ASC, id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []security.ActivityEvent
	for rows.Next() {
		var (
			at   int64
			kind string
			ev   security.ActivityEvent
		)
		if err := rows.Scan(&at, &kind, &ev.Reason, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		ev.At = time.Unix(0, at)
		ev.Kind = security.ActivityKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PruneEvents deletes events older than cutoff and returns how many went.
func (s *SQLiteStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// SaveMessages inserts or updates msgs in one transaction.
func (s *SQLiteStore) SaveMessages(ctx context.Context, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO messages (id, role, content, created_at, feedback_given, feedback_positive, feedback_sync_failed)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		feedback_given = excluded.feedback_given,
		feedback_positive = excluded.feedback_positive,
		feedback_sync_failed = excluded.feedback_sync_failed`)
	if err != nil {
		return fmt.Errorf("prepare message upsert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		var fb model.Feedback
		if msg.Feedback != nil {
			fb = *msg.Feedback
		}
		if _, err := stmt.ExecContext(ctx,
			msg.ID, string(msg.Role), msg.Content, msg.CreatedAt.UnixNano(),
			boolToInt(fb.Given), boolToInt(fb.Positive), boolToInt(fb.SyncFailed),
		); err != nil {
			return fmt.Errorf("save message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

// LoadMessages returns up to limit of the newest messages in chronological
// order. A limit of zero or less returns the whole transcript. Loaded
// messages are closed.
func (s *SQLiteStore) LoadMessages(ctx context.Context, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at, feedback_given, feedback_positive, feedback_sync_failed
		FROM (
			SELECT rowid AS seq, * FROM messages
			ORDER BY created_at DESC, seq DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		var (
			msg                      model.Message
			role                     string
			createdAt                int64
			given, positive, syncErr int
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &createdAt, &given, &positive, &syncErr); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.CreatedAt = time.Unix(0, createdAt)
		if given != 0 {
			msg.Feedback = &model.Feedback{Given: true, Positive: positive != 0, SyncFailed: syncErr != 0}
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// UpdateFeedback stores the rating of a saved message. Unknown ids are
// ignored; the exchange may not have been saved yet.
func (s *SQLiteStore) UpdateFeedback(ctx context.Context, messageID string, fb model.Feedback) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET feedback_given = ?, feedback_positive = ?, feedback_sync_failed = ?
		WHERE id = ?`,
		boolToInt(fb.Given), boolToInt(fb.Positive), boolToInt(fb.SyncFailed), messageID)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("feedback for unsaved message", zap.String("message_id", messageID))
	}
	return nil
}

// ClearTranscript deletes every saved message.
func (s *SQLiteStore) ClearTranscript(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
