package thread

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteStore persists threads in the `threads` table created by storage.BootstrapSQLite.
type SQLiteStore struct {
	db    *sql.DB
	newID IDFunc
	locks *KeyedMutex
}

// NewSQLiteStore wraps an opened database.
func NewSQLiteStore(db *sql.DB, newID IDFunc) *SQLiteStore {
	if newID == nil {
		newID = DerivedID
	}
	return &SQLiteStore{db: db, newID: newID, locks: NewKeyedMutex()}
}

// Resolve returns the existing thread id or inserts a new row. Creation writes
// before it reads inside one transaction so SQLite takes the write lock up front;
// ON CONFLICT keeps the first writer's id when another process raced us.
func (s *SQLiteStore) Resolve(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", storageErr("resolve", userID, ErrEmptyUserID)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	var threadID string
	err := s.db.QueryRowContext(ctx, "SELECT thread_id FROM threads WHERE user_id = ?;", userID).Scan(&threadID)
	if err == nil {
		return threadID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", storageErr("resolve", userID, fmt.Errorf("read thread: %w", err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("resolve", userID, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(nowUTC())
	if _, err := tx.ExecContext(ctx, `
INSERT INTO threads(user_id, thread_id, last_message, created_at, updated_at)
VALUES(?, ?, '', ?, ?)
ON CONFLICT(user_id) DO NOTHING;
`, userID, s.newID(userID), now, now); err != nil {
		return "", storageErr("resolve", userID, fmt.Errorf("insert thread: %w", err))
	}

	if err := tx.QueryRowContext(ctx, "SELECT thread_id FROM threads WHERE user_id = ?;", userID).Scan(&threadID); err != nil {
		return "", storageErr("resolve", userID, fmt.Errorf("read thread: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return "", storageErr("resolve", userID, fmt.Errorf("commit tx: %w", err))
	}
	return threadID, nil
}

// RecordMessage upserts last_message in a single statement.
func (s *SQLiteStore) RecordMessage(ctx context.Context, userID, text string) error {
	if userID == "" {
		return storageErr("record", userID, ErrEmptyUserID)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := formatTime(nowUTC())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO threads(user_id, thread_id, last_message, created_at, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
  last_message = excluded.last_message,
  updated_at = excluded.updated_at;
`, userID, s.newID(userID), text, now, now)
	if err != nil {
		return storageErr("record", userID, fmt.Errorf("upsert thread: %w", err))
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Thread, error) {
	var (
		t                    Thread
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT user_id, thread_id, last_message, created_at, updated_at
FROM threads WHERE user_id = ?;
`, userID).Scan(&t.UserID, &t.ThreadID, &t.LastMessage, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", userID, err)
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// Count returns the number of stored threads.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM threads;").Scan(&n); err != nil {
		return 0, fmt.Errorf("count threads: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
