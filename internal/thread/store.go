package thread

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Thread is the persisted conversation state for one end user.
type Thread struct {
	UserID      string    `json:"user_id"`
	ThreadID    string    `json:"thread_id"`
	LastMessage string    `json:"last_message"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the durable user → thread mapping.
type Store interface {
	// Resolve returns the user's thread id, creating and persisting one if absent.
	Resolve(ctx context.Context, userID string) (string, error)
	// RecordMessage sets the thread's last message, creating the thread if absent.
	RecordMessage(ctx context.Context, userID, text string) error
	// Get returns the stored thread or ErrNotFound.
	Get(ctx context.Context, userID string) (*Thread, error)
	Close() error
}

// ErrNotFound is returned by Get for users without a thread.
var ErrNotFound = errors.New("thread not found")

// ErrEmptyUserID is returned for operations on an empty user id.
var ErrEmptyUserID = errors.New("user id is empty")

// StorageError reports a persistence failure. Callers must not fall back to an
// ephemeral thread when they see one.
type StorageError struct {
	Op     string
	UserID string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("thread store: %s %q: %v", e.Op, e.UserID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op, userID string, err error) error {
	return &StorageError{Op: op, UserID: userID, Err: err}
}

// IDFunc produces a thread id for a user that has none yet.
type IDFunc func(userID string) string

// DerivedID returns a deterministic id: the same user always maps to the same id.
func DerivedID(userID string) string {
	sum := blake3.Sum256([]byte(userID))
	return "thr_" + hex.EncodeToString(sum[:16])
}

// RandomID returns a fresh opaque id.
func RandomID(string) string {
	return "thr_" + uuid.NewString()
}

// NewIDFunc maps a threads.id_strategy value onto an IDFunc.
func NewIDFunc(strategy string) (IDFunc, error) {
	switch strategy {
	case "", "derived":
		return DerivedID, nil
	case "random":
		return RandomID, nil
	default:
		return nil, fmt.Errorf("unknown thread id strategy %q", strategy)
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
