package thread

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "thread:"

// redisAPI is the subset of *redis.Client used by RedisStore.
type redisAPI interface {
	HSetNX(ctx context.Context, key, field string, value interface{}) *redis.BoolCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Close() error
}

// RedisStore keeps one hash per user: thread_id, last_message, created_at, updated_at.
type RedisStore struct {
	rdb    redisAPI
	prefix string
	newID  IDFunc
	locks  *KeyedMutex
}

// NewRedisStore wraps a connected client. prefix defaults to "thread:".
func NewRedisStore(rdb redisAPI, prefix string, newID IDFunc) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("thread: redis client must not be nil")
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if newID == nil {
		newID = DerivedID
	}
	return &RedisStore{rdb: rdb, prefix: prefix, newID: newID, locks: NewKeyedMutex()}, nil
}

// OpenRedis parses a redis:// URL, connects and pings.
func OpenRedis(ctx context.Context, rawURL, prefix string, newID IDFunc) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStore(rdb, prefix, newID)
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// Resolve relies on HSETNX: only the first writer's thread_id is kept, also across processes.
func (s *RedisStore) Resolve(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", storageErr("resolve", userID, ErrEmptyUserID)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	return s.resolveLocked(ctx, userID)
}

func (s *RedisStore) resolveLocked(ctx context.Context, userID string) (string, error) {
	key := s.key(userID)

	created, err := s.rdb.HSetNX(ctx, key, "thread_id", s.newID(userID)).Result()
	if err != nil {
		return "", storageErr("resolve", userID, fmt.Errorf("hsetnx: %w", err))
	}
	if created {
		now := formatTime(nowUTC())
		if err := s.rdb.HSet(ctx, key, "created_at", now, "updated_at", now).Err(); err != nil {
			return "", storageErr("resolve", userID, fmt.Errorf("hset timestamps: %w", err))
		}
	}

	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return "", storageErr("resolve", userID, fmt.Errorf("hgetall: %w", err))
	}
	threadID := fields["thread_id"]
	if threadID == "" {
		return "", storageErr("resolve", userID, errors.New("thread_id missing after create"))
	}
	return threadID, nil
}

func (s *RedisStore) RecordMessage(ctx context.Context, userID, text string) error {
	if userID == "" {
		return storageErr("record", userID, ErrEmptyUserID)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.resolveLocked(ctx, userID); err != nil {
		return err
	}
	err := s.rdb.HSet(ctx, s.key(userID), "last_message", text, "updated_at", formatTime(nowUTC())).Err()
	if err != nil {
		return storageErr("record", userID, fmt.Errorf("hset: %w", err))
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*Thread, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, storageErr("get", userID, err)
	}
	if len(fields) == 0 || fields["thread_id"] == "" {
		return nil, ErrNotFound
	}
	return &Thread{
		UserID:      userID,
		ThreadID:    fields["thread_id"],
		LastMessage: fields["last_message"],
		CreatedAt:   parseTime(fields["created_at"]),
		UpdatedAt:   parseTime(fields["updated_at"]),
	}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
