package thread

import (
	"context"
	"sync"
)

// MemoryStore keeps threads in process memory. It is not durable.
// Get-or-create runs under a per-user lock; mu only guards map access.
type MemoryStore struct {
	newID IDFunc
	locks *KeyedMutex

	mu      sync.RWMutex
	threads map[string]Thread
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(newID IDFunc) *MemoryStore {
	if newID == nil {
		newID = DerivedID
	}
	return &MemoryStore{newID: newID, locks: NewKeyedMutex(), threads: make(map[string]Thread)}
}

func (s *MemoryStore) Resolve(_ context.Context, userID string) (string, error) {
	if userID == "" {
		return "", storageErr("resolve", userID, ErrEmptyUserID)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()
	if t, ok := s.load(userID); ok {
		return t.ThreadID, nil
	}
	t := s.newThread(userID)
	s.store(t)
	return t.ThreadID, nil
}

func (s *MemoryStore) RecordMessage(_ context.Context, userID, text string) error {
	if userID == "" {
		return storageErr("record", userID, ErrEmptyUserID)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()
	t, ok := s.load(userID)
	if !ok {
		t = s.newThread(userID)
	}
	t.LastMessage = text
	t.UpdatedAt = nowUTC()
	s.store(t)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Thread, error) {
	t, ok := s.load(userID)
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// Len returns the number of stored threads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) load(userID string) (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[userID]
	return t, ok
}

func (s *MemoryStore) store(t Thread) {
	s.mu.Lock()
	s.threads[t.UserID] = t
	s.mu.Unlock()
}

func (s *MemoryStore) newThread(userID string) Thread {
	now := nowUTC()
	return Thread{
		UserID:    userID,
		ThreadID:  s.newID(userID),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
