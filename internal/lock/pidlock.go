// Package lock keeps a second relay process from serving the same SQLite
// thread database.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrHeld is returned when another process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// PIDLock is a PID file guarded by flock(2). The lock lives as long as the
// file descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

// PathFor returns the lock path that sits next to a database file:
// ./data/threads.db → ./data/threads.pid.
func PathFor(dbPath string) string {
	base := filepath.Base(dbPath)
	return filepath.Join(filepath.Dir(dbPath), strings.TrimSuffix(base, filepath.Ext(base))+".pid")
}

// AcquirePIDLock takes an exclusive non-blocking lock at lockPath and records
// the current PID in it.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", lockPath, ErrHeld)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &PIDLock{path: lockPath, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *PIDLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func (l *PIDLock) Path() string { return l.path }

func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
