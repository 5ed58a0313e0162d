package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// staleAfter is the age at which a lock held by a live process is stolen anyway.
const staleAfter = 5 * time.Minute

// LockFile is the metadata stored in the lock file.
type LockFile struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Owner     string    `json:"owner"`
	Timestamp time.Time `json:"timestamp"`
}

// LockError reports a lock held by another writer. Callers may retry.
type LockError struct {
	Path   string
	Holder *LockFile
	Err    error
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		age := time.Since(e.Holder.Timestamp).Round(time.Second)
		return fmt.Sprintf("artifact store locked by %s (PID %d, %v ago)", e.Holder.Owner, e.Holder.PID, age)
	}
	return fmt.Sprintf("failed to acquire lock %s: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// FileLock is an advisory flock with stale detection.
type FileLock struct {
	path  string
	file  *os.File
	owner string
}

// NewFileLock creates a lock at path owned by owner.
func NewFileLock(path, owner string) *FileLock {
	return &FileLock{path: path, owner: owner}
}

// Acquire takes the lock without blocking. A lock whose holder died or which is
// older than staleAfter is stolen.
func (l *FileLock) Acquire() error {
	return l.acquire(true)
}

func (l *FileLock) acquire(allowSteal bool) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("Failed to close lock file during error handling", "error", closeErr)
		}

		existing, readErr := l.readLockFile()
		if readErr == nil && allowSteal && isStale(existing) {
			slog.Warn("Stealing stale artifact lock", "path", l.path, "pid", existing.PID, "owner", existing.Owner)
			_ = os.Remove(l.path)
			return l.acquire(false)
		}
		if readErr == nil {
			return &LockError{Path: l.path, Holder: existing, Err: err}
		}
		return &LockError{Path: l.path, Err: err}
	}

	l.file = file

	hostname, _ := os.Hostname()
	data, _ := json.MarshalIndent(LockFile{
		PID:       os.Getpid(),
		Hostname:  hostname,
		Owner:     l.owner,
		Timestamp: time.Now(),
	}, "", "  ")
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write lock metadata: %w", err)
	}
	return nil
}

// Release drops the lock and removes the lock file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Failed to release flock", "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("Failed to close lock file", "error", err)
	}
	l.file = nil
	return os.Remove(l.path)
}

func (l *FileLock) readLockFile() (*LockFile, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var lock LockFile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

func isStale(lock *LockFile) bool {
	process, err := os.FindProcess(lock.PID)
	if err != nil {
		return true
	}
	// FindProcess always succeeds on Unix; signal 0 checks liveness
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return true
	}
	return time.Since(lock.Timestamp) > staleAfter
}
