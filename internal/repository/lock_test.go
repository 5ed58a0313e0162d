package repository

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".lock")
	lock := NewFileLock(lockPath, "test")

	require.NoError(t, lock.Acquire())

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var meta LockFile
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, os.Getpid(), meta.PID)
	assert.Equal(t, "test", meta.Owner)

	require.NoError(t, lock.Release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, lock.Release(), "second release is a no-op")
}

func TestFileLock_MultipleAcquire(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".lock")
	lock1 := NewFileLock(lockPath, "writer-1")
	lock2 := NewFileLock(lockPath, "writer-2")

	require.NoError(t, lock1.Acquire())
	defer func() { _ = lock1.Release() }()

	err := lock2.Acquire()
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	require.NotNil(t, lockErr.Holder)
	assert.Equal(t, "writer-1", lockErr.Holder.Owner)
	assert.Contains(t, err.Error(), "locked by writer-1")
}

func TestFileLock_LeftoverFileFromDeadWriter(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".lock")

	// a lock file left behind without a held flock
	data, _ := json.Marshal(LockFile{PID: 1 << 22, Owner: "ghost", Timestamp: time.Now().Add(-time.Hour)})
	require.NoError(t, os.WriteFile(lockPath, data, 0644))

	lock := NewFileLock(lockPath, "test")
	require.NoError(t, lock.Acquire())
	defer func() { _ = lock.Release() }()
}

func TestIsStale(t *testing.T) {
	assert.False(t, isStale(&LockFile{PID: os.Getpid(), Timestamp: time.Now()}))
	assert.True(t, isStale(&LockFile{PID: os.Getpid(), Timestamp: time.Now().Add(-2 * staleAfter)}))
}
