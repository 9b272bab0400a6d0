package lock

import (
	"context"
	"testing"
	"time"

	"arbor/internal/errors"
	"arbor/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLock(tr transport.Transport) *LockDir {
	return NewLockDir(tr, "lock", WithTimeout(30*time.Millisecond), WithPoll(5*time.Millisecond))
}

func TestLockDirContention(t *testing.T) {
	tr := transport.NewMemory()
	first := newTestLock(tr)
	second := newTestLock(tr)

	token, err := first.Acquire(context.Background())
	require.NoError(t, err)

	_, err = second.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLockContention))
	assert.Contains(t, err.Error(), "pid")

	assert.True(t, errors.IsType(second.Release("bogus"), errors.ErrorTypeLock))
	require.NoError(t, first.Release(token))

	_, err = second.Acquire(context.Background())
	require.NoError(t, err)
}

func TestLockDirBreakLock(t *testing.T) {
	tr := transport.NewMemory()
	l := newTestLock(tr)
	_, err := l.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, newTestLock(tr).BreakLock())
	info, err := l.Peek()
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestLockDirCancelled(t *testing.T) {
	tr := transport.NewMemory()
	_, err := newTestLock(tr).Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := NewLockDir(tr, "lock", WithTimeout(time.Minute), WithPoll(time.Minute))
	_, err = slow.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCountedReentrantWrite(t *testing.T) {
	tr := transport.NewMemory()
	c := NewCounted(newTestLock(tr))

	_, err := c.LockWrite(context.Background())
	require.NoError(t, err)
	_, err = c.LockWrite(context.Background())
	require.NoError(t, err)
	assert.Equal(t, WriteLocked, c.Mode())

	require.NoError(t, c.Unlock())
	assert.True(t, c.IsWriteLocked())
	held, _ := tr.Has("lock")
	assert.True(t, held)

	require.NoError(t, c.Unlock())
	assert.False(t, c.IsLocked())
	held, _ = tr.Has("lock")
	assert.False(t, held)

	assert.True(t, errors.IsType(c.Unlock(), errors.ErrorTypeLock))
}

func TestCountedReadCannotUpgrade(t *testing.T) {
	c := NewCounted(newTestLock(transport.NewMemory()))
	require.NoError(t, c.LockRead())
	_, err := c.LockWrite(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeLock))
	require.NoError(t, c.Unlock())
	assert.Equal(t, Unlocked, c.Mode())
}
