package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := New(Config{Addr: mr.Addr(), KeyPrefix: "orch-test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestAcquireAndReleaseLock(t *testing.T) {
	_, c := setupTestClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "agent:alpha", 30*time.Second)
	require.NoError(t, err)

	_, err = c.AcquireLock(ctx, "agent:alpha", 30*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, c.ReleaseLock(ctx, lock))

	second, err := c.AcquireLock(ctx, "agent:alpha", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, c.ReleaseLock(ctx, second))
}

func TestReleaseLockRejectsStaleToken(t *testing.T) {
	_, c := setupTestClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "agent:beta", 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseLock(ctx, lock))
	newLock, err := c.AcquireLock(ctx, "agent:beta", 30*time.Second)
	require.NoError(t, err)

	// lock's token no longer matches the new holder, so releasing the stale
	// handle must not tear down the new holder's lock.
	err = c.ReleaseLock(ctx, lock)
	assert.ErrorIs(t, err, ErrNotHolder)

	holder, held, err := c.LockHolder(ctx, "agent:beta")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, newLock.Token, holder)
}

func TestScanKeysFindsLocks(t *testing.T) {
	_, c := setupTestClient(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "agent:one", time.Minute)
	require.NoError(t, err)
	_, err = c.AcquireLock(ctx, "agent:two", time.Minute)
	require.NoError(t, err)

	keys, err := c.ScanKeys(ctx, "lock:agent:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestCredentialBlobRoundTrip(t *testing.T) {
	_, c := setupTestClient(t)
	ctx := context.Background()

	_, err := c.GetCredential(ctx, "alpha")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, c.PutCredential(ctx, "alpha", []byte("opaque-secret")))
	blob, err := c.GetCredential(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque-secret"), blob)

	require.NoError(t, c.DeleteCredential(ctx, "alpha"))
	_, err = c.GetCredential(ctx, "alpha")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}
