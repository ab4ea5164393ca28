package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/coordination"
	"github.com/kandev/orchestrator/internal/identity"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	coord, err := coordination.New(coordination.Config{Addr: mr.Addr(), KeyPrefix: "orch-test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	return New(coord)
}

func TestSubmitAdmitsFirstCallerAndRejectsSecond(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	caller := identity.User("u1", false)

	first, err := q.Submit(ctx, "alpha", caller, time.Minute)
	require.NoError(t, err)
	assert.True(t, first.Admitted)
	assert.NotEmpty(t, first.VolatileID)

	second, err := q.Submit(ctx, "alpha", identity.User("u2", false), time.Minute)
	require.NoError(t, err)
	assert.False(t, second.Admitted)
	assert.Equal(t, caller.String(), second.Holder)
}

func TestCompleteReleasesOnlyForCurrentHolder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Submit(ctx, "alpha", identity.User("u1", false), time.Minute)
	require.NoError(t, err)

	err = q.Complete(ctx, "alpha", "not-the-real-id")
	assert.ErrorIs(t, err, ErrNotHolder)

	require.NoError(t, q.Complete(ctx, "alpha", first.VolatileID))

	second, err := q.Submit(ctx, "alpha", identity.User("u2", false), time.Minute)
	require.NoError(t, err)
	assert.True(t, second.Admitted)
}

func TestCompleteAfterTakeoverIsNoOp(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Submit(ctx, "alpha", identity.User("u1", false), time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, "alpha", first.VolatileID))

	second, err := q.Submit(ctx, "alpha", identity.User("u2", false), time.Minute)
	require.NoError(t, err)

	// The original holder's stale completion must not evict the new holder.
	err = q.Complete(ctx, "alpha", first.VolatileID)
	assert.ErrorIs(t, err, ErrNotHolder)

	busy, err := q.IsBusy(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, busy)
	assert.NotEmpty(t, second.VolatileID)
}

func TestBusyAgents(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Submit(ctx, "alpha", identity.User("u1", false), time.Minute)
	require.NoError(t, err)
	_, err = q.Submit(ctx, "beta", identity.Agent("gamma"), time.Minute)
	require.NoError(t, err)

	agents, err := q.BusyAgents(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, agents)
}
