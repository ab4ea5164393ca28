package rpcgateway

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/coordination"
	"github.com/kandev/orchestrator/internal/db"
	"github.com/kandev/orchestrator/internal/events/bus"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/ledger"
	"github.com/kandev/orchestrator/internal/queue"
	"github.com/kandev/orchestrator/internal/store"
)

type fakeAgentClient struct {
	chatResp *ChatResponse
	chatErr  error
	taskErr  error
	chatCalls int
	taskCalls int
}

func (f *fakeAgentClient) Chat(ctx context.Context, agentName string, req ChatRequest, timeout time.Duration) (*ChatResponse, error) {
	f.chatCalls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatResp, nil
}

func (f *fakeAgentClient) Task(ctx context.Context, agentName string, req TaskRequest) error {
	f.taskCalls++
	return f.taskErr
}

func (f *fakeAgentClient) Terminate(ctx context.Context, agentName string, volatileID string) error {
	return nil
}

func newTestGateway(t *testing.T, client AgentClient) (*Gateway, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	sdb := sqlx.NewDb(conn, "sqlite3")
	pool := db.NewPool(sdb, sdb)
	require.NoError(t, store.Bootstrap(context.Background(), pool))
	st := store.New(pool)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	coord, err := coordination.New(coordination.Config{Addr: mr.Addr(), KeyPrefix: "orch-test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	q := queue.New(coord)
	l := ledger.New(st, eventBus)

	return New(st, q, l, client, log), st
}

func seedAgents(t *testing.T, st *store.Store, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, st.CreateAgent(context.Background(), &store.Agent{
			Name: n, OwnerID: "owner1", Kind: store.RuntimeKindSandboxedLLM,
		}))
	}
}

func TestDispatchSystemCallerBypassesPermissionCheck(t *testing.T) {
	client := &fakeAgentClient{chatResp: &ChatResponse{Transcript: "ok"}}
	g, st := newTestGateway(t, client)
	seedAgents(t, st, "target")

	result, err := g.Dispatch(context.Background(), Request{
		Caller: identity.System(), TargetAgent: "target", Message: "hi", Mode: ModeSequential,
	})
	require.NoError(t, err)
	require.False(t, result.Busy)
	require.Equal(t, "ok", result.Transcript)
	require.Equal(t, 1, client.chatCalls)
}

func TestDispatchAgentSelfCallAlwaysAllowed(t *testing.T) {
	client := &fakeAgentClient{chatResp: &ChatResponse{Transcript: "self"}}
	g, st := newTestGateway(t, client)
	seedAgents(t, st, "alpha")

	_, err := g.Dispatch(context.Background(), Request{
		Caller: identity.Agent("alpha"), TargetAgent: "alpha", Message: "hi", Mode: ModeSequential,
	})
	require.NoError(t, err)
}

func TestDispatchAgentWithoutEdgeIsDenied(t *testing.T) {
	client := &fakeAgentClient{}
	g, st := newTestGateway(t, client)
	seedAgents(t, st, "alpha", "beta")

	_, err := g.Dispatch(context.Background(), Request{
		Caller: identity.Agent("alpha"), TargetAgent: "beta", Message: "hi", Mode: ModeSequential,
	})
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, 0, client.chatCalls)
}

func TestDispatchAgentWithEdgeIsAdmitted(t *testing.T) {
	client := &fakeAgentClient{chatResp: &ChatResponse{Transcript: "granted"}}
	g, st := newTestGateway(t, client)
	seedAgents(t, st, "alpha", "beta")
	require.NoError(t, st.GrantPermission(context.Background(), "alpha", "beta"))

	result, err := g.Dispatch(context.Background(), Request{
		Caller: identity.Agent("alpha"), TargetAgent: "beta", Message: "hi", Mode: ModeSequential,
	})
	require.NoError(t, err)
	require.Equal(t, "granted", result.Transcript)
}

func TestDispatchUserOwnerIsAdmitted(t *testing.T) {
	client := &fakeAgentClient{chatResp: &ChatResponse{Transcript: "owner"}}
	g, st := newTestGateway(t, client)
	require.NoError(t, st.CreateAgent(context.Background(), &store.Agent{Name: "mine", OwnerID: "u1", Kind: store.RuntimeKindSandboxedLLM}))

	_, err := g.Dispatch(context.Background(), Request{
		Caller: identity.User("u1", false), TargetAgent: "mine", Message: "hi", Mode: ModeSequential,
	})
	require.NoError(t, err)
}

func TestDispatchUserWithoutAccessIsDenied(t *testing.T) {
	client := &fakeAgentClient{}
	g, st := newTestGateway(t, client)
	require.NoError(t, st.CreateAgent(context.Background(), &store.Agent{Name: "theirs", OwnerID: "u2", Kind: store.RuntimeKindSandboxedLLM}))

	_, err := g.Dispatch(context.Background(), Request{
		Caller: identity.User("u1", false), TargetAgent: "theirs", Message: "hi", Mode: ModeSequential,
	})
	var denied *PermissionDeniedError
	require.ErrorAs(t, err, &denied)
}

func TestDispatchSequentialReturnsBusyOnContention(t *testing.T) {
	client := &fakeAgentClient{chatResp: &ChatResponse{Transcript: "ok"}}
	g, st := newTestGateway(t, client)
	seedAgents(t, st, "target")

	_, err := g.queue.Submit(context.Background(), "target", identity.System(), time.Minute)
	require.NoError(t, err)

	result, err := g.Dispatch(context.Background(), Request{
		Caller: identity.System(), TargetAgent: "target", Message: "hi", Mode: ModeSequential,
	})
	require.NoError(t, err)
	require.True(t, result.Busy)
	require.Equal(t, 0, client.chatCalls)
}

func TestDispatchSequentialReleasesSlotAndClosesActivityOnFailure(t *testing.T) {
	client := &fakeAgentClient{chatErr: errors.New("connection refused")}
	g, st := newTestGateway(t, client)
	seedAgents(t, st, "target")

	_, err := g.Dispatch(context.Background(), Request{
		Caller: identity.System(), TargetAgent: "target", Message: "hi", Mode: ModeSequential,
	})
	require.Error(t, err)

	busy, err := g.queue.IsBusy(context.Background(), "target")
	require.NoError(t, err)
	require.False(t, busy, "slot must be released even when the chat call fails")

	// The collaboration activity is recorded under the source agent, which
	// is "system" for a System caller.
	activities, err := st.RecentActivities(context.Background(), "system", nil, 10)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Equal(t, store.ActivityFailed, activities[0].State)
}

func TestDispatchParallelBypassesQueue(t *testing.T) {
	client := &fakeAgentClient{}
	g, st := newTestGateway(t, client)
	seedAgents(t, st, "target")

	_, err := g.Dispatch(context.Background(), Request{
		Caller: identity.System(), TargetAgent: "target", Message: "hi", Mode: ModeParallel,
	})
	require.NoError(t, err)
	require.Equal(t, 1, client.taskCalls)

	busy, err := g.queue.IsBusy(context.Background(), "target")
	require.NoError(t, err)
	require.False(t, busy)
}
