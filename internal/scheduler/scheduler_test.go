package scheduler

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
	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/store"
)

type fakeClient struct {
	chatResp  *rpcgateway.ChatResponse
	chatErr   error
	taskErr   error
	chatCalls int
	taskCalls int
	lastTask  rpcgateway.TaskRequest
}

func (f *fakeClient) Chat(ctx context.Context, agentName string, req rpcgateway.ChatRequest, timeout time.Duration) (*rpcgateway.ChatResponse, error) {
	f.chatCalls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return f.chatResp, nil
}

func (f *fakeClient) Task(ctx context.Context, agentName string, req rpcgateway.TaskRequest) error {
	f.taskCalls++
	f.lastTask = req
	return f.taskErr
}

func (f *fakeClient) Terminate(ctx context.Context, agentName string, volatileID string) error {
	return nil
}

func newTestScheduler(t *testing.T, client rpcgateway.AgentClient, cfg Config) (*Scheduler, *store.Store) {
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
	coord, err := coordination.New(coordination.Config{Addr: mr.Addr(), KeyPrefix: "sched-test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	q := queue.New(coord)
	l := ledger.New(st, eventBus)

	return New(st, coord, q, l, client, log, cfg), st
}

func seedAgentAndSchedule(t *testing.T, st *store.Store, mode string, autonomy bool) *store.Schedule {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, &store.Agent{
		Name: "worker", OwnerID: "owner1", Kind: store.RuntimeKindSandboxedLLM, AutonomyEnabled: autonomy,
	}))
	sch := &store.Schedule{
		ID: "sched-1", AgentName: "worker", CronExpr: "* * * * *", Timezone: "UTC",
		Message: "do the thing", Mode: mode, Enabled: true,
	}
	require.NoError(t, st.CreateSchedule(ctx, sch))
	return sch
}

func TestFireSequentialSuccessSealsExecutionAndActivities(t *testing.T) {
	client := &fakeClient{chatResp: &rpcgateway.ChatResponse{Transcript: "done", Cost: 0.5, TokensUsed: 42}}
	s, st := newTestScheduler(t, client, DefaultConfig())
	sch := seedAgentAndSchedule(t, st, "sequential", true)

	exec, err := s.fire(context.Background(), sch, store.TriggerSchedule, true)
	require.NoError(t, err)
	require.NotNil(t, exec)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)
	require.Equal(t, store.DispatchSequential, exec.DispatchMode)
	require.Equal(t, 0.5, exec.Cost)
	require.Equal(t, int64(42), exec.TokensUsed)
	require.Equal(t, 1, client.chatCalls)

	activities, err := st.RecentActivities(context.Background(), "worker", nil, 10)
	require.NoError(t, err)
	require.Len(t, activities, 2)

	busy, err := s.queue.IsBusy(context.Background(), "worker")
	require.NoError(t, err)
	require.False(t, busy)

	reloaded, err := st.GetSchedule(context.Background(), sch.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.NextRunAt)
	require.NotNil(t, reloaded.LastRunAt)
}

func TestFireSkipsWhenAutonomyDisabled(t *testing.T) {
	client := &fakeClient{chatResp: &rpcgateway.ChatResponse{Transcript: "done"}}
	s, st := newTestScheduler(t, client, DefaultConfig())
	sch := seedAgentAndSchedule(t, st, "sequential", false)

	exec, err := s.fire(context.Background(), sch, store.TriggerSchedule, true)
	require.NoError(t, err)
	require.Nil(t, exec)
	require.Equal(t, 0, client.chatCalls)
}

func TestFireBusyQueueMarksExecutionFailedWithQueueBusyReason(t *testing.T) {
	client := &fakeClient{chatResp: &rpcgateway.ChatResponse{Transcript: "done"}}
	s, st := newTestScheduler(t, client, DefaultConfig())
	sch := seedAgentAndSchedule(t, st, "sequential", true)

	_, err := s.queue.Submit(context.Background(), "worker", identity.System(), time.Minute)
	require.NoError(t, err)

	exec, err := s.fire(context.Background(), sch, store.TriggerSchedule, true)
	require.NoError(t, err)
	require.Equal(t, store.ExecutionFailed, exec.Status)
	require.Equal(t, 0, client.chatCalls)

	endType := store.ActivityScheduleEnd
	ends, err := st.RecentActivities(context.Background(), "worker", &endType, 1)
	require.NoError(t, err)
	require.Len(t, ends, 1)
	decoded, err := store.UnmarshalDetails(ends[0].Details)
	require.NoError(t, err)
	endDetails, ok := decoded.(*store.ScheduleEndDetails)
	require.True(t, ok)
	require.Equal(t, "queue_busy", endDetails.Reason)
}

func TestFireManualTriggerSkipsCronAdvance(t *testing.T) {
	client := &fakeClient{chatResp: &rpcgateway.ChatResponse{Transcript: "done"}}
	s, st := newTestScheduler(t, client, DefaultConfig())
	sch := seedAgentAndSchedule(t, st, "sequential", true)
	require.Nil(t, sch.NextRunAt)

	exec, err := s.Trigger(context.Background(), sch.ID)
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)
	require.Equal(t, store.TriggerManual, exec.TriggerKind)

	reloaded, err := st.GetSchedule(context.Background(), sch.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.NextRunAt, "manual trigger must not advance the cron schedule")
}

func TestFireParallelDispatchesTaskDirectlyBypassingQueue(t *testing.T) {
	client := &fakeClient{}
	s, st := newTestScheduler(t, client, DefaultConfig())
	sch := seedAgentAndSchedule(t, st, "parallel", true)

	exec, err := s.fire(context.Background(), sch, store.TriggerSchedule, true)
	require.NoError(t, err)
	require.Equal(t, store.ExecutionSucceeded, exec.Status)
	require.Equal(t, store.DispatchParallel, exec.DispatchMode)
	require.Equal(t, 1, client.taskCalls)
	require.Equal(t, 0, client.chatCalls)
	require.Equal(t, rpcgateway.ExecutionTaskID(exec.ID), client.lastTask.ID,
		"parallel dispatch must register under the execution's own durable id so terminate can target it without the queue")
}

func TestFireConcurrentCallsRespectScheduleLock(t *testing.T) {
	client := &fakeClient{chatResp: &rpcgateway.ChatResponse{Transcript: "done"}}
	s, st := newTestScheduler(t, client, DefaultConfig())
	sch := seedAgentAndSchedule(t, st, "sequential", true)

	lock, err := s.coord.AcquireLock(context.Background(), "scheduler:lock:schedule:"+sch.ID, time.Minute)
	require.NoError(t, err)
	defer s.coord.ReleaseLock(context.Background(), lock)

	_, err = s.fire(context.Background(), sch, store.TriggerSchedule, true)
	require.True(t, errors.Is(err, errScheduleBusy))
}

func TestNextRunAfterParsesStandardCronExpression(t *testing.T) {
	from := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, err := nextRunAfter("0 * * * *", "UTC", from)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), next)
}

func TestNextRunAfterHonorsNonUTCTimezone(t *testing.T) {
	// 0 9 * * * in America/New_York is 14:00 UTC outside DST.
	from := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, err := nextRunAfter("0 9 * * *", "America/New_York", from)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC), next.UTC())
}
