package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/db"
	"github.com/kandev/orchestrator/internal/events"
	"github.com/kandev/orchestrator/internal/events/bus"
	"github.com/kandev/orchestrator/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Store, *bus.MemoryEventBus) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	sdb := sqlx.NewDb(conn, "sqlite3")
	pool := db.NewPool(sdb, sdb)
	if err := store.Bootstrap(context.Background(), pool); err != nil {
		t.Fatalf("bootstrap schema: %v", err)
	}
	st := store.New(pool)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)

	return New(st, eventBus), st, eventBus
}

func TestExecutionBeforeActivityOrdering(t *testing.T) {
	l, st, eventBus := newTestLedger(t)
	ctx := context.Background()

	if err := st.CreateAgent(ctx, &store.Agent{Name: "alpha", OwnerID: "u1", Kind: store.RuntimeKindSandboxedLLM}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	received := make(chan *bus.Event, 4)
	sub, err := eventBus.Subscribe(events.BuildAgentWildcardSubject(events.ExecutionStarted), func(ctx context.Context, e *bus.Event) error {
		received <- e
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	execID, err := l.StartExecution(ctx, &store.Execution{AgentName: "alpha", InputMessage: "go", TriggerKind: store.TriggerSchedule})
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}

	details := store.ScheduleStartDetails{ScheduleID: "sched-1", CronExpr: "*/5 * * * *"}
	activity, err := l.RecordActivityStart(ctx, "alpha", store.ActivityScheduleStart, store.TriggerSchedule, details, nil, &execID)
	if err != nil {
		t.Fatalf("record activity start: %v", err)
	}
	exec, err := st.GetExecution(ctx, execID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if activity.CreatedAt.Before(exec.CreatedAt) {
		t.Fatalf("expected activity created at %v not to precede execution created at %v", activity.CreatedAt, exec.CreatedAt)
	}

	select {
	case evt := <-received:
		if evt.Type != events.ExecutionStarted {
			t.Fatalf("expected execution.started event, got %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for execution.started broadcast")
	}

	if err := l.SealExecution(ctx, execID, "alpha", store.ExecutionSucceeded, time.Now().UTC(), 0, 0, nil, nil); err != nil {
		t.Fatalf("seal execution: %v", err)
	}
	if err := l.CompleteActivity(ctx, activity.ID, "alpha", store.ActivityCompleted); err != nil {
		t.Fatalf("complete activity: %v", err)
	}

	linked, err := st.ActivitiesForExecution(ctx, execID)
	if err != nil {
		t.Fatalf("activities for execution: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != activity.ID {
		t.Fatalf("expected the scheduled activity to be linked to its execution")
	}
}
