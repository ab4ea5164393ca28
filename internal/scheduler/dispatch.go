package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/coordination"
	"github.com/kandev/orchestrator/internal/identity"
	"github.com/kandev/orchestrator/internal/queue"
	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/store"
)

// fire runs one full dispatch cycle for sch: acquire the per-schedule
// lock, check the agent's autonomy switch, optionally advance the cron
// expression, insert the execution and schedule_start activity, dispatch,
// then seal the execution and close out the activities. Every step after
// lock acquisition that can fail still releases the lock on return.
func (s *Scheduler) fire(ctx context.Context, sch *store.Schedule, trigger store.TriggerKind, advanceCron bool) (*store.Execution, error) {
	lockName := "scheduler:lock:schedule:" + sch.ID
	lock, err := s.coord.AcquireLock(ctx, lockName, s.config.LockTTL)
	if err != nil {
		if errors.Is(err, coordination.ErrLockHeld) {
			return nil, errScheduleBusy
		}
		return nil, fmt.Errorf("acquire lock for %q: %w", sch.ID, err)
	}
	stopRenewal := s.renewLockPeriodically(ctx, lock, lockName)
	defer func() {
		stopRenewal()
		if relErr := s.coord.ReleaseLock(ctx, lock); relErr != nil && !errors.Is(relErr, coordination.ErrNotHolder) {
			s.logger.Warn("failed to release schedule lock", zap.String("schedule_id", sch.ID), zap.Error(relErr))
		}
	}()

	agent, err := s.store.GetAgent(ctx, sch.AgentName)
	if err != nil {
		return nil, fmt.Errorf("load agent %q: %w", sch.AgentName, err)
	}
	if !agent.AutonomyEnabled {
		s.logger.Debug("skipping fire, autonomy disabled",
			zap.String("schedule_id", sch.ID), zap.String("agent", sch.AgentName))
		return nil, nil
	}

	now := time.Now().UTC()
	if advanceCron {
		next, err := nextRunAfter(sch.CronExpr, sch.Timezone, now)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", sch.ID, err)
		}
		// Written before dispatch: a crash between this write and the
		// dispatch below skips the fire rather than risking a duplicate.
		if err := s.store.RecordFired(ctx, sch.ID, now, &next); err != nil {
			return nil, fmt.Errorf("record fired for %q: %w", sch.ID, err)
		}
	}

	dispatchMode := store.DispatchSequential
	if sch.Mode == "parallel" {
		dispatchMode = store.DispatchParallel
	}
	execID, err := s.ledger.StartExecution(ctx, &store.Execution{
		AgentName:    sch.AgentName,
		ScheduleID:   &sch.ID,
		InputMessage: sch.Message,
		TriggerKind:  trigger,
		DispatchMode: dispatchMode,
	})
	if err != nil {
		return nil, fmt.Errorf("start execution for %q: %w", sch.ID, err)
	}

	startActivity, actErr := s.ledger.RecordActivityStart(ctx, sch.AgentName, store.ActivityScheduleStart, trigger,
		store.ScheduleStartDetails{ScheduleID: sch.ID, CronExpr: sch.CronExpr}, nil, &execID)
	if actErr != nil {
		s.logger.Warn("failed to record schedule_start activity", zap.String("schedule_id", sch.ID), zap.Error(actErr))
	}

	status, transcript, cost, tokens, errMsg, reason := s.dispatch(ctx, sch, execID)

	endedAt := time.Now().UTC()
	if sealErr := s.ledger.SealExecution(ctx, execID, sch.AgentName, status, endedAt, cost, tokens, transcript, errMsg); sealErr != nil {
		s.logger.Warn("failed to seal execution", zap.Int64("execution_id", execID), zap.Error(sealErr))
	}

	terminalState := store.ActivityCompleted
	if status != store.ExecutionSucceeded {
		terminalState = store.ActivityFailed
	}
	if startActivity != nil {
		if err := s.ledger.CompleteActivity(ctx, startActivity.ID, sch.AgentName, terminalState); err != nil {
			s.logger.Warn("failed to complete schedule_start activity", zap.Error(err))
		}
	}
	if _, err := s.ledger.RecordTerminalActivity(ctx, sch.AgentName, store.ActivityScheduleEnd, trigger,
		store.ScheduleEndDetails{ScheduleID: sch.ID, Status: status, Reason: reason}, nil, &execID, terminalState); err != nil {
		s.logger.Warn("failed to record schedule_end activity", zap.Error(err))
	}

	exec, err := s.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, fmt.Errorf("reload execution %d: %w", execID, err)
	}
	return exec, nil
}

// dispatch sends the schedule's message to its agent via the sequential
// queue path or the direct parallel path, never retrying within the tick.
// execID is threaded into the parallel path's TaskRequest so the sandbox
// registers the dispatch under the same id TerminateExecution later targets.
func (s *Scheduler) dispatch(ctx context.Context, sch *store.Schedule, execID int64) (status store.ExecutionStatus, transcript []store.TranscriptEntry, cost float64, tokens int64, errMsg *string, reason string) {
	sourceAgent := "schedule:" + sch.ID

	if sch.Mode == "parallel" {
		req := rpcgateway.TaskRequest{Message: sch.Message, SourceAgent: sourceAgent, ID: rpcgateway.ExecutionTaskID(execID)}
		if err := s.client.Task(ctx, sch.AgentName, req); err != nil {
			msg := err.Error()
			return store.ExecutionFailed, nil, 0, 0, &msg, "task_dispatch_failed"
		}
		return store.ExecutionSucceeded, nil, 0, 0, nil, ""
	}

	admit, err := s.queue.Submit(ctx, sch.AgentName, identity.System(), s.config.DispatchTimeout)
	if err != nil {
		msg := err.Error()
		return store.ExecutionFailed, nil, 0, 0, &msg, "queue_submit_error"
	}
	if !admit.Admitted {
		return store.ExecutionFailed, nil, 0, 0, nil, "queue_busy"
	}

	chatResp, chatErr := s.client.Chat(ctx, sch.AgentName, rpcgateway.ChatRequest{
		Message:     sch.Message,
		SourceAgent: sourceAgent,
		VolatileID:  admit.VolatileID,
	}, s.config.DispatchTimeout)

	if completeErr := s.queue.Complete(ctx, sch.AgentName, admit.VolatileID); completeErr != nil && !errors.Is(completeErr, queue.ErrNotHolder) {
		s.logger.Warn("failed to release queue slot after scheduled dispatch",
			zap.String("agent", sch.AgentName), zap.Error(completeErr))
	}

	if chatErr != nil {
		msg := chatErr.Error()
		return store.ExecutionFailed, nil, 0, 0, &msg, "chat_dispatch_failed"
	}

	transcript = []store.TranscriptEntry{{Kind: store.TranscriptResult, Timestamp: time.Now().UTC(), Text: chatResp.Transcript}}
	return store.ExecutionSucceeded, transcript, chatResp.Cost, chatResp.TokensUsed, nil, ""
}

// renewLockPeriodically extends lock at half its TTL for as long as the
// dispatch is in flight, per spec.md §4.9's "renew on long-running
// dispatches" requirement. The returned func stops the renewal goroutine;
// callers must call it before releasing the lock.
func (s *Scheduler) renewLockPeriodically(ctx context.Context, lock *coordination.Lock, lockName string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.config.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := s.coord.RenewLock(ctx, lock, s.config.LockTTL); err != nil {
					s.logger.Warn("failed to renew schedule lock", zap.String("lock", lockName), zap.Error(err))
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
