// Package scheduler is the Scheduler Service (C9): a standalone,
// single-instance process that fires recurring agent dispatches on a cron
// cadence. Single-instance is enforced at the deployment level and,
// defensively, by a per-schedule lock in the coordination store — two
// scheduler replicas racing the same tick still only ever fire once.
//
// Unlike the teacher's internal/orchestrator/scheduler, which drains an
// in-process priority queue, this scheduler's state of record is entirely
// C2: the evaluation loop re-reads due schedules from the database every
// tick rather than caching a schedule table in memory, so a schedule
// created or edited through the API starts firing on its very next tick
// without any separate reconciliation step. The periodic sync loop below
// is retained for the health heartbeat the teacher's processLoop pattern
// always logs, not because this design has in-memory state to reconcile.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/coordination"
	"github.com/kandev/orchestrator/internal/ledger"
	"github.com/kandev/orchestrator/internal/queue"
	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/store"
)

// ErrAlreadyRunning is returned by Start when the scheduler is already active.
var ErrAlreadyRunning = errors.New("scheduler: already running")

// ErrNotRunning is returned by Stop when the scheduler is not active.
var ErrNotRunning = errors.New("scheduler: not running")

// errScheduleBusy is returned internally by fire when another instance (or
// a prior tick's still-owned lock) holds a schedule's lock; it is not a
// failure, so the caller logs at debug and moves on.
var errScheduleBusy = errors.New("scheduler: schedule lock held elsewhere")

// Config tunes the evaluation cadence and the per-schedule lock.
type Config struct {
	EvalInterval    time.Duration // how often to poll C2 for due schedules
	SyncInterval    time.Duration // how often to log the health heartbeat
	LockTTL         time.Duration // per-schedule lock TTL
	DispatchTimeout time.Duration // bound on the /chat or /task call itself
}

// DefaultConfig matches spec.md §4.9's suggested cadences.
func DefaultConfig() Config {
	return Config{
		EvalInterval:    time.Second,
		SyncInterval:    60 * time.Second,
		LockTTL:         600 * time.Second,
		DispatchTimeout: 5 * time.Minute,
	}
}

// Scheduler drives the cron evaluation loop.
type Scheduler struct {
	store  *store.Store
	coord  *coordination.Client
	queue  *queue.Queue
	ledger *ledger.Ledger
	client rpcgateway.AgentClient
	logger *logger.Logger
	config Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a scheduler atop the state store, the coordination store's
// locks, the execution queue's sequential admission, the activity ledger,
// and an agent-facing dispatch client.
func New(st *store.Store, coord *coordination.Client, q *queue.Queue, l *ledger.Ledger, client rpcgateway.AgentClient, log *logger.Logger, cfg Config) *Scheduler {
	return &Scheduler{
		store:  st,
		coord:  coord,
		queue:  q,
		ledger: l,
		client: client,
		logger: log.WithFields(zap.String("component", "scheduler")),
		config: cfg,
	}
}

// Start launches the evaluation and sync loops in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		zap.Duration("eval_interval", s.config.EvalInterval),
		zap.Duration("sync_interval", s.config.SyncInterval))

	s.wg.Add(2)
	go s.evalLoop(runCtx)
	go s.syncLoop(runCtx)
	return nil
}

// Stop cancels both loops and waits for any in-flight fires to unwind.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) evalLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.EvalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// evaluate queries C2 for everything due and fires each candidate in its
// own goroutine so one slow dispatch never delays the next tick's poll.
func (s *Scheduler) evaluate(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("failed to load due schedules", zap.Error(err))
		return
	}
	for i := range due {
		sch := due[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if _, err := s.fire(ctx, &sch, store.TriggerSchedule, true); err != nil {
				if errors.Is(err, errScheduleBusy) {
					s.logger.Debug("schedule lock held elsewhere, skipping tick", zap.String("schedule_id", sch.ID))
					return
				}
				s.logger.Error("scheduled fire failed", zap.String("schedule_id", sch.ID), zap.Error(err))
			}
		}()
	}
}

// sync logs a health heartbeat. Because evaluate always reads schedules
// fresh from C2, there is no cached schedule table here to drift out of
// date; this exists for operational visibility, grounded on the teacher's
// processLoop logging its own queue depth every tick.
func (s *Scheduler) sync(ctx context.Context) {
	count, err := s.store.CountEnabledSchedules(ctx)
	if err != nil {
		s.logger.Warn("sync: failed to count enabled schedules", zap.Error(err))
		return
	}
	s.logger.Info("scheduler heartbeat", zap.Int("enabled_schedules", count))
}

// Trigger runs schedule id's dispatch path immediately, stamped
// triggered_by=manual, skipping the cron-advance write per spec.md §4.9.
func (s *Scheduler) Trigger(ctx context.Context, scheduleID string) (*store.Execution, error) {
	sch, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: trigger %q: %w", scheduleID, err)
	}
	exec, err := s.fire(ctx, sch, store.TriggerManual, false)
	if err != nil {
		if errors.Is(err, errScheduleBusy) {
			return nil, fmt.Errorf("scheduler: trigger %q: %w", scheduleID, errScheduleBusy)
		}
		return nil, err
	}
	return exec, nil
}

// nextRunAfter folds tz into the cron spec via the CRON_TZ= prefix
// robfig/cron recognizes, so a schedule declared against a timezone other
// than UTC advances against its own wall-clock fields rather than the
// server's local time.
func nextRunAfter(expr, tz string, from time.Time) (time.Time, error) {
	if tz == "" {
		tz = "UTC"
	}
	schedule, err := cron.ParseStandard("CRON_TZ=" + tz + " " + expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q for timezone %q: %w", expr, tz, err)
	}
	return schedule.Next(from), nil
}
