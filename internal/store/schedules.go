package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
)

// CreateSchedule inserts a new recurring dispatch. NextRunAt is computed by
// the scheduler (C9) from CronExpr before this is called.
func (s *Store) CreateSchedule(ctx context.Context, sch *Schedule) error {
	now := time.Now().UTC()
	sch.CreatedAt, sch.UpdatedAt = now, now
	_, err := s.writer().NamedExecContext(ctx, `
		INSERT INTO schedules (
			id, agent_name, cron_expr, timezone, message, mode, enabled,
			last_run_at, next_run_at, created_at, updated_at
		) VALUES (
			:id, :agent_name, :cron_expr, :timezone, :message, :mode, :enabled,
			:last_run_at, :next_run_at, :created_at, :updated_at
		)`, sch)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetSchedule fetches one schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var sch Schedule
	err := s.reader().GetContext(ctx, &sch, s.reader().Rebind(`SELECT * FROM schedules WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("schedule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %q: %w", id, err)
	}
	return &sch, nil
}

// ListSchedulesForAgent returns every schedule targeting an agent.
func (s *Store) ListSchedulesForAgent(ctx context.Context, agentName string) ([]Schedule, error) {
	var scheds []Schedule
	err := s.reader().SelectContext(ctx, &scheds, s.reader().Rebind(`
		SELECT * FROM schedules WHERE agent_name = ? ORDER BY created_at`), agentName)
	if err != nil {
		return nil, fmt.Errorf("list schedules for %q: %w", agentName, err)
	}
	return scheds, nil
}

// DueSchedules returns every enabled schedule whose next_run_at has passed,
// the evaluation loop's single query per tick.
func (s *Store) DueSchedules(ctx context.Context, asOf time.Time) ([]Schedule, error) {
	var scheds []Schedule
	err := s.reader().SelectContext(ctx, &scheds, s.reader().Rebind(`
		SELECT * FROM schedules WHERE enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`), true, asOf)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	return scheds, nil
}

// CountEnabledSchedules reports how many schedules are currently enabled,
// used by the scheduler's periodic sync to log a health heartbeat.
func (s *Store) CountEnabledSchedules(ctx context.Context) (int, error) {
	var count int
	err := s.reader().GetContext(ctx, &count, s.reader().Rebind(
		`SELECT COUNT(*) FROM schedules WHERE enabled = ?`), true)
	if err != nil {
		return 0, fmt.Errorf("count enabled schedules: %w", err)
	}
	return count, nil
}

// SetScheduleEnabled toggles a schedule on or off.
func (s *Store) SetScheduleEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?`), enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set schedule enabled: %w", err)
	}
	return requireOneRowAffected(res, "schedule", id)
}

// RecordFired updates last_run_at and advances next_run_at after a dispatch
// (or a skip), always in the same statement so a crash between the two
// never leaves a schedule stuck re-firing the same tick.
func (s *Store) RecordFired(ctx context.Context, id string, firedAt time.Time, nextRunAt *time.Time) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`),
		firedAt, nextRunAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record schedule fired: %w", err)
	}
	return requireOneRowAffected(res, "schedule", id)
}

// DeleteSchedule removes a schedule outright.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`DELETE FROM schedules WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return requireOneRowAffected(res, "schedule", id)
}
