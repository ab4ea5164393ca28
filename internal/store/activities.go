package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/db/dialect"
)

// InsertActivity appends a new activity row. Callers that reference an
// execution or a parent activity must have already committed that row (the
// ledger enforces this ordering by always creating the execution row before
// recording any activity tied to it), so ParentActivityID always points at
// a strictly lower activity id. RelatedExecutionID comes from the separate
// executions sequence and is not comparable with activity ids.
func (s *Store) InsertActivity(ctx context.Context, a *Activity) (int64, error) {
	a.CreatedAt = time.Now().UTC()
	if a.State == "" {
		a.State = ActivityStarted
	}
	id, err := dialect.InsertReturningID(ctx, s.writer(), `
		INSERT INTO activities (
			agent_name, type, state, started_at, completed_at, duration_ms,
			parent_activity_id, related_execution_id, chat_message_id,
			triggered_by_kind, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgentName, a.Type, a.State, a.StartedAt, a.CompletedAt, a.DurationMs,
		a.ParentActivityID, a.RelatedExecutionID, a.ChatMessageID,
		a.TriggeredByKind, a.Details, a.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	a.ID = id
	return id, nil
}

// CompleteActivity transitions an activity from started to a terminal state.
func (s *Store) CompleteActivity(ctx context.Context, id int64, state ActivityState, completedAt time.Time) error {
	var startedAt time.Time
	if err := s.reader().GetContext(ctx, &startedAt, s.reader().Rebind(
		`SELECT started_at FROM activities WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("activity", fmt.Sprintf("%d", id))
		}
		return fmt.Errorf("complete activity: read started_at: %w", err)
	}
	durationMs := completedAt.Sub(startedAt).Milliseconds()

	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE activities SET state = ?, completed_at = ?, duration_ms = ? WHERE id = ?`),
		state, completedAt, durationMs, id)
	if err != nil {
		return fmt.Errorf("complete activity: %w", err)
	}
	return requireOneRowAffected(res, "activity", fmt.Sprintf("%d", id))
}

// GetActivity fetches a single activity by id.
func (s *Store) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	var a Activity
	err := s.reader().GetContext(ctx, &a, s.reader().Rebind(`SELECT * FROM activities WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("activity", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get activity %d: %w", id, err)
	}
	return &a, nil
}

// RecentActivities returns an agent's most recent activities, newest first,
// optionally filtered to a single type, capped at limit. This backs the
// activity feed endpoint.
func (s *Store) RecentActivities(ctx context.Context, agentName string, activityType *ActivityType, limit int) ([]Activity, error) {
	var activities []Activity
	var err error
	if activityType != nil {
		err = s.reader().SelectContext(ctx, &activities, s.reader().Rebind(`
			SELECT * FROM activities WHERE agent_name = ? AND type = ?
			ORDER BY created_at DESC, id DESC LIMIT ?`), agentName, *activityType, limit)
	} else {
		err = s.reader().SelectContext(ctx, &activities, s.reader().Rebind(`
			SELECT * FROM activities WHERE agent_name = ?
			ORDER BY created_at DESC, id DESC LIMIT ?`), agentName, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("recent activities for %q: %w", agentName, err)
	}
	return activities, nil
}

// ChildActivities returns every activity whose parent is the given id, used
// to render a collaboration's nested sub-activities.
func (s *Store) ChildActivities(ctx context.Context, parentID int64) ([]Activity, error) {
	var activities []Activity
	err := s.reader().SelectContext(ctx, &activities, s.reader().Rebind(`
		SELECT * FROM activities WHERE parent_activity_id = ? ORDER BY created_at`), parentID)
	if err != nil {
		return nil, fmt.Errorf("child activities of %d: %w", parentID, err)
	}
	return activities, nil
}

// ActivitiesForExecution returns every activity tied to an execution.
func (s *Store) ActivitiesForExecution(ctx context.Context, executionID int64) ([]Activity, error) {
	var activities []Activity
	err := s.reader().SelectContext(ctx, &activities, s.reader().Rebind(`
		SELECT * FROM activities WHERE related_execution_id = ? ORDER BY created_at`), executionID)
	if err != nil {
		return nil, fmt.Errorf("activities for execution %d: %w", executionID, err)
	}
	return activities, nil
}
