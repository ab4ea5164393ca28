package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/db/dialect"
)

// CreateExecution inserts a new queued execution and returns its assigned id.
// Execution ids increase within the executions table; they come from a
// separate sequence from activity ids, so the two are not comparable. The
// ledger writes the execution row before any activity that references it.
func (s *Store) CreateExecution(ctx context.Context, e *Execution) (int64, error) {
	e.CreatedAt = time.Now().UTC()
	if e.Status == "" {
		e.Status = ExecutionQueued
	}
	if e.DispatchMode == "" {
		e.DispatchMode = DispatchSequential
	}
	id, err := dialect.InsertReturningID(ctx, s.writer(), `
		INSERT INTO executions (
			agent_name, schedule_id, input_message, trigger_kind, dispatch_mode, source_agent,
			started_at, ended_at, duration_ms, status, cost, tokens_used,
			transcript, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AgentName, e.ScheduleID, e.InputMessage, e.TriggerKind, e.DispatchMode, e.SourceAgent,
		e.StartedAt, e.EndedAt, e.DurationMs, e.Status, e.Cost, e.TokensUsed,
		e.Transcript, e.ErrorMessage, e.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}
	e.ID = id
	return id, nil
}

// MarkExecutionStarted transitions a queued execution to running.
func (s *Store) MarkExecutionStarted(ctx context.Context, id int64, startedAt time.Time) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE executions SET status = ?, started_at = ? WHERE id = ? AND status = ?`),
		ExecutionRunning, startedAt, id, ExecutionQueued)
	if err != nil {
		return fmt.Errorf("mark execution started: %w", err)
	}
	return requireOneRowAffected(res, "execution", fmt.Sprintf("%d", id))
}

// SealExecution writes the final status, cost, token usage, and transcript of
// a finished execution. The transcript is appended-to in memory during the
// run and marshaled exactly once, here, at the terminal edge.
func (s *Store) SealExecution(ctx context.Context, id int64, status ExecutionStatus, endedAt time.Time, cost float64, tokensUsed int64, transcript []TranscriptEntry, errMsg *string) error {
	raw, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	var started time.Time
	if err := s.reader().GetContext(ctx, &started, s.reader().Rebind(
		`SELECT started_at FROM executions WHERE id = ?`), id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("seal execution: read started_at: %w", err)
	}
	durationMs := endedAt.Sub(started).Milliseconds()

	res, execErr := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE executions SET
			status = ?, ended_at = ?, duration_ms = ?, cost = ?, tokens_used = ?,
			transcript = ?, error_message = ?
		WHERE id = ?`),
		status, endedAt, durationMs, cost, tokensUsed, raw, errMsg, id)
	if execErr != nil {
		return fmt.Errorf("seal execution: %w", execErr)
	}
	return requireOneRowAffected(res, "execution", fmt.Sprintf("%d", id))
}

// GetExecution fetches one execution by id, its transcript included.
func (s *Store) GetExecution(ctx context.Context, id int64) (*Execution, error) {
	var e Execution
	err := s.reader().GetContext(ctx, &e, s.reader().Rebind(`SELECT * FROM executions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("execution", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", id, err)
	}
	return &e, nil
}

// ListExecutionsForAgent returns an agent's most recent executions, newest
// first, capped at limit.
func (s *Store) ListExecutionsForAgent(ctx context.Context, agentName string, limit int) ([]Execution, error) {
	var execs []Execution
	err := s.reader().SelectContext(ctx, &execs, s.reader().Rebind(`
		SELECT * FROM executions WHERE agent_name = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		agentName, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for %q: %w", agentName, err)
	}
	return execs, nil
}

// RunningExecutionsForAgent returns an agent's in-flight executions, used by
// the lifecycle manager before a stop/recreate to decide whether to wait or
// force-cancel.
func (s *Store) RunningExecutionsForAgent(ctx context.Context, agentName string) ([]Execution, error) {
	var execs []Execution
	err := s.reader().SelectContext(ctx, &execs, s.reader().Rebind(`
		SELECT * FROM executions WHERE agent_name = ? AND status IN (?, ?)`),
		agentName, ExecutionQueued, ExecutionRunning)
	if err != nil {
		return nil, fmt.Errorf("running executions for %q: %w", agentName, err)
	}
	return execs, nil
}
