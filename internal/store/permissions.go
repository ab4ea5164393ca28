package store

import (
	"context"
	"fmt"
	"time"
)

// GrantPermission records a directed edge: source may call target.
func (s *Store) GrantPermission(ctx context.Context, source, target string) error {
	now := time.Now().UTC()
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO permission_edges (source_agent, target_agent, created_at) VALUES (?, ?, ?)`),
		source, target, now)
	if err != nil {
		return fmt.Errorf("grant permission %s -> %s: %w", source, target, err)
	}
	return nil
}

// RevokePermission removes a directed edge, if present.
func (s *Store) RevokePermission(ctx context.Context, source, target string) error {
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		DELETE FROM permission_edges WHERE source_agent = ? AND target_agent = ?`), source, target)
	if err != nil {
		return fmt.Errorf("revoke permission %s -> %s: %w", source, target, err)
	}
	return nil
}

// HasPermission reports whether source may call target. An agent always has
// an implicit, non-materialized self-edge.
func (s *Store) HasPermission(ctx context.Context, source, target string) (bool, error) {
	if source == target {
		return true, nil
	}
	var n int
	err := s.reader().GetContext(ctx, &n, s.reader().Rebind(`
		SELECT COUNT(*) FROM permission_edges WHERE source_agent = ? AND target_agent = ?`), source, target)
	if err != nil {
		return false, fmt.Errorf("check permission %s -> %s: %w", source, target, err)
	}
	return n > 0, nil
}

// PermittedTargets lists every agent source may call, per the RPC gateway's
// admission check.
func (s *Store) PermittedTargets(ctx context.Context, source string) ([]string, error) {
	var targets []string
	err := s.reader().SelectContext(ctx, &targets, s.reader().Rebind(`
		SELECT target_agent FROM permission_edges WHERE source_agent = ? ORDER BY target_agent`), source)
	if err != nil {
		return nil, fmt.Errorf("permitted targets for %q: %w", source, err)
	}
	return targets, nil
}

// GrantShare gives a user access to an agent they do not own.
func (s *Store) GrantShare(ctx context.Context, agentName, userID string) error {
	now := time.Now().UTC()
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO share_grants (agent_name, user_id, created_at) VALUES (?, ?, ?)`),
		agentName, userID, now)
	if err != nil {
		return fmt.Errorf("grant share of %s to %s: %w", agentName, userID, err)
	}
	return nil
}

// RevokeShare removes a user's shared access to an agent.
func (s *Store) RevokeShare(ctx context.Context, agentName, userID string) error {
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		DELETE FROM share_grants WHERE agent_name = ? AND user_id = ?`), agentName, userID)
	if err != nil {
		return fmt.Errorf("revoke share of %s from %s: %w", agentName, userID, err)
	}
	return nil
}

// SharedUsers lists every user an agent has been explicitly shared with.
func (s *Store) SharedUsers(ctx context.Context, agentName string) ([]string, error) {
	var users []string
	err := s.reader().SelectContext(ctx, &users, s.reader().Rebind(`
		SELECT user_id FROM share_grants WHERE agent_name = ? ORDER BY user_id`), agentName)
	if err != nil {
		return nil, fmt.Errorf("shared users for %q: %w", agentName, err)
	}
	return users, nil
}

// CanAccess reports whether a user may view an agent: ownership, an explicit
// share grant, or admin status.
func (s *Store) CanAccess(ctx context.Context, agentName, userID string, isAdmin bool) (bool, error) {
	if isAdmin {
		return true, nil
	}
	var n int
	q := s.reader()
	row := q.Rebind(`
		SELECT COUNT(*) FROM agents a
		LEFT JOIN share_grants sg ON sg.agent_name = a.name
		WHERE a.name = ? AND a.deleted_at IS NULL AND (a.owner_id = ? OR sg.user_id = ?)`)
	if err := q.GetContext(ctx, &n, row, agentName, userID, userID); err != nil {
		return false, fmt.Errorf("can access %s for %s: %w", agentName, userID, err)
	}
	return n > 0, nil
}
