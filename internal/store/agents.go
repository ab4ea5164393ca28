package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
)

// CreateAgent inserts a new agent row and its default permission edges (none
// beyond the implicit self-edge, which is never materialized as a row) in a
// single transaction.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if a.Status == "" {
		a.Status = AgentStatusCreated
	}

	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO agents (
				name, owner_id, template_ref, status, kind, cpu, memory_mb,
				capability_profile, model_override, api_key_mode,
				read_only_tooling, autonomy_enabled, shared_folder_mode,
				tags, mount_set_digest, created_at, updated_at
			) VALUES (
				:name, :owner_id, :template_ref, :status, :kind, :cpu, :memory_mb,
				:capability_profile, :model_override, :api_key_mode,
				:read_only_tooling, :autonomy_enabled, :shared_folder_mode,
				:tags, :mount_set_digest, :created_at, :updated_at
			)`, a)
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
}

// GetAgent fetches a single agent by name, excluding soft-deleted rows.
func (s *Store) GetAgent(ctx context.Context, name string) (*Agent, error) {
	var a Agent
	err := s.reader().GetContext(ctx, &a, s.reader().Rebind(`
		SELECT * FROM agents WHERE name = ? AND deleted_at IS NULL`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %q: %w", name, err)
	}
	return &a, nil
}

// UpdateAgentStatus transitions an agent's lifecycle status.
func (s *Store) UpdateAgentStatus(ctx context.Context, name string, status AgentStatus) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE agents SET status = ?, updated_at = ? WHERE name = ? AND deleted_at IS NULL`),
		status, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return requireOneRowAffected(res, "agent", name)
}

// UpdateAgentConfig persists the declared configuration fields reconcile
// compares against observed container state.
func (s *Store) UpdateAgentConfig(ctx context.Context, a *Agent) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.writer().NamedExecContext(ctx, `
		UPDATE agents SET
			cpu = :cpu, memory_mb = :memory_mb, capability_profile = :capability_profile,
			model_override = :model_override, api_key_mode = :api_key_mode,
			read_only_tooling = :read_only_tooling, autonomy_enabled = :autonomy_enabled,
			shared_folder_mode = :shared_folder_mode, tags = :tags,
			mount_set_digest = :mount_set_digest, updated_at = :updated_at
		WHERE name = :name AND deleted_at IS NULL`, a)
	if err != nil {
		return fmt.Errorf("update agent config: %w", err)
	}
	return requireOneRowAffected(res, "agent", a.Name)
}

// DeleteAgent cascades per the lifecycle manager's delete ordering: schedules,
// permission edges (both directions), share grants, then the agent row
// itself. Activities and executions are retained unless purge is requested
// (compliance mode is a caller-side policy decision, not enforced here).
func (s *Store) DeleteAgent(ctx context.Context, name string, purgeHistory bool) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM schedules WHERE agent_name = ?`), name); err != nil {
			return fmt.Errorf("delete schedules: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			DELETE FROM permission_edges WHERE source_agent = ? OR target_agent = ?`), name, name); err != nil {
			return fmt.Errorf("delete permission edges: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM share_grants WHERE agent_name = ?`), name); err != nil {
			return fmt.Errorf("delete share grants: %w", err)
		}
		if purgeHistory {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM activities WHERE agent_name = ?`), name); err != nil {
				return fmt.Errorf("purge activities: %w", err)
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM executions WHERE agent_name = ?`), name); err != nil {
				return fmt.Errorf("purge executions: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM agents WHERE name = ?`), name)
		if err != nil {
			return fmt.Errorf("delete agent: %w", err)
		}
		return requireOneRowAffected(res, "agent", name)
	})
}

// ListAllAgents returns every non-deleted agent, used by reconciliation to
// diff state-store rows against observed containers.
func (s *Store) ListAllAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := s.reader().SelectContext(ctx, &agents, `
		SELECT * FROM agents WHERE deleted_at IS NULL ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list all agents: %w", err)
	}
	return agents, nil
}

// AccessibleAgents returns the agents a user may see: those they own, those
// explicitly shared with them, or (for admins) every agent. This is the
// "one join, not one query per agent" query the state store's design calls
// for.
func (s *Store) AccessibleAgents(ctx context.Context, userID string, isAdmin bool) ([]Agent, error) {
	var agents []Agent
	var err error
	if isAdmin {
		err = s.reader().SelectContext(ctx, &agents, `
			SELECT * FROM agents WHERE deleted_at IS NULL ORDER BY name`)
	} else {
		// Orphans are excluded outright, not just by the owner/share check
		// below: an orphan row has no meaningful owner_id and must never
		// surface to a non-admin caller per spec.md §4.7.
		err = s.reader().SelectContext(ctx, &agents, s.reader().Rebind(`
			SELECT DISTINCT a.* FROM agents a
			LEFT JOIN share_grants sg ON sg.agent_name = a.name
			WHERE a.deleted_at IS NULL AND a.status != ? AND (a.owner_id = ? OR sg.user_id = ?)
			ORDER BY a.name`), string(AgentStatusOrphan), userID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("accessible agents for %q: %w", userID, err)
	}
	return agents, nil
}

// AgentMetadataBatch fetches owner, shared-folder config, tags, and resource
// limits for every named agent in one query, avoiding the N+1 pattern the
// fleet-list endpoint would otherwise incur at hundreds of agents.
func (s *Store) AgentMetadataBatch(ctx context.Context, names []string) ([]Agent, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM agents WHERE name IN (?) AND deleted_at IS NULL`, names)
	if err != nil {
		return nil, fmt.Errorf("build agent metadata batch query: %w", err)
	}
	query = s.reader().Rebind(query)
	var agents []Agent
	if err := s.reader().SelectContext(ctx, &agents, query, args...); err != nil {
		return nil, fmt.Errorf("agent metadata batch: %w", err)
	}
	return agents, nil
}

func requireOneRowAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound(resource, id)
	}
	return nil
}
