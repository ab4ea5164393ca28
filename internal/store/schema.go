package store

import (
	"context"
	"fmt"

	"github.com/kandev/orchestrator/internal/db"
	"github.com/kandev/orchestrator/internal/db/dialect"
)

// Bootstrap creates every table the store needs if it does not already
// exist, the same idempotent "CREATE TABLE IF NOT EXISTS" discipline the
// rest of the orchestrator's dual-dialect persistence layer uses. There is
// no separate migration runner: schema changes are additive statements
// appended here, guarded by IF NOT EXISTS / existence checks, matching how
// the corpus's own sqlite-backed repositories bootstrap themselves.
func Bootstrap(ctx context.Context, pool *db.Pool) error {
	driver := pool.Writer().DriverName()
	pk := serialPK(driver)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			user_id TEXT,
			agent_name TEXT,
			hashed_key TEXT NOT NULL,
			salt TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP,
			revoked_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			name TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			template_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			kind TEXT NOT NULL,
			cpu REAL NOT NULL DEFAULT 1.0,
			memory_mb INTEGER NOT NULL DEFAULT 512,
			capability_profile TEXT NOT NULL DEFAULT 'restricted',
			model_override TEXT NOT NULL DEFAULT '',
			api_key_mode TEXT NOT NULL DEFAULT 'platform',
			read_only_tooling BOOLEAN NOT NULL DEFAULT FALSE,
			autonomy_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			shared_folder_mode TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			mount_set_digest TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS permission_edges (
			source_agent TEXT NOT NULL,
			target_agent TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (source_agent, target_agent)
		)`,
		`CREATE TABLE IF NOT EXISTS share_grants (
			agent_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (agent_name, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			message TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'sequential',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_run_at TIMESTAMP,
			next_run_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS executions (
			id %s,
			agent_name TEXT NOT NULL,
			schedule_id TEXT,
			input_message TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			dispatch_mode TEXT NOT NULL DEFAULT 'sequential',
			source_agent TEXT,
			started_at TIMESTAMP,
			ended_at TIMESTAMP,
			duration_ms INTEGER,
			status TEXT NOT NULL,
			cost REAL NOT NULL DEFAULT 0,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			transcript BLOB,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS activities (
			id %s,
			agent_name TEXT NOT NULL,
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			duration_ms INTEGER,
			parent_activity_id INTEGER,
			related_execution_id INTEGER,
			chat_message_id INTEGER,
			triggered_by_kind TEXT NOT NULL,
			details BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, pk),
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chat_messages (
			id %s,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			cost REAL NOT NULL DEFAULT 0,
			context_tokens INTEGER NOT NULL DEFAULT 0,
			tool_call_summary TEXT NOT NULL DEFAULT '',
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`, pk),

		`CREATE INDEX IF NOT EXISTS idx_activities_agent_created ON activities (agent_name, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_type ON activities (type)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_parent ON activities (parent_activity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_execution ON activities (related_execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_enabled_next ON schedules (enabled, next_run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_agent ON executions (agent_name, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages (session_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Writer().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: bootstrap schema: %w (%s)", err, firstLine(stmt))
		}
	}
	return nil
}

// serialPK returns the dialect-appropriate auto-incrementing primary key
// column definition. Executions, activities, and chat messages each get
// their own sequence, so ids increase within a table but are not comparable
// across tables (chat messages are read back in causal order by id).
func serialPK(driver string) string {
	if dialect.IsPostgres(driver) {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
