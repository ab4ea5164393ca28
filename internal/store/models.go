// Package store is the State Store (C2): the durable relational record of
// users, agents, permission edges, schedules, executions, activities, chat
// sessions, chat messages, and API keys. It is the single-writer logical
// store described by the orchestration core: one writer connection, many
// readers, with cross-entity mutations always wrapped in one transaction.
package store

import "time"

// RuntimeKind distinguishes a sandboxed-LLM agent from a plain shell agent.
type RuntimeKind string

const (
	RuntimeKindSandboxedLLM RuntimeKind = "sandboxed_llm"
	RuntimeKindShell        RuntimeKind = "shell"
)

// APIKeyMode controls whether an agent uses the platform's LLM credentials
// or credentials supplied by its caller.
type APIKeyMode string

const (
	APIKeyModePlatform APIKeyMode = "platform"
	APIKeyModeCaller   APIKeyMode = "caller"
)

// CapabilityProfile names one of the two container capability presets.
type CapabilityProfile string

const (
	CapabilityRestricted CapabilityProfile = "restricted"
	CapabilityFull       CapabilityProfile = "full"
)

// AgentStatus is the lifecycle-visible status of an agent's container.
type AgentStatus string

const (
	AgentStatusCreated    AgentStatus = "created"
	AgentStatusRunning    AgentStatus = "running"
	AgentStatusStopped    AgentStatus = "stopped"
	AgentStatusRecreating AgentStatus = "recreating"
	AgentStatusOrphan     AgentStatus = "orphan"
	AgentStatusGone       AgentStatus = "gone"
)

// Agent is a logical unit owned by a user with a stable, sanitized name.
type Agent struct {
	Name              string            `db:"name"`
	OwnerID           string            `db:"owner_id"`
	TemplateRef       string            `db:"template_ref"`
	Status            AgentStatus       `db:"status"`
	Kind              RuntimeKind       `db:"kind"`
	CPU               float64           `db:"cpu"`
	MemoryMB          int               `db:"memory_mb"`
	CapabilityProfile CapabilityProfile `db:"capability_profile"`
	ModelOverride     string            `db:"model_override"`
	APIKeyMode        APIKeyMode        `db:"api_key_mode"`
	ReadOnlyTooling   bool              `db:"read_only_tooling"`
	AutonomyEnabled   bool              `db:"autonomy_enabled"`
	SharedFolderMode  string            `db:"shared_folder_mode"` // "", "expose", "consume"
	Tags              string            `db:"tags"`               // comma-joined; small cardinality
	MountSetDigest    string            `db:"mount_set_digest"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
	DeletedAt         *time.Time        `db:"deleted_at"`
}

// User identifies a human caller.
type User struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	IsAdmin   bool      `db:"is_admin"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// APIKeyScope mirrors identity.Kind for persistence.
type APIKeyScope string

const (
	APIKeyScopeUser   APIKeyScope = "user"
	APIKeyScopeAgent  APIKeyScope = "agent"
	APIKeyScopeSystem APIKeyScope = "system"
)

// APIKey is a salted-hash credential; the clear value exists only at issuance.
type APIKey struct {
	ID         string      `db:"id"`
	Scope      APIKeyScope `db:"scope"`
	UserID     *string     `db:"user_id"`
	AgentName  *string     `db:"agent_name"`
	HashedKey  string      `db:"hashed_key"`
	Salt       string      `db:"salt"`
	CreatedAt  time.Time   `db:"created_at"`
	LastUsedAt *time.Time  `db:"last_used_at"`
	RevokedAt  *time.Time  `db:"revoked_at"`
}

// PermissionEdge grants source_agent the right to call target_agent.
type PermissionEdge struct {
	SourceAgent string    `db:"source_agent"`
	TargetAgent string    `db:"target_agent"`
	CreatedAt   time.Time `db:"created_at"`
}

// ShareGrant grants a user access to an agent they do not own.
type ShareGrant struct {
	AgentName string    `db:"agent_name"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// Schedule is a recurring dispatch of a static message to an agent.
type Schedule struct {
	ID             string     `db:"id"`
	AgentName      string     `db:"agent_name"`
	CronExpr       string     `db:"cron_expr"`
	Timezone       string     `db:"timezone"`
	Message        string     `db:"message"`
	Mode           string     `db:"mode"` // "sequential" or "parallel"
	Enabled        bool       `db:"enabled"`
	LastRunAt      *time.Time `db:"last_run_at"`
	NextRunAt      *time.Time `db:"next_run_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// TriggerKind names what caused an execution.
type TriggerKind string

const (
	TriggerUser     TriggerKind = "user"
	TriggerSchedule TriggerKind = "schedule"
	TriggerAgent    TriggerKind = "agent"
	TriggerSystem   TriggerKind = "system"
	TriggerManual   TriggerKind = "manual"
)

// ExecutionStatus is the monotonically progressing status of an execution.
type ExecutionStatus string

const (
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// DispatchMode records which of the two RPC gateway paths ran an execution,
// since the two paths hand the running sub-process a different kind of
// handle: sequential holds a queue slot under a volatile id, parallel never
// touches the queue and is addressed by the execution's own durable id.
// TerminateExecution reads this back to pick the right resolution path.
type DispatchMode string

const (
	DispatchSequential DispatchMode = "sequential"
	DispatchParallel   DispatchMode = "parallel"
)

// Execution is a durable record of one attempt to run a task on an agent.
// ID is the stable database id; it is distinct from the queue's volatile id
// (internal/queue), which only exists for the lifetime of a slot hold.
type Execution struct {
	ID           int64           `db:"id"`
	AgentName    string          `db:"agent_name"`
	ScheduleID   *string         `db:"schedule_id"`
	InputMessage string          `db:"input_message"`
	TriggerKind  TriggerKind     `db:"trigger_kind"`
	DispatchMode DispatchMode    `db:"dispatch_mode"`
	SourceAgent  *string         `db:"source_agent"`
	StartedAt    *time.Time      `db:"started_at"`
	EndedAt      *time.Time      `db:"ended_at"`
	DurationMs   *int64          `db:"duration_ms"`
	Status       ExecutionStatus `db:"status"`
	Cost         float64         `db:"cost"`
	TokensUsed   int64           `db:"tokens_used"`
	Transcript   []byte          `db:"transcript"` // marshaled []TranscriptEntry, sealed once
	ErrorMessage *string         `db:"error_message"`
	CreatedAt    time.Time       `db:"created_at"`
}

// TranscriptEntryKind discriminates one entry in an execution's transcript.
type TranscriptEntryKind string

const (
	TranscriptInit         TranscriptEntryKind = "init"
	TranscriptAssistant    TranscriptEntryKind = "assistant_text"
	TranscriptToolCall     TranscriptEntryKind = "tool_call"
	TranscriptToolResult   TranscriptEntryKind = "tool_result"
	TranscriptResult       TranscriptEntryKind = "result"
)

// TranscriptEntry is one step of an execution's sealed transcript.
type TranscriptEntry struct {
	Kind      TranscriptEntryKind `json:"kind"`
	Timestamp time.Time           `json:"timestamp"`
	Text      string              `json:"text,omitempty"`
	ToolName  string              `json:"tool_name,omitempty"`
	ToolInput string              `json:"tool_input,omitempty"`
	ToolOut   string              `json:"tool_output,omitempty"`
}

// ActivityType enumerates the granular event kinds attached to an agent.
type ActivityType string

const (
	ActivityChatStart          ActivityType = "chat_start"
	ActivityChatEnd            ActivityType = "chat_end"
	ActivityToolCall           ActivityType = "tool_call"
	ActivityScheduleStart      ActivityType = "schedule_start"
	ActivityScheduleEnd        ActivityType = "schedule_end"
	ActivityAgentCollaboration ActivityType = "agent_collaboration"
	ActivityExecutionCancelled ActivityType = "execution_cancelled"
)

// ActivityState is the lifecycle state of an activity row.
type ActivityState string

const (
	ActivityStarted   ActivityState = "started"
	ActivityCompleted ActivityState = "completed"
	ActivityFailed    ActivityState = "failed"
)

// Activity is a granular, append-only event attached to an agent.
type Activity struct {
	ID                 int64         `db:"id"`
	AgentName          string        `db:"agent_name"`
	Type               ActivityType  `db:"type"`
	State              ActivityState `db:"state"`
	StartedAt          time.Time     `db:"started_at"`
	CompletedAt        *time.Time    `db:"completed_at"`
	DurationMs         *int64        `db:"duration_ms"`
	ParentActivityID   *int64        `db:"parent_activity_id"`
	RelatedExecutionID *int64        `db:"related_execution_id"`
	ChatMessageID      *int64        `db:"chat_message_id"`
	TriggeredByKind    TriggerKind   `db:"triggered_by_kind"`
	Details            []byte        `db:"details"` // marshaled TypedDetails, see details.go
	CreatedAt          time.Time     `db:"created_at"`
}

// ChatSession groups messages for an (agent, user) pair; it survives
// container recreation because it is keyed independently of container state.
type ChatSession struct {
	ID        string    `db:"id"`
	AgentName string    `db:"agent_name"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ChatMessageRole distinguishes user and assistant turns.
type ChatMessageRole string

const (
	ChatRoleUser      ChatMessageRole = "user"
	ChatRoleAssistant ChatMessageRole = "assistant"
)

// ChatMessage is one causally-ordered turn of a chat session.
type ChatMessage struct {
	ID               int64           `db:"id"`
	SessionID        string          `db:"session_id"`
	Role             ChatMessageRole `db:"role"`
	Content          string          `db:"content"`
	Cost             float64         `db:"cost"`
	ContextTokens    int64           `db:"context_tokens"`
	ToolCallSummary  string          `db:"tool_call_summary"`
	ExecutionTimeMs  int64           `db:"execution_time_ms"`
	CreatedAt        time.Time       `db:"created_at"`
}
