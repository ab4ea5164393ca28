package api

import (
	"time"

	"github.com/kandev/orchestrator/internal/rpcgateway"
	"github.com/kandev/orchestrator/internal/store"
)

// CreateAgentRequest is the body of POST /agents.
type CreateAgentRequest struct {
	Name              string  `json:"name" binding:"required"`
	TemplateRef       string  `json:"template_ref" binding:"required"`
	CPU               float64 `json:"cpu"`
	MemoryMB          int     `json:"memory_mb"`
	CapabilityProfile string  `json:"capability_profile"`
	AutoStart         bool    `json:"auto_start"`
}

// AgentResponse is the wire shape of a store.Agent.
type AgentResponse struct {
	Name              string    `json:"name"`
	OwnerID           string    `json:"owner_id"`
	TemplateRef       string    `json:"template_ref"`
	Status            string    `json:"status"`
	Kind              string    `json:"kind"`
	CPU               float64   `json:"cpu"`
	MemoryMB          int       `json:"memory_mb"`
	CapabilityProfile string    `json:"capability_profile"`
	ModelOverride     string    `json:"model_override,omitempty"`
	APIKeyMode        string    `json:"api_key_mode"`
	ReadOnlyTooling   bool      `json:"read_only_tooling"`
	AutonomyEnabled   bool      `json:"autonomy_enabled"`
	SharedFolderMode  string    `json:"shared_folder_mode,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func agentToResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		Name:              a.Name,
		OwnerID:           a.OwnerID,
		TemplateRef:       a.TemplateRef,
		Status:            string(a.Status),
		Kind:              string(a.Kind),
		CPU:               a.CPU,
		MemoryMB:          a.MemoryMB,
		CapabilityProfile: string(a.CapabilityProfile),
		ModelOverride:     a.ModelOverride,
		APIKeyMode:        string(a.APIKeyMode),
		ReadOnlyTooling:   a.ReadOnlyTooling,
		AutonomyEnabled:   a.AutonomyEnabled,
		SharedFolderMode:  a.SharedFolderMode,
		Tags:              splitTags(a.Tags),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// UpdateResourcesRequest is the body of PUT /agents/:name/resources.
type UpdateResourcesRequest struct {
	CPU               *float64 `json:"cpu"`
	MemoryMB          *int     `json:"memory_mb"`
	CapabilityProfile *string  `json:"capability_profile"`
}

// UpdateAutonomyRequest is the body of PUT /agents/:name/autonomy.
type UpdateAutonomyRequest struct {
	Enabled bool `json:"enabled"`
}

// UpdateReadOnlyRequest is the body of PUT /agents/:name/read-only.
type UpdateReadOnlyRequest struct {
	ReadOnly bool `json:"read_only"`
}

// UpdateTagsRequest is the body of PUT /agents/:name/tags.
type UpdateTagsRequest struct {
	Tags []string `json:"tags"`
}

// UpdatePermissionsRequest is the body of PUT /agents/:name/permissions.
type UpdatePermissionsRequest struct {
	Targets []string `json:"targets"`
}

// ChatDispatchRequest is the body of POST /agents/:name/chat,
// /internal/chat and /internal/task.
type ChatDispatchRequest struct {
	Message            string   `json:"message" binding:"required"`
	Mode               string   `json:"mode"`
	Model              string   `json:"model,omitempty"`
	ToolAllowlist      []string `json:"tool_allowlist,omitempty"`
	SystemPromptAppend string   `json:"system_prompt_append,omitempty"`
	TimeoutSeconds     int      `json:"timeout_seconds,omitempty"`
}

// TaskDispatchRequest is the body of POST /agents/:name/task. Async selects between a synchronous call that blocks for
// the final result and a fire-and-forget call that returns the queued
// execution's id immediately.
type TaskDispatchRequest struct {
	Message            string   `json:"message" binding:"required"`
	Async              bool     `json:"async"`
	Model              string   `json:"model,omitempty"`
	ToolAllowlist      []string `json:"tool_allowlist,omitempty"`
	SystemPromptAppend string   `json:"system_prompt_append,omitempty"`
	TimeoutSeconds     int      `json:"timeout_seconds,omitempty"`
}

// DispatchResponse is the wire shape of a rpcgateway.Result. ExecutionID is
// only populated for the fire-and-forget async task path, where the
// execution row is created up front and this is the only field the caller
// gets back before polling GET .../executions/{id}.
type DispatchResponse struct {
	Busy        bool    `json:"busy"`
	Holder      string  `json:"holder,omitempty"`
	RetryAfter  int64   `json:"retry_after_ms,omitempty"`
	Transcript  string  `json:"transcript,omitempty"`
	Cost        float64 `json:"cost,omitempty"`
	TokensUsed  int64   `json:"tokens_used,omitempty"`
	ExecutionID *int64  `json:"execution_id,omitempty"`
	Status      string  `json:"status,omitempty"`
}

func resultToResponse(r *rpcgateway.Result) DispatchResponse {
	return DispatchResponse{
		Busy:       r.Busy,
		Holder:     r.Holder,
		RetryAfter: r.RetryAfter.Milliseconds(),
		Transcript: r.Transcript,
		Cost:       r.Cost,
		TokensUsed: r.TokensUsed,
	}
}

// ExecutionResponse is the wire shape of a store.Execution, minus its raw
// transcript bytes which are exposed separately via the log endpoint.
type ExecutionResponse struct {
	ID           int64      `json:"id"`
	AgentName    string     `json:"agent_name"`
	ScheduleID   *string    `json:"schedule_id,omitempty"`
	InputMessage string     `json:"input_message"`
	TriggerKind  string     `json:"trigger_kind"`
	SourceAgent  *string    `json:"source_agent,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
	Status       string     `json:"status"`
	Cost         float64    `json:"cost"`
	TokensUsed   int64      `json:"tokens_used"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func executionToResponse(e *store.Execution) ExecutionResponse {
	return ExecutionResponse{
		ID:           e.ID,
		AgentName:    e.AgentName,
		ScheduleID:   e.ScheduleID,
		InputMessage: e.InputMessage,
		TriggerKind:  string(e.TriggerKind),
		SourceAgent:  e.SourceAgent,
		StartedAt:    e.StartedAt,
		EndedAt:      e.EndedAt,
		DurationMs:   e.DurationMs,
		Status:       string(e.Status),
		Cost:         e.Cost,
		TokensUsed:   e.TokensUsed,
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
	}
}

// CreateScheduleRequest is the body of POST /agents/:name/schedules.
type CreateScheduleRequest struct {
	CronExpr string `json:"cron_expr" binding:"required"`
	Timezone string `json:"timezone"`
	Message  string `json:"message" binding:"required"`
	Mode     string `json:"mode"`
	Enabled  bool   `json:"enabled"`
}

// ScheduleResponse is the wire shape of a store.Schedule.
type ScheduleResponse struct {
	ID        string     `json:"id"`
	AgentName string     `json:"agent_name"`
	CronExpr  string     `json:"cron_expr"`
	Timezone  string     `json:"timezone"`
	Message   string     `json:"message"`
	Mode      string     `json:"mode"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func scheduleToResponse(s *store.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:        s.ID,
		AgentName: s.AgentName,
		CronExpr:  s.CronExpr,
		Timezone:  s.Timezone,
		Message:   s.Message,
		Mode:      s.Mode,
		Enabled:   s.Enabled,
		LastRunAt: s.LastRunAt,
		NextRunAt: s.NextRunAt,
	}
}

// GrantShareRequest is the body of POST /agents/:name/shares.
type GrantShareRequest struct {
	UserID string `json:"user_id" binding:"required"`
}
