package store

import (
	"encoding/json"
	"fmt"
)

// TypedDetails is the tagged-sum payload stored in an Activity's Details
// column. Every activity kind has a concrete Go struct implementing this
// interface; core logic never passes details around as map[string]any — that
// shape is confined to the (Un)MarshalDetails boundary below.
type TypedDetails interface {
	Kind() ActivityType
}

// ChatStartDetails is attached to a chat_start activity.
type ChatStartDetails struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (ChatStartDetails) Kind() ActivityType { return ActivityChatStart }

// ChatEndDetails is attached to a chat_end activity.
type ChatEndDetails struct {
	SessionID  string  `json:"session_id"`
	Cost       float64 `json:"cost"`
	TokensUsed int64   `json:"tokens_used"`
}

func (ChatEndDetails) Kind() ActivityType { return ActivityChatEnd }

// ToolCallDetails is attached to a tool_call activity.
type ToolCallDetails struct {
	ToolName string `json:"tool_name"`
	Input    string `json:"input"`
}

func (ToolCallDetails) Kind() ActivityType { return ActivityToolCall }

// ScheduleStartDetails is attached to a schedule_start activity.
type ScheduleStartDetails struct {
	ScheduleID string `json:"schedule_id"`
	CronExpr   string `json:"cron_expr"`
}

func (ScheduleStartDetails) Kind() ActivityType { return ActivityScheduleStart }

// ScheduleEndDetails is attached to a schedule_end activity.
type ScheduleEndDetails struct {
	ScheduleID string `json:"schedule_id"`
	Status     ExecutionStatus `json:"status"`
	Reason     string `json:"reason,omitempty"` // e.g. "queue_busy"
}

func (ScheduleEndDetails) Kind() ActivityType { return ActivityScheduleEnd }

// CollaborationDetails is attached to an agent_collaboration activity.
type CollaborationDetails struct {
	SourceAgent string `json:"source_agent"`
	TargetAgent string `json:"target_agent"`
	Mode        string `json:"mode"` // sequential | parallel | parallel_async
}

func (CollaborationDetails) Kind() ActivityType { return ActivityAgentCollaboration }

// ExecutionCancelledDetails is attached to an execution_cancelled activity.
type ExecutionCancelledDetails struct {
	ExecutionID int64  `json:"execution_id"`
	Reason      string `json:"reason,omitempty"`
}

func (ExecutionCancelledDetails) Kind() ActivityType { return ActivityExecutionCancelled }

// detailsEnvelope is the only place the core looks at details as an untyped
// shape; marshaling happens here at the persistence boundary and nowhere else.
type detailsEnvelope struct {
	Kind    ActivityType    `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalDetails serializes a TypedDetails value into the tagged envelope
// stored in Activity.Details.
func MarshalDetails(d TypedDetails) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal activity details: %w", err)
	}
	return json.Marshal(detailsEnvelope{Kind: d.Kind(), Payload: payload})
}

// UnmarshalDetails deserializes the tagged envelope back into its concrete
// TypedDetails type, selecting the Go type by the envelope's Kind.
func UnmarshalDetails(raw []byte) (TypedDetails, error) {
	var env detailsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal activity details envelope: %w", err)
	}

	var target TypedDetails
	switch env.Kind {
	case ActivityChatStart:
		target = &ChatStartDetails{}
	case ActivityChatEnd:
		target = &ChatEndDetails{}
	case ActivityToolCall:
		target = &ToolCallDetails{}
	case ActivityScheduleStart:
		target = &ScheduleStartDetails{}
	case ActivityScheduleEnd:
		target = &ScheduleEndDetails{}
	case ActivityAgentCollaboration:
		target = &CollaborationDetails{}
	case ActivityExecutionCancelled:
		target = &ExecutionCancelledDetails{}
	default:
		return nil, fmt.Errorf("unmarshal activity details: unknown kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, fmt.Errorf("unmarshal activity details payload: %w", err)
	}
	return target, nil
}
