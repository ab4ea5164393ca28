package store

import (
	"context"
	"testing"
	"time"
)

func TestExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, &Agent{Name: "alpha", OwnerID: "u1", Kind: RuntimeKindSandboxedLLM}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	exec := &Execution{AgentName: "alpha", InputMessage: "do the thing", TriggerKind: TriggerUser}
	id, err := s.CreateExecution(ctx, exec)
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive execution id, got %d", id)
	}

	start := time.Now().UTC()
	if err := s.MarkExecutionStarted(ctx, id, start); err != nil {
		t.Fatalf("mark started: %v", err)
	}

	end := start.Add(2 * time.Second)
	transcript := []TranscriptEntry{{Kind: TranscriptAssistant, Timestamp: end, Text: "done"}}
	if err := s.SealExecution(ctx, id, ExecutionSucceeded, end, 0.01, 120, transcript, nil); err != nil {
		t.Fatalf("seal execution: %v", err)
	}

	got, err := s.GetExecution(ctx, id)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != ExecutionSucceeded {
		t.Fatalf("expected succeeded, got %q", got.Status)
	}
	if got.DurationMs == nil || *got.DurationMs < 2000 {
		t.Fatalf("expected duration >= 2000ms, got %v", got.DurationMs)
	}
	if got.DispatchMode != DispatchSequential {
		t.Fatalf("expected dispatch mode to default to sequential, got %q", got.DispatchMode)
	}
}

func TestActivityReferencesPrecedingExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, &Agent{Name: "alpha", OwnerID: "u1", Kind: RuntimeKindSandboxedLLM}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	execID, err := s.CreateExecution(ctx, &Execution{AgentName: "alpha", InputMessage: "go", TriggerKind: TriggerUser})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}

	details, err := MarshalDetails(ToolCallDetails{ToolName: "grep", Input: "foo"})
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}
	activity := &Activity{
		AgentName:          "alpha",
		Type:               ActivityToolCall,
		StartedAt:          time.Now().UTC(),
		RelatedExecutionID: &execID,
		TriggeredByKind:    TriggerUser,
		Details:            details,
	}
	activityID, err := s.InsertActivity(ctx, activity)
	if err != nil {
		t.Fatalf("insert activity: %v", err)
	}
	exec, err := s.GetExecution(ctx, execID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if activity.CreatedAt.Before(exec.CreatedAt) {
		t.Fatalf("expected activity created at %v not to precede execution created at %v", activity.CreatedAt, exec.CreatedAt)
	}

	fetched, err := s.GetActivity(ctx, activityID)
	if err != nil {
		t.Fatalf("get activity: %v", err)
	}
	decoded, err := UnmarshalDetails(fetched.Details)
	if err != nil {
		t.Fatalf("unmarshal details: %v", err)
	}
	toolCall, ok := decoded.(*ToolCallDetails)
	if !ok {
		t.Fatalf("expected *ToolCallDetails, got %T", decoded)
	}
	if toolCall.ToolName != "grep" {
		t.Fatalf("expected tool name grep, got %q", toolCall.ToolName)
	}

	linked, err := s.ActivitiesForExecution(ctx, execID)
	if err != nil {
		t.Fatalf("activities for execution: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != activityID {
		t.Fatalf("expected exactly the inserted activity linked to execution %d", execID)
	}
}
