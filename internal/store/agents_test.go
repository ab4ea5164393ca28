package store

import (
	"context"
	"testing"
)

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Agent{
		Name:              "alpha",
		OwnerID:           "user-1",
		Kind:              RuntimeKindSandboxedLLM,
		CapabilityProfile: CapabilityRestricted,
		APIKeyMode:        APIKeyModePlatform,
	}
	if err := s.CreateAgent(ctx, a); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if a.Status != AgentStatusCreated {
		t.Fatalf("expected default status %q, got %q", AgentStatusCreated, a.Status)
	}

	fetched, err := s.GetAgent(ctx, "alpha")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if fetched.OwnerID != "user-1" {
		t.Fatalf("expected owner user-1, got %q", fetched.OwnerID)
	}

	if err := s.UpdateAgentStatus(ctx, "alpha", AgentStatusRunning); err != nil {
		t.Fatalf("update status: %v", err)
	}
	fetched, err = s.GetAgent(ctx, "alpha")
	if err != nil {
		t.Fatalf("get agent after status update: %v", err)
	}
	if fetched.Status != AgentStatusRunning {
		t.Fatalf("expected status running, got %q", fetched.Status)
	}

	if _, err := s.GetAgent(ctx, "missing"); err == nil {
		t.Fatalf("expected not found error for missing agent")
	}
}

func TestAccessibleAgents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owned := &Agent{Name: "owned", OwnerID: "u1", Kind: RuntimeKindShell}
	shared := &Agent{Name: "shared", OwnerID: "u2", Kind: RuntimeKindShell}
	other := &Agent{Name: "other", OwnerID: "u3", Kind: RuntimeKindShell}
	for _, a := range []*Agent{owned, shared, other} {
		if err := s.CreateAgent(ctx, a); err != nil {
			t.Fatalf("create agent %q: %v", a.Name, err)
		}
	}
	if err := s.GrantShare(ctx, "shared", "u1"); err != nil {
		t.Fatalf("grant share: %v", err)
	}

	agents, err := s.AccessibleAgents(ctx, "u1", false)
	if err != nil {
		t.Fatalf("accessible agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 accessible agents for u1, got %d", len(agents))
	}

	admin, err := s.AccessibleAgents(ctx, "anyone", true)
	if err != nil {
		t.Fatalf("accessible agents (admin): %v", err)
	}
	if len(admin) != 3 {
		t.Fatalf("expected all 3 agents for admin, got %d", len(admin))
	}
}

func TestDeleteAgentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, &Agent{Name: "doomed", OwnerID: "u1", Kind: RuntimeKindShell}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := s.GrantShare(ctx, "doomed", "u9"); err != nil {
		t.Fatalf("grant share: %v", err)
	}

	if err := s.DeleteAgent(ctx, "doomed", false); err != nil {
		t.Fatalf("delete agent: %v", err)
	}
	if _, err := s.GetAgent(ctx, "doomed"); err == nil {
		t.Fatalf("expected agent to be gone")
	}
}
