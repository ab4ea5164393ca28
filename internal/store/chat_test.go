package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestChatSessionSurvivesRecreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateAgent(ctx, &Agent{Name: "alpha", OwnerID: "u1", Kind: RuntimeKindSandboxedLLM}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	sess, err := s.GetOrCreateChatSession(ctx, "alpha", "u1", uuid.NewString())
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}

	if _, err := s.AppendChatMessage(ctx, &ChatMessage{SessionID: sess.ID, Role: ChatRoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append user message: %v", err)
	}
	if _, err := s.AppendChatMessage(ctx, &ChatMessage{SessionID: sess.ID, Role: ChatRoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("append assistant message: %v", err)
	}

	// Simulate the agent's container being recreated: requesting the session
	// again for the same (agent, user) pair must return the same session,
	// not a fresh one, so history is not lost.
	again, err := s.GetOrCreateChatSession(ctx, "alpha", "u1", uuid.NewString())
	if err != nil {
		t.Fatalf("get or create session again: %v", err)
	}
	if again.ID != sess.ID {
		t.Fatalf("expected session %q to be reused, got %q", sess.ID, again.ID)
	}

	history, err := s.ChatHistory(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("chat history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "hi" || history[1].Content != "hello" {
		t.Fatalf("expected causal order [hi, hello], got [%s, %s]", history[0].Content, history[1].Content)
	}
}
