package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
	"github.com/kandev/orchestrator/internal/db/dialect"
)

// GetOrCreateChatSession returns the existing (agent, user) session or
// creates one. A chat session's identity is independent of container state,
// so it survives an agent's recreate cycle: the same session id keeps
// accumulating messages across container replacements.
func (s *Store) GetOrCreateChatSession(ctx context.Context, agentName, userID, newID string) (*ChatSession, error) {
	var existing ChatSession
	err := s.reader().GetContext(ctx, &existing, s.reader().Rebind(`
		SELECT * FROM chat_sessions WHERE agent_name = ? AND user_id = ?`), agentName, userID)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get chat session: %w", err)
	}

	now := time.Now().UTC()
	sess := &ChatSession{ID: newID, AgentName: agentName, UserID: userID, CreatedAt: now, UpdatedAt: now}
	_, err = s.writer().NamedExecContext(ctx, `
		INSERT INTO chat_sessions (id, agent_name, user_id, created_at, updated_at)
		VALUES (:id, :agent_name, :user_id, :created_at, :updated_at)`, sess)
	if err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	return sess, nil
}

// GetChatSession fetches a chat session by id.
func (s *Store) GetChatSession(ctx context.Context, id string) (*ChatSession, error) {
	var sess ChatSession
	err := s.reader().GetContext(ctx, &sess, s.reader().Rebind(`SELECT * FROM chat_sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("chat_session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session %q: %w", id, err)
	}
	return &sess, nil
}

// AppendChatMessage inserts the next causally-ordered turn of a session and
// bumps the session's updated_at.
func (s *Store) AppendChatMessage(ctx context.Context, m *ChatMessage) (int64, error) {
	m.CreatedAt = time.Now().UTC()
	id, err := dialect.InsertReturningID(ctx, s.writer(), `
		INSERT INTO chat_messages (
			session_id, role, content, cost, context_tokens,
			tool_call_summary, execution_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Role, m.Content, m.Cost, m.ContextTokens,
		m.ToolCallSummary, m.ExecutionTimeMs, m.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("append chat message: %w", err)
	}
	m.ID = id

	if _, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE chat_sessions SET updated_at = ? WHERE id = ?`), m.CreatedAt, m.SessionID); err != nil {
		return 0, fmt.Errorf("touch chat session: %w", err)
	}
	return id, nil
}

// ChatHistory returns a session's messages in causal order, newest-first
// paging handled by the caller via limit/before-id since the id is
// monotonic within a session.
func (s *Store) ChatHistory(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	var msgs []ChatMessage
	err := s.reader().SelectContext(ctx, &msgs, s.reader().Rebind(`
		SELECT * FROM chat_messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat history for %q: %w", sessionID, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ChatSessionsForAgent lists every session an agent has ever had, used by the
// admin surface and by recreate-time session rehydration.
func (s *Store) ChatSessionsForAgent(ctx context.Context, agentName string) ([]ChatSession, error) {
	var sessions []ChatSession
	err := s.reader().SelectContext(ctx, &sessions, s.reader().Rebind(`
		SELECT * FROM chat_sessions WHERE agent_name = ? ORDER BY updated_at DESC`), agentName)
	if err != nil {
		return nil, fmt.Errorf("chat sessions for %q: %w", agentName, err)
	}
	return sessions, nil
}
