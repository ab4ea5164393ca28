package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
)

// CreateAPIKey persists a salted-hash credential. The clear-text key is
// generated and returned to the caller once, at issuance, by the auth layer
// above this package; only the hash and salt ever reach the store.
func (s *Store) CreateAPIKey(ctx context.Context, k *APIKey) error {
	k.CreatedAt = time.Now().UTC()
	_, err := s.writer().NamedExecContext(ctx, `
		INSERT INTO api_keys (id, scope, user_id, agent_name, hashed_key, salt, created_at, last_used_at, revoked_at)
		VALUES (:id, :scope, :user_id, :agent_name, :hashed_key, :salt, :created_at, :last_used_at, :revoked_at)`, k)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey fetches a credential by its public id. The caller recomputes the
// hash using the returned salt and compares in constant time; this package
// never compares secrets itself.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	var k APIKey
	err := s.reader().GetContext(ctx, &k, s.reader().Rebind(`
		SELECT * FROM api_keys WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("api_key", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get api key %q: %w", id, err)
	}
	return &k, nil
}

// TouchAPIKeyLastUsed records the most recent successful authentication.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE api_keys SET last_used_at = ? WHERE id = ?`), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}

// RevokeAPIKey marks a credential unusable without deleting its audit trail.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return requireOneRowAffected(res, "api_key", id)
}

// ListAPIKeysForUser returns every non-revoked key scoped to a user.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID string) ([]APIKey, error) {
	var keys []APIKey
	err := s.reader().SelectContext(ctx, &keys, s.reader().Rebind(`
		SELECT * FROM api_keys WHERE user_id = ? AND revoked_at IS NULL ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys for user %q: %w", userID, err)
	}
	return keys, nil
}

// ListAPIKeysForAgent returns every non-revoked key scoped to an agent
// (api_key_mode = "caller").
func (s *Store) ListAPIKeysForAgent(ctx context.Context, agentName string) ([]APIKey, error) {
	var keys []APIKey
	err := s.reader().SelectContext(ctx, &keys, s.reader().Rebind(`
		SELECT * FROM api_keys WHERE agent_name = ? AND revoked_at IS NULL ORDER BY created_at DESC`), agentName)
	if err != nil {
		return nil, fmt.Errorf("list api keys for agent %q: %w", agentName, err)
	}
	return keys, nil
}
