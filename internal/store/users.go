package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kandev/orchestrator/internal/common/errors"
)

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	_, err := s.writer().NamedExecContext(ctx, `
		INSERT INTO users (id, email, is_admin, created_at, updated_at)
		VALUES (:id, :email, :is_admin, :created_at, :updated_at)`, u)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.reader().GetContext(ctx, &u, s.reader().Rebind(`
		SELECT * FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", id, err)
	}
	return &u, nil
}

// GetUserByEmail fetches a user by email, used at login/api-key-issuance time.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.reader().GetContext(ctx, &u, s.reader().Rebind(`
		SELECT * FROM users WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email %q: %w", email, err)
	}
	return &u, nil
}

// ListUsers returns every known user, used by the admin surface only.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.reader().SelectContext(ctx, &users, `SELECT * FROM users ORDER BY email`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
