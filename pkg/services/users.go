package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Role names, ordered by privilege.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var roleRank = map[string]int{
	RoleAdmin:    3,
	RoleOperator: 2,
	RoleViewer:   1,
}

// ValidRole reports whether name is a known role.
func ValidRole(name string) bool {
	_, ok := roleRank[name]
	return ok
}

// RoleAtLeast reports whether have grants at least the privilege of want.
func RoleAtLeast(have, want string) bool {
	return roleRank[have] >= roleRank[want]
}

// UserService manages operator accounts.
type UserService struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewUserService creates a UserService.
func NewUserService(db *sqlx.DB) *UserService {
	return &UserService{db: db, now: time.Now}
}

// CreateUserInput holds the fields of a new account. PasswordHash must
// already be hashed by the caller.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

// Create inserts a new account. Usernames are unique.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*User, error) {
	if in.Username == "" {
		return nil, NewValidationError("username", "username is required")
	}
	if in.PasswordHash == "" {
		return nil, NewValidationError("password", "password is required")
	}
	if in.Role == "" {
		in.Role = RoleViewer
	}
	if !ValidRole(in.Role) {
		return nil, NewValidationError("role", fmt.Sprintf("unknown role %q", in.Role))
	}

	if _, err := s.GetByUsername(ctx, in.Username); err == nil {
		return nil, fmt.Errorf("username %s: %w", in.Username, ErrAlreadyExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO users (username, email, password_hash, role, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		in.Username, in.Email, in.PasswordHash, in.Role, true, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &User{
		ID:           id,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    now,
	}, nil
}

// Get returns one user by id.
func (s *UserService) Get(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(
		`SELECT * FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetByUsername returns one user by username.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, s.db.Rebind(
		`SELECT * FROM users WHERE username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &user, nil
}

// List returns all users ordered by username.
func (s *UserService) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY username`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserInput holds the mutable fields of an account. Nil fields are
// left unchanged.
type UpdateUserInput struct {
	Email        *string
	PasswordHash *string
	Role         *string
	IsActive     *bool
}

// Update applies partial changes to an account.
func (s *UserService) Update(ctx context.Context, id int64, in UpdateUserInput) (*User, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sets := []string{}
	args := []any{}
	if in.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *in.Email)
		user.Email = *in.Email
	}
	if in.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *in.PasswordHash)
		user.PasswordHash = *in.PasswordHash
	}
	if in.Role != nil {
		if !ValidRole(*in.Role) {
			return nil, NewValidationError("role", fmt.Sprintf("unknown role %q", *in.Role))
		}
		sets = append(sets, "role = ?")
		args = append(args, *in.Role)
		user.Role = *in.Role
	}
	if in.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *in.IsActive)
		user.IsActive = *in.IsActive
	}
	if len(sets) == 0 {
		return user, nil
	}

	args = append(args, id)
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Delete removes an account.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// APIKeyService manages machine credentials.
type APIKeyService struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAPIKeyService creates an APIKeyService.
func NewAPIKeyService(db *sqlx.DB) *APIKeyService {
	return &APIKeyService{db: db, now: time.Now}
}

// CreateAPIKeyInput holds the fields of a new key. Key is the generated
// secret produced by the auth layer.
type CreateAPIKeyInput struct {
	Key       string
	Name      string
	Role      string
	OwnerID   *int64
	ExpiresAt *time.Time
}

// Create inserts a new API key record.
func (s *APIKeyService) Create(ctx context.Context, in CreateAPIKeyInput) (*APIKey, error) {
	if in.Key == "" {
		return nil, NewValidationError("key", "key is required")
	}
	if in.Name == "" {
		return nil, NewValidationError("name", "name is required")
	}
	if in.Role == "" {
		in.Role = RoleViewer
	}
	if !ValidRole(in.Role) {
		return nil, NewValidationError("role", fmt.Sprintf("unknown role %q", in.Role))
	}

	now := s.now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO api_keys (key, name, role, owner_id, is_active, expires_at, usage_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		 RETURNING id`),
		in.Key, in.Name, in.Role, in.OwnerID, true, in.ExpiresAt, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}

	return &APIKey{
		ID:        id,
		Key:       in.Key,
		Name:      in.Name,
		Role:      in.Role,
		OwnerID:   in.OwnerID,
		IsActive:  true,
		ExpiresAt: in.ExpiresAt,
		CreatedAt: now,
	}, nil
}

// ValidateAndTouch looks up an active, unexpired key by its secret and
// records the use. Invalid, revoked, and expired keys all map to
// ErrInvalidCredentials so callers cannot distinguish them.
func (s *APIKeyService) ValidateAndTouch(ctx context.Context, key string) (*APIKey, error) {
	var record APIKey
	err := s.db.GetContext(ctx, &record, s.db.Rebind(
		`SELECT * FROM api_keys WHERE key = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	now := s.now().UTC()
	if !record.IsActive {
		return nil, ErrInvalidCredentials
	}
	if record.ExpiresAt != nil && record.ExpiresAt.Before(now) {
		return nil, ErrInvalidCredentials
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE api_keys SET last_used_at = ?, usage_count = usage_count + 1 WHERE id = ?`),
		now, record.ID)
	if err != nil {
		return nil, fmt.Errorf("touch api key: %w", err)
	}
	record.LastUsedAt = &now
	record.UsageCount++
	return &record, nil
}

// List returns all key records ordered by creation time, newest first.
func (s *APIKeyService) List(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.SelectContext(ctx, &keys,
		`SELECT * FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// Revoke deactivates a key. Revoked keys stay on record for auditability.
func (s *APIKeyService) Revoke(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE api_keys SET is_active = ? WHERE id = ?`), false, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
