package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kuitang/project-os/internal/db"
)

// User is an account row created on first sign-in.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// UserService manages account rows keyed by verified email.
type UserService struct {
	db *db.DB
}

func NewUserService(database *db.DB) *UserService {
	return &UserService{db: database}
}

// FindOrCreateByEmail returns the existing user for the email or creates
// one. The name is refreshed from the identity provider on each sign-in.
func (s *UserService) FindOrCreateByEmail(ctx context.Context, email, name string) (*User, error) {
	user, err := s.findByEmail(ctx, email)
	if err == nil {
		if name != "" && name != user.Name {
			if _, err := s.db.SQL().ExecContext(ctx,
				"UPDATE users SET name = ? WHERE id = ?", name, user.ID); err != nil {
				return nil, fmt.Errorf("update user name: %w", err)
			}
			user.Name = name
		}
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	user = &User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if _, err := s.db.SQL().ExecContext(ctx,
		"INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)",
		user.ID, user.Email, user.Name, user.CreatedAt.Unix()); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// Get returns the user by ID, or (nil, nil) when missing.
func (s *UserService) Get(ctx context.Context, userID string) (*User, error) {
	user, err := s.scanUser(s.db.SQL().QueryRowContext(ctx,
		"SELECT id, email, name, created_at FROM users WHERE id = ?", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func (s *UserService) findByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.SQL().QueryRowContext(ctx,
		"SELECT id, email, name, created_at FROM users WHERE email = ?", email))
}

func (s *UserService) scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAt int64
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &createdAt); err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}
