// Package projects manages project rows, the grouping unit meetings are
// imported into.
package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/project-os/internal/db"
	"github.com/kuitang/project-os/internal/errs"
)

const maxNameLen = 200

// Project is one project row.
type Project struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Service manages project rows with per-user ownership.
type Service struct {
	db  *db.DB
	now func() time.Time
}

func NewService(database *db.DB) *Service {
	return &Service{db: database, now: time.Now}
}

// Create inserts a project for the user.
func (s *Service) Create(ctx context.Context, userID, name, description string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.New(errs.InvalidArgument, "project name is required")
	}
	if len(name) > maxNameLen {
		return nil, errs.Newf(errs.InvalidArgument, "project name exceeds %d characters", maxNameLen)
	}

	now := s.now()
	project := &Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO projects (id, user_id, name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		project.ID, userID, project.Name, project.Description,
		now.Unix(), now.Unix()); err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

// Get returns one project owned by the user.
func (s *Service) Get(ctx context.Context, userID, projectID string) (*Project, error) {
	project, err := scanProject(s.db.SQL().QueryRowContext(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM projects WHERE user_id = ? AND id = ?`, userID, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "project not found")
	}
	return project, err
}

// List returns the user's projects, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM projects WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var project Project
		var createdAt, updatedAt int64
		if err := rows.Scan(&project.ID, &project.UserID, &project.Name,
			&project.Description, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		project.CreatedAt = time.Unix(createdAt, 0)
		project.UpdatedAt = time.Unix(updatedAt, 0)
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Update renames or redescribes a project.
func (s *Service) Update(ctx context.Context, userID, projectID, name, description string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.New(errs.InvalidArgument, "project name is required")
	}
	if len(name) > maxNameLen {
		return nil, errs.Newf(errs.InvalidArgument, "project name exceeds %d characters", maxNameLen)
	}

	result, err := s.db.SQL().ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		name, strings.TrimSpace(description), s.now().Unix(), userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, errs.New(errs.NotFound, "project not found")
	}
	return s.Get(ctx, userID, projectID)
}

// Delete removes a project. Meetings keep their rows but lose the grouping.
func (s *Service) Delete(ctx context.Context, userID, projectID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"DELETE FROM projects WHERE user_id = ? AND id = ?", userID, projectID)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errs.New(errs.NotFound, "project not found")
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE meetings SET project_id = '' WHERE user_id = ? AND project_id = ?",
			userID, projectID); err != nil {
			return fmt.Errorf("detach meetings: %w", err)
		}
		return nil
	})
}

func scanProject(row *sql.Row) (*Project, error) {
	var project Project
	var createdAt, updatedAt int64
	if err := row.Scan(&project.ID, &project.UserID, &project.Name,
		&project.Description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	project.CreatedAt = time.Unix(createdAt, 0)
	project.UpdatedAt = time.Unix(updatedAt, 0)
	return &project, nil
}
