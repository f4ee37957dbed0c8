package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/api/internal/events"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// CreateProject inserts the project together with the creator's admin grant.
func (s *Service) CreateProject(ctx context.Context, actor Identity, name, description string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if err := validateProjectName(name); err != nil {
		return nil, err
	}
	if err := validateProjectDescription(description); err != nil {
		return nil, err
	}

	project, err := s.store.CreateProject(ctx, store.Project{
		ID:          util.NewID("prj"),
		Name:        name,
		Description: description,
		OwnerID:     actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	s.publish(ctx, events.TopicProjectCreated, map[string]any{
		"project_id": project.ID,
		"name":       project.Name,
		"owner_id":   project.OwnerID,
	})
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{ID: project.ID, Name: project.Name, Description: project.Description})
	}

	payload := projectPayload(project)
	payload["role"] = string(rbac.RoleAdmin)
	return payload, nil
}

// ListProjects returns every project the actor holds a grant on, newest
// first, each annotated with the actor's role.
func (s *Service) ListProjects(ctx context.Context, actor Identity) (map[string]any, error) {
	projects, err := s.store.ListProjectsForUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		payload := projectPayload(project.Project)
		payload["role"] = project.Role
		items = append(items, payload)
	}
	return map[string]any{"projects": items}, nil
}

func (s *Service) GetProject(ctx context.Context, actor Identity, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, actor.UserID, projectID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("project not found")
	}
	if err != nil {
		return nil, err
	}
	role, err := s.store.GetRole(ctx, actor.UserID, projectID)
	if err != nil {
		return nil, err
	}
	payload := projectPayload(project)
	payload["role"] = role
	return payload, nil
}

// UpdateProject requires the admin tier. Nil fields are left untouched.
func (s *Service) UpdateProject(ctx context.Context, actor Identity, projectID string, name, description *string) (map[string]any, error) {
	if err := s.authorize(ctx, actor.UserID, projectID, rbac.RoleAdmin); err != nil {
		return nil, err
	}
	if name != nil {
		trimmed := strings.TrimSpace(*name)
		if err := validateProjectName(trimmed); err != nil {
			return nil, err
		}
		name = &trimmed
	}
	if description != nil {
		if err := validateProjectDescription(*description); err != nil {
			return nil, err
		}
	}

	project, err := s.store.UpdateProject(ctx, projectID, name, description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("project not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update project: %w", err)
	}

	delta := map[string]any{"project_id": project.ID}
	if name != nil {
		delta["name"] = *name
	}
	if description != nil {
		delta["description"] = *description
	}
	s.publish(ctx, events.TopicProjectUpdated, delta)
	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{ID: project.ID, Name: project.Name, Description: project.Description})
	}

	return projectPayload(project), nil
}

// DeleteProject cascades tasks, then permissions, then the project row.
func (s *Service) DeleteProject(ctx context.Context, actor Identity, projectID string) error {
	if err := s.authorize(ctx, actor.UserID, projectID, rbac.RoleAdmin); err != nil {
		return err
	}
	err := s.store.DeleteProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("project not found")
	}
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}

	s.publish(ctx, events.TopicProjectDeleted, map[string]any{"project_id": projectID})
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

// AddMember grants target a role on the project. Re-granting overwrites.
func (s *Service) AddMember(ctx context.Context, actor Identity, projectID, targetUserID, role string) (map[string]any, error) {
	if err := s.authorize(ctx, actor.UserID, projectID, rbac.RoleAdmin); err != nil {
		return nil, err
	}
	if strings.TrimSpace(targetUserID) == "" {
		return nil, errValidation("user_id is required", map[string]any{"field": "user_id"})
	}
	if !rbac.Valid(role) {
		return nil, errValidation("role must be one of viewer, member, admin", map[string]any{"field": "role"})
	}
	if _, err := s.store.GetUser(ctx, targetUserID); errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("user not found")
	} else if err != nil {
		return nil, err
	}

	if err := s.store.UpsertPermission(ctx, targetUserID, projectID, role); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}

	s.publish(ctx, events.TopicProjectMemberAdded, map[string]any{
		"project_id": projectID,
		"user_id":    targetUserID,
		"role":       role,
	})
	return map[string]any{"project_id": projectID, "user_id": targetUserID, "role": role}, nil
}

// RemoveMember revokes target's grant. Removing the last admin is permitted.
func (s *Service) RemoveMember(ctx context.Context, actor Identity, projectID, targetUserID string) error {
	if err := s.authorize(ctx, actor.UserID, projectID, rbac.RoleAdmin); err != nil {
		return err
	}
	err := s.store.DeletePermission(ctx, targetUserID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("member not found")
	}
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	s.publish(ctx, events.TopicProjectMemberRemoved, map[string]any{
		"project_id": projectID,
		"user_id":    targetUserID,
	})
	return nil
}

func (s *Service) ListMembers(ctx context.Context, actor Identity, projectID string) (map[string]any, error) {
	if err := s.authorize(ctx, actor.UserID, projectID, rbac.RoleViewer); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, map[string]any{
			"user_id":      member.UserID,
			"display_name": member.DisplayName,
			"email":        member.Email,
			"role":         member.Role,
			"granted_at":   member.GrantedAt.UTC().Format(time.RFC3339),
		})
	}
	return map[string]any{"members": items}, nil
}
