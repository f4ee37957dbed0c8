package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"taskboard/api/internal/events"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type CreateTaskInput struct {
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	AssigneeID  *string    `json:"assignee_id"`
}

type UpdateTaskInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Status      *string    `json:"status"`
	AssigneeID  *string    `json:"assignee_id"`
	DueDate     *time.Time `json:"due_date"`
}

type TaskFilter struct {
	ProjectID string
	Status    string
	Sort      string
}

// CreateTask appends the task to the end of the project board: position is
// the count of existing tasks at creation time.
func (s *Service) CreateTask(ctx context.Context, actor Identity, input CreateTaskInput) (map[string]any, error) {
	if strings.TrimSpace(input.ProjectID) == "" {
		return nil, errValidation("project_id is required", map[string]any{"field": "project_id"})
	}
	if err := s.authorize(ctx, actor.UserID, input.ProjectID, rbac.RoleMember); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if err := validateTaskTitle(title); err != nil {
		return nil, err
	}
	if err := validateTaskDescription(input.Description); err != nil {
		return nil, err
	}

	position, err := s.store.CountTasks(ctx, input.ProjectID)
	if err != nil {
		return nil, err
	}

	task, err := s.store.InsertTask(ctx, store.Task{
		ID:          util.NewID("tsk"),
		ProjectID:   input.ProjectID,
		CreatorID:   actor.UserID,
		AssigneeID:  input.AssigneeID,
		Title:       title,
		Description: input.Description,
		Status:      store.StatusTodo,
		Completed:   false,
		Position:    position,
		DueDate:     input.DueDate,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.publish(ctx, events.TopicTaskCreated, map[string]any{
		"task_id":    task.ID,
		"project_id": task.ProjectID,
		"title":      task.Title,
		"position":   task.Position,
	})
	if s.search != nil {
		s.search.IndexTask(taskRecord(task))
	}
	return taskPayload(task), nil
}

// ListTasks returns board order by default: position ascending with id as
// the tie-break. sort accepts position, created, title, due_date.
func (s *Service) ListTasks(ctx context.Context, actor Identity, filter TaskFilter) (map[string]any, error) {
	if filter.Status != "" {
		if err := validateTaskStatus(filter.Status); err != nil {
			return nil, err
		}
	}
	switch filter.Sort {
	case "", "position", "created", "title", "due_date":
	default:
		return nil, errValidation("sort must be one of position, created, title, due_date", map[string]any{"field": "sort"})
	}

	var tasks []store.Task
	if filter.ProjectID != "" {
		if err := s.authorize(ctx, actor.UserID, filter.ProjectID, rbac.RoleViewer); err != nil {
			return nil, err
		}
		var err error
		tasks, err = s.store.ListTasks(ctx, filter.ProjectID)
		if err != nil {
			return nil, err
		}
	} else {
		projects, err := s.store.ListProjectsForUser(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		for _, project := range projects {
			projectTasks, err := s.store.ListTasks(ctx, project.ID)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, projectTasks...)
		}
	}

	if filter.Status != "" {
		filtered := tasks[:0]
		for _, task := range tasks {
			if task.Status == filter.Status {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}

	sortTasks(tasks, filter.Sort)

	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskPayload(task))
	}
	return map[string]any{"tasks": items}, nil
}

func (s *Service) GetTask(ctx context.Context, actor Identity, taskID string) (map[string]any, error) {
	task, err := s.loadTask(ctx, actor, taskID, rbac.RoleViewer)
	if err != nil {
		return nil, err
	}
	return taskPayload(task), nil
}

// UpdateTask patches the supplied fields. A status change keeps the
// completed flag in sync. Emits a changed-fields-only delta.
func (s *Service) UpdateTask(ctx context.Context, actor Identity, taskID string, input UpdateTaskInput) (map[string]any, error) {
	task, err := s.loadTask(ctx, actor, taskID, rbac.RoleMember)
	if err != nil {
		return nil, err
	}

	patch := store.TaskPatch{AssigneeID: input.AssigneeID, DueDate: input.DueDate}
	delta := map[string]any{"task_id": task.ID, "project_id": task.ProjectID}

	if input.Title != nil {
		trimmed := strings.TrimSpace(*input.Title)
		if err := validateTaskTitle(trimmed); err != nil {
			return nil, err
		}
		patch.Title = &trimmed
		delta["title"] = trimmed
	}
	if input.Description != nil {
		if err := validateTaskDescription(*input.Description); err != nil {
			return nil, err
		}
		patch.Description = input.Description
		delta["description"] = *input.Description
	}
	if input.Status != nil {
		if err := validateTaskStatus(*input.Status); err != nil {
			return nil, err
		}
		completed := *input.Status == store.StatusCompleted
		patch.Status = input.Status
		patch.Completed = &completed
		delta["status"] = *input.Status
		delta["completed"] = completed
	}
	if input.AssigneeID != nil {
		delta["assignee_id"] = *input.AssigneeID
	}
	if input.DueDate != nil {
		delta["due_date"] = input.DueDate.UTC().Format(time.RFC3339)
	}

	updated, err := s.store.UpdateTask(ctx, taskID, patch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	s.publish(ctx, events.TopicTaskUpdated, delta)
	if updated.Completed && !task.Completed {
		s.publish(ctx, events.TopicTaskCompleted, map[string]any{
			"task_id":    updated.ID,
			"project_id": updated.ProjectID,
		})
	}
	if s.search != nil {
		s.search.IndexTask(taskRecord(updated))
	}
	return taskPayload(updated), nil
}

// MoveTask sets status and position verbatim. Sibling positions are never
// renumbered; ties resolve at read time by id.
func (s *Service) MoveTask(ctx context.Context, actor Identity, taskID, newStatus string, newPosition int) (map[string]any, error) {
	task, err := s.loadTask(ctx, actor, taskID, rbac.RoleMember)
	if err != nil {
		return nil, err
	}
	if err := validateTaskStatus(newStatus); err != nil {
		return nil, err
	}
	if newPosition < 0 {
		return nil, errValidation("position must be non-negative", map[string]any{"field": "position"})
	}

	completed := newStatus == store.StatusCompleted
	updated, err := s.store.UpdateTask(ctx, taskID, store.TaskPatch{
		Status:    &newStatus,
		Completed: &completed,
		Position:  &newPosition,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("move task: %w", err)
	}

	s.publish(ctx, events.TopicTaskUpdated, map[string]any{
		"task_id":    updated.ID,
		"project_id": updated.ProjectID,
		"status":     updated.Status,
		"completed":  updated.Completed,
		"position":   updated.Position,
	})
	if completed && !task.Completed {
		s.publish(ctx, events.TopicTaskCompleted, map[string]any{
			"task_id":    updated.ID,
			"project_id": updated.ProjectID,
		})
	}
	return taskPayload(updated), nil
}

// DeleteTask is admin-only. Remaining positions keep their gaps.
func (s *Service) DeleteTask(ctx context.Context, actor Identity, taskID string) error {
	task, err := s.loadTask(ctx, actor, taskID, rbac.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("task not found")
		}
		return fmt.Errorf("delete task: %w", err)
	}

	s.publish(ctx, events.TopicTaskDeleted, map[string]any{
		"task_id":    task.ID,
		"project_id": task.ProjectID,
	})
	if s.search != nil {
		s.search.DeleteTask(task.ID)
	}
	return nil
}

// loadTask resolves the task and checks the actor's tier on its project. An
// unreadable task is reported as not found, a readable one the actor lacks
// the tier for as permission denied.
func (s *Service) loadTask(ctx context.Context, actor Identity, taskID string, required rbac.Role) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, errNotFound("task not found")
	}
	if err != nil {
		return store.Task{}, err
	}
	if err := s.authorize(ctx, actor.UserID, task.ProjectID, rbac.RoleViewer); err != nil {
		return store.Task{}, errNotFound("task not found")
	}
	if err := s.authorize(ctx, actor.UserID, task.ProjectID, required); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func sortTasks(tasks []store.Task, key string) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch key {
		case "created":
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case "title":
			if a.Title != b.Title {
				return a.Title < b.Title
			}
		case "due_date":
			// Tasks without a due date sort last.
			switch {
			case a.DueDate == nil && b.DueDate != nil:
				return false
			case a.DueDate != nil && b.DueDate == nil:
				return true
			case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
				return a.DueDate.Before(*b.DueDate)
			}
		default:
			if a.Position != b.Position {
				return a.Position < b.Position
			}
		}
		return a.ID < b.ID
	})
}

func taskRecord(t store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		ProjectID:   t.ProjectID,
		Status:      t.Status,
	}
}
