package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/agent"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/events"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

// Identity is the authenticated caller, as asserted by the identity gateway.
type Identity struct {
	UserID string
	Name   string
	Email  string
}

type dataStore interface {
	EnsureUser(context.Context, store.User) (store.User, error)
	GetUser(context.Context, string) (store.User, error)

	CreateProject(context.Context, store.Project) (store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string) ([]store.ProjectWithRole, error)
	UpdateProject(context.Context, string, *string, *string) (store.Project, error)
	DeleteProject(context.Context, string) error

	GetRole(context.Context, string, string) (string, error)
	UpsertPermission(context.Context, string, string, string) error
	DeletePermission(context.Context, string, string) error
	ListMembers(context.Context, string) ([]store.Member, error)

	InsertTask(context.Context, store.Task) (store.Task, error)
	GetTask(context.Context, string) (store.Task, error)
	UpdateTask(context.Context, string, store.TaskPatch) (store.Task, error)
	DeleteTask(context.Context, string) error
	ListTasks(context.Context, string) ([]store.Task, error)
	CountTasks(context.Context, string) (int, error)

	InsertConversation(context.Context, store.Conversation) (store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	TouchConversation(context.Context, string) error
	ListConversations(context.Context, string) ([]store.Conversation, error)
	InsertMessage(context.Context, store.Message) (store.Message, error)
	ListRecentMessages(context.Context, string, int) ([]store.Message, error)

	Ping(ctx context.Context) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notifier *events.Notifier
	search   *search.Service
	runtime  agent.Runtime
	logger   *logrus.Logger
}

// New wires the service. notifier, searchSvc, and runtime may be nil when the
// corresponding collaborator is not configured.
func New(cfg config.Config, dataStore dataStore, notifier *events.Notifier, searchSvc *search.Service, runtime agent.Runtime, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		notifier: notifier,
		search:   searchSvc,
		runtime:  runtime,
		logger:   logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IdentityFromToken verifies the bearer token and upserts the user row so
// later foreign keys hold.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (Identity, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Identity{}, err
	}
	user, err := s.store.EnsureUser(ctx, store.User{
		ID:          claims.Sub,
		DisplayName: claims.Name,
		Email:       claims.Email,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("ensure user: %w", err)
	}
	return Identity{UserID: user.ID, Name: user.DisplayName, Email: user.Email}, nil
}

// EnsureIdentity upserts the user row and returns the identity. Used by
// surfaces that authenticate out of band, like the MCP server's fixed actor.
func (s *Service) EnsureIdentity(ctx context.Context, userID, name string) (Identity, error) {
	user, err := s.store.EnsureUser(ctx, store.User{ID: userID, DisplayName: name})
	if err != nil {
		return Identity{}, fmt.Errorf("ensure user: %w", err)
	}
	return Identity{UserID: user.ID, Name: user.DisplayName, Email: user.Email}, nil
}

// authorize checks that userID holds at least required on projectID. A
// missing project and a missing grant are indistinguishable to the caller.
func (s *Service) authorize(ctx context.Context, userID, projectID string, required rbac.Role) error {
	role, err := s.store.GetRole(ctx, userID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return errPermissionDenied()
	}
	if err != nil {
		return fmt.Errorf("lookup role: %w", err)
	}
	if !rbac.Allows(rbac.Role(role), required) {
		return errPermissionDenied()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, topic string, payload map[string]any) {
	s.notifier.Publish(ctx, topic, payload)
}

func validateProjectName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return errValidation("name is required", map[string]any{"field": "name"})
	}
	if len(trimmed) > 100 {
		return errValidation("name must be at most 100 characters", map[string]any{"field": "name"})
	}
	return nil
}

func validateProjectDescription(description string) error {
	if len(description) > 500 {
		return errValidation("description must be at most 500 characters", map[string]any{"field": "description"})
	}
	return nil
}

func validateTaskTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return errValidation("title is required", map[string]any{"field": "title"})
	}
	if len(trimmed) > 200 {
		return errValidation("title must be at most 200 characters", map[string]any{"field": "title"})
	}
	return nil
}

func validateTaskDescription(description string) error {
	if len(description) > 1000 {
		return errValidation("description must be at most 1000 characters", map[string]any{"field": "description"})
	}
	return nil
}

func validateTaskStatus(status string) error {
	switch status {
	case store.StatusTodo, store.StatusInProgress, store.StatusCompleted:
		return nil
	default:
		return errValidation("status must be one of todo, in_progress, completed", map[string]any{"field": "status"})
	}
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"owner_id":    p.OwnerID,
		"created_at":  p.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func taskPayload(t store.Task) map[string]any {
	payload := map[string]any{
		"id":          t.ID,
		"project_id":  t.ProjectID,
		"creator_id":  t.CreatorID,
		"title":       t.Title,
		"description": t.Description,
		"status":      t.Status,
		"completed":   t.Completed,
		"position":    t.Position,
		"created_at":  t.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if t.AssigneeID != nil {
		payload["assignee_id"] = *t.AssigneeID
	} else {
		payload["assignee_id"] = nil
	}
	if t.DueDate != nil {
		payload["due_date"] = t.DueDate.UTC().Format(time.RFC3339)
	} else {
		payload["due_date"] = nil
	}
	return payload
}
