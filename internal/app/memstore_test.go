package app

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"taskboard/api/internal/agent"
	"taskboard/api/internal/config"
	"taskboard/api/internal/store"
)

// memStore is an in-memory dataStore with the same ordering and not-found
// semantics as the Postgres implementation.
type memStore struct {
	mu    sync.Mutex
	clock time.Time

	users         map[string]store.User
	projects      map[string]store.Project
	perms         map[string]map[string]string
	permGranted   map[string]map[string]time.Time
	tasks         map[string]store.Task
	conversations map[string]store.Conversation
	messages      []store.Message
}

func newMemStore() *memStore {
	return &memStore{
		clock:         time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		users:         map[string]store.User{},
		projects:      map[string]store.Project{},
		perms:         map[string]map[string]string{},
		permGranted:   map[string]map[string]time.Time{},
		tasks:         map[string]store.Task{},
		conversations: map[string]store.Conversation{},
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) EnsureUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[user.ID]; ok {
		existing.DisplayName = user.DisplayName
		m.users[user.ID] = existing
		return existing, nil
	}
	user.CreatedAt = m.tick()
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUser(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) CreateProject(_ context.Context, project store.Project) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	project.CreatedAt = now
	project.UpdatedAt = now
	m.projects[project.ID] = project
	m.grantLocked(project.OwnerID, project.ID, "admin")
	return project, nil
}

func (m *memStore) GetProject(_ context.Context, id string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) ListProjectsForUser(_ context.Context, userID string) ([]store.ProjectWithRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.ProjectWithRole
	for projectID, role := range m.perms[userID] {
		project, ok := m.projects[projectID]
		if !ok {
			continue
		}
		items = append(items, store.ProjectWithRole{Project: project, Role: role})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

func (m *memStore) UpdateProject(_ context.Context, id string, name, description *string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	if name != nil {
		project.Name = *name
	}
	if description != nil {
		project.Description = *description
	}
	project.UpdatedAt = m.tick()
	m.projects[id] = project
	return project, nil
}

func (m *memStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return sql.ErrNoRows
	}
	for taskID, task := range m.tasks {
		if task.ProjectID == id {
			delete(m.tasks, taskID)
		}
	}
	for userID := range m.perms {
		delete(m.perms[userID], id)
	}
	delete(m.projects, id)
	return nil
}

func (m *memStore) GetRole(_ context.Context, userID, projectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.perms[userID][projectID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return role, nil
}

func (m *memStore) UpsertPermission(_ context.Context, userID, projectID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantLocked(userID, projectID, role)
	return nil
}

func (m *memStore) grantLocked(userID, projectID, role string) {
	if m.perms[userID] == nil {
		m.perms[userID] = map[string]string{}
		m.permGranted[userID] = map[string]time.Time{}
	}
	if _, ok := m.perms[userID][projectID]; !ok {
		m.permGranted[userID][projectID] = m.tick()
	}
	m.perms[userID][projectID] = role
}

func (m *memStore) DeletePermission(_ context.Context, userID, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[userID][projectID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.perms[userID], projectID)
	delete(m.permGranted[userID], projectID)
	return nil
}

func (m *memStore) ListMembers(_ context.Context, projectID string) ([]store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var members []store.Member
	for userID, grants := range m.perms {
		role, ok := grants[projectID]
		if !ok {
			continue
		}
		user := m.users[userID]
		members = append(members, store.Member{
			UserID:      userID,
			ProjectID:   projectID,
			Role:        role,
			DisplayName: user.DisplayName,
			Email:       user.Email,
			GrantedAt:   m.permGranted[userID][projectID],
		})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].GrantedAt.Before(members[j].GrantedAt)
	})
	return members, nil
}

func (m *memStore) InsertTask(_ context.Context, task store.Task) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	task.CreatedAt = now
	task.UpdatedAt = now
	m.tasks[task.ID] = task
	return task, nil
}

func (m *memStore) GetTask(_ context.Context, id string) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (m *memStore) UpdateTask(_ context.Context, id string, patch store.TaskPatch) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return store.Task{}, sql.ErrNoRows
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Completed != nil {
		task.Completed = *patch.Completed
	}
	if patch.Position != nil {
		task.Position = *patch.Position
	}
	if patch.AssigneeID != nil {
		task.AssigneeID = patch.AssigneeID
	}
	if patch.DueDate != nil {
		task.DueDate = patch.DueDate
	}
	task.UpdatedAt = m.tick()
	m.tasks[id] = task
	return task, nil
}

func (m *memStore) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) ListTasks(_ context.Context, projectID string) ([]store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tasks []store.Task
	for _, task := range m.tasks {
		if task.ProjectID == projectID {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (m *memStore) CountTasks(_ context.Context, projectID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, task := range m.tasks {
		if task.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) InsertConversation(_ context.Context, conversation store.Conversation) (store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now
	m.conversations[conversation.ID] = conversation
	return conversation, nil
}

func (m *memStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[id]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return conversation, nil
}

func (m *memStore) TouchConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conversation, ok := m.conversations[id]
	if !ok {
		return sql.ErrNoRows
	}
	conversation.UpdatedAt = m.tick()
	m.conversations[id] = conversation
	return nil
}

func (m *memStore) ListConversations(_ context.Context, userID string) ([]store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Conversation
	for _, conversation := range m.conversations {
		if conversation.UserID == userID {
			items = append(items, conversation)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

func (m *memStore) InsertMessage(_ context.Context, message store.Message) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	message.CreatedAt = m.tick()
	m.messages = append(m.messages, message)
	return message, nil
}

func (m *memStore) ListRecentMessages(_ context.Context, conversationID string, limit int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []store.Message
	for _, message := range m.messages {
		if message.ConversationID == conversationID {
			items = append(items, message)
		}
	}
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, runtime agent.Runtime) (*Service, *memStore) {
	t.Helper()
	ms := newMemStore()
	cfg := config.Config{TokenSecret: "test-secret", AgentMaxTurns: 5}
	svc := New(cfg, ms, nil, nil, runtime, testLogger())
	return svc, ms
}

func seedUser(t *testing.T, ms *memStore, id, name string) Identity {
	t.Helper()
	user, err := ms.EnsureUser(context.Background(), store.User{ID: id, DisplayName: name, Email: id + "@example.com"})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return Identity{UserID: user.ID, Name: user.DisplayName, Email: user.Email}
}

func seedProject(t *testing.T, svc *Service, owner Identity, name string) string {
	t.Helper()
	payload, err := svc.CreateProject(context.Background(), owner, name, "")
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return payload["id"].(string)
}

func grant(t *testing.T, ms *memStore, userID, projectID, role string) {
	t.Helper()
	if err := ms.UpsertPermission(context.Background(), userID, projectID, role); err != nil {
		t.Fatalf("grant %s on %s: %v", role, projectID, err)
	}
}
