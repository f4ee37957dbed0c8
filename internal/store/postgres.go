package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser upserts the identity-gateway user so foreign keys hold.
func (s *PostgresStore) EnsureUser(ctx context.Context, user User) (User, error) {
	email := user.Email
	if email == "" {
		email = placeholderEmail(user.ID)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, display_name, email, created_at
	`, user.ID, user.DisplayName, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

// placeholderEmail fills users.email when the identity gateway sends none.
// Keyed on the unique id so two users sharing a display name never collide
// on the email unique constraint.
func placeholderEmail(userID string) string {
	return strings.ToLower(userID) + "@local.taskboard.dev"
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateProject inserts the project and the creator's admin grant in one
// transaction so no project exists without an admin.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project) (Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, fmt.Errorf("begin create project tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, description, owner_id, created_at, updated_at
	`, project.ID, project.Name, project.Description, project.OwnerID).Scan(
		&project.ID, &project.Name, &project.Description, &project.OwnerID,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO permissions (user_id, project_id, role)
		VALUES ($1, $2, 'admin')
	`, project.OwnerID, project.ID); err != nil {
		return Project{}, fmt.Errorf("grant owner admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Project{}, fmt.Errorf("commit create project tx: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]ProjectWithRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.owner_id, p.created_at, p.updated_at, perm.role
		FROM projects p
		JOIN permissions perm ON perm.project_id = p.id
		WHERE perm.user_id = $1
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectWithRole, 0)
	for rows.Next() {
		var item ProjectWithRole
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt, &item.Role); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID string, name, description *string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET name=COALESCE($2, name), description=COALESCE($3, description), updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, description, owner_id, created_at, updated_at
	`, projectID, name, description).Scan(
		&item.ID, &item.Name, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

// DeleteProject removes tasks, permissions, and the project row in one
// transaction.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete project tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("delete project tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM permissions WHERE project_id=$1`, projectID); err != nil {
		return fmt.Errorf("delete project permissions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// GetRole returns the user's role on the project, or sql.ErrNoRows when no
// grant exists.
func (s *PostgresStore) GetRole(ctx context.Context, userID, projectID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM permissions WHERE user_id=$1 AND project_id=$2
	`, userID, projectID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) UpsertPermission(ctx context.Context, userID, projectID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permissions (user_id, project_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, project_id) DO UPDATE SET role=EXCLUDED.role, updated_at=NOW()
	`, userID, projectID, role)
	if err != nil {
		return fmt.Errorf("upsert permission: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePermission(ctx context.Context, userID, projectID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions WHERE user_id=$1 AND project_id=$2
	`, userID, projectID)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT perm.user_id, perm.project_id, perm.role, u.display_name, u.email, perm.created_at
		FROM permissions perm
		JOIN users u ON u.id = perm.user_id
		WHERE perm.project_id = $1
		ORDER BY perm.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.UserID, &item.ProjectID, &item.Role, &item.DisplayName, &item.Email, &item.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, creator_id, assignee_id, title, description, status, completed, position, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, task.ID, task.ProjectID, task.CreatorID, task.AssigneeID, task.Title,
		task.Description, task.Status, task.Completed, task.Position, task.DueDate,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var item Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, creator_id, assignee_id, title, description, status, completed, position, due_date, created_at, updated_at
		FROM tasks
		WHERE id=$1
	`, taskID).Scan(
		&item.ID, &item.ProjectID, &item.CreatorID, &item.AssigneeID, &item.Title,
		&item.Description, &item.Status, &item.Completed, &item.Position,
		&item.DueDate, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (Task, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{taskID}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Completed != nil {
		add("completed", *patch.Completed)
	}
	if patch.Position != nil {
		add("position", *patch.Position)
	}
	if patch.AssigneeID != nil {
		add("assignee_id", *patch.AssigneeID)
	}
	if patch.DueDate != nil {
		add("due_date", *patch.DueDate)
	}

	query := fmt.Sprintf(`
		UPDATE tasks SET %s WHERE id=$1
		RETURNING id, project_id, creator_id, assignee_id, title, description, status, completed, position, due_date, created_at, updated_at
	`, strings.Join(sets, ", "))

	var item Task
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&item.ID, &item.ProjectID, &item.CreatorID, &item.AssigneeID, &item.Title,
		&item.Description, &item.Status, &item.Completed, &item.Position,
		&item.DueDate, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListTasks returns the project's tasks in board order, position ascending
// with id as the tie-break.
func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, creator_id, assignee_id, title, description, status, completed, position, due_date, created_at, updated_at
		FROM tasks
		WHERE project_id=$1
		ORDER BY position ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(
			&item.ID, &item.ProjectID, &item.CreatorID, &item.AssigneeID, &item.Title,
			&item.Description, &item.Status, &item.Completed, &item.Position,
			&item.DueDate, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountTasks(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=$1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, conversation Conversation) (Conversation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, user_id, project_id, title)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, conversation.ID, conversation.UserID, conversation.ProjectID, conversation.Title).Scan(&conversation.CreatedAt, &conversation.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return conversation, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var item Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, project_id, title, created_at, updated_at
		FROM conversations
		WHERE id=$1
	`, conversationID).Scan(&item.ID, &item.UserID, &item.ProjectID, &item.Title, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Conversation{}, err
	}
	return item, nil
}

func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, project_id, title, created_at, updated_at
		FROM conversations
		WHERE user_id=$1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		var item Conversation
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProjectID, &item.Title, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) (Message, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, tool_calls)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, message.ID, message.ConversationID, message.UserID, message.Role, message.Content, nullableJSON(message.ToolCalls)).Scan(&message.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return message, nil
}

// ListRecentMessages returns the newest limit messages in chronological order.
func (s *PostgresStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, tool_calls, created_at
		FROM (
			SELECT id, conversation_id, user_id, role, content, tool_calls, created_at
			FROM messages
			WHERE conversation_id=$1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.UserID, &item.Role, &item.Content, &item.ToolCalls, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func nullableJSON(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}
