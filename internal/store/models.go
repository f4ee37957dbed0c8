package store

import "time"

const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
}

type Project struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectWithRole is a project annotated with the requesting user's role.
type ProjectWithRole struct {
	Project
	Role string
}

type Member struct {
	UserID      string
	ProjectID   string
	Role        string
	DisplayName string
	Email       string
	GrantedAt   time.Time
}

type Task struct {
	ID          string
	ProjectID   string
	CreatorID   string
	AssigneeID  *string
	Title       string
	Description string
	Status      string
	Completed   bool
	Position    int
	DueDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Conversation struct {
	ID        string
	UserID    string
	ProjectID *string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Role           string
	Content        string
	ToolCalls      []byte
	CreatedAt      time.Time
}

// TaskPatch carries only the fields an update supplies. Nil means untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *string
	Completed   *bool
	Position    *int
	AssigneeID  *string
	DueDate     *time.Time
}
