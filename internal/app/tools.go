package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskboard/api/internal/agent"
)

// ToolCallRecord is the wire shape of one executed tool call, returned to
// the chat caller and persisted as message metadata.
type ToolCallRecord struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

var statusValues = []string{"todo", "in_progress", "completed"}

func toolSpecs() []agent.ToolSpec {
	return []agent.ToolSpec{
		{
			Name:        "add_task",
			Description: "Create a new task in a project. Use this when the user wants to add, create, or make a new task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id":  map[string]any{"type": "string", "description": "The ID of the project to add the task to"},
					"title":       map[string]any{"type": "string", "description": "The title of the task"},
					"description": map[string]any{"type": "string", "description": "Optional detailed description of the task"},
					"due_date":    map[string]any{"type": "string", "description": "Optional due date in ISO format (YYYY-MM-DD)"},
				},
				"required": []string{"project_id", "title"},
			},
		},
		{
			Name:        "list_tasks",
			Description: "List tasks visible to the user. Use this to show, display, or get tasks. Can filter by project and status.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id": map[string]any{"type": "string", "description": "Optional project ID to list tasks from; omit to list across all projects"},
					"status":     map[string]any{"type": "string", "enum": statusValues, "description": "Optional filter by task status"},
				},
				"required": []string{},
			},
		},
		{
			Name:        "complete_task",
			Description: "Mark a task as completed. Use this when the user wants to finish, complete, or mark done a task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id": map[string]any{"type": "string", "description": "The ID of the task to complete"},
				},
				"required": []string{"task_id"},
			},
		},
		{
			Name:        "update_task",
			Description: "Update a task's properties. Use this to modify, edit, or change a task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id":     map[string]any{"type": "string", "description": "The ID of the task to update"},
					"title":       map[string]any{"type": "string", "description": "New title for the task"},
					"description": map[string]any{"type": "string", "description": "New description for the task"},
					"status":      map[string]any{"type": "string", "enum": statusValues, "description": "New status for the task"},
				},
				"required": []string{"task_id"},
			},
		},
		{
			Name:        "delete_task",
			Description: "Delete a task. Use this when the user wants to remove or delete a task. Requires admin permission.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task_id": map[string]any{"type": "string", "description": "The ID of the task to delete"},
				},
				"required": []string{"task_id"},
			},
		},
		{
			Name:        "get_user_projects",
			Description: "Get the list of projects the user has access to. Use this when you need to know which projects are available.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
				"required":   []string{},
			},
		},
	}
}

// executeTool runs a single agent-requested tool call as actor. Domain
// failures come back as a structured result instead of an error so the agent
// can read them and recover; only infrastructure faults surface as errors.
func (s *Service) executeTool(ctx context.Context, actor Identity, call agent.ToolCall) (ToolCallRecord, error) {
	record := ToolCallRecord{Name: call.Name, Arguments: map[string]any{}}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &record.Arguments); err != nil {
			record.Result = failureResult("VALIDATION_ERROR", "tool arguments are not valid JSON")
			return record, nil
		}
	}

	// The acting identity comes from the authenticated request. An agent
	// claiming to act as someone else is refused outright.
	if claimed, ok := record.Arguments["user_id"].(string); ok && claimed != "" && claimed != actor.UserID {
		record.Result = failureResult("PERMISSION_DENIED", "tool calls act as the authenticated user only")
		return record, nil
	}

	result, err := s.dispatchTool(ctx, actor, call.Name, record.Arguments)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			record.Result = failureResult(domainErr.Code, domainErr.Message)
			return record, nil
		}
		return record, err
	}
	record.Result = result
	return record, nil
}

func (s *Service) dispatchTool(ctx context.Context, actor Identity, name string, args map[string]any) (map[string]any, error) {
	switch name {
	case "add_task":
		input := CreateTaskInput{
			ProjectID:   argString(args, "project_id"),
			Title:       argString(args, "title"),
			Description: argString(args, "description"),
		}
		if raw := argString(args, "due_date"); raw != "" {
			due, err := parseDueDate(raw)
			if err != nil {
				return nil, errValidation("due_date must be an ISO date", map[string]any{"field": "due_date"})
			}
			input.DueDate = &due
		}
		task, err := s.CreateTask(ctx, actor, input)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success": true,
			"task_id": task["id"],
			"title":   task["title"],
			"status":  task["status"],
			"message": fmt.Sprintf("Task %q created", task["title"]),
		}, nil

	case "list_tasks":
		listing, err := s.ListTasks(ctx, actor, TaskFilter{
			ProjectID: argString(args, "project_id"),
			Status:    argString(args, "status"),
		})
		if err != nil {
			return nil, err
		}
		tasks := listing["tasks"].([]map[string]any)
		return map[string]any{
			"success": true,
			"tasks":   tasks,
			"message": fmt.Sprintf("Found %d tasks", len(tasks)),
		}, nil

	case "complete_task":
		status := "completed"
		task, err := s.UpdateTask(ctx, actor, argString(args, "task_id"), UpdateTaskInput{Status: &status})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success": true,
			"task_id": task["id"],
			"title":   task["title"],
			"status":  task["status"],
			"message": fmt.Sprintf("Task %q marked as completed", task["title"]),
		}, nil

	case "update_task":
		var input UpdateTaskInput
		if v, ok := args["title"].(string); ok {
			input.Title = &v
		}
		if v, ok := args["description"].(string); ok {
			input.Description = &v
		}
		if v, ok := args["status"].(string); ok {
			input.Status = &v
		}
		task, err := s.UpdateTask(ctx, actor, argString(args, "task_id"), input)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success": true,
			"task_id": task["id"],
			"title":   task["title"],
			"status":  task["status"],
			"message": fmt.Sprintf("Task %q updated", task["title"]),
		}, nil

	case "delete_task":
		taskID := argString(args, "task_id")
		task, err := s.GetTask(ctx, actor, taskID)
		if err != nil {
			return nil, err
		}
		if err := s.DeleteTask(ctx, actor, taskID); err != nil {
			return nil, err
		}
		return map[string]any{
			"success": true,
			"task_id": taskID,
			"title":   task["title"],
			"message": fmt.Sprintf("Task %q deleted", task["title"]),
		}, nil

	case "get_user_projects":
		listing, err := s.ListProjects(ctx, actor)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":  true,
			"projects": listing["projects"],
		}, nil

	default:
		return nil, errValidation(fmt.Sprintf("unknown tool: %s", name), nil)
	}
}

func failureResult(code, message string) map[string]any {
	return map[string]any{"success": false, "error": code, "message": message}
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func parseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
