// Package mcpserver exposes the task tool catalogue over the Model Context
// Protocol (stdio transport), so external MCP clients can drive the board
// with the same permission checks the HTTP chat agent runs under.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskboard/api/internal/app"
	"taskboard/api/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New builds the MCP server. Every tool acts as the fixed actor identity the
// process was configured with; tools never take a caller-supplied user id.
func New(service *app.Service, actor app.Identity) *server.MCPServer {
	s := server.NewMCPServer(
		"taskboard",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	t := &tools{service: service, actor: actor}

	s.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Create a new task in a project."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("ID of the project to add the task to")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Title of the task")),
		mcp.WithString("description", mcp.Description("Optional detailed description")),
		mcp.WithString("due_date", mcp.Description("Optional due date in ISO format (YYYY-MM-DD)")),
	), t.addTask)

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks, optionally filtered by project and status."),
		mcp.WithString("project_id", mcp.Description("Project to list tasks from; omit to list across all projects")),
		mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum(store.StatusTodo, store.StatusInProgress, store.StatusCompleted)),
	), t.listTasks)

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task as completed."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to complete")),
	), t.completeTask)

	s.AddTool(mcp.NewTool("update_task",
		mcp.WithDescription("Update a task's title, description, or status."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to update")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status"), mcp.Enum(store.StatusTodo, store.StatusInProgress, store.StatusCompleted)),
	), t.updateTask)

	s.AddTool(mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a task. Requires the admin role on its project."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of the task to delete")),
	), t.deleteTask)

	s.AddTool(mcp.NewTool("get_user_projects",
		mcp.WithDescription("List the projects the acting user has access to, with their role."),
	), t.getUserProjects)

	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type tools struct {
	service *app.Service
	actor   app.Identity
}

func (t *tools) addTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input := app.CreateTaskInput{
		ProjectID:   req.GetString("project_id", ""),
		Title:       req.GetString("title", ""),
		Description: req.GetString("description", ""),
	}
	if raw := req.GetString("due_date", ""); raw != "" {
		due, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return mcp.NewToolResultError("due_date must be formatted YYYY-MM-DD"), nil
		}
		input.DueDate = &due
	}
	payload, err := t.service.CreateTask(ctx, t.actor, input)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(payload)
}

func (t *tools) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := t.service.ListTasks(ctx, t.actor, app.TaskFilter{
		ProjectID: req.GetString("project_id", ""),
		Status:    req.GetString("status", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(payload)
}

func (t *tools) completeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status := store.StatusCompleted
	payload, err := t.service.UpdateTask(ctx, t.actor, taskID, app.UpdateTaskInput{Status: &status})
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(payload)
}

func (t *tools) updateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var input app.UpdateTaskInput
	if v := req.GetString("title", ""); v != "" {
		input.Title = &v
	}
	if v := req.GetString("description", ""); v != "" {
		input.Description = &v
	}
	if v := req.GetString("status", ""); v != "" {
		input.Status = &v
	}
	payload, err := t.service.UpdateTask(ctx, t.actor, taskID, input)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(payload)
}

func (t *tools) deleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.service.DeleteTask(ctx, t.actor, taskID); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s deleted", taskID)), nil
}

func (t *tools) getUserProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := t.service.ListProjects(ctx, t.actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(payload)
}

func toolJSON(payload any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}
