package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/api/internal/agent"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// historyWindow bounds how many stored messages seed an agent turn. Each
// turn rebuilds its context from the conversation log, so no state lives in
// the process between requests.
const historyWindow = 20

type ChatInput struct {
	ConversationID string  `json:"conversation_id"`
	Message        string  `json:"message"`
	ProjectID      *string `json:"project_id"`
}

// Chat runs one stateless agent turn: append the user message, rebuild
// context from the log, let the agent call tools, persist the outcome.
// Already-executed tool calls stay committed even when a later step fails.
func (s *Service) Chat(ctx context.Context, actor Identity, input ChatInput) (map[string]any, error) {
	if s.runtime == nil {
		return nil, errDependencyUnavailable("agent runtime is not configured")
	}
	text := strings.TrimSpace(input.Message)
	if text == "" {
		return nil, errValidation("message is required", map[string]any{"field": "message"})
	}

	conversation, err := s.resolveConversation(ctx, actor, input)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.InsertMessage(ctx, store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversation.ID,
		UserID:         actor.UserID,
		Role:           "user",
		Content:        text,
	}); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	messages, err := s.buildAgentContext(ctx, actor, conversation, text)
	if err != nil {
		return nil, err
	}

	var (
		records  []ToolCallRecord
		response string
	)
	for turn := 0; turn < s.cfg.AgentMaxTurns; turn++ {
		completion, err := s.runtime.Complete(ctx, agent.CompletionRequest{
			Messages: messages,
			Tools:    toolSpecs(),
		})
		if errors.Is(err, agent.ErrUnavailable) {
			// The user message is already in the log; the turn is lost,
			// nothing else is.
			return nil, errDependencyUnavailable("agent runtime unavailable")
		}
		if err != nil {
			return nil, fmt.Errorf("agent completion: %w", err)
		}

		if len(completion.ToolCalls) == 0 {
			response = completion.Content
			break
		}

		messages = append(messages, agent.Message{
			Role:      "assistant",
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		for _, call := range completion.ToolCalls {
			record, err := s.executeTool(ctx, actor, call)
			if err != nil {
				return nil, fmt.Errorf("execute tool %s: %w", call.Name, err)
			}
			records = append(records, record)

			resultJSON, err := json.Marshal(record.Result)
			if err != nil {
				return nil, fmt.Errorf("encode tool result: %w", err)
			}
			messages = append(messages, agent.Message{
				Role:       "tool",
				Content:    string(resultJSON),
				ToolCallID: call.ID,
			})
		}
	}
	if response == "" {
		response = "I processed your request."
	}

	assistant := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversation.ID,
		UserID:         actor.UserID,
		Role:           "assistant",
		Content:        response,
	}
	if len(records) > 0 {
		meta, err := json.Marshal(records)
		if err != nil {
			return nil, fmt.Errorf("encode tool call records: %w", err)
		}
		assistant.ToolCalls = meta
	}
	if _, err := s.store.InsertMessage(ctx, assistant); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conversation.ID); err != nil {
		s.logger.WithError(err).Warn("touch conversation")
	}

	calls := make([]map[string]any, 0, len(records))
	for _, record := range records {
		calls = append(calls, map[string]any{
			"name":      record.Name,
			"arguments": record.Arguments,
			"result":    record.Result,
		})
	}
	return map[string]any{
		"conversation_id": conversation.ID,
		"response":        response,
		"tool_calls":      calls,
	}, nil
}

func (s *Service) resolveConversation(ctx context.Context, actor Identity, input ChatInput) (store.Conversation, error) {
	if input.ConversationID != "" {
		conversation, err := s.store.GetConversation(ctx, input.ConversationID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Conversation{}, errNotFound("conversation not found")
		}
		if err != nil {
			return store.Conversation{}, err
		}
		if conversation.UserID != actor.UserID {
			return store.Conversation{}, errNotFound("conversation not found")
		}
		return conversation, nil
	}

	conversation, err := s.store.InsertConversation(ctx, store.Conversation{
		ID:        util.NewID("cnv"),
		UserID:    actor.UserID,
		ProjectID: input.ProjectID,
		Title:     conversationTitle(input.Message),
	})
	if err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// buildAgentContext assembles the system prompt, a relevance block from
// search when available, and the recent history window.
func (s *Service) buildAgentContext(ctx context.Context, actor Identity, conversation store.Conversation, text string) ([]agent.Message, error) {
	projects, err := s.store.ListProjectsForUser(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	messages := []agent.Message{{
		Role:    "system",
		Content: systemPrompt(projects, conversation.ProjectID),
	}}

	if s.search != nil {
		allowed := make(map[string]bool, len(projects))
		for _, project := range projects {
			allowed[project.ID] = true
		}
		found := s.search.Search(ctx, search.Query{Text: text, UserID: actor.UserID, Limit: 5}, allowed)
		if block := search.ContextBlock(found.Results); block != "" {
			messages = append(messages, agent.Message{Role: "system", Content: block})
		}
	}

	history, err := s.store.ListRecentMessages(ctx, conversation.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for _, msg := range history {
		// Tool transcripts are not replayed; the stored user and assistant
		// text is enough context for the next turn.
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		messages = append(messages, agent.Message{Role: msg.Role, Content: msg.Content})
	}
	return messages, nil
}

func systemPrompt(projects []store.ProjectWithRole, activeProjectID *string) string {
	var b strings.Builder
	b.WriteString(`You are a helpful task management assistant. You help users manage their tasks and projects.

You have access to tools to:
- Add new tasks to projects
- List tasks (with optional status filtering)
- Complete tasks
- Update task details
- Delete tasks (admin only)
- Get the user's projects

When the user asks about tasks without specifying a project, use the current active project if available, or ask them which project they mean.

When listing tasks, format them in a clear, readable way.

When creating tasks, confirm what was created.

For destructive actions (delete), confirm before executing if the user's intent seems ambiguous.

Be concise but friendly in your responses.`)

	if len(projects) > 0 {
		b.WriteString("\n\nUser's available projects:\n")
		for _, project := range projects {
			fmt.Fprintf(&b, "- Project %q (ID: %s, Role: %s)\n", project.Name, project.ID, project.Role)
		}
		if activeProjectID != nil {
			for _, project := range projects {
				if project.ID == *activeProjectID {
					fmt.Fprintf(&b, "\nCurrent active project: %q (ID: %s)", project.Name, project.ID)
					break
				}
			}
		}
	}
	return b.String()
}

// conversationTitle derives a title from the opening message. Truncation
// counts runes, not bytes, so a multibyte character is never split.
func conversationTitle(message string) string {
	trimmed := strings.TrimSpace(message)
	runes := []rune(trimmed)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return trimmed
}

// ListConversations returns the actor's conversations, most recently active
// first.
func (s *Service) ListConversations(ctx context.Context, actor Identity) (map[string]any, error) {
	conversations, err := s.store.ListConversations(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		items = append(items, conversationPayload(conversation))
	}
	return map[string]any{"conversations": items}, nil
}

// GetConversation returns the conversation with its recent messages. Other
// users' conversations read as not found.
func (s *Service) GetConversation(ctx context.Context, actor Identity, conversationID string) (map[string]any, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	if conversation.UserID != actor.UserID {
		return nil, errNotFound("conversation not found")
	}

	messages, err := s.store.ListRecentMessages(ctx, conversationID, 100)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		item := map[string]any{
			"id":         msg.ID,
			"user_id":    msg.UserID,
			"role":       msg.Role,
			"content":    msg.Content,
			"created_at": msg.CreatedAt.UTC().Format(time.RFC3339),
		}
		if len(msg.ToolCalls) > 0 {
			var calls []map[string]any
			if err := json.Unmarshal(msg.ToolCalls, &calls); err == nil {
				item["tool_calls"] = calls
			}
		}
		items = append(items, item)
	}

	payload := conversationPayload(conversation)
	payload["messages"] = items
	return payload, nil
}

func conversationPayload(c store.Conversation) map[string]any {
	payload := map[string]any{
		"id":         c.ID,
		"user_id":    c.UserID,
		"title":      c.Title,
		"created_at": c.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at": c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.ProjectID != nil {
		payload["project_id"] = *c.ProjectID
	} else {
		payload["project_id"] = nil
	}
	return payload
}
