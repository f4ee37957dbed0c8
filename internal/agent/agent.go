// Package agent defines the language-model runtime used by the chat
// endpoint. The runtime is stateless; conversation history travels on each
// request.
package agent

import (
	"context"
	"errors"
)

// ErrUnavailable marks runtime failures that should surface as a 503.
var ErrUnavailable = errors.New("agent runtime unavailable")

// Message is one turn of model context, OpenAI chat-completions shaped.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one tool invocation requested by the model. Arguments is the
// raw JSON string as the model produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec declares one callable tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

// Completion is the model's reply: either content, tool calls, or both.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Runtime produces completions. Implementations must be safe for concurrent
// use.
type Runtime interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
