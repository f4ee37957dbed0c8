package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestOpenAIRuntimeCompleteToolCall(t *testing.T) {
	var captured completionPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "add_task", "arguments": "{\"title\":\"Buy milk\"}"}
					}]
				}
			}]
		}`))
	}))
	defer server.Close()

	runtime := NewOpenAIRuntime(server.URL, "key-1", "test-model", 5*time.Second, testLogger())
	completion, err := runtime.Complete(context.Background(), CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "you are a task assistant"},
			{Role: "user", Content: "add buy milk"},
		},
		Tools: []ToolSpec{{Name: "add_task", Description: "create a task", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if len(completion.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(completion.ToolCalls))
	}
	call := completion.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "add_task" {
		t.Fatalf("unexpected tool call: %+v", call)
	}

	if captured.Model != "test-model" {
		t.Errorf("request model = %q", captured.Model)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "add_task" {
		t.Errorf("unexpected tools payload: %+v", captured.Tools)
	}
}

func TestOpenAIRuntimeCompleteContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Done, added."}}]}`))
	}))
	defer server.Close()

	runtime := NewOpenAIRuntime(server.URL, "", "test-model", 5*time.Second, testLogger())
	completion, err := runtime.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "thanks"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if completion.Content != "Done, added." {
		t.Fatalf("unexpected content %q", completion.Content)
	}
	if len(completion.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %d", len(completion.ToolCalls))
	}
}

func TestOpenAIRuntimeServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	runtime := NewOpenAIRuntime(server.URL, "", "test-model", 5*time.Second, testLogger())
	_, err := runtime.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Complete() error = %v, want ErrUnavailable", err)
	}
}

func TestOpenAIRuntimeBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	runtime := NewOpenAIRuntime(server.URL, "", "test-model", 5*time.Second, testLogger())
	req := CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}}

	for i := 0; i < 5; i++ {
		_, _ = runtime.Complete(context.Background(), req)
	}

	_, err := runtime.Complete(context.Background(), req)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Complete() after failures error = %v, want ErrUnavailable", err)
	}
}
