package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
)

func newTestServer(t *testing.T) (*HTTPServer, *memStore) {
	t.Helper()
	ms := newMemStore()
	cfg := config.Config{TokenSecret: "test-secret", AgentMaxTurns: 5}
	svc := New(cfg, ms, nil, nil, nil, testLogger())
	return NewHTTPServer(svc, "*", testLogger()), ms
}

func issueTestToken(t *testing.T, sub, name string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  sub,
		Name: name,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func TestHealthEndpointNeedsNoAuth(t *testing.T) {
	server, _ := newTestServer(t)
	rr, payload := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK || payload["ok"] != true {
		t.Fatalf("expected ok health, got %d %v", rr.Code, payload)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	server, _ := newTestServer(t)
	rr, payload := doRequest(t, server, http.MethodGet, "/api/projects", "", "")
	if rr.Code != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %v", rr.Code, payload)
	}
}

func TestGarbageTokenIsUnauthorized(t *testing.T) {
	server, _ := newTestServer(t)
	rr, _ := doRequest(t, server, http.MethodGet, "/api/projects", "not-a-token", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	token := issueTestToken(t, "usr_alice", "Alice")

	rr, created := doRequest(t, server, http.MethodPost, "/api/projects", token, `{"name":"Launch","description":"Q1"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %v", rr.Code, created)
	}
	projectID := created["id"].(string)
	if created["role"] != "admin" {
		t.Fatalf("expected creator admin role, got %v", created["role"])
	}

	rr, listing := doRequest(t, server, http.MethodGet, "/api/projects", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	projects := listing["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %v", projects)
	}

	rr, updated := doRequest(t, server, http.MethodPut, "/api/projects/"+projectID, token, `{"name":"Renamed"}`)
	if rr.Code != http.StatusOK || updated["name"] != "Renamed" {
		t.Fatalf("expected rename, got %d %v", rr.Code, updated)
	}

	rr, _ = doRequest(t, server, http.MethodDelete, "/api/projects/"+projectID, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rr.Code)
	}

	rr, _ = doRequest(t, server, http.MethodGet, "/api/projects/"+projectID, token, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected deleted project to read as 403, got %d", rr.Code)
	}
}

func TestTaskRoutesEnforceTiers(t *testing.T) {
	server, ms := newTestServer(t)
	adminToken := issueTestToken(t, "usr_alice", "Alice")
	viewerToken := issueTestToken(t, "usr_carol", "Carol")

	// Identities are upserted on first authenticated request.
	doRequest(t, server, http.MethodGet, "/api/projects", viewerToken, "")

	rr, created := doRequest(t, server, http.MethodPost, "/api/projects", adminToken, `{"name":"Board"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create project: %d", rr.Code)
	}
	projectID := created["id"].(string)

	rr, _ = doRequest(t, server, http.MethodPost, "/api/projects/"+projectID+"/members", adminToken,
		`{"user_id":"usr_carol","role":"viewer"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add member: %d", rr.Code)
	}

	body := fmt.Sprintf(`{"project_id":%q,"title":"Ship"}`, projectID)
	rr, payload := doRequest(t, server, http.MethodPost, "/api/tasks", viewerToken, body)
	if rr.Code != http.StatusForbidden || payload["code"] != "PERMISSION_DENIED" {
		t.Fatalf("expected viewer create to be denied, got %d %v", rr.Code, payload)
	}

	rr, task := doRequest(t, server, http.MethodPost, "/api/tasks", adminToken, body)
	if rr.Code != http.StatusCreated || task["position"] != float64(0) {
		t.Fatalf("expected created task at position 0, got %d %v", rr.Code, task)
	}
	taskID := task["id"].(string)

	rr, moved := doRequest(t, server, http.MethodPost, "/api/tasks/"+taskID+"/move", adminToken,
		`{"status":"in_progress","position":3}`)
	if rr.Code != http.StatusOK || moved["status"] != "in_progress" || moved["position"] != float64(3) {
		t.Fatalf("expected verbatim move, got %d %v", rr.Code, moved)
	}

	rr, visible := doRequest(t, server, http.MethodGet, "/api/tasks?project_id="+projectID, viewerToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("viewer list: %d", rr.Code)
	}
	tasks := visible["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("expected viewer to see the task, got %v", tasks)
	}

	rr, _ = doRequest(t, server, http.MethodDelete, "/api/tasks/"+taskID, viewerToken, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected viewer delete to be denied, got %d", rr.Code)
	}

	if _, err := ms.GetTask(context.Background(), taskID); err != nil {
		t.Fatalf("task should still exist: %v", err)
	}
}

func TestValidationErrorsSurfaceAs422(t *testing.T) {
	server, _ := newTestServer(t)
	token := issueTestToken(t, "usr_alice", "Alice")

	rr, payload := doRequest(t, server, http.MethodPost, "/api/projects", token, `{"name":""}`)
	if rr.Code != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 VALIDATION_ERROR, got %d %v", rr.Code, payload)
	}
}

func TestChatWithoutRuntimeReturns503(t *testing.T) {
	server, _ := newTestServer(t)
	token := issueTestToken(t, "usr_alice", "Alice")

	rr, payload := doRequest(t, server, http.MethodPost, "/api/chat", token, `{"message":"hi"}`)
	if rr.Code != http.StatusServiceUnavailable || payload["code"] != "DEPENDENCY_UNAVAILABLE" {
		t.Fatalf("expected 503 DEPENDENCY_UNAVAILABLE, got %d %v", rr.Code, payload)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _ := newTestServer(t)
	token := issueTestToken(t, "usr_alice", "Alice")

	rr, payload := doRequest(t, server, http.MethodGet, "/api/widgets", token, "")
	if rr.Code != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected 404 NOT_FOUND, got %d %v", rr.Code, payload)
	}
}
