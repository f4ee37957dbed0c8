package events

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupTestNotifier(t *testing.T) (*Notifier, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	notifier, err := NewNotifier("redis://"+s.Addr(), time.Second, testLogger())
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	return notifier, s
}

func TestPublishDeliversEnvelope(t *testing.T) {
	notifier, s := setupTestNotifier(t)
	defer notifier.Close()

	subscriber := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer subscriber.Close()

	ctx := context.Background()
	sub := subscriber.Subscribe(ctx, TopicTaskCreated)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	notifier.Publish(ctx, TopicTaskCreated, map[string]any{
		"task_id":    "tsk_1",
		"project_id": "prj_1",
	})

	receiveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	message, err := sub.ReceiveMessage(receiveCtx)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}

	var envelope Envelope
	if err := json.Unmarshal([]byte(message.Payload), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.ID == "" {
		t.Error("expected non-empty event id")
	}
	if envelope.Topic != TopicTaskCreated {
		t.Errorf("expected topic %s, got %s", TopicTaskCreated, envelope.Topic)
	}
	if envelope.At.IsZero() {
		t.Error("expected non-zero timestamp")
	}
	if envelope.Payload["task_id"] != "tsk_1" {
		t.Errorf("unexpected payload: %+v", envelope.Payload)
	}
}

func TestPublishSwallowsRedisFailure(t *testing.T) {
	notifier, s := setupTestNotifier(t)
	defer notifier.Close()

	s.Close()

	// Must not panic or block past the timeout.
	notifier.Publish(context.Background(), TopicProjectDeleted, map[string]any{"project_id": "prj_1"})
}

func TestNilNotifierPublishIsNoop(t *testing.T) {
	var notifier *Notifier
	notifier.Publish(context.Background(), TopicTaskUpdated, nil)
	if err := notifier.Ping(context.Background()); err != nil {
		t.Errorf("nil notifier Ping = %v", err)
	}
}

func TestNewNotifierRejectsBadURL(t *testing.T) {
	if _, err := NewNotifier("not-a-url", time.Second, testLogger()); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}
