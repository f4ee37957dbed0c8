// Package events publishes domain events to Redis pub/sub. Delivery is
// best-effort: a failed publish is logged and never surfaces to callers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	TopicProjectCreated       = "project.created"
	TopicProjectUpdated       = "project.updated"
	TopicProjectDeleted       = "project.deleted"
	TopicProjectMemberAdded   = "project.member.added"
	TopicProjectMemberRemoved = "project.member.removed"
	TopicTaskCreated          = "task.created"
	TopicTaskUpdated          = "task.updated"
	TopicTaskCompleted        = "task.completed"
	TopicTaskDeleted          = "task.deleted"
)

// Envelope is the wire format on every topic.
type Envelope struct {
	ID      string         `json:"id"`
	Topic   string         `json:"topic"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload"`
}

type Notifier struct {
	client  *redis.Client
	timeout time.Duration
	logger  *logrus.Logger
}

// NewNotifier connects to Redis and verifies the connection.
func NewNotifier(redisURL string, timeout time.Duration, logger *logrus.Logger) (*Notifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewNotifierWithClient(client, timeout, logger), nil
}

// NewNotifierWithClient builds a notifier from an existing Redis client.
func NewNotifierWithClient(client *redis.Client, timeout time.Duration, logger *logrus.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Notifier{client: client, timeout: timeout, logger: logger}
}

// Publish emits one event. A nil notifier is a no-op so callers never have
// to branch on whether eventing is configured.
func (n *Notifier) Publish(ctx context.Context, topic string, payload map[string]any) {
	if n == nil {
		return
	}

	envelope := Envelope{
		ID:      uuid.NewString(),
		Topic:   topic,
		At:      time.Now().UTC(),
		Payload: payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		n.logger.WithError(err).WithField("topic", topic).Warn("event marshal failed")
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.client.Publish(publishCtx, topic, body).Err(); err != nil {
		n.logger.WithError(err).WithField("topic", topic).Warn("event publish failed")
		return
	}
	n.logger.WithFields(logrus.Fields{"topic": topic, "event_id": envelope.ID}).Debug("event published")
}

func (n *Notifier) Ping(ctx context.Context) error {
	if n == nil {
		return nil
	}
	return n.client.Ping(ctx).Err()
}

func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.client.Close()
}
