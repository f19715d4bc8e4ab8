package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueExists is returned when provisioning a queue that is already provisioned.
	ErrQueueExists = errors.New("queue already exists")
	// ErrQueueNotFound is returned for operations on a queue that was never provisioned.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrQueueFull is returned when a push would exceed the queue quota.
	ErrQueueFull = errors.New("queue quota exceeded")
	// ErrMessageNotFound is returned when acking or requeueing an unknown message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrSubscriptionExists is returned when a topic is already mapped to a queue.
	ErrSubscriptionExists = errors.New("subscription already exists")
	// ErrSubscriptionNotFound is returned when removing an unknown mapping.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Storage is the spool behind the broker: provisioned endpoints, their
// messages, and the topic subscriptions mapped onto them.
type Storage interface {
	// Endpoint provisioning
	QueueProvision(ctx context.Context, ep Endpoint) error
	QueueInfo(ctx context.Context, queue string) (Endpoint, error)
	QueueDelete(ctx context.Context, queue string) error
	QueueList(ctx context.Context) ([]string, error)

	// Message operations
	QueuePush(ctx context.Context, queue string, msg QueueMessage) (string, error)
	QueuePop(ctx context.Context, queue string) (QueueMessage, bool, error)
	QueuePeek(ctx context.Context, queue string, limit int) ([]QueueMessage, error)
	QueueAck(ctx context.Context, queue, messageID string) error
	QueueNack(ctx context.Context, queue, messageID string) error
	QueueStats(ctx context.Context, queue string) (QueueStats, error)
	QueuePurge(ctx context.Context, queue string) (int64, error)

	// Topic subscriptions
	SubscriptionAdd(ctx context.Context, queue, topic string) error
	SubscriptionRemove(ctx context.Context, queue, topic string) error
	SubscriptionList(ctx context.Context) ([]Subscription, error)

	// Lifecycle
	Close() error
}

// AccessType controls how many flows may consume from a queue at once.
type AccessType string

const (
	// AccessExclusive grants delivery to a single bound flow at a time.
	AccessExclusive AccessType = "exclusive"
	// AccessNonExclusive spreads delivery across all bound flows.
	AccessNonExclusive AccessType = "non-exclusive"
)

// Permission is the permission other clients have on a provisioned endpoint.
type Permission string

const (
	PermissionNone    Permission = "none"
	PermissionConsume Permission = "consume"
	PermissionDelete  Permission = "delete"
)

const (
	// QuotaLastValue keeps only the most recent message: each push supersedes
	// whatever is still spooled.
	QuotaLastValue int64 = 0
	// QuotaUnlimited disables the depth limit.
	QuotaUnlimited int64 = -1
)

// Endpoint describes a provisioned queue.
type Endpoint struct {
	Name       string     `json:"name"`
	AccessType AccessType `json:"access_type"`
	// Quota is the maximum spooled depth. QuotaLastValue makes the queue a
	// last-value queue, QuotaUnlimited removes the limit.
	Quota      int64      `json:"quota"`
	Permission Permission `json:"permission"`
	CreatedAt  time.Time  `json:"created_at"`
}

// LastValue reports whether the endpoint holds at most one message.
func (e Endpoint) LastValue() bool { return e.Quota == QuotaLastValue }

// DeliveryMode is how a message was published.
type DeliveryMode string

const (
	DeliveryDirect     DeliveryMode = "direct"
	DeliveryPersistent DeliveryMode = "persistent"
)

// QueueMessage represents a message spooled on a queue
type QueueMessage struct {
	ID           string       `json:"id"`
	Queue        string       `json:"queue"`
	Destination  string       `json:"destination"`
	Data         []byte       `json:"data"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	CreatedAt    time.Time    `json:"created_at"`
	RetryCount   int32        `json:"retry_count"`
	Redelivered  bool         `json:"redelivered"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Pending   int64  `json:"pending"`
	Processed int64  `json:"processed"`
	Dropped   int64  `json:"dropped"`
}

// Subscription maps a topic pattern onto a queue.
type Subscription struct {
	Queue string `json:"queue"`
	Topic string `json:"topic"`
}
