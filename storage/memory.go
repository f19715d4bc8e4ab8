package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage is a non-durable Storage used for embedded brokers and tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	queues map[string]*memQueue
	subs   map[Subscription]struct{}
	closed bool
}

type memQueue struct {
	ep      Endpoint
	ready   []memEntry
	pending map[string]memEntry
	stats   QueueStats
}

type memEntry struct {
	seq uint64
	msg QueueMessage
}

var memSeq struct {
	sync.Mutex
	n uint64
}

func nextMemSeq() uint64 {
	memSeq.Lock()
	defer memSeq.Unlock()
	memSeq.n++
	return memSeq.n
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		queues: make(map[string]*memQueue),
		subs:   make(map[Subscription]struct{}),
	}
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStorage) queue(name string) (*memQueue, error) {
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrQueueNotFound)
	}
	return q, nil
}

// Endpoint operations

func (m *MemoryStorage) QueueProvision(ctx context.Context, ep Endpoint) error {
	_ = ctx
	if ep.Name == "" {
		return fmt.Errorf("queue name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[ep.Name]; ok {
		return fmt.Errorf("%s: %w", ep.Name, ErrQueueExists)
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now()
	}
	m.queues[ep.Name] = &memQueue{
		ep:      ep,
		pending: make(map[string]memEntry),
		stats:   QueueStats{Name: ep.Name},
	}
	return nil
}

func (m *MemoryStorage) QueueInfo(ctx context.Context, queue string) (Endpoint, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, err := m.queue(queue)
	if err != nil {
		return Endpoint{}, err
	}
	return q.ep, nil
}

func (m *MemoryStorage) QueueDelete(ctx context.Context, queue string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.queue(queue); err != nil {
		return err
	}
	delete(m.queues, queue)
	for sub := range m.subs {
		if sub.Queue == queue {
			delete(m.subs, sub)
		}
	}
	return nil
}

func (m *MemoryStorage) QueueList(ctx context.Context) ([]string, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.queues))
	for name := range m.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Message operations

func (m *MemoryStorage) QueuePush(ctx context.Context, queue string, msg QueueMessage) (string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return "", err
	}
	switch {
	case q.ep.LastValue():
		q.stats.Dropped += int64(len(q.ready))
		q.ready = q.ready[:0]
	case q.ep.Quota > 0 && int64(len(q.ready)) >= q.ep.Quota:
		return "", fmt.Errorf("%s: %w", queue, ErrQueueFull)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Queue = queue
	msg.Data = append([]byte(nil), msg.Data...)
	q.ready = append(q.ready, memEntry{seq: nextMemSeq(), msg: msg})
	return msg.ID, nil
}

func (m *MemoryStorage) QueuePop(ctx context.Context, queue string) (QueueMessage, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return QueueMessage{}, false, err
	}
	if len(q.ready) == 0 {
		return QueueMessage{}, false, nil
	}
	e := q.ready[0]
	q.ready = q.ready[1:]
	q.pending[e.msg.ID] = e
	return e.msg, true, nil
}

func (m *MemoryStorage) QueuePeek(ctx context.Context, queue string, limit int) ([]QueueMessage, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, err := m.queue(queue)
	if err != nil {
		return nil, err
	}
	var out []QueueMessage
	for _, e := range q.ready {
		if len(out) >= limit {
			break
		}
		out = append(out, e.msg)
	}
	return out, nil
}

func (m *MemoryStorage) QueueAck(ctx context.Context, queue, messageID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return err
	}
	if _, ok := q.pending[messageID]; !ok {
		return fmt.Errorf("%s: %w", messageID, ErrMessageNotFound)
	}
	delete(q.pending, messageID)
	q.stats.Processed++
	return nil
}

func (m *MemoryStorage) QueueNack(ctx context.Context, queue, messageID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return err
	}
	e, ok := q.pending[messageID]
	if !ok {
		return fmt.Errorf("%s: %w", messageID, ErrMessageNotFound)
	}
	delete(q.pending, messageID)
	if q.ep.LastValue() && len(q.ready) > 0 {
		q.stats.Dropped++
		return nil
	}
	e.msg.RetryCount++
	e.msg.Redelivered = true
	// requeue in sequence order
	i := sort.Search(len(q.ready), func(i int) bool { return q.ready[i].seq > e.seq })
	q.ready = append(q.ready, memEntry{})
	copy(q.ready[i+1:], q.ready[i:])
	q.ready[i] = e
	return nil
}

func (m *MemoryStorage) QueueStats(ctx context.Context, queue string) (QueueStats, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, err := m.queue(queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := q.stats
	stats.Size = int64(len(q.ready))
	stats.Pending = int64(len(q.pending))
	return stats, nil
}

func (m *MemoryStorage) QueuePurge(ctx context.Context, queue string) (int64, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return 0, err
	}
	n := int64(len(q.ready))
	q.ready = nil
	q.stats.Dropped += n
	return n, nil
}

// Subscriptions

func (m *MemoryStorage) SubscriptionAdd(ctx context.Context, queue, topic string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.queue(queue); err != nil {
		return err
	}
	sub := Subscription{Queue: queue, Topic: topic}
	if _, ok := m.subs[sub]; ok {
		return fmt.Errorf("%s -> %s: %w", topic, queue, ErrSubscriptionExists)
	}
	m.subs[sub] = struct{}{}
	return nil
}

func (m *MemoryStorage) SubscriptionRemove(ctx context.Context, queue, topic string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := Subscription{Queue: queue, Topic: topic}
	if _, ok := m.subs[sub]; !ok {
		return fmt.Errorf("%s -> %s: %w", topic, queue, ErrSubscriptionNotFound)
	}
	delete(m.subs, sub)
	return nil
}

func (m *MemoryStorage) SubscriptionList(ctx context.Context) ([]Subscription, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs))
	for sub := range m.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Queue != out[j].Queue {
			return out[i].Queue < out[j].Queue
		}
		return out[i].Topic < out[j].Topic
	})
	return out, nil
}
