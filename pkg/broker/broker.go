// Package broker is an embedded message broker with provisioned queues,
// topic-to-queue subscriptions, consumer flows with active-flow indication,
// and queue browsing.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ftmsg/pkg/logger"
	"ftmsg/pkg/metrics"
	"ftmsg/storage"
)

// Broker routes messages into the spool and arbitrates the flows bound to
// each queue. On an exclusive queue the first bound flow is the active one;
// when it unbinds the next flow in bind order takes over.
type Broker struct {
	store storage.Storage
	log   *zap.Logger

	mu     sync.Mutex
	queues map[string]*queueState
	subs   map[storage.Subscription]struct{}
	closed bool
}

type queueState struct {
	name      string
	exclusive bool
	egress    bool
	flows     []*flow
	active    *flow
	// changed is closed and replaced whenever a message is spooled.
	changed chan struct{}
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) { b.log = l }
}

// New creates a broker over store and loads its persisted subscriptions.
func New(ctx context.Context, store storage.Storage, opts ...Option) (*Broker, error) {
	b := &Broker{
		store:  store,
		queues: make(map[string]*queueState),
		subs:   make(map[storage.Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logger.Named(b.log, "broker")

	subs, err := store.SubscriptionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, s := range subs {
		b.subs[s] = struct{}{}
	}
	return b, nil
}

// Storage returns the spool the broker runs on.
func (b *Broker) Storage() storage.Storage { return b.store }

// state returns the runtime state of queue, creating it on first use.
// Callers hold b.mu.
func (b *Broker) state(queue string) *queueState {
	qs, ok := b.queues[queue]
	if !ok {
		qs = &queueState{name: queue, egress: true, changed: make(chan struct{})}
		b.queues[queue] = qs
	}
	return qs
}

// Provision creates an endpoint. With ignoreExists an already provisioned
// queue is not an error and its existing properties are kept.
func (b *Broker) Provision(ctx context.Context, ep storage.Endpoint, ignoreExists bool) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if ep.Name == "" {
		return errors.New("queue name is required")
	}
	if ep.AccessType == "" {
		ep.AccessType = storage.AccessExclusive
	}
	if ep.Permission == "" {
		ep.Permission = storage.PermissionConsume
	}

	err := b.store.QueueProvision(ctx, ep)
	if errors.Is(err, storage.ErrQueueExists) && ignoreExists {
		return nil
	}
	if err != nil {
		return err
	}
	b.log.Info("queue provisioned",
		zap.String("queue", ep.Name),
		zap.String("access", string(ep.AccessType)),
		zap.Int64("quota", ep.Quota))
	return nil
}

// AddSubscription maps topic onto queue so that messages published to
// matching topics are spooled there.
func (b *Broker) AddSubscription(ctx context.Context, queue, topic string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if topic == "" {
		return ErrInvalidTopic
	}
	if err := b.store.SubscriptionAdd(ctx, queue, topic); err != nil {
		return err
	}
	b.mu.Lock()
	b.subs[storage.Subscription{Queue: queue, Topic: topic}] = struct{}{}
	b.mu.Unlock()
	b.log.Debug("subscription added", zap.String("queue", queue), zap.String("topic", topic))
	return nil
}

// RemoveSubscription removes a topic mapping from queue.
func (b *Broker) RemoveSubscription(ctx context.Context, queue, topic string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := b.store.SubscriptionRemove(ctx, queue, topic); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.subs, storage.Subscription{Queue: queue, Topic: topic})
	b.mu.Unlock()
	return nil
}

// Subscriptions returns the topic mappings of queue, or of every queue when
// queue is empty.
func (b *Broker) Subscriptions(queue string) []storage.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []storage.Subscription
	for s := range b.subs {
		if queue == "" || s.Queue == queue {
			out = append(out, s)
		}
	}
	return out
}

// Browse returns the oldest message spooled on queue without consuming it,
// waiting up to wait for one to arrive. It returns nil when the queue stays
// empty.
func (b *Broker) Browse(ctx context.Context, queue string, wait time.Duration) (*Message, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(wait)
	for {
		b.mu.Lock()
		changed := b.state(queue).changed
		b.mu.Unlock()

		msgs, err := b.store.QueuePeek(ctx, queue, 1)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return FromQueueMessage(msgs[0]), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-changed:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// CreateFlow binds a consumer flow to an existing queue. Events and messages
// are delivered serially on a goroutine owned by the flow.
func (b *Broker) CreateFlow(ctx context.Context, opts FlowOptions, onMsg MessageHandler, onEvent FlowEventHandler) (Flow, error) {
	return b.createFlow(ctx, opts, onMsg, onEvent)
}

func (b *Broker) createFlow(ctx context.Context, opts FlowOptions, onMsg MessageHandler, onEvent FlowEventHandler) (*flow, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	ep, err := b.store.QueueInfo(ctx, opts.Queue)
	if err != nil {
		return nil, err
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	f := newFlow(b, opts, onMsg, onEvent)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	qs := b.state(opts.Queue)
	qs.exclusive = ep.AccessType == storage.AccessExclusive
	qs.flows = append(qs.flows, f)
	switch {
	case !qs.egress:
	case qs.exclusive && qs.active == nil:
		qs.active = f
		f.setActive(true)
	case !qs.exclusive:
		f.setActive(true)
	}
	b.mu.Unlock()

	metrics.FlowsBound.WithLabelValues(opts.Queue).Inc()
	go f.run()
	f.signal()

	b.log.Debug("flow bound",
		zap.String("queue", opts.Queue),
		zap.String("flow", f.id),
		zap.Bool("active", f.isActive()))
	return f, nil
}

// unbind removes f from its queue and hands the active role to the next
// bound flow.
func (b *Broker) unbind(f *flow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs, ok := b.queues[f.queue]
	if !ok {
		return
	}
	idx := -1
	for i, bound := range qs.flows {
		if bound == f {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	qs.flows = append(qs.flows[:idx], qs.flows[idx+1:]...)
	metrics.FlowsBound.WithLabelValues(f.queue).Dec()

	if qs.active == f {
		qs.active = nil
		if qs.egress && len(qs.flows) > 0 {
			qs.active = qs.flows[0]
			qs.active.setActive(true)
			b.log.Debug("active flow handed over",
				zap.String("queue", f.queue),
				zap.String("flow", qs.active.id))
		}
	}
}

// SetEgress enables or disables delivery out of queue. Disabling egress makes
// every bound flow inactive; enabling it reactivates the flows in bind order.
func (b *Broker) SetEgress(ctx context.Context, queue string, enabled bool) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if _, err := b.store.QueueInfo(ctx, queue); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	qs := b.state(queue)
	if qs.egress == enabled {
		return nil
	}
	qs.egress = enabled

	if !enabled {
		for _, f := range qs.flows {
			f.setActive(false)
		}
		qs.active = nil
	} else if len(qs.flows) > 0 {
		if qs.exclusive {
			qs.active = qs.flows[0]
			qs.active.setActive(true)
		} else {
			for _, f := range qs.flows {
				f.setActive(true)
			}
		}
	}
	b.log.Info("queue egress changed", zap.String("queue", queue), zap.Bool("enabled", enabled))
	return nil
}

// notify wakes browsers and flows waiting on queue.
func (b *Broker) notify(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs := b.state(queue)
	close(qs.changed)
	qs.changed = make(chan struct{})
	for _, f := range qs.flows {
		f.signal()
	}
}

// Close unbinds every flow with a FlowDown event. The storage is not closed.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var flows []*flow
	for _, qs := range b.queues {
		flows = append(flows, qs.flows...)
		qs.flows = nil
		qs.active = nil
	}
	b.mu.Unlock()

	for _, f := range flows {
		f.down("broker shutting down")
	}
	for _, f := range flows {
		<-f.done
	}
	return nil
}

func (b *Broker) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	return nil
}
