package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ftmsg/pkg/metrics"
)

// flow is a consumer bound to one queue. A single dispatcher goroutine
// delivers its events and messages, so callbacks never overlap.
type flow struct {
	id      string
	queue   string
	b       *Broker
	opts    FlowOptions
	onMsg   MessageHandler
	onEvent FlowEventHandler
	log     *zap.Logger

	mu       sync.Mutex
	started  bool
	active   bool
	events   []FlowEventArgs
	inflight map[string]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
}

func newFlow(b *Broker, opts FlowOptions, onMsg MessageHandler, onEvent FlowEventHandler) *flow {
	id := uuid.New().String()
	return &flow{
		id:       id,
		queue:    opts.Queue,
		b:        b,
		opts:     opts,
		onMsg:    onMsg,
		onEvent:  onEvent,
		log:      b.log.With(zap.String("queue", opts.Queue), zap.String("flow", id)),
		started:  opts.StartState,
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (f *flow) ID() string    { return f.id }
func (f *flow) Queue() string { return f.queue }

func (f *flow) Start() error {
	if f.closed.Load() {
		return ErrFlowClosed
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *flow) Stop() error {
	if f.closed.Load() {
		return ErrFlowClosed
	}
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
	return nil
}

// Close unbinds the flow, waits for a running callback to return and
// requeues unacknowledged messages.
func (f *flow) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		f.b.unbind(f)
		close(f.quit)
		<-f.done
		f.requeueInflight()
		f.log.Debug("flow closed")
	})
	return nil
}

func (f *flow) isActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// setActive changes the delivery right of the flow and queues the matching
// indication. Called with the broker lock held.
func (f *flow) setActive(active bool) {
	f.mu.Lock()
	if f.active == active {
		f.mu.Unlock()
		return
	}
	f.active = active
	if f.opts.ActiveFlowIndication {
		ev := FlowInactive
		if active {
			ev = FlowActive
		}
		f.events = append(f.events, FlowEventArgs{Event: ev, FlowID: f.id, Queue: f.queue})
	}
	f.mu.Unlock()
	f.signal()
}

// down queues a final FlowDown event. The dispatcher exits after delivering it.
func (f *flow) down(info string) {
	metrics.FlowsBound.WithLabelValues(f.queue).Dec()
	f.mu.Lock()
	f.active = false
	f.events = append(f.events, FlowEventArgs{Event: FlowDown, FlowID: f.id, Queue: f.queue, Info: info})
	f.mu.Unlock()
	f.signal()
}

func (f *flow) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *flow) run() {
	defer close(f.done)
	for {
		select {
		case <-f.quit:
			return
		case <-f.wake:
		}
		for f.step() {
		}
		if f.closed.Load() {
			return
		}
	}
}

// step delivers one pending event, or else one message, and reports whether
// it did anything.
func (f *flow) step() bool {
	if f.closed.Load() {
		return false
	}

	f.mu.Lock()
	if len(f.events) > 0 {
		ev := f.events[0]
		f.events = f.events[1:]
		f.mu.Unlock()

		metrics.FlowEvents.WithLabelValues(f.queue, ev.Event.String()).Inc()
		if f.onEvent != nil {
			f.onEvent(ev)
		}
		if ev.Event == FlowDown {
			f.closed.Store(true)
			f.requeueInflight()
			return false
		}
		return true
	}
	deliver := f.started && f.active && f.onMsg != nil && len(f.inflight) < f.opts.Window
	f.mu.Unlock()

	if !deliver {
		return false
	}
	return f.deliverOne()
}

func (f *flow) deliverOne() bool {
	qm, ok, err := f.b.store.QueuePop(context.Background(), f.queue)
	if err != nil {
		f.log.Warn("pop failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	f.mu.Lock()
	f.inflight[qm.ID] = struct{}{}
	f.mu.Unlock()

	if f.closed.Load() {
		f.requeueInflight()
		return false
	}

	metrics.MessagesDelivered.WithLabelValues(f.queue).Inc()
	msg := FromQueueMessage(qm)
	msg.SetAcker(func() error { return f.ack(qm.ID) })
	f.onMsg(msg)
	if f.opts.AutoAck {
		if err := f.ack(qm.ID); err != nil {
			f.log.Warn("auto-ack failed", zap.String("id", qm.ID), zap.Error(err))
		}
	}
	return true
}

// ack settles a delivered message. Acking an already settled message is a no-op.
func (f *flow) ack(id string) error {
	f.mu.Lock()
	_, ok := f.inflight[id]
	delete(f.inflight, id)
	f.mu.Unlock()
	if !ok {
		if f.closed.Load() {
			return ErrFlowClosed
		}
		return nil
	}
	if err := f.b.store.QueueAck(context.Background(), f.queue, id); err != nil {
		return err
	}
	f.signal()
	return nil
}

// requeueInflight returns unacknowledged messages to the queue.
func (f *flow) requeueInflight() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.inflight))
	for id := range f.inflight {
		ids = append(ids, id)
	}
	f.inflight = make(map[string]struct{})
	f.mu.Unlock()

	requeued := 0
	for _, id := range ids {
		if err := f.b.store.QueueNack(context.Background(), f.queue, id); err != nil {
			f.log.Debug("requeue failed", zap.String("id", id), zap.Error(err))
			continue
		}
		requeued++
	}
	if requeued > 0 {
		f.b.notify(f.queue)
	}
}
