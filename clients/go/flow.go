package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	brokerapi "ftmsg/api/brokerapi"
	"ftmsg/pkg/broker"
)

// remoteFlow is a flow bound over a Bind stream.
type remoteFlow struct {
	id      string
	queue   string
	s       *Session
	stream  brokerapi.BrokerService_BindClient
	cancel  context.CancelFunc
	onMsg   broker.MessageHandler
	onEvent broker.FlowEventHandler
	autoAck bool
	log     *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (s *Session) bind(ctx context.Context, opts broker.FlowOptions, onMsg broker.MessageHandler, onEvent broker.FlowEventHandler) (*remoteFlow, error) {
	// The stream outlives ctx, which only bounds the bind handshake.
	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := s.c.Broker.Bind(streamCtx, &brokerapi.BindRequest{
		Queue:                opts.Queue,
		ActiveFlowIndication: opts.ActiveFlowIndication,
		StartState:           opts.StartState,
		Window:               opts.Window,
		Consume:              onMsg != nil,
	})
	if err != nil {
		cancel()
		return nil, brokerapi.FromStatus(err)
	}

	stop := context.AfterFunc(ctx, cancel)
	first, err := stream.Recv()
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, brokerapi.FromStatus(err)
	}
	if first.Type != brokerapi.UpdateBound {
		cancel()
		return nil, fmt.Errorf("bind %s: unexpected first update %q", opts.Queue, first.Type)
	}

	f := &remoteFlow{
		id:      first.FlowID,
		queue:   opts.Queue,
		s:       s,
		stream:  stream,
		cancel:  cancel,
		onMsg:   onMsg,
		onEvent: onEvent,
		autoAck: opts.AutoAck,
		log:     s.log.With(zap.String("queue", opts.Queue), zap.String("flow", first.FlowID)),
		done:    make(chan struct{}),
	}
	go f.run()
	return f, nil
}

func (f *remoteFlow) ID() string    { return f.id }
func (f *remoteFlow) Queue() string { return f.queue }

func (f *remoteFlow) Start() error { return f.control(brokerapi.ActionStart) }
func (f *remoteFlow) Stop() error  { return f.control(brokerapi.ActionStop) }

func (f *remoteFlow) control(action string) error {
	if f.closed.Load() {
		return broker.ErrFlowClosed
	}
	ctx, cancel := f.s.rpcContext()
	defer cancel()
	_, err := f.s.c.Broker.FlowControl(ctx, &brokerapi.FlowControlRequest{FlowID: f.id, Action: action})
	return brokerapi.FromStatus(err)
}

func (f *remoteFlow) ack(id string) error {
	if f.closed.Load() {
		return broker.ErrFlowClosed
	}
	ctx, cancel := f.s.rpcContext()
	defer cancel()
	_, err := f.s.c.Broker.Ack(ctx, &brokerapi.AckRequest{FlowID: f.id, MessageID: id})
	return brokerapi.FromStatus(err)
}

// Close cancels the Bind stream, which unbinds the flow on the server, and
// waits for a running callback to return.
func (f *remoteFlow) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		f.cancel()
		<-f.done
		f.s.forget(f)
	})
	return nil
}

func (f *remoteFlow) run() {
	defer close(f.done)
	for {
		u, err := f.stream.Recv()
		if err != nil {
			if f.closed.Load() {
				return
			}
			// the server went away without taking the flow down first
			info := "stream closed"
			if !errors.Is(err, io.EOF) {
				info = err.Error()
			}
			f.log.Warn("bind stream lost", zap.Error(err))
			f.deliverEvent(broker.FlowEventArgs{Event: broker.FlowDown, FlowID: f.id, Queue: f.queue, Info: info})
			f.closed.Store(true)
			return
		}
		if f.closed.Load() {
			return
		}

		switch u.Type {
		case brokerapi.UpdateEvent:
			ev := parseEvent(u.Event)
			f.deliverEvent(broker.FlowEventArgs{Event: ev, FlowID: f.id, Queue: f.queue, Info: u.Info})
			if ev == broker.FlowDown {
				f.closed.Store(true)
				f.cancel()
				return
			}
		case brokerapi.UpdateMessage:
			if u.Message == nil || f.onMsg == nil {
				continue
			}
			msg := fromWire(u.Message)
			id := msg.ID
			msg.SetAcker(func() error { return f.ack(id) })
			f.onMsg(msg)
			if f.autoAck {
				if err := f.ack(id); err != nil && !f.closed.Load() {
					f.log.Warn("auto-ack failed", zap.String("id", id), zap.Error(err))
				}
			}
		}
	}
}

func (f *remoteFlow) deliverEvent(ev broker.FlowEventArgs) {
	if f.onEvent != nil {
		f.onEvent(ev)
	}
}

func parseEvent(name string) broker.FlowEvent {
	switch name {
	case broker.FlowActive.String():
		return broker.FlowActive
	case broker.FlowInactive.String():
		return broker.FlowInactive
	default:
		return broker.FlowDown
	}
}
