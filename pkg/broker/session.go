package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ftmsg/storage"
)

// Session is an in-process client connection to a Broker. Flows created
// through a session are closed with it.
type Session struct {
	id   string
	name string
	b    *Broker
	caps map[Capability]bool
	log  *zap.Logger

	mu     sync.Mutex
	flows  map[string]*flow
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithoutCapabilities removes capabilities from the session, mimicking a
// broker or client library that lacks them.
func WithoutCapabilities(caps ...Capability) SessionOption {
	return func(s *Session) {
		for _, c := range caps {
			delete(s.caps, c)
		}
	}
}

// NewSession opens a session named name on the broker.
func (b *Broker) NewSession(name string, opts ...SessionOption) *Session {
	s := &Session{
		id:    uuid.New().String(),
		name:  name,
		b:     b,
		caps:  make(map[Capability]bool),
		flows: make(map[string]*flow),
	}
	for _, c := range AllCapabilities() {
		s.caps[c] = true
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = b.log.With(zap.String("session", name))
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return s.name }

// Capable reports whether the session supports c.
func (s *Session) Capable(c Capability) bool { return s.caps[c] }

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) Provision(ctx context.Context, ep storage.Endpoint, ignoreExists bool) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.b.Provision(ctx, ep, ignoreExists)
}

func (s *Session) AddSubscription(ctx context.Context, queue, topic string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.b.AddSubscription(ctx, queue, topic)
}

func (s *Session) RemoveSubscription(ctx context.Context, queue, topic string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.b.RemoveSubscription(ctx, queue, topic)
}

func (s *Session) Publish(ctx context.Context, dest Destination, msg OutboundMessage) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.b.Publish(ctx, dest, msg)
}

func (s *Session) Browse(ctx context.Context, queue string, wait time.Duration) (*Message, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.b.Browse(ctx, queue, wait)
}

// CreateFlow binds a flow owned by this session.
func (s *Session) CreateFlow(ctx context.Context, opts FlowOptions, onMsg MessageHandler, onEvent FlowEventHandler) (Flow, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	f, err := s.b.createFlow(ctx, opts, onMsg, onEvent)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = f.Close()
		return nil, ErrSessionClosed
	}
	s.flows[f.id] = f
	s.mu.Unlock()
	return &sessionFlow{flow: f, s: s}, nil
}

// Close closes every flow created through the session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	flows := s.flows
	s.flows = nil
	s.mu.Unlock()

	for _, f := range flows {
		_ = f.Close()
	}
	s.log.Debug("session closed", zap.Int("flows", len(flows)))
	return nil
}

// sessionFlow forgets the flow in its session when closed.
type sessionFlow struct {
	*flow
	s *Session
}

func (sf *sessionFlow) Close() error {
	err := sf.flow.Close()
	sf.s.mu.Lock()
	delete(sf.s.flows, sf.flow.id)
	sf.s.mu.Unlock()
	return err
}
