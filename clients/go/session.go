package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	brokerapi "ftmsg/api/brokerapi"
	"ftmsg/pkg/broker"
	"ftmsg/pkg/election"
	"ftmsg/storage"
)

// Session is a remote broker session. It satisfies the same contract as the
// in-process broker.Session.
type Session struct {
	c          *Client
	ownsClient bool
	rpcTimeout time.Duration
	caps       map[broker.Capability]bool
	log        *zap.Logger

	mu     sync.Mutex
	flows  map[*remoteFlow]struct{}
	closed bool
}

var _ election.Session = (*Session)(nil)

// NewSession opens a session over an existing client. Closing the session
// leaves the client open.
func NewSession(ctx context.Context, c *Client) (*Session, error) {
	return newSession(ctx, c, 5*time.Second, false)
}

func newSession(ctx context.Context, c *Client, rpcTimeout time.Duration, owns bool) (*Session, error) {
	if rpcTimeout <= 0 {
		rpcTimeout = 5 * time.Second
	}
	resp, err := c.Broker.Capabilities(ctx, &brokerapi.Empty{})
	if err != nil {
		return nil, brokerapi.FromStatus(err)
	}
	caps := make(map[broker.Capability]bool, len(resp.Capabilities))
	for _, name := range resp.Capabilities {
		caps[broker.Capability(name)] = true
	}
	return &Session{
		c:          c,
		ownsClient: owns,
		rpcTimeout: rpcTimeout,
		caps:       caps,
		log:        c.log,
		flows:      make(map[*remoteFlow]struct{}),
	}, nil
}

// Client returns the underlying client.
func (s *Session) Client() *Client { return s.c }

// Capable reports whether the broker advertised c.
func (s *Session) Capable(c broker.Capability) bool { return s.caps[c] }

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broker.ErrSessionClosed
	}
	return nil
}

func (s *Session) Provision(ctx context.Context, ep storage.Endpoint, ignoreExists bool) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.c.Broker.Provision(ctx, &brokerapi.ProvisionRequest{
		Queue:        ep.Name,
		AccessType:   string(ep.AccessType),
		Quota:        ep.Quota,
		Permission:   string(ep.Permission),
		IgnoreExists: ignoreExists,
	})
	return brokerapi.FromStatus(err)
}

func (s *Session) AddSubscription(ctx context.Context, queue, topic string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.c.Broker.AddSubscription(ctx, &brokerapi.SubscriptionRequest{Queue: queue, Topic: topic})
	return brokerapi.FromStatus(err)
}

func (s *Session) RemoveSubscription(ctx context.Context, queue, topic string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.c.Broker.RemoveSubscription(ctx, &brokerapi.SubscriptionRequest{Queue: queue, Topic: topic})
	return brokerapi.FromStatus(err)
}

func (s *Session) Publish(ctx context.Context, dest broker.Destination, msg broker.OutboundMessage) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.c.Broker.Publish(ctx, &brokerapi.PublishRequest{
		Kind:         string(dest.Kind),
		Destination:  dest.Name,
		Payload:      msg.Payload,
		DeliveryMode: string(msg.DeliveryMode),
	})
	return brokerapi.FromStatus(err)
}

func (s *Session) Browse(ctx context.Context, queue string, wait time.Duration) (*broker.Message, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	resp, err := s.c.Broker.Browse(ctx, &brokerapi.BrowseRequest{Queue: queue, WaitMillis: wait.Milliseconds()})
	if err != nil {
		return nil, brokerapi.FromStatus(err)
	}
	if !resp.Found || resp.Message == nil {
		return nil, nil
	}
	return fromWire(resp.Message), nil
}

// CreateFlow binds a flow on the server. It returns once the server has
// confirmed the binding; events and messages then arrive on a goroutine owned
// by the flow.
func (s *Session) CreateFlow(ctx context.Context, opts broker.FlowOptions, onMsg broker.MessageHandler, onEvent broker.FlowEventHandler) (broker.Flow, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	f, err := s.bind(ctx, opts, onMsg, onEvent)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = f.Close()
		return nil, broker.ErrSessionClosed
	}
	s.flows[f] = struct{}{}
	s.mu.Unlock()
	return f, nil
}

func (s *Session) forget(f *remoteFlow) {
	s.mu.Lock()
	delete(s.flows, f)
	s.mu.Unlock()
}

// Close closes every flow of the session, and the client connection when the
// session was opened with Connect.
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

	for f := range flows {
		_ = f.Close()
	}
	if s.ownsClient {
		return s.c.Close()
	}
	return nil
}

func (s *Session) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.rpcTimeout)
}

func fromWire(m *brokerapi.Message) *broker.Message {
	return &broker.Message{
		ID:           m.ID,
		Queue:        m.Queue,
		Destination:  m.Destination,
		Payload:      m.Payload,
		DeliveryMode: storage.DeliveryMode(m.DeliveryMode),
		Redelivered:  m.Redelivered,
		PublishedAt:  m.PublishedAt,
	}
}
