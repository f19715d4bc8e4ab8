package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	brokerapi "ftmsg/api/brokerapi"
	"ftmsg/pkg/broker"
	"ftmsg/storage"
)

// maxBrowseWait caps the wait a client may request on Browse.
const maxBrowseWait = 30 * time.Second

// BrokerService implements the Broker gRPC service
type BrokerService struct {
	brokerapi.UnimplementedBrokerServiceServer
	broker *broker.Broker
	log    *zap.Logger

	mu       sync.Mutex
	flows    map[string]*boundFlow
	shutdown bool
}

// boundFlow is a flow owned by one Bind stream.
type boundFlow struct {
	flow   broker.Flow
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*broker.Message
}

func (bf *boundFlow) track(m *broker.Message) {
	bf.mu.Lock()
	bf.pending[m.ID] = m
	bf.mu.Unlock()
}

func (bf *boundFlow) ack(id string) error {
	bf.mu.Lock()
	m, ok := bf.pending[id]
	delete(bf.pending, id)
	bf.mu.Unlock()
	if !ok {
		return nil
	}
	return m.Ack()
}

// NewBrokerService creates a new Broker service
func NewBrokerService(b *broker.Broker, log *zap.Logger) *BrokerService {
	return &BrokerService{
		broker: b,
		log:    log,
		flows:  make(map[string]*boundFlow),
	}
}

// Shutdown ends every Bind stream and refuses new ones.
func (s *BrokerService) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	flows := make([]*boundFlow, 0, len(s.flows))
	for _, bf := range s.flows {
		flows = append(flows, bf)
	}
	s.mu.Unlock()
	for _, bf := range flows {
		bf.cancel()
	}
}

func (s *BrokerService) register(id string, bf *boundFlow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.flows[id] = bf
	return true
}

func (s *BrokerService) unregister(id string) {
	s.mu.Lock()
	delete(s.flows, id)
	s.mu.Unlock()
}

func (s *BrokerService) lookup(id string) (*boundFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bf, ok := s.flows[id]
	if !ok {
		return nil, brokerapi.ToStatus(fmt.Errorf("flow %s: %w", id, broker.ErrFlowClosed))
	}
	return bf, nil
}

// Capabilities lists what the broker supports
func (s *BrokerService) Capabilities(ctx context.Context, req *brokerapi.Empty) (*brokerapi.CapabilitiesResponse, error) {
	caps := broker.AllCapabilities()
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, string(c))
	}
	return &brokerapi.CapabilitiesResponse{Capabilities: out}, nil
}

// Provision creates an endpoint
func (s *BrokerService) Provision(ctx context.Context, req *brokerapi.ProvisionRequest) (*brokerapi.Empty, error) {
	if req.Queue == "" {
		return nil, status.Error(codes.InvalidArgument, "queue name cannot be empty")
	}
	ep := storage.Endpoint{
		Name:       req.Queue,
		AccessType: storage.AccessType(req.AccessType),
		Quota:      req.Quota,
		Permission: storage.Permission(req.Permission),
	}
	if err := s.broker.Provision(ctx, ep, req.IgnoreExists); err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

// AddSubscription maps a topic onto a queue
func (s *BrokerService) AddSubscription(ctx context.Context, req *brokerapi.SubscriptionRequest) (*brokerapi.Empty, error) {
	if err := s.broker.AddSubscription(ctx, req.Queue, req.Topic); err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

// RemoveSubscription removes a topic mapping
func (s *BrokerService) RemoveSubscription(ctx context.Context, req *brokerapi.SubscriptionRequest) (*brokerapi.Empty, error) {
	if err := s.broker.RemoveSubscription(ctx, req.Queue, req.Topic); err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

// ListSubscriptions returns topic mappings, optionally for one queue
func (s *BrokerService) ListSubscriptions(ctx context.Context, req *brokerapi.QueueRequest) (*brokerapi.ListSubscriptionsResponse, error) {
	subs := s.broker.Subscriptions(req.Queue)
	out := make([]brokerapi.Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, brokerapi.Subscription{Queue: sub.Queue, Topic: sub.Topic})
	}
	return &brokerapi.ListSubscriptionsResponse{Subscriptions: out}, nil
}

// Publish spools a message on a queue or topic
func (s *BrokerService) Publish(ctx context.Context, req *brokerapi.PublishRequest) (*brokerapi.Empty, error) {
	if req.Destination == "" {
		return nil, status.Error(codes.InvalidArgument, "destination cannot be empty")
	}
	dest := broker.Destination{Kind: broker.DestinationKind(req.Kind), Name: req.Destination}
	msg := broker.OutboundMessage{Payload: req.Payload, DeliveryMode: storage.DeliveryMode(req.DeliveryMode)}
	if err := s.broker.Publish(ctx, dest, msg); err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

// Browse returns the oldest spooled message without consuming it
func (s *BrokerService) Browse(ctx context.Context, req *brokerapi.BrowseRequest) (*brokerapi.BrowseResponse, error) {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait > maxBrowseWait {
		wait = maxBrowseWait
	}
	m, err := s.broker.Browse(ctx, req.Queue, wait)
	if err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	if m == nil {
		return &brokerapi.BrowseResponse{}, nil
	}
	return &brokerapi.BrowseResponse{Found: true, Message: toWire(m)}, nil
}

// Bind creates a flow and streams its events and messages until the client
// cancels or the broker takes the flow down.
func (s *BrokerService) Bind(req *brokerapi.BindRequest, stream brokerapi.BrokerService_BindServer) error {
	if req.Queue == "" {
		return status.Error(codes.InvalidArgument, "queue name cannot be empty")
	}
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	bf := &boundFlow{cancel: cancel, pending: make(map[string]*broker.Message)}
	updates := make(chan *brokerapi.FlowUpdate, 64)
	send := func(u *brokerapi.FlowUpdate) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	}

	var onMsg broker.MessageHandler
	if req.Consume {
		onMsg = func(m *broker.Message) {
			bf.track(m)
			send(&brokerapi.FlowUpdate{Type: brokerapi.UpdateMessage, Message: toWire(m)})
		}
	}
	onEvent := func(ev broker.FlowEventArgs) {
		send(&brokerapi.FlowUpdate{
			Type:   brokerapi.UpdateEvent,
			FlowID: ev.FlowID,
			Event:  ev.Event.String(),
			Info:   ev.Info,
		})
	}

	flow, err := s.broker.CreateFlow(ctx, broker.FlowOptions{
		Queue:                req.Queue,
		ActiveFlowIndication: req.ActiveFlowIndication,
		StartState:           req.StartState,
		Window:               req.Window,
	}, onMsg, onEvent)
	if err != nil {
		return brokerapi.ToStatus(err)
	}
	bf.flow = flow
	if !s.register(flow.ID(), bf) {
		cancel()
		_ = flow.Close()
		return status.Error(codes.Unavailable, "server shutting down")
	}
	defer func() {
		s.unregister(flow.ID())
		// unblock a callback waiting on updates before closing the flow
		cancel()
		_ = flow.Close()
		s.log.Debug("bind stream ended", zap.String("flow", flow.ID()), zap.String("queue", req.Queue))
	}()

	if err := stream.Send(&brokerapi.FlowUpdate{Type: brokerapi.UpdateBound, FlowID: flow.ID()}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			if err := stream.Send(u); err != nil {
				return err
			}
			if u.Type == brokerapi.UpdateEvent && u.Event == broker.FlowDown.String() {
				return nil
			}
		}
	}
}

// FlowControl starts or stops delivery on a bound flow
func (s *BrokerService) FlowControl(ctx context.Context, req *brokerapi.FlowControlRequest) (*brokerapi.Empty, error) {
	bf, err := s.lookup(req.FlowID)
	if err != nil {
		return nil, err
	}
	switch req.Action {
	case brokerapi.ActionStart:
		err = bf.flow.Start()
	case brokerapi.ActionStop:
		err = bf.flow.Stop()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown flow action %q", req.Action)
	}
	if err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

// Ack acknowledges a message delivered on a bound flow
func (s *BrokerService) Ack(ctx context.Context, req *brokerapi.AckRequest) (*brokerapi.Empty, error) {
	bf, err := s.lookup(req.FlowID)
	if err != nil {
		return nil, err
	}
	if err := bf.ack(req.MessageID); err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

// ListQueues returns all provisioned queues
func (s *BrokerService) ListQueues(ctx context.Context, req *brokerapi.Empty) (*brokerapi.ListQueuesResponse, error) {
	queues, err := s.broker.ListQueues(ctx)
	if err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.ListQueuesResponse{Queues: queues}, nil
}

// QueueStatus returns endpoint, statistics and flow bindings of a queue
func (s *BrokerService) QueueStatus(ctx context.Context, req *brokerapi.QueueRequest) (*brokerapi.QueueStatusResponse, error) {
	st, err := s.broker.QueueStatus(ctx, req.Queue)
	if err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.QueueStatusResponse{
		Queue:      st.Endpoint.Name,
		AccessType: string(st.Endpoint.AccessType),
		Quota:      st.Endpoint.Quota,
		Permission: string(st.Endpoint.Permission),
		Size:       st.Stats.Size,
		Pending:    st.Stats.Pending,
		Processed:  st.Stats.Processed,
		Dropped:    st.Stats.Dropped,
		Flows:      st.Flows,
		ActiveFlow: st.ActiveFlow,
		Egress:     st.Egress,
	}, nil
}

// PurgeQueue removes all spooled messages from a queue
func (s *BrokerService) PurgeQueue(ctx context.Context, req *brokerapi.QueueRequest) (*brokerapi.PurgeResponse, error) {
	n, err := s.broker.Purge(ctx, req.Queue)
	if err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.PurgeResponse{Purged: n}, nil
}

// DeleteQueue removes a queue
func (s *BrokerService) DeleteQueue(ctx context.Context, req *brokerapi.QueueRequest) (*brokerapi.Empty, error) {
	if err := s.broker.DeleteQueue(ctx, req.Queue); err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

// SetEgress enables or disables delivery out of a queue
func (s *BrokerService) SetEgress(ctx context.Context, req *brokerapi.EgressRequest) (*brokerapi.Empty, error) {
	if err := s.broker.SetEgress(ctx, req.Queue, req.Enabled); err != nil {
		return nil, brokerapi.ToStatus(err)
	}
	return &brokerapi.Empty{}, nil
}

func toWire(m *broker.Message) *brokerapi.Message {
	return &brokerapi.Message{
		ID:           m.ID,
		Queue:        m.Queue,
		Destination:  m.Destination,
		Payload:      m.Payload,
		DeliveryMode: string(m.DeliveryMode),
		Redelivered:  m.Redelivered,
		PublishedAt:  m.PublishedAt,
	}
}
