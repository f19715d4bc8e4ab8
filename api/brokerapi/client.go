package brokerapi

import (
	"context"

	"google.golang.org/grpc"
)

// BrokerServiceClient is the client API for BrokerService.
type BrokerServiceClient interface {
	Capabilities(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CapabilitiesResponse, error)
	Provision(ctx context.Context, in *ProvisionRequest, opts ...grpc.CallOption) (*Empty, error)
	AddSubscription(ctx context.Context, in *SubscriptionRequest, opts ...grpc.CallOption) (*Empty, error)
	RemoveSubscription(ctx context.Context, in *SubscriptionRequest, opts ...grpc.CallOption) (*Empty, error)
	ListSubscriptions(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*ListSubscriptionsResponse, error)
	Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*Empty, error)
	Browse(ctx context.Context, in *BrowseRequest, opts ...grpc.CallOption) (*BrowseResponse, error)
	Bind(ctx context.Context, in *BindRequest, opts ...grpc.CallOption) (BrokerService_BindClient, error)
	FlowControl(ctx context.Context, in *FlowControlRequest, opts ...grpc.CallOption) (*Empty, error)
	Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*Empty, error)
	ListQueues(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListQueuesResponse, error)
	QueueStatus(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*QueueStatusResponse, error)
	PurgeQueue(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*PurgeResponse, error)
	DeleteQueue(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*Empty, error)
	SetEgress(ctx context.Context, in *EgressRequest, opts ...grpc.CallOption) (*Empty, error)
}

type brokerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBrokerServiceClient returns a client that always uses the JSON codec.
func NewBrokerServiceClient(cc grpc.ClientConnInterface) BrokerServiceClient {
	return &brokerServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *brokerServiceClient) Capabilities(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*CapabilitiesResponse, error) {
	return invoke[CapabilitiesResponse](ctx, c.cc, "Capabilities", in, opts)
}

func (c *brokerServiceClient) Provision(ctx context.Context, in *ProvisionRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Provision", in, opts)
}

func (c *brokerServiceClient) AddSubscription(ctx context.Context, in *SubscriptionRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "AddSubscription", in, opts)
}

func (c *brokerServiceClient) RemoveSubscription(ctx context.Context, in *SubscriptionRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "RemoveSubscription", in, opts)
}

func (c *brokerServiceClient) ListSubscriptions(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*ListSubscriptionsResponse, error) {
	return invoke[ListSubscriptionsResponse](ctx, c.cc, "ListSubscriptions", in, opts)
}

func (c *brokerServiceClient) Publish(ctx context.Context, in *PublishRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Publish", in, opts)
}

func (c *brokerServiceClient) Browse(ctx context.Context, in *BrowseRequest, opts ...grpc.CallOption) (*BrowseResponse, error) {
	return invoke[BrowseResponse](ctx, c.cc, "Browse", in, opts)
}

func (c *brokerServiceClient) FlowControl(ctx context.Context, in *FlowControlRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "FlowControl", in, opts)
}

func (c *brokerServiceClient) Ack(ctx context.Context, in *AckRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Ack", in, opts)
}

func (c *brokerServiceClient) ListQueues(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ListQueuesResponse, error) {
	return invoke[ListQueuesResponse](ctx, c.cc, "ListQueues", in, opts)
}

func (c *brokerServiceClient) QueueStatus(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*QueueStatusResponse, error) {
	return invoke[QueueStatusResponse](ctx, c.cc, "QueueStatus", in, opts)
}

func (c *brokerServiceClient) PurgeQueue(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*PurgeResponse, error) {
	return invoke[PurgeResponse](ctx, c.cc, "PurgeQueue", in, opts)
}

func (c *brokerServiceClient) DeleteQueue(ctx context.Context, in *QueueRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "DeleteQueue", in, opts)
}

func (c *brokerServiceClient) SetEgress(ctx context.Context, in *EgressRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "SetEgress", in, opts)
}

// BrokerService_BindClient is the client side of a Bind stream.
type BrokerService_BindClient interface {
	Recv() (*FlowUpdate, error)
	grpc.ClientStream
}

type brokerServiceBindClient struct {
	grpc.ClientStream
}

func (x *brokerServiceBindClient) Recv() (*FlowUpdate, error) {
	m := new(FlowUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *brokerServiceClient) Bind(ctx context.Context, in *BindRequest, opts ...grpc.CallOption) (BrokerService_BindClient, error) {
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	stream, err := c.cc.NewStream(ctx, &BrokerService_ServiceDesc.Streams[0], "/"+ServiceName+"/Bind", opts...)
	if err != nil {
		return nil, err
	}
	x := &brokerServiceBindClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
