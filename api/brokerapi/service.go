package brokerapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "ftmsg.broker.v1.BrokerService"

// BrokerServiceServer is the server API for BrokerService.
type BrokerServiceServer interface {
	Capabilities(context.Context, *Empty) (*CapabilitiesResponse, error)
	Provision(context.Context, *ProvisionRequest) (*Empty, error)
	AddSubscription(context.Context, *SubscriptionRequest) (*Empty, error)
	RemoveSubscription(context.Context, *SubscriptionRequest) (*Empty, error)
	ListSubscriptions(context.Context, *QueueRequest) (*ListSubscriptionsResponse, error)
	Publish(context.Context, *PublishRequest) (*Empty, error)
	Browse(context.Context, *BrowseRequest) (*BrowseResponse, error)
	Bind(*BindRequest, BrokerService_BindServer) error
	FlowControl(context.Context, *FlowControlRequest) (*Empty, error)
	Ack(context.Context, *AckRequest) (*Empty, error)
	ListQueues(context.Context, *Empty) (*ListQueuesResponse, error)
	QueueStatus(context.Context, *QueueRequest) (*QueueStatusResponse, error)
	PurgeQueue(context.Context, *QueueRequest) (*PurgeResponse, error)
	DeleteQueue(context.Context, *QueueRequest) (*Empty, error)
	SetEgress(context.Context, *EgressRequest) (*Empty, error)
}

// UnimplementedBrokerServiceServer can be embedded for forward compatibility.
type UnimplementedBrokerServiceServer struct{}

func (UnimplementedBrokerServiceServer) Capabilities(context.Context, *Empty) (*CapabilitiesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Capabilities not implemented")
}
func (UnimplementedBrokerServiceServer) Provision(context.Context, *ProvisionRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Provision not implemented")
}
func (UnimplementedBrokerServiceServer) AddSubscription(context.Context, *SubscriptionRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method AddSubscription not implemented")
}
func (UnimplementedBrokerServiceServer) RemoveSubscription(context.Context, *SubscriptionRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method RemoveSubscription not implemented")
}
func (UnimplementedBrokerServiceServer) ListSubscriptions(context.Context, *QueueRequest) (*ListSubscriptionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListSubscriptions not implemented")
}
func (UnimplementedBrokerServiceServer) Publish(context.Context, *PublishRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Publish not implemented")
}
func (UnimplementedBrokerServiceServer) Browse(context.Context, *BrowseRequest) (*BrowseResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Browse not implemented")
}
func (UnimplementedBrokerServiceServer) Bind(*BindRequest, BrokerService_BindServer) error {
	return status.Error(codes.Unimplemented, "method Bind not implemented")
}
func (UnimplementedBrokerServiceServer) FlowControl(context.Context, *FlowControlRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method FlowControl not implemented")
}
func (UnimplementedBrokerServiceServer) Ack(context.Context, *AckRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Ack not implemented")
}
func (UnimplementedBrokerServiceServer) ListQueues(context.Context, *Empty) (*ListQueuesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListQueues not implemented")
}
func (UnimplementedBrokerServiceServer) QueueStatus(context.Context, *QueueRequest) (*QueueStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method QueueStatus not implemented")
}
func (UnimplementedBrokerServiceServer) PurgeQueue(context.Context, *QueueRequest) (*PurgeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PurgeQueue not implemented")
}
func (UnimplementedBrokerServiceServer) DeleteQueue(context.Context, *QueueRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteQueue not implemented")
}
func (UnimplementedBrokerServiceServer) SetEgress(context.Context, *EgressRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method SetEgress not implemented")
}

// BrokerService_BindServer is the server side of a Bind stream.
type BrokerService_BindServer interface {
	Send(*FlowUpdate) error
	grpc.ServerStream
}

type brokerServiceBindServer struct {
	grpc.ServerStream
}

func (x *brokerServiceBindServer) Send(m *FlowUpdate) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterBrokerServiceServer registers srv on s.
func RegisterBrokerServiceServer(s grpc.ServiceRegistrar, srv BrokerServiceServer) {
	s.RegisterService(&BrokerService_ServiceDesc, srv)
}

// unary builds a method handler for a request type Req.
func unary[Req any](name string, call func(BrokerServiceServer, context.Context, *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BrokerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(BrokerServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func bindHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(BindRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(BrokerServiceServer).Bind(m, &brokerServiceBindServer{stream})
}

// BrokerService_ServiceDesc is the grpc.ServiceDesc for BrokerService.
var BrokerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Capabilities", func(s BrokerServiceServer, ctx context.Context, in *Empty) (interface{}, error) {
			return s.Capabilities(ctx, in)
		}),
		unary("Provision", func(s BrokerServiceServer, ctx context.Context, in *ProvisionRequest) (interface{}, error) {
			return s.Provision(ctx, in)
		}),
		unary("AddSubscription", func(s BrokerServiceServer, ctx context.Context, in *SubscriptionRequest) (interface{}, error) {
			return s.AddSubscription(ctx, in)
		}),
		unary("RemoveSubscription", func(s BrokerServiceServer, ctx context.Context, in *SubscriptionRequest) (interface{}, error) {
			return s.RemoveSubscription(ctx, in)
		}),
		unary("ListSubscriptions", func(s BrokerServiceServer, ctx context.Context, in *QueueRequest) (interface{}, error) {
			return s.ListSubscriptions(ctx, in)
		}),
		unary("Publish", func(s BrokerServiceServer, ctx context.Context, in *PublishRequest) (interface{}, error) {
			return s.Publish(ctx, in)
		}),
		unary("Browse", func(s BrokerServiceServer, ctx context.Context, in *BrowseRequest) (interface{}, error) {
			return s.Browse(ctx, in)
		}),
		unary("FlowControl", func(s BrokerServiceServer, ctx context.Context, in *FlowControlRequest) (interface{}, error) {
			return s.FlowControl(ctx, in)
		}),
		unary("Ack", func(s BrokerServiceServer, ctx context.Context, in *AckRequest) (interface{}, error) {
			return s.Ack(ctx, in)
		}),
		unary("ListQueues", func(s BrokerServiceServer, ctx context.Context, in *Empty) (interface{}, error) {
			return s.ListQueues(ctx, in)
		}),
		unary("QueueStatus", func(s BrokerServiceServer, ctx context.Context, in *QueueRequest) (interface{}, error) {
			return s.QueueStatus(ctx, in)
		}),
		unary("PurgeQueue", func(s BrokerServiceServer, ctx context.Context, in *QueueRequest) (interface{}, error) {
			return s.PurgeQueue(ctx, in)
		}),
		unary("DeleteQueue", func(s BrokerServiceServer, ctx context.Context, in *QueueRequest) (interface{}, error) {
			return s.DeleteQueue(ctx, in)
		}),
		unary("SetEgress", func(s BrokerServiceServer, ctx context.Context, in *EgressRequest) (interface{}, error) {
			return s.SetEgress(ctx, in)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Bind",
			Handler:       bindHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ftmsg/broker.v1",
}
