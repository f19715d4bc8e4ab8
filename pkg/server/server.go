package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	brokerapi "ftmsg/api/brokerapi"
	"ftmsg/config"
	"ftmsg/pkg/broker"
	"ftmsg/pkg/logger"
)

// Server represents the gRPC server
type Server struct {
	config *config.Config
	broker *broker.Broker
	grpc   *grpc.Server
	log    *zap.Logger

	brokerService *BrokerService
}

// NewServer creates a server exposing b over gRPC.
func NewServer(cfg *config.Config, b *broker.Broker, log *zap.Logger) *Server {
	log = logger.Named(log, "server")

	maxMsg := cfg.Server.MaxMessageSize
	if maxMsg <= 0 {
		maxMsg = 4 * 1024 * 1024
	}

	// Bind streams are long lived, so connections are not aged out.
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    5 * time.Second,
			Timeout: 1 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
	}

	grpcServer := grpc.NewServer(opts...)

	server := &Server{
		config:        cfg,
		broker:        b,
		grpc:          grpcServer,
		log:           log,
		brokerService: NewBrokerService(b, log),
	}
	brokerapi.RegisterBrokerServiceServer(grpcServer, server.brokerService)
	return server
}

// Serve serves on lis until the listener fails or the server stops.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	address := s.config.Server.Address()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.log.Info("starting broker server", zap.String("address", address))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.log.Error("grpc server error", zap.Error(err))
			return err
		}
	}
	return s.Stop()
}

// Stop stops the server gracefully
func (s *Server) Stop() error {
	s.log.Info("stopping broker server")

	// Bind streams end when their flows go down.
	s.brokerService.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("server stopped gracefully")
	case <-time.After(30 * time.Second):
		s.log.Warn("force stopping server")
		s.grpc.Stop()
	}
	return nil
}

// Health reports whether the broker accepts requests.
func (s *Server) Health(ctx context.Context) bool {
	_, err := s.broker.ListQueues(ctx)
	return err == nil
}
