package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	brokerapi "ftmsg/api/brokerapi"
	"ftmsg/pkg/logger"
)

// Client is a typed SDK for the ftmsg broker service.
type Client struct {
	conn   *grpc.ClientConn
	Broker brokerapi.BrokerServiceClient
	log    *zap.Logger
}

// Options control Client behavior.
type Options struct {
	// DialTimeout bounds each RPC issued without a caller context, such as
	// flow start/stop and acknowledgements.
	DialTimeout time.Duration
	// Insecure skips TLS (default true for local dev).
	Insecure bool
	// DialOptions are appended to the options used to dial the server.
	DialOptions []grpc.DialOption
	// Logger defaults to the global logger.
	Logger *zap.Logger
}

func defaultOptions() *Options {
	return &Options{Insecure: true, DialTimeout: 5 * time.Second}
}

// New dials the ftmsg broker at address (host:port) and returns a Client.
func New(ctx context.Context, address string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = defaultOptions()
	}
	var dialOpts []grpc.DialOption
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.DialContext(ctx, address, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:   conn,
		Broker: brokerapi.NewBrokerServiceClient(conn),
		log:    logger.Named(opts.Logger, "client").With(zap.String("server", address)),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Connect dials address and opens a session that owns the connection.
func Connect(ctx context.Context, address string, opts *Options) (*Session, error) {
	if opts == nil {
		opts = defaultOptions()
	}
	c, err := New(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	s, err := newSession(ctx, c, opts.DialTimeout, true)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

// ConnectWithRetry is Connect retried up to retries more times, waiting wait
// between attempts.
func ConnectWithRetry(ctx context.Context, address string, opts *Options, retries int, wait time.Duration) (*Session, error) {
	var s *Session
	log := logger.Named(nil, "client")
	if opts != nil && opts.Logger != nil {
		log = opts.Logger
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(wait), uint64(retries)),
		ctx,
	)
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		s, err = Connect(ctx, address, opts)
		if err != nil {
			log.Warn("failed to connect to broker, will retry",
				zap.String("server", address),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", attempt, err)
	}
	return s, nil
}
