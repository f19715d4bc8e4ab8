package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"ftmsg/config"
	"ftmsg/pkg/broker"
	"ftmsg/pkg/election"
	"ftmsg/pkg/server"
	"ftmsg/storage"
)

type testEnv struct {
	broker *broker.Broker
	server *server.Server
	lis    *bufconn.Listener
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	b, err := broker.New(context.Background(), storage.NewMemoryStorage(), broker.WithLogger(log))
	require.NoError(t, err)
	srv := server.NewServer(config.GetDefaultConfig(), b, log)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	t.Cleanup(func() {
		_ = srv.Stop()
		_ = b.Close()
	})
	return &testEnv{broker: b, server: srv, lis: lis}
}

func (e *testEnv) options(t *testing.T) *Options {
	return &Options{
		Insecure:    true,
		DialTimeout: 2 * time.Second,
		Logger:      zaptest.NewLogger(t),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return e.lis.DialContext(ctx)
			}),
		},
	}
}

func (e *testEnv) connect(t *testing.T) *Session {
	t.Helper()
	s, err := Connect(context.Background(), "bufnet", e.options(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type events struct {
	mu  sync.Mutex
	got []broker.FlowEvent
}

func (e *events) handle(ev broker.FlowEventArgs) {
	e.mu.Lock()
	e.got = append(e.got, ev.Event)
	e.mu.Unlock()
}

func (e *events) has(ev broker.FlowEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range e.got {
		if g == ev {
			return true
		}
	}
	return false
}

func TestSession_Capabilities(t *testing.T) {
	env := newTestEnv(t)
	s := env.connect(t)
	for _, c := range broker.AllCapabilities() {
		assert.True(t, s.Capable(c), "capability %s", c)
	}
	require.NoError(t, election.ValidateCapabilities(s))
}

func TestSession_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	s := env.connect(t)
	ctx := context.Background()

	ep := storage.Endpoint{Name: "q", AccessType: storage.AccessExclusive}
	require.NoError(t, s.Provision(ctx, ep, false))
	assert.ErrorIs(t, s.Provision(ctx, ep, false), broker.ErrQueueExists)
	assert.NoError(t, s.Provision(ctx, ep, true))

	require.NoError(t, s.AddSubscription(ctx, "q", "a/b"))
	assert.ErrorIs(t, s.AddSubscription(ctx, "q", "a/b"), broker.ErrSubscriptionExists)

	_, err := s.Browse(ctx, "missing", 0)
	assert.ErrorIs(t, err, broker.ErrQueueNotFound)

	err = s.Publish(ctx, broker.TopicDestination("a/*"), broker.OutboundMessage{})
	assert.ErrorIs(t, err, broker.ErrInvalidTopic)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Publish(ctx, broker.QueueDestination("q"), broker.OutboundMessage{}), broker.ErrSessionClosed)
}

func TestSession_FlowDeliversAndAutoAcks(t *testing.T) {
	env := newTestEnv(t)
	s := env.connect(t)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, storage.Endpoint{Name: "work", Quota: storage.QuotaUnlimited}, false))

	received := make(chan string, 4)
	ev := &events{}
	f, err := s.CreateFlow(ctx, broker.FlowOptions{
		Queue:                "work",
		ActiveFlowIndication: true,
		StartState:           true,
		AutoAck:              true,
	}, func(m *broker.Message) { received <- string(m.Payload) }, ev.handle)
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID())
	assert.Equal(t, "work", f.Queue())

	require.Eventually(t, func() bool { return ev.has(broker.FlowActive) }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Publish(ctx, broker.QueueDestination("work"), broker.OutboundMessage{Payload: []byte("job")}))

	select {
	case p := <-received:
		assert.Equal(t, "job", p)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	require.Eventually(t, func() bool {
		st, err := env.broker.QueueStatus(ctx, "work")
		return err == nil && st.Stats.Processed == 1 && st.Stats.Size == 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Start(), broker.ErrFlowClosed)
	require.Eventually(t, func() bool {
		st, err := env.broker.QueueStatus(ctx, "work")
		return err == nil && st.Flows == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_ServerStopDeliversFlowDown(t *testing.T) {
	env := newTestEnv(t)
	s := env.connect(t)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, storage.Endpoint{Name: "q"}, false))

	ev := &events{}
	_, err := s.CreateFlow(ctx, broker.FlowOptions{Queue: "q", ActiveFlowIndication: true}, nil, ev.handle)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ev.has(broker.FlowActive) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, env.server.Stop())
	require.Eventually(t, func() bool { return ev.has(broker.FlowDown) }, 2*time.Second, 5*time.Millisecond)
}

func TestSession_BindUnknownQueue(t *testing.T) {
	env := newTestEnv(t)
	s := env.connect(t)
	_, err := s.CreateFlow(context.Background(), broker.FlowOptions{Queue: "nope"}, nil, nil)
	assert.ErrorIs(t, err, broker.ErrQueueNotFound)
}

type roles struct {
	mu       sync.Mutex
	active   bool
	snapshot *election.Snapshot
}

func (r *roles) OnActive(s *election.Snapshot) {
	r.mu.Lock()
	r.active, r.snapshot = true, s
	r.mu.Unlock()
}

func (r *roles) OnBackup() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

func (r *roles) last() *election.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

func TestRemoteElection_HandOver(t *testing.T) {
	for _, kind := range []election.StrategyKind{election.StrategyFlow, election.StrategyHeartbeat} {
		t.Run(string(kind), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			newManager := func(id string) *election.Manager {
				m, err := election.NewManager(env.connect(t), "ha-test", &roles{},
					election.WithLogger(zaptest.NewLogger(t)),
					election.WithMemberID(id),
					election.WithStrategy(kind))
				require.NoError(t, err)
				t.Cleanup(func() { _ = m.Close(ctx) })
				return m
			}
			a, b := newManager("A"), newManager("B")

			require.NoError(t, a.Start(ctx))
			require.Eventually(t, a.IsActiveMember, 2*time.Second, 5*time.Millisecond)
			require.NoError(t, b.Start(ctx))
			assert.False(t, b.IsActiveMember())

			require.NoError(t, a.Stop(ctx))
			require.Eventually(t, b.IsActiveMember, 2*time.Second, 5*time.Millisecond)
			assert.False(t, a.IsActiveMember())
		})
	}
}

func TestRemoteElection_StatefulRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	newMember := func(id string) (*election.Manager, *roles) {
		r := &roles{}
		m, err := election.NewManager(env.connect(t), "stateful", r,
			election.WithLogger(zaptest.NewLogger(t)),
			election.WithMemberID(id),
			election.WithOutputSubscription("svc/out/>"),
			election.WithBrowseTimeout(100*time.Millisecond))
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close(ctx) })
		return m, r
	}
	a, _ := newMember("A")
	b, brec := newMember("B")

	require.NoError(t, a.Start(ctx))
	require.Eventually(t, a.IsActiveMember, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Start(ctx))

	out := env.connect(t)
	require.NoError(t, out.Publish(ctx, broker.TopicDestination("svc/out/seq"), broker.OutboundMessage{Payload: []byte("42")}))

	require.NoError(t, a.Stop(ctx))
	require.Eventually(t, func() bool { return b.IsActiveMember() && brec.last() != nil }, 2*time.Second, 5*time.Millisecond)

	snap := brec.last()
	require.True(t, snap.Found)
	assert.Equal(t, "42", string(snap.Payload))
	assert.Equal(t, "svc/out/seq", snap.Topic)
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	opts := &Options{
		Insecure:    true,
		DialTimeout: time.Second,
		Logger:      zaptest.NewLogger(t),
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
				return nil, errors.New("connection refused")
			}),
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := ConnectWithRetry(ctx, "bufnet", opts, 2, 10*time.Millisecond)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestConnectWithRetry_Succeeds(t *testing.T) {
	env := newTestEnv(t)
	s, err := ConnectWithRetry(context.Background(), "bufnet", env.options(t), 3, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
