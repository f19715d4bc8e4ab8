package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ftmsg/storage"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := New(context.Background(), storage.NewMemoryStorage(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func provisionLVQ(t *testing.T, b *Broker, name string) {
	t.Helper()
	require.NoError(t, b.Provision(context.Background(), storage.Endpoint{
		Name:       name,
		AccessType: storage.AccessExclusive,
		Quota:      storage.QuotaLastValue,
		Permission: storage.PermissionDelete,
	}, true))
}

func eventRecorder() (chan FlowEventArgs, FlowEventHandler) {
	ch := make(chan FlowEventArgs, 16)
	return ch, func(ev FlowEventArgs) { ch <- ev }
}

func waitEvent(t *testing.T, ch <-chan FlowEventArgs, want FlowEvent) FlowEventArgs {
	t.Helper()
	select {
	case ev := <-ch:
		require.Equal(t, want, ev.Event, "unexpected flow event")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
		return FlowEventArgs{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan FlowEventArgs) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, topic string
		want           bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b", false},
		{"a/*/c", "a/x/c", true},
		{"a/*", "a/x/c", false},
		{"a/b*/c", "a/bee/c", true},
		{"a/b*/c", "a/cee/c", false},
		{"a/>", "a/b", true},
		{"a/>", "a/b/c/d", true},
		{"a/>", "a", false},
		{">", "anything/at/all", true},
		{"", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.topic))
		})
	}
}

func TestProvision_IgnoreExists(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	ep := storage.Endpoint{Name: "q", Quota: storage.QuotaUnlimited}

	require.NoError(t, b.Provision(ctx, ep, false))
	assert.ErrorIs(t, b.Provision(ctx, ep, false), ErrQueueExists)
	assert.NoError(t, b.Provision(ctx, ep, true))

	info, err := b.Storage().QueueInfo(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, storage.AccessExclusive, info.AccessType)
}

func TestExclusiveQueue_FirstBoundIsActive(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	provisionLVQ(t, b, "cluster")

	evA, onA := eventRecorder()
	evB, onB := eventRecorder()
	opts := FlowOptions{Queue: "cluster", ActiveFlowIndication: true, StartState: true}

	fa, err := b.CreateFlow(ctx, opts, nil, onA)
	require.NoError(t, err)
	waitEvent(t, evA, FlowActive)

	fb, err := b.CreateFlow(ctx, opts, nil, onB)
	require.NoError(t, err)
	assertNoEvent(t, evB)

	st, err := b.QueueStatus(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Flows)
	assert.Equal(t, fa.ID(), st.ActiveFlow)

	require.NoError(t, fa.Close())
	waitEvent(t, evB, FlowActive)

	st, err = b.QueueStatus(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, fb.ID(), st.ActiveFlow)
	require.NoError(t, fb.Close())
}

func TestSetEgress_DeactivatesAndReactivates(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	provisionLVQ(t, b, "cluster")

	ev, on := eventRecorder()
	f, err := b.CreateFlow(ctx, FlowOptions{Queue: "cluster", ActiveFlowIndication: true}, nil, on)
	require.NoError(t, err)
	defer f.Close()
	waitEvent(t, ev, FlowActive)

	require.NoError(t, b.SetEgress(ctx, "cluster", false))
	waitEvent(t, ev, FlowInactive)

	require.NoError(t, b.SetEgress(ctx, "cluster", true))
	waitEvent(t, ev, FlowActive)
}

func TestPublish_TopicFanOutToLVQ(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	provisionLVQ(t, b, "state")
	require.NoError(t, b.AddSubscription(ctx, "state", "app/output/>"))

	for _, p := range []string{"one", "two", "three"} {
		require.NoError(t, b.Publish(ctx, TopicDestination("app/output/x"), OutboundMessage{Payload: []byte(p)}))
	}
	require.NoError(t, b.Publish(ctx, TopicDestination("app/other"), OutboundMessage{Payload: []byte("ignored")}))

	msg, err := b.Browse(ctx, "state", 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "three", string(msg.Payload))
	assert.Equal(t, "topic:app/output/x", msg.Destination)

	// browsing leaves the message spooled
	again, err := b.Browse(ctx, "state", 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, msg.ID, again.ID)
}

func TestPublish_InvalidTopic(t *testing.T) {
	b := newTestBroker(t)
	err := b.Publish(context.Background(), TopicDestination("a/*/b"), OutboundMessage{})
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestBrowse_EmptyQueueTimesOut(t *testing.T) {
	b := newTestBroker(t)
	provisionLVQ(t, b, "state")

	start := time.Now()
	msg, err := b.Browse(context.Background(), "state", 150*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestBrowse_WakesOnPublish(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	provisionLVQ(t, b, "state")

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = b.Publish(ctx, QueueDestination("state"), OutboundMessage{Payload: []byte("late")})
	}()
	msg, err := b.Browse(ctx, "state", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "late", string(msg.Payload))
}

func TestFlow_StartedWithoutHandlerKeepsMessage(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	provisionLVQ(t, b, "state")
	require.NoError(t, b.Publish(ctx, QueueDestination("state"), OutboundMessage{Payload: []byte("s")}))

	f, err := b.CreateFlow(ctx, FlowOptions{Queue: "state", StartState: true}, nil, nil)
	require.NoError(t, err)
	defer f.Close()

	time.Sleep(50 * time.Millisecond)
	msg, err := b.Browse(ctx, "state", 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "s", string(msg.Payload))
}

func TestFlow_DeliversAndAcks(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Provision(ctx, storage.Endpoint{Name: "work", Quota: storage.QuotaUnlimited}, false))

	got := make(chan *Message, 4)
	f, err := b.CreateFlow(ctx, FlowOptions{Queue: "work", StartState: true}, func(m *Message) {
		assert.NoError(t, m.Ack())
		got <- m
	}, nil)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, b.Publish(ctx, QueueDestination("work"), OutboundMessage{Payload: []byte("a")}))
	require.NoError(t, b.Publish(ctx, QueueDestination("work"), OutboundMessage{Payload: []byte("b")}))

	for _, want := range []string{"a", "b"} {
		select {
		case m := <-got:
			assert.Equal(t, want, string(m.Payload))
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}

	require.Eventually(t, func() bool {
		st, err := b.QueueStatus(ctx, "work")
		return err == nil && st.Stats.Processed == 2 && st.Stats.Size == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFlow_StoppedDoesNotDeliver(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Provision(ctx, storage.Endpoint{Name: "work", Quota: storage.QuotaUnlimited}, false))

	got := make(chan *Message, 1)
	f, err := b.CreateFlow(ctx, FlowOptions{Queue: "work", AutoAck: true}, func(m *Message) { got <- m }, nil)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, b.Publish(ctx, QueueDestination("work"), OutboundMessage{Payload: []byte("x")}))
	select {
	case <-got:
		t.Fatal("stopped flow delivered a message")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, f.Start())
	select {
	case m := <-got:
		assert.Equal(t, "x", string(m.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered after start")
	}
}

func TestFlow_CloseRequeuesUnacked(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Provision(ctx, storage.Endpoint{Name: "work", Quota: storage.QuotaUnlimited}, false))
	require.NoError(t, b.Publish(ctx, QueueDestination("work"), OutboundMessage{Payload: []byte("x")}))

	delivered := make(chan struct{}, 1)
	f, err := b.CreateFlow(ctx, FlowOptions{Queue: "work", StartState: true}, func(m *Message) {
		delivered <- struct{}{}
	}, nil)
	require.NoError(t, err)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	require.NoError(t, f.Close())

	msg, err := b.Browse(ctx, "work", 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.Redelivered)
	assert.ErrorIs(t, f.Start(), ErrFlowClosed)
}

func TestDeleteQueue_SendsFlowDown(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	provisionLVQ(t, b, "cluster")

	ev, on := eventRecorder()
	f, err := b.CreateFlow(ctx, FlowOptions{Queue: "cluster", ActiveFlowIndication: true}, nil, on)
	require.NoError(t, err)
	waitEvent(t, ev, FlowActive)

	require.NoError(t, b.DeleteQueue(ctx, "cluster"))
	down := waitEvent(t, ev, FlowDown)
	assert.Equal(t, "queue deleted", down.Info)
	assert.NoError(t, f.Close())

	_, err = b.QueueStatus(ctx, "cluster")
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestDeleteQueue_RequiresDeletePermission(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	require.NoError(t, b.Provision(ctx, storage.Endpoint{Name: "locked", Permission: storage.PermissionConsume}, false))
	assert.ErrorIs(t, b.DeleteQueue(ctx, "locked"), ErrPermissionDenied)
}

func TestCreateFlow_UnknownQueue(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.CreateFlow(context.Background(), FlowOptions{Queue: "missing"}, nil, nil)
	assert.ErrorIs(t, err, ErrQueueNotFound)
}

func TestSession_CloseClosesFlows(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	provisionLVQ(t, b, "cluster")

	s1 := b.NewSession("one")
	s2 := b.NewSession("two", WithoutCapabilities(CapBrowse))
	assert.True(t, s1.Capable(CapActiveFlowIndication))
	assert.False(t, s2.Capable(CapBrowse))

	_, on1 := eventRecorder()
	ev2, on2 := eventRecorder()
	_, err := s1.CreateFlow(ctx, FlowOptions{Queue: "cluster", ActiveFlowIndication: true}, nil, on1)
	require.NoError(t, err)
	_, err = s2.CreateFlow(ctx, FlowOptions{Queue: "cluster", ActiveFlowIndication: true}, nil, on2)
	require.NoError(t, err)

	require.NoError(t, s1.Close())
	waitEvent(t, ev2, FlowActive)

	assert.ErrorIs(t, s1.Publish(ctx, QueueDestination("cluster"), OutboundMessage{}), ErrSessionClosed)
	require.NoError(t, s2.Close())
}

func TestBroker_CloseSendsFlowDown(t *testing.T) {
	b, err := New(context.Background(), storage.NewMemoryStorage(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	provisionLVQ(t, b, "cluster")

	ev, on := eventRecorder()
	_, err = b.CreateFlow(context.Background(), FlowOptions{Queue: "cluster", ActiveFlowIndication: true}, nil, on)
	require.NoError(t, err)
	waitEvent(t, ev, FlowActive)

	require.NoError(t, b.Close())
	waitEvent(t, ev, FlowDown)
	assert.ErrorIs(t, b.Publish(context.Background(), QueueDestination("cluster"), OutboundMessage{}), ErrBrokerClosed)
}
