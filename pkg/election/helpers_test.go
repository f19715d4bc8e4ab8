package election

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ftmsg/pkg/broker"
	"ftmsg/storage"
)

const gracePeriod = 2 * time.Second

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	b, err := broker.New(context.Background(), storage.NewMemoryStorage(), broker.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// recorder is a RoleListener that remembers every call.
type recorder struct {
	mu        sync.Mutex
	calls     []Role
	snapshots []*Snapshot
}

func (r *recorder) OnActive(s *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RoleActive)
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) OnBackup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, RoleBackup)
}

func (r *recorder) history() []Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Role(nil), r.calls...)
}

func (r *recorder) lastSnapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil
	}
	return r.snapshots[len(r.snapshots)-1]
}

func (r *recorder) activations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

type member struct {
	m   *Manager
	rec *recorder
}

func newMember(t *testing.T, b *broker.Broker, cluster, id string, opts ...Option) member {
	t.Helper()
	return newMemberOn(t, b.NewSession(id), cluster, id, opts...)
}

func newMemberOn(t *testing.T, s Session, cluster, id string, opts ...Option) member {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithMemberID(id)}, opts...)
	m, err := NewManager(s, cluster, rec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return member{m: m, rec: rec}
}

func (r *recorder) last() Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return RoleUnbound
	}
	return r.calls[len(r.calls)-1]
}

// waitActive waits until the member is active and its listener has been told.
func waitActive(t *testing.T, mb member) {
	t.Helper()
	require.Eventually(t, func() bool {
		return mb.m.IsActiveMember() && mb.rec.last() == RoleActive
	}, gracePeriod, 5*time.Millisecond, "member %s did not become active", mb.m.MemberID())
}

func activeCount(members ...member) int {
	n := 0
	for _, mb := range members {
		if mb.m.IsActiveMember() {
			n++
		}
	}
	return n
}

// exclusionMonitor samples members until stopped and remembers the largest
// number seen active at once.
func exclusionMonitor(members ...member) (stop func() int) {
	done := make(chan struct{})
	result := make(chan int, 1)
	go func() {
		maxActive := 0
		for {
			if n := activeCount(members...); n > maxActive {
				maxActive = n
			}
			select {
			case <-done:
				result <- maxActive
				return
			default:
				time.Sleep(200 * time.Microsecond)
			}
		}
	}()
	return func() int {
		close(done)
		return <-result
	}
}

// faultySession fails selected calls and forwards the rest.
type faultySession struct {
	*broker.Session
	browseErr    error
	subscribeErr error
}

func (s *faultySession) Browse(ctx context.Context, queue string, wait time.Duration) (*broker.Message, error) {
	if s.browseErr != nil {
		return nil, s.browseErr
	}
	return s.Session.Browse(ctx, queue, wait)
}

func (s *faultySession) AddSubscription(ctx context.Context, queue, topic string) error {
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	return s.Session.AddSubscription(ctx, queue, topic)
}
