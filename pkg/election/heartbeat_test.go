package election

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ftmsg/pkg/broker"
)

func newElector(t *testing.T, b *broker.Broker, queue, name string) (*HeartbeatElector, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := NewHeartbeatElector(b.NewSession(name), queue, rec, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e, rec
}

func TestHeartbeat_SingleMemberBecomesActive(t *testing.T) {
	b := newTestBroker(t)
	e, rec := newElector(t, b, "hb", "A")

	assert.False(t, e.IsActive())
	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, e.IsActive, gracePeriod, 5*time.Millisecond)
	assert.Equal(t, []Role{RoleBackup, RoleActive}, rec.history())
}

func TestHeartbeat_StartAgainSendsHeartbeat(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	e, rec := newElector(t, b, "hb", "A")

	idle := func() (int64, bool) {
		st, err := b.QueueStatus(ctx, "hb")
		require.NoError(t, err)
		return st.Stats.Processed, st.Stats.Size == 0 && st.Stats.Pending == 0
	}

	require.NoError(t, e.Start(ctx))
	require.Eventually(t, e.IsActive, gracePeriod, 5*time.Millisecond)
	require.Eventually(t, func() bool { _, ok := idle(); return ok }, gracePeriod, 5*time.Millisecond)
	before, _ := idle()

	// resuming a bound elector publishes before the flow is restarted
	require.NoError(t, e.Start(ctx))
	require.Eventually(t, func() bool {
		n, ok := idle()
		return ok && n == before+1
	}, gracePeriod, 5*time.Millisecond)

	assert.True(t, e.IsActive())
	assert.Equal(t, []Role{RoleBackup, RoleActive}, rec.history())
}

func TestHeartbeat_HandOff(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	a, _ := newElector(t, b, "hb", "A")
	bm, brec := newElector(t, b, "hb", "B")

	require.NoError(t, a.Start(ctx))
	require.Eventually(t, a.IsActive, gracePeriod, 5*time.Millisecond)

	require.NoError(t, bm.Start(ctx))
	require.NoError(t, bm.SendHeartbeat(ctx))
	assert.Never(t, bm.IsActive, 200*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, a.Stop(ctx))
	assert.False(t, a.IsActive())
	require.Eventually(t, bm.IsActive, gracePeriod, 5*time.Millisecond)
	assert.Equal(t, []Role{RoleBackup, RoleActive}, brec.history())
}

func TestHeartbeat_TakeoverWithoutHandOff(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	a, _ := newElector(t, b, "hb", "A")
	bm, _ := newElector(t, b, "hb", "B")

	require.NoError(t, a.Start(ctx))
	require.Eventually(t, a.IsActive, gracePeriod, 5*time.Millisecond)
	require.NoError(t, bm.Start(ctx))

	// drop A's flow without the final heartbeat
	a.mu.Lock()
	require.NoError(t, a.flow.Close())
	a.mu.Unlock()

	require.Eventually(t, bm.IsActive, gracePeriod, 5*time.Millisecond)
}

func TestHeartbeat_QueueDeletedDemotes(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	e, rec := newElector(t, b, "hb", "A")

	require.NoError(t, e.Start(ctx))
	require.Eventually(t, e.IsActive, gracePeriod, 5*time.Millisecond)

	require.NoError(t, b.DeleteQueue(ctx, "hb"))
	require.Eventually(t, func() bool { return !e.IsActive() }, gracePeriod, 5*time.Millisecond)
	assert.Equal(t, []Role{RoleBackup, RoleActive, RoleBackup}, rec.history())
}

func TestHeartbeat_DeliveryError(t *testing.T) {
	b := newTestBroker(t)
	e, _ := newElector(t, b, "missing", "A")

	err := e.SendHeartbeat(context.Background())
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "missing", derr.Queue)
	assert.ErrorIs(t, err, broker.ErrQueueNotFound)
	assert.False(t, e.IsActive())
}

func TestHeartbeat_StopWithoutStart(t *testing.T) {
	b := newTestBroker(t)
	e, rec := newElector(t, b, "hb", "A")
	assert.ErrorIs(t, e.Stop(context.Background()), ErrNotBound)
	assert.Empty(t, rec.history())
}

func TestHeartbeat_CapabilityError(t *testing.T) {
	b := newTestBroker(t)
	e := NewHeartbeatElector(b.NewSession("x", broker.WithoutCapabilities(broker.CapGuaranteedFlow)), "hb", nil, zaptest.NewLogger(t))

	var capErr *CapabilityError
	require.ErrorAs(t, e.Start(context.Background()), &capErr)
	assert.Equal(t, []broker.Capability{broker.CapGuaranteedFlow}, capErr.Missing)
}
