package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Storage {
	t.Helper()
	bs, err := NewInMemoryBadgerStorage()
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	return map[string]Storage{
		"badger": bs,
		"memory": NewMemoryStorage(),
	}
}

func provision(t *testing.T, s Storage, name string, quota int64) {
	t.Helper()
	require.NoError(t, s.QueueProvision(context.Background(), Endpoint{
		Name:       name,
		AccessType: AccessExclusive,
		Quota:      quota,
		Permission: PermissionDelete,
	}))
}

func TestStorage_ProvisionReportsExisting(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			provision(t, s, "ha", QuotaLastValue)

			err := s.QueueProvision(ctx, Endpoint{Name: "ha", Quota: 10})
			assert.ErrorIs(t, err, ErrQueueExists)

			ep, err := s.QueueInfo(ctx, "ha")
			require.NoError(t, err)
			assert.Equal(t, AccessExclusive, ep.AccessType)
			assert.True(t, ep.LastValue(), "second provision must not overwrite the endpoint")
		})
	}
}

func TestStorage_LastValueQueueKeepsNewest(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			provision(t, s, "lvq", QuotaLastValue)

			for _, body := range []string{"one", "two", "three"} {
				_, err := s.QueuePush(ctx, "lvq", QueueMessage{Data: []byte(body)})
				require.NoError(t, err)
			}

			msgs, err := s.QueuePeek(ctx, "lvq", 10)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, "three", string(msgs[0].Data))

			stats, err := s.QueueStats(ctx, "lvq")
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.Size)
			assert.Equal(t, int64(2), stats.Dropped)
		})
	}
}

func TestStorage_PopAckNack(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			provision(t, s, "work", QuotaUnlimited)

			first, err := s.QueuePush(ctx, "work", QueueMessage{Data: []byte("a")})
			require.NoError(t, err)
			_, err = s.QueuePush(ctx, "work", QueueMessage{Data: []byte("b")})
			require.NoError(t, err)

			msg, ok, err := s.QueuePop(ctx, "work")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first, msg.ID)

			require.NoError(t, s.QueueNack(ctx, "work", msg.ID))

			again, ok, err := s.QueuePop(ctx, "work")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first, again.ID, "requeued message keeps its position")
			assert.True(t, again.Redelivered)

			require.NoError(t, s.QueueAck(ctx, "work", again.ID))
			assert.ErrorIs(t, s.QueueAck(ctx, "work", again.ID), ErrMessageNotFound)

			stats, err := s.QueueStats(ctx, "work")
			require.NoError(t, err)
			assert.Equal(t, int64(1), stats.Size)
			assert.Equal(t, int64(0), stats.Pending)
			assert.Equal(t, int64(1), stats.Processed)
		})
	}
}

func TestStorage_QuotaLimit(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			provision(t, s, "small", 1)

			_, err := s.QueuePush(ctx, "small", QueueMessage{Data: []byte("a")})
			require.NoError(t, err)
			_, err = s.QueuePush(ctx, "small", QueueMessage{Data: []byte("b")})
			assert.ErrorIs(t, err, ErrQueueFull)
		})
	}
}

func TestStorage_Subscriptions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			provision(t, s, "ha", QuotaLastValue)

			require.NoError(t, s.SubscriptionAdd(ctx, "ha", "app/out/>"))
			assert.ErrorIs(t, s.SubscriptionAdd(ctx, "ha", "app/out/>"), ErrSubscriptionExists)
			assert.ErrorIs(t, s.SubscriptionAdd(ctx, "missing", "x"), ErrQueueNotFound)

			subs, err := s.SubscriptionList(ctx)
			require.NoError(t, err)
			assert.Equal(t, []Subscription{{Queue: "ha", Topic: "app/out/>"}}, subs)

			require.NoError(t, s.QueueDelete(ctx, "ha"))
			subs, err = s.SubscriptionList(ctx)
			require.NoError(t, err)
			assert.Empty(t, subs)
		})
	}
}

func TestStorage_UnknownQueue(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.QueuePush(ctx, "nope", QueueMessage{})
			assert.ErrorIs(t, err, ErrQueueNotFound)
			_, _, err = s.QueuePop(ctx, "nope")
			assert.ErrorIs(t, err, ErrQueueNotFound)
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New("cassandra", t.TempDir())
	assert.Error(t, err)
}
