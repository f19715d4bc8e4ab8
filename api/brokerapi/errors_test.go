package brokerapi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ftmsg/pkg/broker"
)

func TestStatusRoundTrip(t *testing.T) {
	sentinels := []error{
		broker.ErrQueueNotFound,
		broker.ErrSubscriptionNotFound,
		broker.ErrQueueExists,
		broker.ErrSubscriptionExists,
		broker.ErrQueueFull,
		broker.ErrPermissionDenied,
		broker.ErrBrokerClosed,
		context.DeadlineExceeded,
	}
	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("orders: %w", sentinel)
			st := ToStatus(wrapped)
			_, ok := status.FromError(st)
			assert.True(t, ok)

			back := FromStatus(st)
			assert.True(t, errors.Is(back, sentinel), "got %v", back)
			assert.Equal(t, wrapped.Error(), back.Error())
		})
	}
}

func TestToStatus_UnknownIsInternal(t *testing.T) {
	st := ToStatus(errors.New("boom"))
	assert.Equal(t, codes.Internal, status.Code(st))
	assert.Nil(t, ToStatus(nil))
	assert.Nil(t, FromStatus(nil))
}
