package brokerapi

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ftmsg/pkg/broker"
)

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{broker.ErrQueueNotFound, codes.NotFound},
	{broker.ErrSubscriptionNotFound, codes.NotFound},
	{broker.ErrQueueExists, codes.AlreadyExists},
	{broker.ErrSubscriptionExists, codes.AlreadyExists},
	{broker.ErrQueueFull, codes.ResourceExhausted},
	{broker.ErrPermissionDenied, codes.PermissionDenied},
	{broker.ErrInvalidTopic, codes.InvalidArgument},
	{broker.ErrFlowClosed, codes.FailedPrecondition},
	{broker.ErrSessionClosed, codes.FailedPrecondition},
	{broker.ErrBrokerClosed, codes.Unavailable},
}

// ToStatus converts a broker error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return status.Error(ec.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus maps a gRPC status error back onto the broker sentinel it
// carries, so callers can keep using errors.Is.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, ec := range errorCodes {
		if st.Code() == ec.code && strings.Contains(st.Message(), ec.err.Error()) {
			return &remoteError{msg: st.Message(), err: ec.err}
		}
	}
	switch st.Code() {
	case codes.Canceled:
		return &remoteError{msg: st.Message(), err: context.Canceled}
	case codes.DeadlineExceeded:
		return &remoteError{msg: st.Message(), err: context.DeadlineExceeded}
	}
	return err
}

// remoteError keeps the server's message while unwrapping to a sentinel.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }
