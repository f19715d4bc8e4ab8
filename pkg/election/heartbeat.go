package election

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"ftmsg/pkg/broker"
	"ftmsg/pkg/logger"
	"ftmsg/pkg/metrics"
	"ftmsg/storage"
)

// HeartbeatElector elects through heartbeats on a shared last-value queue.
// Members publish empty persistent markers to the queue and consume from it;
// the member whose flow receives a marker is active. Only one flow receives a
// given marker because the queue is exclusive, which the broker guarantees.
type HeartbeatElector struct {
	session  Session
	queue    string
	listener RoleListener
	log      *zap.Logger

	// mu serializes Start and Stop.
	mu   sync.Mutex
	flow broker.Flow

	// roleMu orders role changes against Stop.
	roleMu  sync.Mutex
	running bool
	role    atomic.Int32
}

// NewHeartbeatElector creates an elector for queue. listener may be nil.
func NewHeartbeatElector(session Session, queue string, listener RoleListener, log *zap.Logger) *HeartbeatElector {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	return &HeartbeatElector{
		session:  session,
		queue:    queue,
		listener: listener,
		log:      logger.Named(log, "heartbeat").With(zap.String("cluster", queue)),
	}
}

// IsActive reports whether this member's flow received the latest heartbeat.
func (e *HeartbeatElector) IsActive() bool { return Role(e.role.Load()) == RoleActive }

// SendHeartbeat publishes a persistent empty marker to the queue. A failure is
// logged and returned as a *DeliveryError; the role is left unchanged.
func (e *HeartbeatElector) SendHeartbeat(ctx context.Context) error {
	err := e.session.Publish(ctx, broker.QueueDestination(e.queue), broker.OutboundMessage{
		DeliveryMode: storage.DeliveryPersistent,
	})
	if err != nil {
		metrics.HeartbeatsSent.WithLabelValues(e.queue, "error").Inc()
		e.log.Warn("heartbeat delivery failed", zap.Error(err))
		return &DeliveryError{Queue: e.queue, Err: err}
	}
	metrics.HeartbeatsSent.WithLabelValues(e.queue, "ok").Inc()
	return nil
}

// Start enters backup, provisions the queue, sends a heartbeat and then binds
// the consumer flow, or resumes it when already bound.
func (e *HeartbeatElector) Start(ctx context.Context) error {
	if err := ValidateCapabilities(e.session); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flow != nil {
		_ = e.SendHeartbeat(ctx)
		return e.flow.Start()
	}

	if err := e.session.Provision(ctx, clusterEndpoint(e.queue), true); err != nil {
		return &ProvisioningError{Queue: e.queue, Err: err}
	}

	e.roleMu.Lock()
	e.running = true
	e.setRole(RoleBackup)
	e.roleMu.Unlock()

	// a lost heartbeat is recovered when the flow is activated
	_ = e.SendHeartbeat(ctx)

	flow, err := e.session.CreateFlow(ctx, broker.FlowOptions{
		Queue:                e.queue,
		ActiveFlowIndication: true,
		StartState:           true,
	}, e.onReceive, e.onEvent)
	if err != nil {
		e.roleMu.Lock()
		e.running = false
		e.setRole(RoleUnbound)
		e.roleMu.Unlock()
		return err
	}
	e.flow = flow
	return nil
}

// Stop gives up the role: it enters backup, closes the flow so the broker
// hands delivery to another member, and sends one more heartbeat for that
// member to receive.
func (e *HeartbeatElector) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flow == nil {
		return ErrNotBound
	}

	e.roleMu.Lock()
	e.running = false
	e.setRole(RoleBackup)
	e.roleMu.Unlock()

	err := e.flow.Close()
	e.flow = nil
	if hbErr := e.SendHeartbeat(ctx); hbErr != nil && err == nil {
		err = hbErr
	}
	return err
}

// onReceive acknowledges a heartbeat and makes this member active.
func (e *HeartbeatElector) onReceive(msg *broker.Message) {
	if err := msg.Ack(); err != nil {
		e.log.Warn("heartbeat ack failed", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	e.roleMu.Lock()
	defer e.roleMu.Unlock()
	if e.running {
		e.setRole(RoleActive)
	}
}

func (e *HeartbeatElector) onEvent(ev broker.FlowEventArgs) {
	switch ev.Event {
	case broker.FlowActive:
		// reassert candidacy in case the previous holder left without a hand-off
		_ = e.SendHeartbeat(context.Background())
	case broker.FlowInactive, broker.FlowDown:
		e.roleMu.Lock()
		if e.running {
			e.setRole(RoleBackup)
		}
		e.roleMu.Unlock()
	}
}

// setRole records a role change and notifies the listener. Callers hold roleMu.
func (e *HeartbeatElector) setRole(r Role) {
	old := Role(e.role.Swap(int32(r)))
	if old == r {
		return
	}
	e.log.Debug("heartbeat role changed", zap.Stringer("from", old), zap.Stringer("to", r))
	switch r {
	case RoleActive:
		e.listener.OnActive(nil)
	case RoleBackup:
		e.listener.OnBackup()
	}
}
