package election

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ftmsg/pkg/broker"
	"ftmsg/pkg/logger"
	"ftmsg/pkg/metrics"
)

// DefaultBrowseTimeout bounds the wait for the last output message when a
// stateful member becomes active.
const DefaultBrowseTimeout = time.Second

// BinderConfig configures an ExclusiveQueueBinder.
type BinderConfig struct {
	Logger        *zap.Logger
	BrowseTimeout time.Duration
}

// ExclusiveQueueBinder elects through flow ownership: every member binds a
// flow to the same exclusive queue and the broker grants delivery to one of
// them at a time. Flow activation and deactivation are translated into role
// callbacks.
type ExclusiveQueueBinder struct {
	session       Session
	log           *zap.Logger
	browseTimeout time.Duration

	mu      sync.Mutex
	cluster string
	bound   *boundFlow
}

// boundFlow tracks the flow of a binding and whether it should be started.
// Events can arrive before CreateFlow returns, so the start request is
// recorded and applied once the flow is attached.
type boundFlow struct {
	mu      sync.Mutex
	flow    broker.Flow
	started bool
}

func (bf *boundFlow) attach(f broker.Flow) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.flow = f
	if bf.started {
		return f.Start()
	}
	return nil
}

func (bf *boundFlow) setStarted(started bool) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.started = started
	if bf.flow == nil {
		return nil
	}
	if started {
		return bf.flow.Start()
	}
	return bf.flow.Stop()
}

// NewExclusiveQueueBinder creates a binder on session.
func NewExclusiveQueueBinder(session Session, cfg BinderConfig) *ExclusiveQueueBinder {
	if cfg.BrowseTimeout <= 0 {
		cfg.BrowseTimeout = DefaultBrowseTimeout
	}
	return &ExclusiveQueueBinder{
		session:       session,
		log:           logger.Named(cfg.Logger, "binder"),
		browseTimeout: cfg.BrowseTimeout,
	}
}

// Provision creates the cluster's exclusive last-value queue. A queue that
// already exists is not an error.
func (b *ExclusiveQueueBinder) Provision(ctx context.Context, cluster string) error {
	if err := b.session.Provision(ctx, clusterEndpoint(cluster), true); err != nil {
		return &ProvisioningError{Queue: cluster, Err: err}
	}
	return nil
}

// Bind joins cluster. listener.OnBackup is called before Bind returns; later
// changes follow the broker's flow events.
func (b *ExclusiveQueueBinder) Bind(ctx context.Context, cluster string, listener RoleListener) error {
	return b.bind(ctx, cluster, "", listener)
}

// BindStateful joins cluster and maps outputSubscription onto the cluster
// queue, so the queue keeps the last output message of the active member. On
// activation that message is browsed and handed to OnActive.
func (b *ExclusiveQueueBinder) BindStateful(ctx context.Context, cluster, outputSubscription string, listener RoleListener) error {
	if outputSubscription == "" {
		return errors.New("election: stateful binding needs an output subscription")
	}
	return b.bind(ctx, cluster, outputSubscription, listener)
}

func (b *ExclusiveQueueBinder) bind(ctx context.Context, cluster, outputSubscription string, listener RoleListener) error {
	if err := ValidateCapabilities(b.session); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound != nil {
		return ErrAlreadyBound
	}

	if err := b.Provision(ctx, cluster); err != nil {
		return err
	}
	stateful := outputSubscription != ""
	if stateful {
		b.subscribe(ctx, cluster, outputSubscription)
	}

	listener.OnBackup()

	bf := &boundFlow{}
	onEvent := b.statelessHandler(listener)
	if stateful {
		onEvent = b.statefulHandler(cluster, bf, listener)
	}
	flow, err := b.session.CreateFlow(ctx, broker.FlowOptions{
		Queue:                cluster,
		ActiveFlowIndication: true,
		StartState:           !stateful,
	}, nil, onEvent)
	if err != nil {
		return err
	}
	if err := bf.attach(flow); err != nil {
		_ = flow.Close()
		return err
	}

	b.cluster = cluster
	b.bound = bf
	b.log.Debug("bound to cluster",
		zap.String("cluster", cluster),
		zap.String("flow", flow.ID()),
		zap.Bool("stateful", stateful))
	return nil
}

// subscribe maps the output topic onto the queue. Members race to add the same
// subscription, so an existing one is expected; other failures only cost the
// state recovery and do not fail the bind.
func (b *ExclusiveQueueBinder) subscribe(ctx context.Context, cluster, topic string) {
	err := b.session.AddSubscription(ctx, cluster, topic)
	switch {
	case err == nil:
	case errors.Is(err, broker.ErrSubscriptionExists):
		b.log.Debug("subscription already present", zap.String("cluster", cluster), zap.String("topic", topic))
	default:
		b.log.Warn("failed to add output subscription",
			zap.String("cluster", cluster),
			zap.String("topic", topic),
			zap.Error(err))
	}
}

func (b *ExclusiveQueueBinder) statelessHandler(listener RoleListener) broker.FlowEventHandler {
	return func(ev broker.FlowEventArgs) {
		switch ev.Event {
		case broker.FlowActive:
			listener.OnActive(nil)
		case broker.FlowInactive, broker.FlowDown:
			listener.OnBackup()
		}
	}
}

func (b *ExclusiveQueueBinder) statefulHandler(cluster string, bf *boundFlow, listener RoleListener) broker.FlowEventHandler {
	return func(ev broker.FlowEventArgs) {
		switch ev.Event {
		case broker.FlowActive:
			listener.OnActive(b.recoverState(cluster))
			if err := bf.setStarted(true); err != nil {
				b.log.Warn("failed to start flow", zap.String("cluster", cluster), zap.Error(err))
			}
		case broker.FlowInactive:
			if err := bf.setStarted(false); err != nil {
				b.log.Warn("failed to stop flow", zap.String("cluster", cluster), zap.Error(err))
			}
			listener.OnBackup()
		case broker.FlowDown:
			listener.OnBackup()
		}
	}
}

// recoverState browses the cluster queue for the last output message. Browse
// failures and timeouts give an empty snapshot.
func (b *ExclusiveQueueBinder) recoverState(cluster string) *Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 2*b.browseTimeout)
	defer cancel()

	msg, err := b.session.Browse(ctx, cluster, b.browseTimeout)
	switch {
	case err != nil:
		metrics.StateRecoveries.WithLabelValues(cluster, "error").Inc()
		b.log.Warn("state browse failed, activating without state", zap.String("cluster", cluster), zap.Error(err))
		return &Snapshot{}
	case msg == nil:
		metrics.StateRecoveries.WithLabelValues(cluster, "empty").Inc()
		return &Snapshot{}
	default:
		metrics.StateRecoveries.WithLabelValues(cluster, "found").Inc()
		return snapshotOf(msg)
	}
}

// Unbind closes the flow. The queue stays provisioned for the other members.
func (b *ExclusiveQueueBinder) Unbind() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound == nil {
		return ErrNotBound
	}
	bf := b.bound
	b.bound = nil

	bf.mu.Lock()
	flow := bf.flow
	bf.mu.Unlock()

	err := flow.Close()
	b.log.Debug("unbound from cluster", zap.String("cluster", b.cluster))
	return err
}
