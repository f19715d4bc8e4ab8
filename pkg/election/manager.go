package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ftmsg/pkg/logger"
)

// Manager runs one member's participation in a cluster election on an
// injected session. The member moves Unbound -> Backup on Start, between
// Backup and Active on broker events, and back to Unbound on Stop.
//
// Stop and Close wait for a running listener callback, so they must not be
// called from inside one.
type Manager struct {
	cluster     string
	memberID    string
	session     Session
	ownsSession bool
	listener    RoleListener
	strategy    Strategy
	log         *zap.Logger
	tracer      trace.Tracer

	role    atomic.Int32
	binding atomic.Pointer[ClusterBinding]

	// mu serializes Start, Stop and Close.
	mu     sync.Mutex
	closed bool
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	log                *zap.Logger
	tracer             trace.Tracer
	kind               StrategyKind
	strategy           Strategy
	outputSubscription string
	browseTimeout      time.Duration
	memberID           string
	ownsSession        bool
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *managerOptions) { o.log = l }
}

// WithTracer sets the tracer. The global otel tracer is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(o *managerOptions) { o.tracer = t }
}

// WithStrategy selects a built-in strategy. The default is StrategyFlow, or
// StrategyStateful when an output subscription is given.
func WithStrategy(kind StrategyKind) Option {
	return func(o *managerOptions) { o.kind = kind }
}

// WithCustomStrategy installs a Strategy implementation.
func WithCustomStrategy(s Strategy) Option {
	return func(o *managerOptions) { o.strategy = s }
}

// WithOutputSubscription sets the topic pattern of the active member's output
// for stateful elections. Without WithStrategy it selects the stateful
// strategy; NewManager rejects it alongside the flow or heartbeat strategy.
func WithOutputSubscription(topic string) Option {
	return func(o *managerOptions) { o.outputSubscription = topic }
}

// WithBrowseTimeout bounds the state browse on stateful activation.
func WithBrowseTimeout(d time.Duration) Option {
	return func(o *managerOptions) { o.browseTimeout = d }
}

// WithMemberID names this member in logs, metrics and traces. A random id is
// used by default.
func WithMemberID(id string) Option {
	return func(o *managerOptions) { o.memberID = id }
}

// WithOwnedSession makes Close close the session too.
func WithOwnedSession() Option {
	return func(o *managerOptions) { o.ownsSession = true }
}

// NewManager creates a manager for cluster on session. Nothing is bound until
// Start.
func NewManager(session Session, cluster string, listener RoleListener, opts ...Option) (*Manager, error) {
	if session == nil {
		return nil, errors.New("election: session is required")
	}
	if cluster == "" {
		return nil, errors.New("election: cluster name is required")
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}

	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.memberID == "" {
		o.memberID = uuid.New().String()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("ftmsg/election")
	}
	log := logger.Named(o.log, "election").With(
		zap.String("cluster", cluster),
		zap.String("member", o.memberID),
	)

	strategy := o.strategy
	if strategy == nil {
		kind := o.kind
		if kind == "" {
			kind = StrategyFlow
			if o.outputSubscription != "" {
				kind = StrategyStateful
			}
		}
		var err error
		strategy, err = newStrategy(session, strategyConfig{
			kind:               kind,
			outputSubscription: o.outputSubscription,
			browseTimeout:      o.browseTimeout,
			log:                log,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Manager{
		cluster:     cluster,
		memberID:    o.memberID,
		session:     session,
		ownsSession: o.ownsSession,
		listener:    listener,
		strategy:    strategy,
		log:         log,
		tracer:      o.tracer,
	}, nil
}

// Cluster returns the cluster name.
func (m *Manager) Cluster() string { return m.cluster }

// MemberID returns the member id.
func (m *Manager) MemberID() string { return m.memberID }

// Role returns the current role without blocking.
func (m *Manager) Role() Role { return Role(m.role.Load()) }

// IsActiveMember reports whether this member is active. It never blocks.
func (m *Manager) IsActiveMember() bool { return m.Role() == RoleActive }

// Binding returns the current binding, or nil when unbound.
func (m *Manager) Binding() *ClusterBinding { return m.binding.Load() }

// Start binds the member to its cluster. It returns once the member is
// Backup; activation follows asynchronously. Starting a bound manager is a
// no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.binding.Load() != nil {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "election.start",
		trace.WithAttributes(
			attribute.String("cluster", m.cluster),
			attribute.String("member_id", m.memberID),
			attribute.String("strategy", m.strategy.Name()),
		),
	)
	defer span.End()

	b := newClusterBinding(m)
	m.binding.Store(b)
	if err := m.strategy.Bind(ctx, m.cluster, b); err != nil {
		b.detach()
		m.binding.Store(nil)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bind failed")
		m.log.Error("failed to join cluster", zap.Error(err))
		return fmt.Errorf("join cluster %s: %w", m.cluster, err)
	}
	span.AddEvent("bound", trace.WithAttributes(attribute.String("binding_id", b.ID)))
	m.log.Info("joined cluster", zap.String("strategy", m.strategy.Name()), zap.String("binding", b.ID))
	return nil
}

// Stop leaves the cluster. If the member was active the listener gets
// OnBackup before the broker hands the role to a peer. Stopping an unbound
// manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop(ctx)
}

func (m *Manager) stop(ctx context.Context) error {
	b := m.binding.Load()
	if b == nil {
		return nil
	}

	ctx, span := m.tracer.Start(ctx, "election.stop",
		trace.WithAttributes(
			attribute.String("cluster", m.cluster),
			attribute.String("member_id", m.memberID),
			attribute.String("binding_id", b.ID),
		),
	)
	defer span.End()

	wasActive := b.detach()
	span.SetAttributes(attribute.Bool("was_active", wasActive))

	err := m.strategy.Unbind(ctx)
	m.binding.Store(nil)
	if err != nil && !errors.Is(err, ErrNotBound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unbind failed")
		m.log.Warn("error while leaving cluster", zap.Error(err))
		return fmt.Errorf("leave cluster %s: %w", m.cluster, err)
	}
	m.log.Info("left cluster", zap.Bool("was_active", wasActive))
	return nil
}

// Close stops the manager if needed and releases it. The session is closed
// only when the manager owns it. A closed manager cannot be started again.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	err := m.stop(ctx)
	if m.ownsSession {
		if cerr := m.session.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
