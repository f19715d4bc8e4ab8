package election

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StrategyKind names an election strategy.
type StrategyKind string

const (
	// StrategyFlow elects through exclusive flow ownership.
	StrategyFlow StrategyKind = "flow"
	// StrategyStateful is StrategyFlow plus recovery of the last output message.
	StrategyStateful StrategyKind = "stateful"
	// StrategyHeartbeat elects through heartbeats on a last-value queue.
	StrategyHeartbeat StrategyKind = "heartbeat"
)

// ParseStrategyKind validates a strategy name.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch k := StrategyKind(s); k {
	case StrategyFlow, StrategyStateful, StrategyHeartbeat:
		return k, nil
	case "":
		return StrategyFlow, nil
	default:
		return "", fmt.Errorf("election: unknown strategy %q", s)
	}
}

// Strategy binds a member to a cluster and drives a RoleListener.
type Strategy interface {
	Name() string
	// Bind joins cluster. Implementations call listener.OnBackup before
	// returning successfully.
	Bind(ctx context.Context, cluster string, listener RoleListener) error
	// Unbind leaves the cluster. No listener calls are made after it returns.
	Unbind(ctx context.Context) error
}

var (
	_ Strategy = (*flowStrategy)(nil)
	_ Strategy = (*heartbeatStrategy)(nil)
)

type strategyConfig struct {
	kind               StrategyKind
	outputSubscription string
	browseTimeout      time.Duration
	log                *zap.Logger
}

func newStrategy(session Session, cfg strategyConfig) (Strategy, error) {
	switch {
	case cfg.kind == StrategyStateful && cfg.outputSubscription == "":
		return nil, fmt.Errorf("election: strategy %s needs an output subscription", cfg.kind)
	case cfg.kind != StrategyStateful && cfg.outputSubscription != "":
		return nil, fmt.Errorf("election: strategy %s does not take an output subscription", cfg.kind)
	}

	switch cfg.kind {
	case StrategyFlow, StrategyStateful:
		binder := NewExclusiveQueueBinder(session, BinderConfig{
			Logger:        cfg.log,
			BrowseTimeout: cfg.browseTimeout,
		})
		return &flowStrategy{binder: binder, outputSubscription: cfg.outputSubscription}, nil
	case StrategyHeartbeat:
		return &heartbeatStrategy{session: session, log: cfg.log}, nil
	default:
		return nil, fmt.Errorf("election: unknown strategy %q", cfg.kind)
	}
}

type flowStrategy struct {
	binder             *ExclusiveQueueBinder
	outputSubscription string
}

func (s *flowStrategy) Name() string {
	if s.outputSubscription != "" {
		return string(StrategyStateful)
	}
	return string(StrategyFlow)
}

func (s *flowStrategy) Bind(ctx context.Context, cluster string, listener RoleListener) error {
	if s.outputSubscription != "" {
		return s.binder.BindStateful(ctx, cluster, s.outputSubscription, listener)
	}
	return s.binder.Bind(ctx, cluster, listener)
}

func (s *flowStrategy) Unbind(ctx context.Context) error {
	return s.binder.Unbind()
}

type heartbeatStrategy struct {
	session Session
	log     *zap.Logger

	mu      sync.Mutex
	elector *HeartbeatElector
}

func (s *heartbeatStrategy) Name() string { return string(StrategyHeartbeat) }

func (s *heartbeatStrategy) Bind(ctx context.Context, cluster string, listener RoleListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.elector != nil {
		return ErrAlreadyBound
	}
	e := NewHeartbeatElector(s.session, cluster, listener, s.log)
	if err := e.Start(ctx); err != nil {
		return err
	}
	s.elector = e
	return nil
}

func (s *heartbeatStrategy) Unbind(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.elector == nil {
		return ErrNotBound
	}
	e := s.elector
	s.elector = nil
	return e.Stop(ctx)
}
